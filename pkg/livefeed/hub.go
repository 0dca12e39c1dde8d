// Package livefeed pushes re-rendered page fragments to browsers over
// websockets.
//
// Each connection subscribes to one page ("dashboard" or "console") through
// the page query parameter. On connect the client receives a full snapshot
// of that page, then every fragment update published for it.
package livefeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/3leaps/batchdeck/pkg/view"
)

// Pages served by the feed.
const (
	PageDashboard = "dashboard"
	PageConsole   = "console"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the per-client queue. A client that falls this far
	// behind is disconnected.
	sendBuffer = 32
)

// Message is the JSON frame sent to clients.
type Message struct {
	Page      string         `json:"page"`
	Fragments view.Fragments `json:"fragments"`
}

// SnapshotFunc renders the full current state of a page.
type SnapshotFunc func() view.Fragments

// Option customizes a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithSnapshot registers the snapshot sent to new clients of page.
func WithSnapshot(page string, fn SnapshotFunc) Option {
	return func(h *Hub) {
		h.snapshots[page] = fn
	}
}

// Hub fans fragment updates out to connected clients.
type Hub struct {
	logger    *zap.Logger
	upgrader  websocket.Upgrader
	snapshots map[string]SnapshotFunc

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	page string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates a Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:    zap.NewNop(),
		snapshots: make(map[string]SnapshotFunc),
		clients:   make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publisher returns a subscriber callback that publishes to page. It is
// meant for Poller.Subscribe and Console.Subscribe.
func (h *Hub) Publisher(page string) func(view.Fragments) {
	return func(f view.Fragments) {
		h.Publish(page, f)
	}
}

// Publish sends f to every client of page. It never blocks; slow clients
// are dropped.
func (h *Hub) Publish(page string, f view.Fragments) {
	if len(f) == 0 {
		return
	}
	data, err := json.Marshal(Message{Page: page, Fragments: f})
	if err != nil {
		h.logger.Error("Encode live feed message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.page != page {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Dropping slow live feed client", zap.String("page", page))
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

// ServeHTTP upgrades the request and streams updates until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("page")
	if page == "" {
		page = PageDashboard
	}
	if page != PageDashboard && page != PageConsole {
		http.Error(w, "unknown page", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{page: page, conn: conn, send: make(chan []byte, sendBuffer)}
	if fn, ok := h.snapshots[page]; ok {
		if data, err := json.Marshal(Message{Page: page, Fragments: fn()}); err == nil {
			c.send <- data
		}
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.logger.Debug("Live feed client connected", zap.String("page", page), zap.String("remote", r.RemoteAddr))

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// readPump drains client frames so pongs and close frames are processed.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Live feed read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
