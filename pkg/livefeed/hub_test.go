package livefeed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/batchdeck/pkg/view"
)

func dial(t *testing.T, srv *httptest.Server, page string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?page=" + page
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_SnapshotThenUpdates(t *testing.T) {
	hub := NewHub(
		WithSnapshot(PageDashboard, func() view.Fragments {
			return view.Fragments{"jobSummary": "snapshot"}
		}),
	)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv, PageDashboard)

	msg := readMessage(t, conn)
	assert.Equal(t, PageDashboard, msg.Page)
	assert.Equal(t, "snapshot", msg.Fragments["jobSummary"])
	assert.Equal(t, 1, hub.Clients())

	hub.Publish(PageConsole, view.Fragments{"usersList": "ignored"})
	hub.Publisher(PageDashboard)(view.Fragments{"recentJobs": "<p>x</p>"})

	msg = readMessage(t, conn)
	assert.Equal(t, PageDashboard, msg.Page)
	assert.Equal(t, view.Fragments{"recentJobs": "<p>x</p>"}, msg.Fragments)
}

func TestHub_PagesAreIsolated(t *testing.T) {
	hub := NewHub(
		WithSnapshot(PageDashboard, func() view.Fragments { return view.Fragments{"a": "1"} }),
		WithSnapshot(PageConsole, func() view.Fragments { return view.Fragments{"b": "2"} }),
	)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	dash := dial(t, srv, PageDashboard)
	cons := dial(t, srv, PageConsole)
	readMessage(t, dash)
	readMessage(t, cons)

	hub.Publish(PageConsole, view.Fragments{"globalMessage": "hello"})

	msg := readMessage(t, cons)
	assert.Equal(t, PageConsole, msg.Page)
	assert.Equal(t, "hello", msg.Fragments["globalMessage"])
}

func TestHub_RejectsUnknownPage(t *testing.T) {
	hub := NewHub()
	req := httptest.NewRequest(http.MethodGet, "/?page=admin", nil)
	rec := httptest.NewRecorder()

	hub.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHub_CloseDisconnects(t *testing.T) {
	hub := NewHub(WithSnapshot(PageDashboard, func() view.Fragments { return view.Fragments{"a": "1"} }))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, PageDashboard)
	readMessage(t, conn)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_PublishEmptyIsNoop(t *testing.T) {
	hub := NewHub()
	assert.NotPanics(t, func() {
		hub.Publish(PageDashboard, nil)
		hub.Publish(PageDashboard, view.Fragments{})
	})
}
