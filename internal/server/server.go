// Package server wires the HTTP routes of the admin UI.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	webassets "github.com/3leaps/batchdeck/internal/assets/web"
	apperrors "github.com/3leaps/batchdeck/internal/errors"
	"github.com/3leaps/batchdeck/internal/server/handlers"
	"github.com/3leaps/batchdeck/internal/server/middleware"
)

// Timeouts configures the http.Server.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// DefaultTimeouts match the config defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Read:     30 * time.Second,
		Write:    30 * time.Second,
		Idle:     120 * time.Second,
		Shutdown: 10 * time.Second,
	}
}

// Option customizes a Server.
type Option func(*Server)

// WithUI mounts the dashboard and console.
func WithUI(ui *handlers.UI) Option {
	return func(s *Server) { s.ui = ui }
}

// WithLiveFeed mounts the websocket feed on /ws.
func WithLiveFeed(h http.Handler) Option {
	return func(s *Server) { s.feed = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeouts sets the http.Server timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) { s.timeouts = t }
}

// Server is the HTTP front end.
type Server struct {
	host     string
	port     int
	logger   *zap.Logger
	timeouts Timeouts
	ui       *handlers.UI
	feed     http.Handler

	router chi.Router
	http   *http.Server
}

// New builds the router. Health and version routes are always present;
// UI routes only when WithUI is given.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:     host,
		port:     port,
		logger:   zap.NewNop(),
		timeouts: DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFound("route not found: "+req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowed(req.Method+" not allowed on "+req.URL.Path))
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if static, err := fs.Sub(webassets.Static, "static"); err == nil {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	}

	if s.feed != nil {
		r.Handle("/ws", s.feed)
	}

	if ui := s.ui; ui != nil {
		r.Get("/", ui.DashboardPage)
		r.Get("/console", ui.ConsolePage)

		r.Route("/ui", func(r chi.Router) {
			r.Get("/dashboard", ui.DashboardFragments)
			r.Get("/jobs", ui.Jobs)
			r.Get("/counter", ui.Counter)
			r.Get("/toast", ui.Toast)
			r.Get("/system", ui.System)
			r.Post("/refresh", ui.Refresh)
			r.Post("/trigger/{jobType}", ui.Trigger)
			r.Post("/ollama", ui.Ollama)

			r.Route("/console", func(r chi.Router) {
				r.Get("/", ui.ConsoleFragments)
				r.Get("/users", ui.Users)
				r.Post("/users", ui.CreateUser)
				r.Post("/users/{id}/select", ui.SelectUser)
				r.Get("/analysis/{kind}", ui.Analysis)
				r.Get("/batch/status", ui.ConsoleBatchStatus)
				r.Get("/batch/jobs", ui.ConsoleBatchJobs)
				r.Post("/batch/{jobType}", ui.ConsoleTrigger)
				r.Get("/system/{kind}", ui.ConsoleSystem)
				r.Post("/ollama", ui.ConsoleOllama)
				r.Get("/result", ui.ConsoleResult)
				r.Get("/toast", ui.ConsoleToast)
			})
		})
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.timeouts.Read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.timeouts.Write,
		IdleTimeout:       s.timeouts.Idle,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeouts.Shutdown)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
