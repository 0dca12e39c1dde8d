package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/batchdeck/internal/errors"
	"github.com/3leaps/batchdeck/internal/server/handlers"
	"github.com/3leaps/batchdeck/pkg/backendapi"
	"github.com/3leaps/batchdeck/pkg/console"
	"github.com/3leaps/batchdeck/pkg/dashboard"
	"github.com/3leaps/batchdeck/pkg/livefeed"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
	if body.Error.CorrelationID == "" {
		t.Fatalf("expected correlation id in error envelope")
	}
}

func TestServer_Port(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"default port", 8080},
		{"custom port", 9000},
		{"zero port", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New("127.0.0.1", tt.port)
			assert.Equal(t, tt.port, srv.Port())
		})
	}
}

func TestServer_Handler(t *testing.T) {
	srv := New("127.0.0.1", 8080)
	assert.NotNil(t, srv.Handler())
	assert.Equal(t, "127.0.0.1:8080", srv.Addr())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	// POST to a GET-only endpoint should return 405
	req := httptest.NewRequest(http.MethodPost, "/version", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body apperrors.HTTPErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&body)
	require.NoError(t, err)

	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	handlers.InitHealthManager("test")

	srv := New("127.0.0.1", 0)

	endpoints := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/health/live", http.StatusOK},
		{"GET", "/health/ready", http.StatusOK},
		{"GET", "/health/startup", http.StatusOK},
		{"GET", "/version", http.StatusOK},
		{"GET", "/static/app.js", http.StatusOK},
		{"GET", "/static/style.css", http.StatusOK},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			rec := httptest.NewRecorder()

			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, ep.want, rec.Code, "endpoint %s %s should return %d", ep.method, ep.path, ep.want)
		})
	}
}

func TestServer_UIRoutesAbsentWithoutUI(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/ui/jobs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// backendStub serves a small batch backend.
func backendStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/info", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"title":"Vocabulary API","version":"1.0.0","ollama":{"base_url":"http://ollama:11434","model":"gemma"}}`)
	})
	mux.HandleFunc("/api/batch/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"summary":{"runningJobs":2,"completedJobs":5,"failedJobs":0},"recentJobs":[{"id":1,"jobType":"scoring","status":"success","startedAt":"2024-05-01T10:00:00Z","completedAt":null}]}`)
	})
	mux.HandleFunc("/api/batch/trigger/daily_analysis", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"detail":"busy"}`)
	})
	mux.HandleFunc("/api/batch/trigger/weekly_report", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"message":"weekly_report started","job_id":7}`)
	})
	mux.HandleFunc("/api/users/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = io.WriteString(w, `{"id":3,"username":"park","email":null,"is_active":true}`)
			return
		}
		_, _ = io.WriteString(w, `[{"id":3,"username":"park","email":null,"is_active":true}]`)
	})
	mux.HandleFunc("/api/analysis/users/5/accuracy", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("days"))
		_, _ = io.WriteString(w, `{"accuracy":0.9}`)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"healthy"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newUIServer(t *testing.T) (*Server, *dashboard.Poller) {
	t.Helper()
	backend := backendStub(t)
	client, err := backendapi.New(backendapi.Config{BaseURL: backend.URL})
	require.NoError(t, err)

	poller := dashboard.New(client, dashboard.Config{})
	cons := console.New(client)
	ui, err := handlers.NewUI(poller, cons, nil)
	require.NoError(t, err)

	hub := livefeed.NewHub()
	t.Cleanup(hub.Close)

	return New("127.0.0.1", 0, WithUI(ui), WithLiveFeed(hub)), poller
}

func doUI(t *testing.T, srv *Server, method, target string, body io.Reader) (*httptest.ResponseRecorder, handlers.FragmentResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp handlers.FragmentResponse
	if rec.Code == http.StatusOK && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestUI_Pages(t *testing.T) {
	srv, _ := newUIServer(t)

	for _, path := range []string{"/", "/console"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), "<title>Batch admin</title>")
		})
	}
}

func TestUI_DashboardPageInlinesFragments(t *testing.T) {
	srv, _ := newUIServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `<div id="recentJobs"><p class="placeholder">No recent batch jobs.</p></div>`)
	assert.Contains(t, body, `data-job-type="daily_analysis"`)
}

func TestUI_StatusAfterPoll(t *testing.T) {
	srv, poller := newUIServer(t)
	require.NoError(t, poller.Initialize(context.Background()))

	_, resp := doUI(t, srv, http.MethodGet, "/ui/counter", nil)
	assert.True(t, resp.OK)
	assert.Contains(t, resp.Fragments[dashboard.FragmentSummary], `id="activeJobs">2</span>`)

	_, resp = doUI(t, srv, http.MethodGet, "/ui/jobs", nil)
	assert.Equal(t, 1, strings.Count(resp.Fragments[dashboard.FragmentJobs], `class="job-item"`))
	assert.Contains(t, resp.Fragments[dashboard.FragmentJobs], "scoring")

	_, resp = doUI(t, srv, http.MethodGet, "/ui/system", nil)
	assert.Contains(t, resp.Fragments[dashboard.FragmentSystem], "Vocabulary API")
}

func TestUI_TriggerFailureSurfacesDetail(t *testing.T) {
	srv, _ := newUIServer(t)

	rec, resp := doUI(t, srv, http.MethodPost, "/ui/trigger/daily_analysis", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, resp.OK)
	assert.Equal(t, "busy", resp.Error)
	assert.Equal(t, `<div class="error">Job run failed: busy</div>`, resp.Fragments[dashboard.FragmentToast])
	assert.NotContains(t, resp.Fragments[dashboard.FragmentControls], "disabled")
}

func TestUI_TriggerSuccess(t *testing.T) {
	srv, _ := newUIServer(t)

	_, resp := doUI(t, srv, http.MethodPost, "/ui/trigger/weekly_report", nil)
	assert.True(t, resp.OK)
	assert.Equal(t, `<div class="success">weekly_report job completed successfully.</div>`, resp.Fragments[dashboard.FragmentToast])
	assert.Contains(t, resp.Fragments[dashboard.FragmentSummary], `id="activeJobs">2</span>`)
}

func TestUI_TriggerUnknownJobType(t *testing.T) {
	srv, _ := newUIServer(t)

	rec, _ := doUI(t, srv, http.MethodPost, "/ui/trigger/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

func TestUI_RefreshAndOllama(t *testing.T) {
	srv, _ := newUIServer(t)

	_, resp := doUI(t, srv, http.MethodPost, "/ui/refresh", nil)
	assert.True(t, resp.OK)
	assert.Equal(t, `<div class="success">Status refreshed.</div>`, resp.Fragments[dashboard.FragmentToast])

	_, resp = doUI(t, srv, http.MethodPost, "/ui/ollama", nil)
	assert.True(t, resp.OK)
	assert.Contains(t, resp.Fragments[dashboard.FragmentToast], "Ollama server connected: http://ollama:11434")
}

func TestUI_ConsoleFlow(t *testing.T) {
	srv, _ := newUIServer(t)

	_, resp := doUI(t, srv, http.MethodGet, "/ui/console/users", nil)
	assert.True(t, resp.OK)
	assert.Contains(t, resp.Fragments[console.FragmentUsers], "park")

	_, resp = doUI(t, srv, http.MethodPost, "/ui/console/users", strings.NewReader("username=park&email="))
	assert.True(t, resp.OK)
	assert.Contains(t, resp.Fragments[console.FragmentToast], "User created successfully.")

	_, resp = doUI(t, srv, http.MethodPost, "/ui/console/users", strings.NewReader("username=&email="))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Fragments[console.FragmentToast], "Enter a username.")

	_, resp = doUI(t, srv, http.MethodPost, "/ui/console/users/3/select", nil)
	assert.Equal(t, "3", resp.Fragments[console.FragmentAnalysisUser])

	_, resp = doUI(t, srv, http.MethodGet, "/ui/console/analysis/accuracy?user_id=5&days=7", nil)
	assert.True(t, resp.OK)
	assert.Contains(t, resp.Fragments[string(console.PaneAnalysis)], "0.9")

	_, resp = doUI(t, srv, http.MethodGet, "/ui/console/system/health", nil)
	assert.True(t, resp.OK)
	assert.Contains(t, resp.Fragments[console.FragmentToast], "The system is operating normally.")

	_, resp = doUI(t, srv, http.MethodGet, "/ui/console/result?pane=systemData", nil)
	assert.Contains(t, resp.Fragments[string(console.PaneSystem)], "healthy")
}

func TestUI_ConsoleBadInput(t *testing.T) {
	srv, _ := newUIServer(t)

	tests := []struct {
		method string
		target string
		want   int
	}{
		{http.MethodPost, "/ui/console/users/abc/select", http.StatusBadRequest},
		{http.MethodGet, "/ui/console/analysis/bogus?user_id=1", http.StatusNotFound},
		{http.MethodGet, "/ui/console/analysis/report?user_id=1&days=x", http.StatusBadRequest},
		{http.MethodGet, "/ui/console/system/disk", http.StatusNotFound},
		{http.MethodGet, "/ui/console/result?pane=nope", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec, _ := doUI(t, srv, tt.method, tt.target, nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServer_ServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New("127.0.0.1", 0, WithTimeouts(Timeouts{Read: time.Second, Write: time.Second, Idle: time.Second, Shutdown: time.Second}))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/version")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
