package dashboard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/batchdeck/pkg/backendapi"
	"github.com/3leaps/batchdeck/pkg/batch"
	"github.com/3leaps/batchdeck/pkg/view"
)

// fakeBackend is a programmable Backend.
type fakeBackend struct {
	mu sync.Mutex

	info    *batch.SystemInfo
	infoErr error

	snap      *batch.Snapshot
	statusErr error

	triggerRes  *batch.TriggerResult
	triggerErr  error
	triggerGate chan struct{}

	statusCalls  atomic.Int32
	triggerCalls atomic.Int32
}

func (f *fakeBackend) Info(ctx context.Context) (*batch.SystemInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info, f.infoErr
}

func (f *fakeBackend) BatchStatus(ctx context.Context) (*batch.Snapshot, error) {
	f.statusCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.statusErr
}

func (f *fakeBackend) TriggerBatch(ctx context.Context, jobType string) (*batch.TriggerResult, error) {
	f.triggerCalls.Add(1)
	if f.triggerGate != nil {
		<-f.triggerGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggerRes, f.triggerErr
}

func (f *fakeBackend) setStatus(snap *batch.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.statusErr = snap, err
}

var utcDisplay = view.Options{Location: time.UTC, TimeLayout: view.DefaultTimeLayout}

func newTestPoller(b Backend, clock clockwork.Clock) *Poller {
	return New(b, Config{Display: utcDisplay}, WithClock(clock))
}

func snapshotWith(running int, jobs ...batch.JobRecord) *batch.Snapshot {
	return &batch.Snapshot{Summary: batch.JobSummary{RunningJobs: running}, RecentJobs: jobs}
}

func TestPoller_EndToEndStatusRendering(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/batch/status", r.URL.Path)
		_, _ = io.WriteString(w, `{"summary":{"runningJobs":2},"recentJobs":[{"jobType":"scoring","status":"success","startedAt":"2024-01-01T00:00:00Z","completedAt":"2024-01-01T00:05:00Z"}]}`)
	}))
	defer srv.Close()

	client, err := backendapi.New(backendapi.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	p := newTestPoller(client, clockwork.NewFakeClock())
	require.NoError(t, p.PollOnce(context.Background()))

	state := p.State()
	assert.Equal(t, "2", state.Summary.RunningJobs)
	assert.Equal(t, 1, strings.Count(state.JobsHTML, `class="job-item"`))
	assert.Contains(t, state.JobsHTML, "<strong>scoring</strong>")
	assert.Contains(t, state.JobsHTML, ">success</span>")
	assert.Contains(t, state.JobsHTML, "2024. 1. 1. 00:05:00")
}

func TestPoller_EndToEndTriggerFailure(t *testing.T) {
	var statusCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/batch/status":
			statusCalls.Add(1)
			_, _ = io.WriteString(w, `{"summary":{"running_jobs":1},"recent_jobs":[]}`)
		case "/api/batch/trigger/scoring":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"detail":"busy"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := backendapi.New(backendapi.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	p := New(client, Config{Display: utcDisplay, JobTypes: []JobType{{Name: "scoring"}}}, WithClock(clockwork.NewFakeClock()))
	require.NoError(t, p.PollOnce(context.Background()))
	require.Equal(t, "1", p.State().Summary.RunningJobs)

	ctrl, ok := p.Control("scoring")
	require.True(t, ok)

	_, err = p.TriggerJob(context.Background(), "scoring", ctrl)
	require.Error(t, err)

	msg, visible := p.Toaster().Current()
	require.True(t, visible)
	assert.Contains(t, msg.Text, "busy")
	assert.Equal(t, "error", string(msg.Kind))

	assert.Equal(t, "1", p.State().Summary.RunningJobs, "counter must not change on trigger failure")
	assert.Equal(t, int32(1), statusCalls.Load(), "no follow-up poll after a failed trigger")
	assert.False(t, ctrl.Disabled())
}

func TestPoller_PollFailureReplacesListAndKeepsCounter(t *testing.T) {
	backend := &fakeBackend{}
	backend.setStatus(snapshotWith(3, batch.JobRecord{JobType: "daily_analysis", Status: batch.JobStatusRunning}), nil)

	p := newTestPoller(backend, clockwork.NewFakeClock())
	require.NoError(t, p.PollOnce(context.Background()))
	require.Contains(t, p.State().JobsHTML, "daily_analysis")
	require.NotNil(t, p.State().Snapshot)

	backend.setStatus(nil, errors.New("connection refused"))
	require.Error(t, p.PollOnce(context.Background()))

	state := p.State()
	assert.Nil(t, state.Snapshot, "snapshot no longer backs the displayed list")
	assert.Equal(t, `<div class="error">`+StatusLoadError+`</div>`, state.JobsHTML)
	assert.NotContains(t, state.JobsHTML, "daily_analysis", "stale rows are not kept")
	assert.Equal(t, StatusLoadError, state.JobsError)
	assert.Equal(t, "3", state.Summary.RunningJobs)

	backend.setStatus(snapshotWith(1, batch.JobRecord{JobType: "weekly_report", Status: batch.JobStatusCompleted}), nil)
	require.NoError(t, p.PollOnce(context.Background()))
	state = p.State()
	require.NotNil(t, state.Snapshot)
	assert.Equal(t, "weekly_report", state.Snapshot.RecentJobs[0].JobType)
	assert.Empty(t, state.JobsError)
}

func TestPoller_EmptyJobsRenderPlaceholder(t *testing.T) {
	backend := &fakeBackend{}
	backend.setStatus(snapshotWith(0), nil)

	p := newTestPoller(backend, clockwork.NewFakeClock())
	require.NoError(t, p.PollOnce(context.Background()))
	assert.Equal(t, view.NoRecentJobsHTML, p.State().JobsHTML)
	assert.Equal(t, "0", p.State().Summary.RunningJobs)
}

func TestPoller_InitializeIsolatesFailures(t *testing.T) {
	t.Run("info fails, status renders", func(t *testing.T) {
		backend := &fakeBackend{infoErr: errors.New("info down")}
		backend.setStatus(snapshotWith(2, batch.JobRecord{JobType: "weekly_report", Status: batch.JobStatusSuccess}), nil)

		p := newTestPoller(backend, clockwork.NewFakeClock())
		err := p.Initialize(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "info down")

		state := p.State()
		assert.Equal(t, "2", state.Summary.RunningJobs)
		assert.Contains(t, state.JobsHTML, "weekly_report")
		assert.Equal(t, view.Dash, state.System.Title)
	})

	t.Run("status fails, info renders", func(t *testing.T) {
		backend := &fakeBackend{info: &batch.SystemInfo{Title: "Onsori", Ollama: &batch.OllamaInfo{BaseURL: "http://ollama:11434"}}}
		backend.setStatus(nil, errors.New("status down"))

		p := newTestPoller(backend, clockwork.NewFakeClock())
		err := p.Initialize(context.Background())
		require.Error(t, err)

		state := p.State()
		assert.Equal(t, "Onsori", state.System.Title)
		assert.Equal(t, "http://ollama:11434", state.System.OllamaURL)
		assert.Equal(t, StatusLoadError, state.JobsError)
	})

	t.Run("both succeed", func(t *testing.T) {
		backend := &fakeBackend{info: &batch.SystemInfo{Title: "Onsori"}}
		backend.setStatus(snapshotWith(0), nil)

		p := newTestPoller(backend, clockwork.NewFakeClock())
		assert.NoError(t, p.Initialize(context.Background()))
	})
}

func TestPoller_TriggerSuccessPollsExactlyOnce(t *testing.T) {
	backend := &fakeBackend{triggerRes: &batch.TriggerResult{Message: "ok", JobID: 11}}
	backend.setStatus(snapshotWith(1, batch.JobRecord{JobType: "daily_analysis", Status: batch.JobStatusRunning}), nil)

	p := newTestPoller(backend, clockwork.NewFakeClock())
	ctrl, ok := p.Control("daily_analysis")
	require.True(t, ok)

	res, err := p.TriggerJob(context.Background(), "daily_analysis", ctrl)
	require.NoError(t, err)
	assert.Equal(t, int64(11), res.JobID)

	assert.Equal(t, int32(1), backend.statusCalls.Load())
	assert.False(t, ctrl.Disabled())
	assert.Equal(t, "1", p.State().Summary.RunningJobs)

	msg, visible := p.Toaster().Current()
	require.True(t, visible)
	assert.Equal(t, "success", string(msg.Kind))
	assert.Contains(t, msg.Text, "daily_analysis")
}

func TestPoller_TriggerReenablesControlOnEveryPath(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"success", nil},
		{"status error", &backendapi.StatusError{StatusCode: 409, Detail: "already running"}},
		{"transport error", backendapi.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{triggerRes: &batch.TriggerResult{}, triggerErr: tt.err}
			backend.setStatus(snapshotWith(0), nil)

			p := newTestPoller(backend, clockwork.NewFakeClock())
			ctrl := NewControl("weekly_report", "Weekly report")

			_, err := p.TriggerJob(context.Background(), "weekly_report", ctrl)
			if tt.err != nil {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.False(t, ctrl.Disabled())
			assert.Equal(t, "Weekly report", ctrl.View().Label)
		})
	}
}

func TestPoller_TriggerErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"status detail", &backendapi.RequestError{Op: "TriggerBatch", Err: &backendapi.StatusError{StatusCode: 400, Detail: "Invalid job type"}}, "Job run failed: Invalid job type"},
		{"transport", &backendapi.RequestError{Op: "TriggerBatch", Err: backendapi.ErrTransport}, "Error while running job: backend unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{triggerErr: tt.err}
			p := newTestPoller(backend, clockwork.NewFakeClock())

			_, err := p.TriggerJob(context.Background(), "x", nil)
			require.Error(t, err)

			msg, ok := p.Toaster().Current()
			require.True(t, ok)
			assert.Equal(t, tt.want, msg.Text)
		})
	}
}

func TestPoller_TriggerWhileInFlightIsRejected(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{triggerRes: &batch.TriggerResult{}, triggerGate: gate}
	backend.setStatus(snapshotWith(0), nil)

	p := newTestPoller(backend, clockwork.NewFakeClock())
	ctrl, _ := p.Control("monthly_summary")

	done := make(chan error, 1)
	go func() {
		_, err := p.TriggerJob(context.Background(), "monthly_summary", ctrl)
		done <- err
	}()

	require.Eventually(t, ctrl.Disabled, time.Second, 5*time.Millisecond)
	assert.Equal(t, BusyLabel, ctrl.View().Label)

	_, err := p.TriggerJob(context.Background(), "monthly_summary", ctrl)
	assert.ErrorIs(t, err, ErrBusy)

	close(gate)
	require.NoError(t, <-done)
	assert.False(t, ctrl.Disabled())
	assert.Equal(t, int32(1), backend.triggerCalls.Load())
}

func TestPoller_SchedulePollsEveryInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	backend := &fakeBackend{}
	backend.setStatus(snapshotWith(4), nil)

	p := New(backend, Config{Interval: 30 * time.Second, Display: utcDisplay}, WithClock(clock))
	task := p.Schedule(context.Background())
	defer task.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(30 * time.Second)
	assert.Eventually(t, func() bool { return backend.statusCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return p.State().Summary.RunningJobs == "4" }, time.Second, 5*time.Millisecond)

	task.Stop()
	clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), backend.statusCalls.Load())
}

func TestPoller_Refresh(t *testing.T) {
	backend := &fakeBackend{}
	backend.setStatus(snapshotWith(0), nil)
	p := newTestPoller(backend, clockwork.NewFakeClock())

	require.NoError(t, p.Refresh(context.Background()))
	msg, _ := p.Toaster().Current()
	assert.Equal(t, "Status refreshed.", msg.Text)

	backend.setStatus(nil, &backendapi.StatusError{StatusCode: 503, Detail: "maintenance"})
	require.Error(t, p.Refresh(context.Background()))
	msg, _ = p.Toaster().Current()
	assert.Equal(t, "Status refresh failed: maintenance", msg.Text)
}

func TestPoller_CheckOllama(t *testing.T) {
	tests := []struct {
		name     string
		info     *batch.SystemInfo
		err      error
		wantKind string
		wantText string
	}{
		{"connected", &batch.SystemInfo{Ollama: &batch.OllamaInfo{BaseURL: "http://localhost:11434"}}, nil, "success", "Ollama server connected: http://localhost:11434"},
		{"missing block", &batch.SystemInfo{}, nil, "error", "Could not determine Ollama server status."},
		{"request failed", nil, errors.New("refused"), "error", "Ollama status check failed: refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPoller(&fakeBackend{info: tt.info, infoErr: tt.err}, clockwork.NewFakeClock())
			_ = p.CheckOllama(context.Background())

			msg, ok := p.Toaster().Current()
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, string(msg.Kind))
			assert.Equal(t, tt.wantText, msg.Text)
		})
	}
}

func TestPoller_SubscribersReceiveFragments(t *testing.T) {
	backend := &fakeBackend{}
	backend.setStatus(snapshotWith(5), nil)
	p := newTestPoller(backend, clockwork.NewFakeClock())

	var mu sync.Mutex
	got := view.Fragments{}
	p.Subscribe(func(f view.Fragments) {
		mu.Lock()
		defer mu.Unlock()
		got.Merge(f)
	})

	require.NoError(t, p.PollOnce(context.Background()))
	p.Toaster().Success("hi")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, got[FragmentSummary], `id="activeJobs">5<`)
	assert.Equal(t, view.NoRecentJobsHTML, got[FragmentJobs])
	assert.Equal(t, `<div class="success">hi</div>`, got[FragmentToast])
}

func TestPoller_FragmentsAndDefaults(t *testing.T) {
	p := New(&fakeBackend{}, Config{})

	assert.Equal(t, DefaultInterval, p.interval)
	assert.NotNil(t, p.display.Location)

	f := p.Fragments()
	assert.Equal(t, view.NoRecentJobsHTML, f[FragmentJobs])
	assert.Contains(t, f[FragmentSummary], `id="activeJobs">-<`)
	assert.Equal(t, 3, strings.Count(f[FragmentControls], "<button"))
	assert.Empty(t, f[FragmentToast])

	_, ok := p.Control("daily_analysis")
	assert.True(t, ok)
	_, ok = p.Control("nope")
	assert.False(t, ok)
}

func TestPoller_StateIsACopy(t *testing.T) {
	backend := &fakeBackend{}
	backend.setStatus(snapshotWith(1, batch.JobRecord{JobType: "a"}), nil)
	p := newTestPoller(backend, clockwork.NewFakeClock())
	require.NoError(t, p.PollOnce(context.Background()))

	s := p.State()
	s.Snapshot.RecentJobs[0].JobType = "mutated"
	assert.Equal(t, "a", p.State().Snapshot.RecentJobs[0].JobType)
}
