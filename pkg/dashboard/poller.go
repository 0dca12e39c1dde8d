// Package dashboard implements the batch status dashboard.
//
// A Poller fetches batch status from the backend, keeps the last snapshot,
// and holds the rendered fragments the web layer serves. All state lives on
// the Poller; render functions receive it explicitly.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/3leaps/batchdeck/pkg/backendapi"
	"github.com/3leaps/batchdeck/pkg/batch"
	"github.com/3leaps/batchdeck/pkg/schedule"
	"github.com/3leaps/batchdeck/pkg/toast"
	"github.com/3leaps/batchdeck/pkg/view"
)

// Element ids of the dashboard fragments.
const (
	FragmentSummary  = "jobSummary"
	FragmentJobs     = "recentJobs"
	FragmentSystem   = "systemInfo"
	FragmentToast    = "batchMessage"
	FragmentControls = "batchControls"
)

// DefaultInterval is the batch status polling period.
const DefaultInterval = 30 * time.Second

// StatusLoadError is shown in place of the job list when a poll fails.
const StatusLoadError = "Could not load batch job status."

// ErrBusy is returned when a control's previous action is still in flight.
var ErrBusy = errors.New("action already in progress")

// Backend is the subset of the backend API the dashboard reads.
type Backend interface {
	Info(ctx context.Context) (*batch.SystemInfo, error)
	BatchStatus(ctx context.Context) (*batch.Snapshot, error)
	TriggerBatch(ctx context.Context, jobType string) (*batch.TriggerResult, error)
}

// JobType is a triggerable job shown as a dashboard button.
type JobType struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Label string `mapstructure:"label" yaml:"label"`
}

// DefaultJobTypes are the job types the backend accepts for manual runs.
func DefaultJobTypes() []JobType {
	return []JobType{
		{Name: "daily_analysis", Label: "Daily analysis"},
		{Name: "weekly_report", Label: "Weekly report"},
		{Name: "monthly_summary", Label: "Monthly summary"},
	}
}

// Config configures a Poller.
type Config struct {
	// Interval is the polling period. Default: 30s
	Interval time.Duration

	// JobTypes are rendered as trigger controls, in order.
	JobTypes []JobType

	// Display localizes timestamps.
	Display view.Options

	// ToastTimeout is how long messages stay visible. Default: 5s
	ToastTimeout time.Duration
}

// Option customizes a Poller.
type Option func(*Poller)

// WithClock sets the clock used for scheduling and the toast timer.
func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// State is a copy of what the dashboard currently displays.
type State struct {
	// Snapshot is the batch status behind the displayed job list. It is nil
	// before the first poll and after a failed one.
	Snapshot *batch.Snapshot

	Summary view.Summary

	// JobsHTML is the job list fragment, or the error fragment after a
	// failed poll.
	JobsHTML string

	// JobsError is set when the last poll failed.
	JobsError string

	System     view.SystemPanel
	LastPolled time.Time
}

// Poller is the dashboard's status poller.
type Poller struct {
	backend  Backend
	clock    clockwork.Clock
	logger   *zap.Logger
	interval time.Duration
	display  view.Options
	toaster  *toast.Toaster

	controls     map[string]*Control
	controlOrder []string

	mu    sync.Mutex
	state State

	subMu       sync.Mutex
	subscribers []func(view.Fragments)
}

// New creates a Poller. Nothing is fetched until Initialize or PollOnce.
func New(backend Backend, cfg Config, opts ...Option) *Poller {
	p := &Poller{
		backend:  backend,
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
		interval: cfg.Interval,
		display:  cfg.Display,
		controls: make(map[string]*Control),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.display.Location == nil {
		p.display = view.DefaultOptions()
	}

	jobTypes := cfg.JobTypes
	if len(jobTypes) == 0 {
		jobTypes = DefaultJobTypes()
	}
	for _, jt := range jobTypes {
		if jt.Name == "" {
			continue
		}
		if _, dup := p.controls[jt.Name]; dup {
			continue
		}
		p.controls[jt.Name] = NewControl(jt.Name, jt.Label)
		p.controlOrder = append(p.controlOrder, jt.Name)
	}

	p.toaster = toast.New(p.clock, cfg.ToastTimeout)
	p.toaster.OnChange(func(msg toast.Message, visible bool) {
		p.publish(view.Fragments{FragmentToast: p.renderToast(msg, visible)})
	})

	empty, _ := view.RenderJobs(view.JobList{})
	p.state = State{
		Summary:  view.UnknownSummary(),
		JobsHTML: empty,
		System:   view.SystemPanelView(nil),
	}
	return p
}

// Toaster returns the dashboard's message region.
func (p *Poller) Toaster() *toast.Toaster {
	return p.toaster
}

// Control returns the trigger control for jobType.
func (p *Poller) Control(jobType string) (*Control, bool) {
	c, ok := p.controls[jobType]
	return c, ok
}

// Subscribe registers fn to receive re-rendered fragments after every state
// change. fn must not block.
func (p *Poller) Subscribe(fn func(view.Fragments)) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

// Initialize fetches system info and batch status concurrently.
//
// Each half renders independently; a failure in one does not prevent the
// other. Both failures are logged and returned joined.
func (p *Poller) Initialize(ctx context.Context) error {
	var infoErr, statusErr error

	var wg conc.WaitGroup
	wg.Go(func() { infoErr = p.LoadSystemInfo(ctx) })
	wg.Go(func() { statusErr = p.PollOnce(ctx) })
	wg.Wait()

	return errors.Join(infoErr, statusErr)
}

// LoadSystemInfo fetches /api/info into the system panel. On failure the
// panel keeps its previous content.
func (p *Poller) LoadSystemInfo(ctx context.Context) error {
	info, err := p.backend.Info(ctx)
	if err != nil {
		p.logger.Warn("Failed to load system info",
			zap.String("kind", string(backendapi.Classify(err))),
			zap.Error(err))
		return err
	}

	panel := view.SystemPanelView(info)
	p.mu.Lock()
	p.state.System = panel
	p.mu.Unlock()

	p.publish(view.Fragments{FragmentSystem: p.renderSystem(panel)})
	return nil
}

// PollOnce fetches batch status and replaces the displayed snapshot.
//
// On failure the job list is replaced by an error block; the previous list is
// not kept and the counters are left untouched.
func (p *Poller) PollOnce(ctx context.Context) error {
	snap, err := p.backend.BatchStatus(ctx)
	if err != nil {
		p.logger.Warn("Failed to load batch status",
			zap.String("kind", string(backendapi.Classify(err))),
			zap.Error(err))

		errHTML, rerr := view.RenderError(StatusLoadError)
		if rerr != nil {
			p.logger.Error("Render error fragment", zap.Error(rerr))
		}
		p.mu.Lock()
		p.state.Snapshot = nil
		p.state.JobsHTML = errHTML
		p.state.JobsError = StatusLoadError
		p.mu.Unlock()

		p.publish(view.Fragments{FragmentJobs: errHTML})
		return err
	}

	jobsHTML, err := p.RenderJobs(snap.RecentJobs)
	if err != nil {
		p.logger.Error("Render job list", zap.Error(err))
		return err
	}
	summary := view.SummaryView(snap.Summary)

	p.mu.Lock()
	p.state.Snapshot = snap
	p.state.Summary = summary
	p.state.JobsHTML = jobsHTML
	p.state.JobsError = ""
	p.state.LastPolled = p.clock.Now()
	p.mu.Unlock()

	p.logger.Debug("Batch status refreshed",
		zap.Int("running_jobs", snap.Summary.RunningJobs),
		zap.Int("recent_jobs", len(snap.RecentJobs)))

	p.publish(view.Fragments{
		FragmentSummary: p.renderSummary(summary),
		FragmentJobs:    jobsHTML,
	})
	return nil
}

// RenderJobs renders a job list with the dashboard's display options.
func (p *Poller) RenderJobs(jobs []batch.JobRecord) (string, error) {
	return view.RenderJobs(view.JobListView(jobs, p.display))
}

// Schedule polls every interval until the returned task is stopped or ctx
// is done.
func (p *Poller) Schedule(ctx context.Context) *schedule.Task {
	p.logger.Info("Scheduling batch status polling", zap.Duration("interval", p.interval))
	return schedule.Every(ctx, p.clock, p.interval, func(ctx context.Context) {
		_ = p.PollOnce(ctx)
	})
}

// Refresh polls once on operator request and reports the outcome as a toast.
func (p *Poller) Refresh(ctx context.Context) error {
	if err := p.PollOnce(ctx); err != nil {
		p.toaster.Error("Status refresh failed: " + backendapi.Message(err))
		return err
	}
	p.toaster.Success("Status refreshed.")
	return nil
}

// TriggerJob starts jobType on the backend.
//
// ctrl is disabled for the duration of the call and re-enabled on every
// path. On success exactly one follow-up poll runs; on failure the counters
// are not touched. A nil ctrl is allowed.
func (p *Poller) TriggerJob(ctx context.Context, jobType string, ctrl *Control) (*batch.TriggerResult, error) {
	if ctrl != nil {
		if !ctrl.TryDisable() {
			return nil, ErrBusy
		}
		p.publishControls()
		defer func() {
			ctrl.Enable()
			p.publishControls()
		}()
	}

	res, err := p.backend.TriggerBatch(ctx, jobType)
	if err != nil {
		p.logger.Warn("Batch trigger failed",
			zap.String("job_type", jobType),
			zap.String("kind", string(backendapi.Classify(err))),
			zap.Error(err))
		if _, ok := backendapi.AsStatus(err); ok {
			p.toaster.Error("Job run failed: " + backendapi.Message(err))
		} else {
			p.toaster.Error("Error while running job: " + backendapi.Message(err))
		}
		return nil, err
	}

	p.logger.Info("Batch job triggered", zap.String("job_type", jobType), zap.Int64("job_id", res.JobID))
	p.toaster.Success(fmt.Sprintf("%s job completed successfully.", jobType))

	if perr := p.PollOnce(ctx); perr != nil {
		p.logger.Debug("Follow-up poll after trigger failed", zap.Error(perr))
	}
	return res, nil
}

// CheckOllama reports the LLM server configured on the backend.
func (p *Poller) CheckOllama(ctx context.Context) error {
	info, err := p.backend.Info(ctx)
	if err != nil {
		p.toaster.Error("Ollama status check failed: " + backendapi.Message(err))
		return err
	}
	if info.Ollama == nil || info.Ollama.BaseURL == "" {
		p.toaster.Error("Could not determine Ollama server status.")
		return nil
	}
	p.toaster.Success("Ollama server connected: " + info.Ollama.BaseURL)
	return nil
}

// State returns a copy of the displayed state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	if s.Snapshot != nil {
		snap := *s.Snapshot
		snap.RecentJobs = append([]batch.JobRecord(nil), s.Snapshot.RecentJobs...)
		s.Snapshot = &snap
	}
	return s
}

// Fragments renders every dashboard element from the current state.
func (p *Poller) Fragments() view.Fragments {
	s := p.State()
	msg, visible := p.toaster.Current()
	return view.Fragments{
		FragmentSummary:  p.renderSummary(s.Summary),
		FragmentJobs:     s.JobsHTML,
		FragmentSystem:   p.renderSystem(s.System),
		FragmentToast:    p.renderToast(msg, visible),
		FragmentControls: p.renderControls(),
	}
}

func (p *Poller) controlViews() []view.Control {
	out := make([]view.Control, 0, len(p.controlOrder))
	for _, name := range p.controlOrder {
		out = append(out, p.controls[name].View())
	}
	return out
}

func (p *Poller) publishControls() {
	p.publish(view.Fragments{FragmentControls: p.renderControls()})
}

func (p *Poller) publish(f view.Fragments) {
	p.subMu.Lock()
	subs := make([]func(view.Fragments), len(p.subscribers))
	copy(subs, p.subscribers)
	p.subMu.Unlock()

	for _, fn := range subs {
		fn(f)
	}
}

func (p *Poller) renderSummary(s view.Summary) string {
	return p.mustRender("summary", func() (string, error) { return view.RenderSummary(s) })
}

func (p *Poller) renderSystem(panel view.SystemPanel) string {
	return p.mustRender("system", func() (string, error) { return view.RenderSystem(panel) })
}

func (p *Poller) renderToast(msg toast.Message, visible bool) string {
	return p.mustRender("toast", func() (string, error) { return view.RenderToast(msg, visible) })
}

func (p *Poller) renderControls() string {
	return p.mustRender("controls", func() (string, error) { return view.RenderControls(p.controlViews()) })
}

// mustRender logs template failures and yields an empty fragment.
func (p *Poller) mustRender(name string, fn func() (string, error)) string {
	html, err := fn()
	if err != nil {
		p.logger.Error("Render fragment", zap.String("fragment", name), zap.Error(err))
		return ""
	}
	return html
}
