// Package console implements the manual API test console.
//
// Every action is one independent request/response round trip whose raw
// JSON body lands in a result pane. Failures become error toasts carrying
// the server's detail text; they never block later actions. The only state
// shared between actions is the selected user id, and it is simply
// overwritten.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/3leaps/batchdeck/pkg/backendapi"
	"github.com/3leaps/batchdeck/pkg/batch"
	"github.com/3leaps/batchdeck/pkg/toast"
	"github.com/3leaps/batchdeck/pkg/view"
)

// Element ids of the console fragments.
const (
	FragmentUsers        = "usersList"
	FragmentAnalysisUser = "analysisUserId"
	FragmentToast        = "globalMessage"
)

// DefaultDays is the analysis period when none is given.
const DefaultDays = 30

// UsersLoadError replaces the user list when it cannot be fetched.
const UsersLoadError = "Could not load the user list."

// Presence-check errors.
var (
	ErrMissingUserID   = errors.New("user id is required")
	ErrMissingUsername = errors.New("username is required")
	ErrMissingTestData = errors.New("test data is required")
	ErrNoOllamaAPI     = errors.New("direct Ollama testing has no backend endpoint")
)

// Pane is a result pane of the console.
type Pane string

const (
	PaneAnalysis Pane = "analysisData"
	PaneBatch    Pane = "batchData"
	PaneSystem   Pane = "systemData"
)

// Backend is the subset of the backend API the console calls.
type Backend interface {
	Users(ctx context.Context) ([]batch.UserRecord, error)
	CreateUser(ctx context.Context, username, email string) (*batch.UserRecord, error)
	Analysis(ctx context.Context, kind backendapi.AnalysisKind, userID int64, days int) (json.RawMessage, error)
	Raw(ctx context.Context, method, path string) (json.RawMessage, error)
}

// Option customizes a Console.
type Option func(*Console)

// WithClock sets the clock used by the toast timer.
func WithClock(c clockwork.Clock) Option {
	return func(con *Console) {
		if c != nil {
			con.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(con *Console) {
		if l != nil {
			con.logger = l
		}
	}
}

// WithToastTimeout sets how long messages stay visible.
func WithToastTimeout(d time.Duration) Option {
	return func(con *Console) {
		con.toastTimeout = d
	}
}

// Console is the API test console.
type Console struct {
	backend      Backend
	clock        clockwork.Clock
	logger       *zap.Logger
	toastTimeout time.Duration
	toaster      *toast.Toaster

	mu         sync.Mutex
	users      []batch.UserRecord
	usersErr   bool
	selectedID int64
	panes      map[Pane]string

	subMu       sync.Mutex
	subscribers []func(view.Fragments)
}

// New creates a Console.
func New(backend Backend, opts ...Option) *Console {
	c := &Console{
		backend: backend,
		clock:   clockwork.NewRealClock(),
		logger:  zap.NewNop(),
		panes:   make(map[Pane]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.toaster = toast.New(c.clock, c.toastTimeout)
	c.toaster.OnChange(func(msg toast.Message, visible bool) {
		html, err := view.RenderToast(msg, visible)
		if err != nil {
			c.logger.Error("Render toast", zap.Error(err))
			return
		}
		c.publish(view.Fragments{FragmentToast: html})
	})
	return c
}

// Toaster returns the console's message region.
func (c *Console) Toaster() *toast.Toaster {
	return c.toaster
}

// Subscribe registers fn to receive fragments after every change. fn must
// not block.
func (c *Console) Subscribe(fn func(view.Fragments)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// SelectedUserID returns the selected user, or zero.
func (c *Console) SelectedUserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedID
}

// Pane returns the raw JSON last written to p, pretty-printed.
func (c *Console) Pane(p Pane) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.panes[p]
	return s, ok
}

// LoadUsers fetches the user list.
func (c *Console) LoadUsers(ctx context.Context) error {
	users, err := c.backend.Users(ctx)
	c.mu.Lock()
	if err != nil {
		c.users = nil
		c.usersErr = true
	} else {
		c.users = users
		c.usersErr = false
	}
	c.mu.Unlock()

	if err != nil {
		c.logFailure("Users", err)
	}
	c.publish(view.Fragments{FragmentUsers: c.renderUsers()})
	return err
}

// SelectUser makes id the selected user and pre-fills the analysis field.
func (c *Console) SelectUser(id int64) {
	c.mu.Lock()
	c.selectedID = id
	c.mu.Unlock()

	c.publish(view.Fragments{
		FragmentUsers:        c.renderUsers(),
		FragmentAnalysisUser: c.analysisUserField(),
	})
	c.toaster.Success(fmt.Sprintf("Selected user ID %d.", id))
}

// CreateUser creates a user. An empty email is sent as null. The user list
// is reloaded after a successful create.
func (c *Console) CreateUser(ctx context.Context, username, email string) (*batch.UserRecord, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		c.toaster.Error("Enter a username.")
		return nil, ErrMissingUsername
	}

	user, err := c.backend.CreateUser(ctx, username, email)
	if err != nil {
		c.logFailure("CreateUser", err)
		c.toastFailure(err, "User creation failed: ", "Error: ")
		return nil, err
	}

	c.logger.Info("Created user", zap.String("username", user.Username), zap.Int64("user_id", user.ID))
	c.toaster.Success("User created successfully.")
	_ = c.LoadUsers(ctx)
	return user, nil
}

// AnalysisRequest is the analysis form.
type AnalysisRequest struct {
	// UserID is the raw field value. It is pre-filled by SelectUser.
	UserID string

	// Days is the analysis period. Zero means DefaultDays.
	Days int
}

// RunAnalysis calls one of the per-user analysis endpoints and renders the
// response into the analysis pane.
func (c *Console) RunAnalysis(ctx context.Context, kind backendapi.AnalysisKind, req AnalysisRequest) error {
	raw := strings.TrimSpace(req.UserID)
	if raw == "" {
		c.toaster.Error("Enter a user ID.")
		return ErrMissingUserID
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		c.toaster.Error(fmt.Sprintf("Invalid user ID: %s", raw))
		return fmt.Errorf("%w: %q is not a positive integer", ErrMissingUserID, raw)
	}
	days := req.Days
	if days <= 0 {
		days = DefaultDays
	}

	body, err := c.backend.Analysis(ctx, kind, userID, days)
	if err != nil {
		c.logFailure("Analysis", err)
		c.showErrorBody(PaneAnalysis, err)
		prefix := "Analysis failed: "
		if kind == backendapi.AnalysisReport {
			prefix = "Report generation failed: "
		}
		c.toaster.Error(prefix + backendapi.Message(err))
		return err
	}
	c.showResult(PaneAnalysis, body)
	return nil
}

// TriggerTestBatch runs a batch job and shows the raw response.
func (c *Console) TriggerTestBatch(ctx context.Context, jobType string) error {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		c.toaster.Error("Enter a job type.")
		return fmt.Errorf("job type is required")
	}

	body, err := c.backend.Raw(ctx, http.MethodPost, "/api/batch/trigger/"+url.PathEscape(jobType))
	if err != nil {
		c.logFailure("TriggerBatch", err)
		c.showErrorBody(PaneBatch, err)
		c.toastFailure(err, "Batch job failed: ", "Batch job run failed: ")
		return err
	}
	c.showResult(PaneBatch, body)
	c.toaster.Success(fmt.Sprintf("%s batch job completed successfully.", jobType))
	return nil
}

// BatchStatus shows the raw /api/batch/status body.
func (c *Console) BatchStatus(ctx context.Context) error {
	return c.fetchInto(ctx, PaneBatch, "/api/batch/status", "Batch status query failed: ")
}

// BatchJobs shows the raw /api/batch/jobs body.
func (c *Console) BatchJobs(ctx context.Context) error {
	return c.fetchInto(ctx, PaneBatch, "/api/batch/jobs", "Batch job history query failed: ")
}

// SystemInfo shows the raw /api/info body.
func (c *Console) SystemInfo(ctx context.Context) error {
	return c.fetchInto(ctx, PaneSystem, "/api/info", "System info query failed: ")
}

// SystemHealth shows the raw /health body.
func (c *Console) SystemHealth(ctx context.Context) error {
	if err := c.fetchInto(ctx, PaneSystem, "/health", "System health check failed: "); err != nil {
		return err
	}
	c.toaster.Success("The system is operating normally.")
	return nil
}

// OllamaConnection shows the `ollama` block of /api/info.
func (c *Console) OllamaConnection(ctx context.Context) error {
	body, err := c.backend.Raw(ctx, http.MethodGet, "/api/info")
	if err != nil {
		c.logFailure("Info", err)
		c.toaster.Error("Ollama connection test failed: " + backendapi.Message(err))
		return err
	}

	var info struct {
		Ollama json.RawMessage `json:"ollama"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		c.toaster.Error("Ollama connection test failed: " + err.Error())
		return fmt.Errorf("%w: %w", backendapi.ErrMalformed, err)
	}
	c.showResult(PaneSystem, info.Ollama)
	c.toaster.Success("Checked Ollama connection info.")
	return nil
}

// OllamaAnalysis validates test data locally.
//
// The backend exposes no direct Ollama endpoint, so a valid document is
// echoed back with a notice and ErrNoOllamaAPI is returned.
func (c *Console) OllamaAnalysis(testData string) error {
	if strings.TrimSpace(testData) == "" {
		c.toaster.Error("Enter test data.")
		return ErrMissingTestData
	}

	var parsed json.RawMessage
	if err := json.Unmarshal([]byte(testData), &parsed); err != nil {
		c.toaster.Error("JSON parse error: " + err.Error())
		return err
	}

	echo, err := json.Marshal(struct {
		Message  string          `json:"message"`
		TestData json.RawMessage `json:"test_data"`
	}{
		Message:  "Results will appear here once a direct Ollama test API is implemented.",
		TestData: parsed,
	})
	if err != nil {
		return err
	}
	c.toaster.Error("Direct Ollama testing requires a backend endpoint.")
	c.showResult(PaneSystem, echo)
	return ErrNoOllamaAPI
}

// Fragments renders every console element from the current state.
func (c *Console) Fragments() view.Fragments {
	msg, visible := c.toaster.Current()
	toastHTML, _ := view.RenderToast(msg, visible)

	f := view.Fragments{
		FragmentUsers:        c.renderUsers(),
		FragmentAnalysisUser: c.analysisUserField(),
		FragmentToast:        toastHTML,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for pane, body := range c.panes {
		html, err := view.RenderResult([]byte(body))
		if err != nil {
			continue
		}
		f[string(pane)] = html
	}
	return f
}

func (c *Console) fetchInto(ctx context.Context, pane Pane, path, failPrefix string) error {
	body, err := c.backend.Raw(ctx, http.MethodGet, path)
	if err != nil {
		c.logFailure("Raw", err)
		c.toaster.Error(failPrefix + backendapi.Message(err))
		return err
	}
	c.showResult(pane, body)
	return nil
}

func (c *Console) showResult(pane Pane, body []byte) {
	pretty := view.PrettyJSON(body)
	c.mu.Lock()
	c.panes[pane] = pretty
	c.mu.Unlock()

	html, err := view.RenderResult(body)
	if err != nil {
		c.logger.Error("Render result pane", zap.String("pane", string(pane)), zap.Error(err))
		return
	}
	c.publish(view.Fragments{string(pane): html})
}

// showErrorBody puts a non-2xx JSON body in the pane so the operator sees
// the full server response next to the toast.
func (c *Console) showErrorBody(pane Pane, err error) {
	if se, ok := backendapi.AsStatus(err); ok && len(se.Body) > 0 {
		c.showResult(pane, se.Body)
	}
}

func (c *Console) toastFailure(err error, statusPrefix, otherPrefix string) {
	if _, ok := backendapi.AsStatus(err); ok {
		c.toaster.Error(statusPrefix + backendapi.Message(err))
		return
	}
	c.toaster.Error(otherPrefix + backendapi.Message(err))
}

func (c *Console) logFailure(op string, err error) {
	c.logger.Warn("Console request failed",
		zap.String("op", op),
		zap.String("kind", string(backendapi.Classify(err))),
		zap.Error(err))
}

func (c *Console) analysisUserField() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selectedID == 0 {
		return ""
	}
	return strconv.FormatInt(c.selectedID, 10)
}

func (c *Console) renderUsers() string {
	c.mu.Lock()
	users, failed, selected := c.users, c.usersErr, c.selectedID
	c.mu.Unlock()

	var (
		html string
		err  error
	)
	if failed {
		html, err = view.RenderError(UsersLoadError)
	} else {
		html, err = view.RenderUsers(view.UserListView(users, selected))
	}
	if err != nil {
		c.logger.Error("Render user list", zap.Error(err))
		return ""
	}
	return html
}

func (c *Console) publish(f view.Fragments) {
	c.subMu.Lock()
	subs := make([]func(view.Fragments), len(c.subscribers))
	copy(subs, c.subscribers)
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(f)
	}
}
