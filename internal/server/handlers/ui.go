package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	webassets "github.com/3leaps/batchdeck/internal/assets/web"
	apperrors "github.com/3leaps/batchdeck/internal/errors"
	"github.com/3leaps/batchdeck/pkg/backendapi"
	"github.com/3leaps/batchdeck/pkg/console"
	"github.com/3leaps/batchdeck/pkg/dashboard"
	"github.com/3leaps/batchdeck/pkg/view"
)

// FragmentResponse is the body of every /ui endpoint.
//
// Failures the page reports through its message region answer 200 with
// OK false, so the browser still applies the fragments.
type FragmentResponse struct {
	OK        bool           `json:"ok"`
	Error     string         `json:"error,omitempty"`
	Fragments view.Fragments `json:"fragments"`
}

type pageData struct {
	Title          string
	Page           string
	F              map[string]template.HTML
	AnalysisUserID string
}

// UI serves the dashboard and console pages and their fragment endpoints.
type UI struct {
	dashboard *dashboard.Poller
	console   *console.Console
	logger    *zap.Logger
	title     string
	pages     *template.Template
}

// NewUI parses the embedded page templates.
func NewUI(p *dashboard.Poller, c *console.Console, logger *zap.Logger) (*UI, error) {
	if p == nil || c == nil {
		return nil, errors.New("dashboard and console are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pages, err := template.ParseFS(webassets.Pages, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse page templates: %w", err)
	}
	return &UI{dashboard: p, console: c, logger: logger, title: "Batch admin", pages: pages}, nil
}

// DashboardPage renders the dashboard with its current fragments inline.
func (u *UI) DashboardPage(w http.ResponseWriter, r *http.Request) {
	u.renderPage(w, r, "dashboard", u.dashboard.Fragments(), "")
}

// ConsolePage renders the API console.
func (u *UI) ConsolePage(w http.ResponseWriter, r *http.Request) {
	f := u.console.Fragments()
	u.renderPage(w, r, "console", f, f[console.FragmentAnalysisUser])
}

func (u *UI) renderPage(w http.ResponseWriter, r *http.Request, name string, f view.Fragments, userID string) {
	data := pageData{
		Title:          u.title,
		Page:           name,
		F:              make(map[string]template.HTML, len(f)),
		AnalysisUserID: userID,
	}
	for id, html := range f {
		// Fragments are produced by html/template and already escaped.
		data.F[id] = template.HTML(html) // #nosec G203
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := u.pages.ExecuteTemplate(w, name, data); err != nil {
		u.logger.Error("Render page", zap.String("page", name), zap.Error(err))
		respondWithError(w, r, apperrors.NewInternal("render page", err))
	}
}

// --- dashboard ---

// DashboardFragments returns every dashboard fragment.
func (u *UI) DashboardFragments(w http.ResponseWriter, r *http.Request) {
	writeFragments(w, nil, u.dashboard.Fragments())
}

// Jobs returns the recent-jobs list.
func (u *UI) Jobs(w http.ResponseWriter, r *http.Request) {
	writeFragments(w, nil, pick(u.dashboard.Fragments(), dashboard.FragmentJobs))
}

// Counter returns the job summary counters.
func (u *UI) Counter(w http.ResponseWriter, r *http.Request) {
	writeFragments(w, nil, pick(u.dashboard.Fragments(), dashboard.FragmentSummary))
}

// Toast returns the dashboard message region.
func (u *UI) Toast(w http.ResponseWriter, r *http.Request) {
	writeFragments(w, nil, pick(u.dashboard.Fragments(), dashboard.FragmentToast))
}

// System returns the system information card.
func (u *UI) System(w http.ResponseWriter, r *http.Request) {
	writeFragments(w, nil, pick(u.dashboard.Fragments(), dashboard.FragmentSystem))
}

// Refresh polls the batch status immediately.
func (u *UI) Refresh(w http.ResponseWriter, r *http.Request) {
	err := u.dashboard.Refresh(r.Context())
	writeFragments(w, err, u.dashboard.Fragments())
}

// Trigger runs the job named by the jobType path parameter.
func (u *UI) Trigger(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "jobType")
	ctrl, ok := u.dashboard.Control(jobType)
	if !ok {
		respondWithError(w, r, apperrors.NewNotFound(fmt.Sprintf("unknown job type %q", jobType)))
		return
	}

	_, err := u.dashboard.TriggerJob(r.Context(), jobType, ctrl)
	if errors.Is(err, dashboard.ErrBusy) {
		respondWithError(w, r, apperrors.NewConflict(fmt.Sprintf("%s is already running", jobType)))
		return
	}
	writeFragments(w, err, u.dashboard.Fragments())
}

// Ollama checks the Ollama configuration.
func (u *UI) Ollama(w http.ResponseWriter, r *http.Request) {
	err := u.dashboard.CheckOllama(r.Context())
	writeFragments(w, err, u.dashboard.Fragments())
}

// --- console ---

// ConsoleFragments returns every console fragment.
func (u *UI) ConsoleFragments(w http.ResponseWriter, r *http.Request) {
	writeFragments(w, nil, u.console.Fragments())
}

// Users reloads the user list.
func (u *UI) Users(w http.ResponseWriter, r *http.Request) {
	err := u.console.LoadUsers(r.Context())
	writeFragments(w, err, u.console.Fragments())
}

// CreateUser creates a user from the username and email form fields.
func (u *UI) CreateUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondWithError(w, r, apperrors.NewBadRequest("invalid form body"))
		return
	}
	_, err := u.console.CreateUser(r.Context(), r.PostFormValue("username"), strings.TrimSpace(r.PostFormValue("email")))
	writeFragments(w, err, u.console.Fragments())
}

// SelectUser selects the user in the id path parameter.
func (u *UI) SelectUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, r, apperrors.NewBadRequest("user id must be a positive integer"))
		return
	}
	u.console.SelectUser(id)
	writeFragments(w, nil, u.console.Fragments())
}

// Analysis runs the analysis named by the kind path parameter with the
// user_id and days query parameters.
func (u *UI) Analysis(w http.ResponseWriter, r *http.Request) {
	kind, err := backendapi.ParseAnalysisKind(chi.URLParam(r, "kind"))
	if err != nil {
		respondWithError(w, r, apperrors.NewNotFound(err.Error()))
		return
	}

	q := r.URL.Query()
	var days int
	if raw := strings.TrimSpace(q.Get("days")); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil || days < 0 {
			respondWithError(w, r, apperrors.NewBadRequest("days must be a positive integer"))
			return
		}
	}

	err = u.console.RunAnalysis(r.Context(), kind, console.AnalysisRequest{UserID: q.Get("user_id"), Days: days})
	writeFragments(w, err, u.console.Fragments())
}

// ConsoleTrigger runs a batch job from the console.
func (u *UI) ConsoleTrigger(w http.ResponseWriter, r *http.Request) {
	err := u.console.TriggerTestBatch(r.Context(), chi.URLParam(r, "jobType"))
	writeFragments(w, err, u.console.Fragments())
}

// ConsoleBatchStatus shows the raw batch status.
func (u *UI) ConsoleBatchStatus(w http.ResponseWriter, r *http.Request) {
	err := u.console.BatchStatus(r.Context())
	writeFragments(w, err, u.console.Fragments())
}

// ConsoleBatchJobs shows the raw job history.
func (u *UI) ConsoleBatchJobs(w http.ResponseWriter, r *http.Request) {
	err := u.console.BatchJobs(r.Context())
	writeFragments(w, err, u.console.Fragments())
}

// ConsoleSystem runs the system query named by the kind path parameter:
// info, health or ollama.
func (u *UI) ConsoleSystem(w http.ResponseWriter, r *http.Request) {
	var err error
	switch kind := chi.URLParam(r, "kind"); kind {
	case "info":
		err = u.console.SystemInfo(r.Context())
	case "health":
		err = u.console.SystemHealth(r.Context())
	case "ollama":
		err = u.console.OllamaConnection(r.Context())
	default:
		respondWithError(w, r, apperrors.NewNotFound(fmt.Sprintf("unknown system query %q", kind)))
		return
	}
	writeFragments(w, err, u.console.Fragments())
}

// ConsoleOllama validates the test_data form field.
func (u *UI) ConsoleOllama(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondWithError(w, r, apperrors.NewBadRequest("invalid form body"))
		return
	}
	err := u.console.OllamaAnalysis(r.PostFormValue("test_data"))
	writeFragments(w, err, u.console.Fragments())
}

// ConsoleResult returns the result pane named by the pane query parameter.
func (u *UI) ConsoleResult(w http.ResponseWriter, r *http.Request) {
	pane := console.Pane(r.URL.Query().Get("pane"))
	switch pane {
	case console.PaneAnalysis, console.PaneBatch, console.PaneSystem:
	default:
		respondWithError(w, r, apperrors.NewBadRequest("pane must be analysisData, batchData or systemData"))
		return
	}
	writeFragments(w, nil, pick(u.console.Fragments(), string(pane)))
}

// ConsoleToast returns the console message region.
func (u *UI) ConsoleToast(w http.ResponseWriter, r *http.Request) {
	writeFragments(w, nil, pick(u.console.Fragments(), console.FragmentToast))
}

func pick(f view.Fragments, ids ...string) view.Fragments {
	out := make(view.Fragments, len(ids))
	for _, id := range ids {
		out[id] = f[id]
	}
	return out
}

func writeFragments(w http.ResponseWriter, err error, f view.Fragments) {
	resp := FragmentResponse{OK: err == nil, Fragments: f}
	if err != nil {
		resp.Error = backendapi.Message(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}
