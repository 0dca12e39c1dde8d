package view

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/3leaps/batchdeck/pkg/toast"
)

// Placeholder texts rendered when a list has no rows.
const (
	NoRecentJobs = "No recent batch jobs."
	NoUsers      = "No registered users."
)

// NoRecentJobsHTML is the exact fragment for an empty job list.
const NoRecentJobsHTML = `<p class="placeholder">` + NoRecentJobs + `</p>`

const fragmentTemplates = `
{{define "jobs"}}{{if .Empty}}<p class="placeholder">` + NoRecentJobs + `</p>{{else}}{{range .Rows}}<div class="job-item"><div><strong>{{.JobType}}</strong><br><small>Started: {{.StartedAt}} | Completed: {{.CompletedAt}}</small></div><span class="job-status {{.StatusClass}}">{{.Status}}</span></div>{{end}}{{end}}{{end}}

{{define "error"}}<div class="error">{{.}}</div>{{end}}

{{define "toast"}}{{if .Visible}}<div class="{{.Kind}}">{{.Text}}</div>{{end}}{{end}}

{{define "summary"}}<div class="stat"><span class="stat-value" id="activeJobs">{{.RunningJobs}}</span><span class="stat-label">Running</span></div><div class="stat"><span class="stat-value">{{.CompletedJobs}}</span><span class="stat-label">Completed</span></div><div class="stat"><span class="stat-value">{{.FailedJobs}}</span><span class="stat-label">Failed</span></div>{{end}}

{{define "system"}}<dl class="system-info"><dt>System</dt><dd>{{.Title}}</dd><dt>Version</dt><dd>{{.Version}}</dd><dt>Database</dt><dd>{{.DatabaseHost}}</dd><dt>Ollama</dt><dd>{{.OllamaURL}} ({{.OllamaModel}})</dd><dt>Users</dt><dd>{{.TotalUsers}}</dd><dt>Questions</dt><dd>{{.TotalQuestions}}</dd><dt>Average accuracy</dt><dd>{{.AverageAccuracy}}</dd></dl>{{end}}

{{define "users"}}{{if .Empty}}<div class="loading">` + NoUsers + `</div>{{else}}{{range .Rows}}<div class="user-item{{if .Selected}} selected{{end}}" data-user-id="{{.ID}}"><strong>{{.Username}}</strong> (ID: {{.ID}}){{if .Email}}<br><small>{{.Email}}</small>{{end}}</div>{{end}}{{end}}{{end}}

{{define "controls"}}{{range .}}<button class="btn btn-primary" data-job-type="{{.JobType}}"{{if .Disabled}} disabled{{end}}>{{.Label}}</button>{{end}}{{end}}

{{define "result"}}<pre class="result">{{.}}</pre>{{end}}
`

var fragments = template.Must(template.New("fragments").Parse(fragmentTemplates))

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := fragments.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// RenderJobs renders the recent-jobs list. An empty list renders exactly
// NoRecentJobsHTML; otherwise one .job-item per row.
func RenderJobs(list JobList) (string, error) {
	return execute("jobs", list)
}

// RenderError renders an inline error block that replaces a list.
func RenderError(message string) (string, error) {
	return execute("error", message)
}

type toastData struct {
	Visible bool
	Kind    toast.Kind
	Text    string
}

// RenderToast renders the message region. A hidden toast renders empty.
func RenderToast(msg toast.Message, visible bool) (string, error) {
	return execute("toast", toastData{Visible: visible, Kind: msg.Kind, Text: msg.Text})
}

// RenderSummary renders the job counters.
func RenderSummary(s Summary) (string, error) {
	return execute("summary", s)
}

// RenderSystem renders the system information card.
func RenderSystem(p SystemPanel) (string, error) {
	return execute("system", p)
}

// RenderUsers renders the console user list.
func RenderUsers(list UserList) (string, error) {
	return execute("users", list)
}

// RenderControls renders trigger buttons.
func RenderControls(controls []Control) (string, error) {
	return execute("controls", controls)
}

// RenderResult renders a JSON document into the result pane.
func RenderResult(raw []byte) (string, error) {
	return execute("result", PrettyJSON(raw))
}

// Fragments maps element ids to rendered HTML. It is the unit the web
// layer sends to the browser, which replaces each element's content.
type Fragments map[string]string

// Merge copies other into f, overwriting existing ids.
func (f Fragments) Merge(other Fragments) Fragments {
	for id, html := range other {
		f[id] = html
	}
	return f
}
