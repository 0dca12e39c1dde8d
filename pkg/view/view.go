// Package view turns backend records into view models and renders them as
// HTML fragments.
//
// View models are plain structs built by pure functions; rendering is a
// separate step over html/template. Neither touches a DOM, so both are
// tested directly.
package view

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/batchdeck/pkg/batch"
)

const (
	// DefaultTimeZone matches the backend's scheduler zone.
	DefaultTimeZone = "Asia/Seoul"

	// DefaultTimeLayout renders timestamps in the ko-KR date order.
	DefaultTimeLayout = "2006. 1. 2. 15:04:05"

	// Dash stands in for an absent value.
	Dash = "-"
)

// Options controls how timestamps are localized.
type Options struct {
	Location   *time.Location
	TimeLayout string
}

// DefaultOptions localizes to DefaultTimeZone, falling back to a fixed +09:00
// zone when the zone database is unavailable.
func DefaultOptions() Options {
	opts, err := NewOptions(DefaultTimeZone, DefaultTimeLayout)
	if err != nil {
		return Options{Location: time.FixedZone("KST", 9*60*60), TimeLayout: DefaultTimeLayout}
	}
	return opts
}

// NewOptions resolves a zone name such as "Asia/Seoul" or "UTC".
func NewOptions(zone, layout string) (Options, error) {
	if strings.TrimSpace(layout) == "" {
		layout = DefaultTimeLayout
	}
	loc, err := time.LoadLocation(strings.TrimSpace(zone))
	if err != nil {
		return Options{}, err
	}
	return Options{Location: loc, TimeLayout: layout}, nil
}

// FormatTime renders t in the configured zone and layout.
func (o Options) FormatTime(t time.Time) string {
	if t.IsZero() {
		return Dash
	}
	loc := o.Location
	if loc == nil {
		loc = time.UTC
	}
	layout := o.TimeLayout
	if layout == "" {
		layout = DefaultTimeLayout
	}
	return t.In(loc).Format(layout)
}

// JobRow is one rendered job.
type JobRow struct {
	JobType     string
	Status      string
	StatusClass string
	StartedAt   string
	CompletedAt string
}

// JobList is the rendered recent-jobs list.
type JobList struct {
	Rows []JobRow
}

// Empty reports whether the list renders as the placeholder.
func (l JobList) Empty() bool {
	return len(l.Rows) == 0
}

// JobListView builds one row per job, in order.
//
// The badge class is keyed on the status value itself, so unknown statuses
// still produce a row; they simply have no matching style.
func JobListView(jobs []batch.JobRecord, opts Options) JobList {
	rows := make([]JobRow, 0, len(jobs))
	for _, job := range jobs {
		completed := Dash
		if job.CompletedAt != nil {
			completed = opts.FormatTime(*job.CompletedAt)
		}
		rows = append(rows, JobRow{
			JobType:     job.JobType,
			Status:      string(job.Status),
			StatusClass: StatusClass(job.Status),
			StartedAt:   opts.FormatTime(job.StartedAt),
			CompletedAt: completed,
		})
	}
	return JobList{Rows: rows}
}

// StatusClass returns the CSS class for a status badge.
func StatusClass(s batch.JobStatus) string {
	var b strings.Builder
	b.WriteString("status-")
	for _, r := range strings.ToLower(string(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Summary is the counter block of the dashboard.
type Summary struct {
	RunningJobs   string
	CompletedJobs string
	FailedJobs    string
}

// UnknownSummary renders every counter as a dash.
func UnknownSummary() Summary {
	return Summary{RunningJobs: Dash, CompletedJobs: Dash, FailedJobs: Dash}
}

// SummaryView formats the backend counters.
func SummaryView(s batch.JobSummary) Summary {
	return Summary{
		RunningJobs:   strconv.Itoa(s.RunningJobs),
		CompletedJobs: strconv.Itoa(s.CompletedJobs),
		FailedJobs:    strconv.Itoa(s.FailedJobs),
	}
}

// SystemPanel is the system information card.
//
// Only fields that /api/info actually returns are shown. Learner statistics
// have no backend source yet and render as dashes.
type SystemPanel struct {
	Title           string
	Version         string
	DatabaseHost    string
	OllamaURL       string
	OllamaModel     string
	TotalUsers      string
	TotalQuestions  string
	AverageAccuracy string
}

// SystemPanelView builds the system card. A nil info renders all dashes.
func SystemPanelView(info *batch.SystemInfo) SystemPanel {
	p := SystemPanel{
		Title:           Dash,
		Version:         Dash,
		DatabaseHost:    Dash,
		OllamaURL:       Dash,
		OllamaModel:     Dash,
		TotalUsers:      Dash,
		TotalQuestions:  Dash,
		AverageAccuracy: Dash,
	}
	if info == nil {
		return p
	}
	if info.Title != "" {
		p.Title = info.Title
	}
	if info.Version != "" {
		p.Version = info.Version
	}
	if info.Database != nil && info.Database.Host != "" {
		p.DatabaseHost = info.Database.Host + ":" + strconv.Itoa(info.Database.Port)
	}
	if info.Ollama != nil {
		if info.Ollama.BaseURL != "" {
			p.OllamaURL = info.Ollama.BaseURL
		}
		if info.Ollama.Model != "" {
			p.OllamaModel = info.Ollama.Model
		}
	}
	return p
}

// UserRow is one entry of the console user list.
type UserRow struct {
	ID       int64
	Username string
	Email    string
	Selected bool
}

// UserList is the console user list.
type UserList struct {
	Rows []UserRow
}

// Empty reports whether the list renders as the placeholder.
func (l UserList) Empty() bool {
	return len(l.Rows) == 0
}

// UserListView marks selectedID as selected. Zero selects nothing.
func UserListView(users []batch.UserRecord, selectedID int64) UserList {
	rows := make([]UserRow, 0, len(users))
	for _, u := range users {
		row := UserRow{ID: u.ID, Username: u.Username, Selected: selectedID != 0 && u.ID == selectedID}
		if u.Email != nil {
			row.Email = *u.Email
		}
		rows = append(rows, row)
	}
	return UserList{Rows: rows}
}

// Control is a button that starts a backend action.
type Control struct {
	JobType  string
	Label    string
	Disabled bool
}

// PrettyJSON indents a JSON document for the result pane. Invalid input is
// returned unchanged.
func PrettyJSON(raw []byte) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
