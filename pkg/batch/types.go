// Package batch holds the records batchdeck reads from the analysis backend.
//
// Records are immutable snapshots: they are decoded from a response, rendered,
// and replaced wholesale by the next fetch. The backend emits snake_case keys;
// the camelCase spelling of the same keys is accepted as well.
package batch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle state reported for a batch job.
//
// The set is open: values not listed here are kept verbatim so that newer
// backend states still render.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
)

// Known reports whether the status is one of the states the backend documents.
func (s JobStatus) Known() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusSuccess, JobStatusFailed:
		return true
	default:
		return false
	}
}

// JobSummary is the aggregate counter block of a batch status response.
type JobSummary struct {
	RunningJobs   int `json:"running_jobs" yaml:"running_jobs"`
	CompletedJobs int `json:"completed_jobs" yaml:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs" yaml:"failed_jobs"`
}

// JobRecord is one batch job as reported by the backend.
//
// Rows from /api/batch/status only carry id, type, status and timestamps;
// /api/batch/jobs adds the counters and error message.
type JobRecord struct {
	ID             int64      `json:"id,omitempty" yaml:"id,omitempty"`
	JobType        string     `json:"job_type" yaml:"job_type"`
	Status         JobStatus  `json:"status" yaml:"status"`
	StartedAt      time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	ProcessedCount int        `json:"processed_count,omitempty" yaml:"processed_count,omitempty"`
	ErrorCount     int        `json:"error_count,omitempty" yaml:"error_count,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// Snapshot is the batch status view returned by /api/batch/status.
type Snapshot struct {
	Summary    JobSummary  `json:"summary" yaml:"summary"`
	RecentJobs []JobRecord `json:"recent_jobs" yaml:"recent_jobs"`
}

// UserRecord is a learner account as listed by /api/users/.
type UserRecord struct {
	ID       int64   `json:"id" yaml:"id"`
	Username string  `json:"username" yaml:"username"`
	Email    *string `json:"email,omitempty" yaml:"email,omitempty"`
	IsActive bool    `json:"is_active" yaml:"is_active"`
}

// DatabaseInfo is the database block of /api/info.
type DatabaseInfo struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
}

// OllamaInfo is the LLM server block of /api/info.
type OllamaInfo struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
}

// SystemInfo is the /api/info payload. Every block is optional.
type SystemInfo struct {
	Title    string        `json:"title,omitempty" yaml:"title,omitempty"`
	Version  string        `json:"version,omitempty" yaml:"version,omitempty"`
	Database *DatabaseInfo `json:"database,omitempty" yaml:"database,omitempty"`
	Ollama   *OllamaInfo   `json:"ollama,omitempty" yaml:"ollama,omitempty"`
}

// TriggerResult is the success body of POST /api/batch/trigger/{job_type}.
type TriggerResult struct {
	Message string          `json:"message" yaml:"message"`
	JobID   int64           `json:"job_id" yaml:"job_id"`
	Result  json.RawMessage `json:"result,omitempty" yaml:"-"`
}

type jobSummaryWire struct {
	RunningJobs        *int `json:"running_jobs"`
	RunningJobsCamel   *int `json:"runningJobs"`
	CompletedJobs      *int `json:"completed_jobs"`
	CompletedJobsCamel *int `json:"completedJobs"`
	FailedJobs         *int `json:"failed_jobs"`
	FailedJobsCamel    *int `json:"failedJobs"`
}

// UnmarshalJSON accepts both snake_case and camelCase keys.
func (s *JobSummary) UnmarshalJSON(data []byte) error {
	var w jobSummaryWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = JobSummary{
		RunningJobs:   firstInt(w.RunningJobs, w.RunningJobsCamel),
		CompletedJobs: firstInt(w.CompletedJobs, w.CompletedJobsCamel),
		FailedJobs:    firstInt(w.FailedJobs, w.FailedJobsCamel),
	}
	return nil
}

type jobRecordWire struct {
	ID                  int64     `json:"id"`
	JobType             string    `json:"job_type"`
	JobTypeCamel        string    `json:"jobType"`
	Status              JobStatus `json:"status"`
	StartedAt           *string   `json:"started_at"`
	StartedAtCamel      *string   `json:"startedAt"`
	CompletedAt         *string   `json:"completed_at"`
	CompletedAtCamel    *string   `json:"completedAt"`
	ProcessedCount      int       `json:"processed_count"`
	ProcessedCountCamel int       `json:"processedCount"`
	ErrorCount          int       `json:"error_count"`
	ErrorCountCamel     int       `json:"errorCount"`
	ErrorMessage        *string   `json:"error_message"`
	ErrorMessageCamel   *string   `json:"errorMessage"`
}

// UnmarshalJSON accepts both key spellings and the backend's zone-less
// timestamps.
func (r *JobRecord) UnmarshalJSON(data []byte) error {
	var w jobRecordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := JobRecord{
		ID:             w.ID,
		JobType:        firstString(&w.JobType, &w.JobTypeCamel),
		Status:         w.Status,
		ProcessedCount: w.ProcessedCount + w.ProcessedCountCamel,
		ErrorCount:     w.ErrorCount + w.ErrorCountCamel,
		ErrorMessage:   firstString(w.ErrorMessage, w.ErrorMessageCamel),
	}

	if raw := firstString(w.StartedAt, w.StartedAtCamel); raw != "" {
		ts, err := ParseTimestamp(raw)
		if err != nil {
			return fmt.Errorf("started_at: %w", err)
		}
		out.StartedAt = ts
	}
	if raw := firstString(w.CompletedAt, w.CompletedAtCamel); raw != "" {
		ts, err := ParseTimestamp(raw)
		if err != nil {
			return fmt.Errorf("completed_at: %w", err)
		}
		out.CompletedAt = &ts
	}

	*r = out
	return nil
}

type snapshotWire struct {
	Summary         JobSummary  `json:"summary"`
	RecentJobs      []JobRecord `json:"recent_jobs"`
	RecentJobsCamel []JobRecord `json:"recentJobs"`
}

// UnmarshalJSON accepts both recent_jobs and recentJobs.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w snapshotWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	jobs := w.RecentJobs
	if jobs == nil {
		jobs = w.RecentJobsCamel
	}
	*s = Snapshot{Summary: w.Summary, RecentJobs: jobs}
	return nil
}

// timestampLayouts are tried in order. The backend serializes Python
// datetimes without a zone; those are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp with or without a zone offset.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func firstInt(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func firstString(vals ...*string) string {
	for _, v := range vals {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}
