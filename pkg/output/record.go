// Package output renders batch status for the command line.
//
// Structured output uses typed record envelopes, one JSON object per line,
// so `batchdeck jobs --output jsonl` can be piped into line-oriented tools.
// Human output is a tab-aligned table; json and yaml print whole documents.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: batchdeck.<type>.v<version>
const (
	// TypeJob identifies batch job records.
	TypeJob = "batchdeck.job.v1"

	// TypeSummary identifies job counter records.
	TypeSummary = "batchdeck.summary.v1"

	// TypeTrigger identifies manual trigger results.
	TypeTrigger = "batchdeck.trigger.v1"

	// TypeError identifies error records.
	TypeError = "batchdeck.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "batchdeck.job.v1").
	Type string `json:"type"`

	// TS is when the record was written.
	TS time.Time `json:"ts"`

	// Backend is the base URL the data came from.
	Backend string `json:"backend"`

	// Data contains the type-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the data payload for one batch job.
type JobRecord struct {
	ID             int64      `json:"id" yaml:"id"`
	JobType        string     `json:"job_type" yaml:"job_type"`
	Status         string     `json:"status" yaml:"status"`
	StartedAt      time.Time  `json:"started_at" yaml:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	ProcessedCount int        `json:"processed_count" yaml:"processed_count"`
	ErrorCount     int        `json:"error_count" yaml:"error_count"`
	ErrorMessage   string     `json:"error_message,omitempty" yaml:"error_message,omitempty"`
}

// SummaryRecord is the data payload for the job counters.
type SummaryRecord struct {
	RunningJobs   int `json:"running_jobs" yaml:"running_jobs"`
	CompletedJobs int `json:"completed_jobs" yaml:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs" yaml:"failed_jobs"`
}

// TriggerRecord is the data payload for a manual run.
type TriggerRecord struct {
	JobType string `json:"job_type" yaml:"job_type"`
	JobID   int64  `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Message string `json:"message" yaml:"message"`
}

// ErrorRecord is the data payload for a failed call.
type ErrorRecord struct {
	// Code is the failure kind: transport, status, malformed, canceled.
	Code string `json:"code"`

	// Message is the text shown to the operator.
	Message string `json:"message"`

	// StatusCode is the backend HTTP status, when there was one.
	StatusCode int `json:"status_code,omitempty"`
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("output: writer closed")

// WriteError wraps errors that occur during record writing.
type WriteError struct {
	// Op describes the operation that failed (e.g., "marshal", "write").
	Op string

	// Err is the underlying error.
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
