package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/batchdeck/pkg/backendapi"
	"github.com/3leaps/batchdeck/pkg/batch"
	"github.com/3leaps/batchdeck/pkg/view"
)

var utc = view.Options{Location: time.UTC, TimeLayout: "2006-01-02 15:04"}

func sampleSnapshot() *batch.Snapshot {
	completed := time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC)
	return &batch.Snapshot{
		Summary: batch.JobSummary{RunningJobs: 1, CompletedJobs: 4, FailedJobs: 2},
		RecentJobs: []batch.JobRecord{
			{ID: 7, JobType: "daily_analysis", Status: batch.JobStatusCompleted,
				StartedAt: time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC), CompletedAt: &completed, ProcessedCount: 12},
			{ID: 8, JobType: "weekly_report", Status: batch.JobStatusRunning,
				StartedAt: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{" jsonl ", FormatJSONL, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrinter_SnapshotTable(t *testing.T) {
	var buf bytes.Buffer
	p := Printer{W: &buf, Format: FormatTable, Display: utc}

	require.NoError(t, p.Snapshot(context.Background(), sampleSnapshot()))

	out := buf.String()
	assert.Contains(t, out, "Running: 1  Completed: 4  Failed: 2")
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "daily_analysis")
	assert.Contains(t, out, "2025-01-15 08:30")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines[len(lines)-1], "weekly_report")
	assert.Contains(t, lines[len(lines)-1], view.Dash)
}

func TestPrinter_EmptyJobsTable(t *testing.T) {
	var buf bytes.Buffer
	p := Printer{W: &buf, Format: FormatTable}

	require.NoError(t, p.Jobs(context.Background(), nil))
	assert.Equal(t, view.NoRecentJobs+"\n", buf.String())
}

func TestPrinter_SnapshotJSON(t *testing.T) {
	var buf bytes.Buffer
	p := Printer{W: &buf, Format: FormatJSON}

	require.NoError(t, p.Snapshot(context.Background(), sampleSnapshot()))

	var doc StatusDocument
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 4, doc.Summary.CompletedJobs)
	require.Len(t, doc.RecentJobs, 2)
	assert.Equal(t, "running", doc.RecentJobs[1].Status)
	assert.Nil(t, doc.RecentJobs[1].CompletedAt)
}

func TestPrinter_SnapshotYAML(t *testing.T) {
	var buf bytes.Buffer
	p := Printer{W: &buf, Format: FormatYAML}

	require.NoError(t, p.Snapshot(context.Background(), sampleSnapshot()))

	var doc StatusDocument
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, 2, doc.Summary.FailedJobs)
	require.Len(t, doc.RecentJobs, 2)
	assert.Equal(t, "daily_analysis", doc.RecentJobs[0].JobType)
	assert.Contains(t, buf.String(), "running_jobs: 1")
}

func TestPrinter_SnapshotJSONL(t *testing.T) {
	var buf bytes.Buffer
	p := Printer{W: &buf, Format: FormatJSONL, Backend: "http://backend:8000"}

	require.NoError(t, p.Snapshot(context.Background(), sampleSnapshot()))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)

	types := make([]string, 0, len(lines))
	for _, line := range lines {
		var record Record
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		assert.Equal(t, "http://backend:8000", record.Backend)
		types = append(types, record.Type)
	}
	assert.Equal(t, []string{TypeSummary, TypeJob, TypeJob}, types)
}

func TestPrinter_Trigger(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		result batch.TriggerResult
		want   string
	}{
		{"table with id", FormatTable, batch.TriggerResult{Message: "Started", JobID: 9}, "Started (job id 9)\n"},
		{"table default message", FormatTable, batch.TriggerResult{}, "daily_analysis job completed successfully.\n"},
		{"json", FormatJSON, batch.TriggerResult{Message: "Started", JobID: 9}, `"job_id": 9`},
		{"yaml", FormatYAML, batch.TriggerResult{Message: "Started"}, "message: Started"},
		{"jsonl", FormatJSONL, batch.TriggerResult{Message: "Started"}, `"type":"` + TypeTrigger + `"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := Printer{W: &buf, Format: tt.format}
			require.NoError(t, p.Trigger(context.Background(), "daily_analysis", &tt.result))
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestPrinter_Failure(t *testing.T) {
	statusErr := &backendapi.RequestError{
		Op: "TriggerJob", Method: "POST", Path: "/api/batch/trigger/daily_analysis",
		Err: &backendapi.StatusError{StatusCode: 500, Detail: "busy"},
	}

	t.Run("table prints nothing", func(t *testing.T) {
		var buf bytes.Buffer
		p := Printer{W: &buf, Format: FormatTable}
		require.NoError(t, p.Failure(context.Background(), statusErr))
		assert.Zero(t, buf.Len())
	})

	t.Run("jsonl status error", func(t *testing.T) {
		var buf bytes.Buffer
		p := Printer{W: &buf, Format: FormatJSONL}
		require.NoError(t, p.Failure(context.Background(), statusErr))

		var record Record
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, TypeError, record.Type)

		var rec ErrorRecord
		require.NoError(t, json.Unmarshal(record.Data, &rec))
		assert.Equal(t, ErrorRecord{Code: "status", Message: "busy", StatusCode: 500}, rec)
	})

	t.Run("jsonl transport error", func(t *testing.T) {
		var buf bytes.Buffer
		p := Printer{W: &buf, Format: FormatJSONL}
		err := &backendapi.RequestError{Op: "BatchStatus", Method: "GET", Path: "/api/batch/status",
			Err: errors.Join(backendapi.ErrTransport, errors.New("dial tcp: refused"))}
		require.NoError(t, p.Failure(context.Background(), err))

		var record Record
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		var rec ErrorRecord
		require.NoError(t, json.Unmarshal(record.Data, &rec))
		assert.Equal(t, "transport", rec.Code)
		assert.Zero(t, rec.StatusCode)
	})
}
