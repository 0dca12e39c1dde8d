package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/batchdeck/pkg/backendapi"
	"github.com/3leaps/batchdeck/pkg/batch"
	"github.com/3leaps/batchdeck/pkg/view"
)

// Format selects how results are printed.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --output value. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatJSONL, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json, jsonl or yaml)", s)
	}
}

// Printer prints results in one format.
type Printer struct {
	W       io.Writer
	Format  Format
	Display view.Options

	// Backend stamps JSONL records.
	Backend string
}

// StatusDocument is the json/yaml shape of `batchdeck status`.
type StatusDocument struct {
	Summary    SummaryRecord `json:"summary" yaml:"summary"`
	RecentJobs []JobRecord   `json:"recent_jobs" yaml:"recent_jobs"`
}

// Snapshot prints the counters and recent jobs.
func (p Printer) Snapshot(ctx context.Context, snap *batch.Snapshot) error {
	doc := StatusDocument{
		Summary:    summaryRecord(snap.Summary),
		RecentJobs: jobRecords(snap.RecentJobs),
	}
	switch p.Format {
	case FormatJSON:
		return p.json(doc)
	case FormatYAML:
		return p.yaml(doc)
	case FormatJSONL:
		jw := NewJSONLWriter(p.W, p.Backend)
		defer func() { _ = jw.Close() }()
		if err := jw.WriteSummary(ctx, &doc.Summary); err != nil {
			return err
		}
		return p.jsonlJobs(ctx, jw, doc.RecentJobs)
	default:
		sum := view.SummaryView(snap.Summary)
		if _, err := fmt.Fprintf(p.W, "Running: %s  Completed: %s  Failed: %s\n\n",
			sum.RunningJobs, sum.CompletedJobs, sum.FailedJobs); err != nil {
			return err
		}
		return p.jobTable(snap.RecentJobs)
	}
}

// Jobs prints a job list.
func (p Printer) Jobs(ctx context.Context, jobs []batch.JobRecord) error {
	records := jobRecords(jobs)
	switch p.Format {
	case FormatJSON:
		return p.json(records)
	case FormatYAML:
		return p.yaml(records)
	case FormatJSONL:
		jw := NewJSONLWriter(p.W, p.Backend)
		defer func() { _ = jw.Close() }()
		return p.jsonlJobs(ctx, jw, records)
	default:
		return p.jobTable(jobs)
	}
}

// Trigger prints a manual run result.
func (p Printer) Trigger(ctx context.Context, jobType string, res *batch.TriggerResult) error {
	rec := TriggerRecord{JobType: jobType, JobID: res.JobID, Message: res.Message}
	switch p.Format {
	case FormatJSON:
		return p.json(rec)
	case FormatYAML:
		return p.yaml(rec)
	case FormatJSONL:
		jw := NewJSONLWriter(p.W, p.Backend)
		defer func() { _ = jw.Close() }()
		return jw.WriteTrigger(ctx, &rec)
	default:
		msg := rec.Message
		if msg == "" {
			msg = fmt.Sprintf("%s job completed successfully.", jobType)
		}
		if rec.JobID != 0 {
			_, err := fmt.Fprintf(p.W, "%s (job id %d)\n", msg, rec.JobID)
			return err
		}
		_, err := fmt.Fprintln(p.W, msg)
		return err
	}
}

// Failure prints a backend error. Only JSONL gets a record; other formats
// leave error reporting to the caller.
func (p Printer) Failure(ctx context.Context, err error) error {
	if p.Format != FormatJSONL {
		return nil
	}
	rec := ErrorRecord{Code: string(backendapi.Classify(err)), Message: backendapi.Message(err)}
	if se, ok := backendapi.AsStatus(err); ok {
		rec.StatusCode = se.StatusCode
	}
	jw := NewJSONLWriter(p.W, p.Backend)
	defer func() { _ = jw.Close() }()
	return jw.WriteError(ctx, &rec)
}

func (p Printer) jobTable(jobs []batch.JobRecord) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(p.W, view.NoRecentJobs)
		return err
	}
	display := p.Display
	if display.Location == nil {
		display = view.DefaultOptions()
	}
	tw := tabwriter.NewWriter(p.W, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tSTARTED\tCOMPLETED\tPROCESSED\tERRORS")
	for i, row := range view.JobListView(jobs, display).Rows {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\n",
			jobs[i].ID, row.JobType, row.Status, row.StartedAt, row.CompletedAt, jobs[i].ProcessedCount, jobs[i].ErrorCount)
	}
	return tw.Flush()
}

func (p Printer) jsonlJobs(ctx context.Context, jw *JSONLWriter, jobs []JobRecord) error {
	for i := range jobs {
		if err := jw.WriteJob(ctx, &jobs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p Printer) json(v any) error {
	enc := json.NewEncoder(p.W)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p Printer) yaml(v any) error {
	enc := yaml.NewEncoder(p.W)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func summaryRecord(s batch.JobSummary) SummaryRecord {
	return SummaryRecord{RunningJobs: s.RunningJobs, CompletedJobs: s.CompletedJobs, FailedJobs: s.FailedJobs}
}

func jobRecords(jobs []batch.JobRecord) []JobRecord {
	out := make([]JobRecord, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobRecord{
			ID:             j.ID,
			JobType:        j.JobType,
			Status:         string(j.Status),
			StartedAt:      j.StartedAt,
			CompletedAt:    j.CompletedAt,
			ProcessedCount: j.ProcessedCount,
			ErrorCount:     j.ErrorCount,
			ErrorMessage:   j.ErrorMessage,
		})
	}
	return out
}
