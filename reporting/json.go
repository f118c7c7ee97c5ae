package reporting

import (
	"encoding/json"
	"io"
	"time"

	"github.com/ethereum-optimism/op-harness/types"
)

// JSONReporter renders the machine readable record list: one record per test with its identity,
// final outcome, attempt count and duration.
type JSONReporter struct {
	Indent bool
}

// RunRecord is the top level JSON document.
type RunRecord struct {
	RunID       string       `json:"run_id"`
	Success     bool         `json:"success"`
	StartTime   time.Time    `json:"start_time"`
	EndTime     time.Time    `json:"end_time"`
	WallClockMs int64        `json:"wall_clock_ms"`
	Stats       StatsRecord  `json:"stats"`
	Tests       []TestRecord `json:"tests"`
}

// StatsRecord holds the aggregate counts of a run.
type StatsRecord struct {
	Total             int `json:"total"`
	Passed            int `json:"passed"`
	Failed            int `json:"failed"`
	TimedOut          int `json:"timed_out"`
	Skipped           int `json:"skipped"`
	EnvironmentErrors int `json:"environment_errors"`
	Cancelled         int `json:"cancelled"`
	Warnings          int `json:"warnings"`
	Attempts          int `json:"attempts"`
}

// TestRecord describes one test.
type TestRecord struct {
	Name       string          `json:"name"`
	Tags       []string        `json:"tags,omitempty"`
	Status     types.Status    `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Attempts   int             `json:"attempts"`
	DurationMs int64           `json:"duration_ms"`
	Warnings   []string        `json:"warnings,omitempty"`
	History    []AttemptRecord `json:"history,omitempty"`
}

// AttemptRecord describes one attempt of a test.
type AttemptRecord struct {
	Attempt    int          `json:"attempt"`
	Status     types.Status `json:"status"`
	Reason     string       `json:"reason,omitempty"`
	StartTime  time.Time    `json:"start_time"`
	DurationMs int64        `json:"duration_ms"`
}

// NewRunRecord converts a report into its JSON representation.
func NewRunRecord(report *types.RunReport) RunRecord {
	rec := RunRecord{
		RunID:       report.RunID,
		Success:     report.Success(),
		StartTime:   report.StartTime,
		EndTime:     report.EndTime,
		WallClockMs: report.WallClock.Milliseconds(),
		Stats:       StatsRecord(report.Stats),
		Tests:       make([]TestRecord, 0, len(report.Results)),
	}
	for _, res := range report.Results {
		tr := TestRecord{
			Name:       res.Name,
			Tags:       res.Tags,
			Status:     res.Final.Status,
			Reason:     res.Final.Reason,
			Attempts:   len(res.Attempts),
			DurationMs: res.Duration.Milliseconds(),
			Warnings:   res.Warnings(),
		}
		for _, a := range res.Attempts {
			tr.History = append(tr.History, AttemptRecord{
				Attempt:    a.Attempt,
				Status:     a.Status,
				Reason:     a.Reason,
				StartTime:  a.StartTime,
				DurationMs: a.Duration.Milliseconds(),
			})
		}
		rec.Tests = append(rec.Tests, tr)
	}
	return rec
}

func (r *JSONReporter) Render(w io.Writer, report *types.RunReport) error {
	enc := json.NewEncoder(w)
	if r.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(NewRunRecord(report))
}
