// Package reporting merges scheduler executions into a run report and renders it.
package reporting

import (
	"time"

	"github.com/ethereum-optimism/op-harness/types"
)

// Aggregate builds the immutable run report from the executions, keeping their order. It performs
// no I/O. WallClock is the span of the run, not the sum of per-test durations.
func Aggregate(runID string, execs []types.Execution, start, end time.Time) *types.RunReport {
	report := &types.RunReport{
		RunID:     runID,
		Results:   make([]types.TestResult, 0, len(execs)),
		StartTime: start,
		EndTime:   end,
		WallClock: end.Sub(start),
	}
	for _, exec := range execs {
		res := types.TestResult{
			Name:     exec.Test.Name,
			Tags:     append([]string(nil), exec.Test.Tags...),
			Final:    exec.Final,
			Attempts: append([]types.Outcome(nil), exec.Attempts...),
			Duration: exec.Duration,
		}
		if res.Final.Status == "" && len(res.Attempts) > 0 {
			res.Final = res.Attempts[len(res.Attempts)-1]
		}
		report.Stats.Add(res.Final.Status)
		report.Stats.Attempts += len(res.Attempts)
		report.Stats.Warnings += len(res.Warnings())
		report.Results = append(report.Results, res)
	}
	return report
}
