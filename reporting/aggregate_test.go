package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/op-harness/types"
)

func outcome(attempt int, status types.Status, reason string, warnings ...string) types.Outcome {
	return types.Outcome{
		Status:   status,
		Reason:   reason,
		Attempt:  attempt,
		Duration: 100 * time.Millisecond,
		Warnings: warnings,
	}
}

func execution(name string, attempts ...types.Outcome) types.Execution {
	exec := types.Execution{
		Test:     types.TestCase{Name: name, Tags: []string{"smoke"}},
		Attempts: attempts,
		Duration: time.Duration(len(attempts)) * 100 * time.Millisecond,
	}
	if len(attempts) > 0 {
		exec.Final = attempts[len(attempts)-1]
	}
	return exec
}

func sampleExecutions() []types.Execution {
	return []types.Execution{
		execution("alpha", outcome(1, types.StatusPassed, "")),
		execution("beta",
			outcome(1, types.StatusFailed, "boom"),
			outcome(2, types.StatusFailed, "boom again"),
		),
		execution("gamma", outcome(1, types.StatusPassed, "", "releasing process resource node: exited before teardown")),
		{
			Test:  types.TestCase{Name: "delta"},
			Final: types.Outcome{Status: types.StatusSkipped, Reason: "not started: fail-fast triggered by beta"},
		},
	}
}

func TestAggregate(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(1500 * time.Millisecond)

	report := Aggregate("run-1", sampleExecutions(), start, end)

	require.Len(t, report.Results, 4)
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, 1500*time.Millisecond, report.WallClock)
	assert.Equal(t, start, report.StartTime)
	assert.Equal(t, end, report.EndTime)

	names := make([]string, 0, len(report.Results))
	for _, res := range report.Results {
		names = append(names, res.Name)
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma", "delta"}, names)

	assert.Equal(t, types.Stats{
		Total:    4,
		Passed:   2,
		Failed:   1,
		Skipped:  1,
		Warnings: 1,
		Attempts: 4,
	}, report.Stats)

	beta, ok := report.Result("beta")
	require.True(t, ok)
	assert.Len(t, beta.Attempts, 2)
	assert.Equal(t, "boom again", beta.Final.Reason)
	assert.False(t, report.Success())
}

func TestAggregate_Empty(t *testing.T) {
	now := time.Now()
	report := Aggregate("empty", nil, now, now)

	assert.Empty(t, report.Results)
	assert.Equal(t, 0, report.Stats.Total)
	assert.True(t, report.Success())
}

func TestAggregate_DoesNotAliasInput(t *testing.T) {
	execs := sampleExecutions()
	report := Aggregate("run", execs, time.Now(), time.Now())

	execs[0].Attempts[0].Status = types.StatusFailed
	execs[0].Test.Tags[0] = "changed"

	assert.Equal(t, types.StatusPassed, report.Results[0].Attempts[0].Status)
	assert.Equal(t, []string{"smoke"}, report.Results[0].Tags)
}

func TestAggregate_FinalFallsBackToLastAttempt(t *testing.T) {
	exec := types.Execution{
		Test:     types.TestCase{Name: "t"},
		Attempts: []types.Outcome{outcome(1, types.StatusTimedOut, "timed out after 1s")},
	}
	report := Aggregate("run", []types.Execution{exec}, time.Now(), time.Now())

	assert.Equal(t, types.StatusTimedOut, report.Results[0].Final.Status)
	assert.Equal(t, 1, report.Stats.TimedOut)
}
