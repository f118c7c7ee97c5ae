package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsAddAndCount(t *testing.T) {
	var s Stats
	for _, status := range AllStatuses {
		s.Add(status)
	}
	s.Add(StatusPassed)

	assert.Equal(t, 7, s.Total)
	assert.Equal(t, 2, s.Count(StatusPassed))
	for _, status := range AllStatuses[1:] {
		assert.Equal(t, 1, s.Count(status), status)
	}
}

func TestRunReportSuccess(t *testing.T) {
	report := &RunReport{
		RunID: "run",
		Results: []TestResult{
			{Name: "a", Final: Outcome{Status: StatusPassed}},
			{Name: "b", Final: Outcome{Status: StatusSkipped, Reason: "fail-fast"}},
		},
	}
	assert.True(t, report.Success())
	assert.Empty(t, report.NonPassing())

	report.Results = append(report.Results, TestResult{
		Name:  "c",
		Final: Outcome{Status: StatusFailed, Reason: "assertion failed\nstack"},
	})
	report.Stats = Stats{Total: 3, Passed: 1, Skipped: 1, Failed: 1}
	report.WallClock = 1500 * time.Millisecond

	assert.False(t, report.Success())
	assert.True(t, report.HasStatus(StatusFailed))
	assert.False(t, report.HasStatus(StatusTimedOut))

	res, ok := report.Result("c")
	assert.True(t, ok)
	assert.Equal(t, StatusFailed, res.Final.Status)

	s := report.String()
	assert.Contains(t, s, "3 tests, 1 passed, 1 failed")
	assert.Contains(t, s, "c: failed (assertion failed)")
	assert.NotContains(t, s, "stack")
}

func TestTestResultWarnings(t *testing.T) {
	res := TestResult{Attempts: []Outcome{
		{Attempt: 1, Warnings: []string{"kill failed"}},
		{Attempt: 2},
		{Attempt: 3, Warnings: []string{"remove dir failed"}},
	}}
	assert.Equal(t, []string{"kill failed", "remove dir failed"}, res.Warnings())
}

func TestRunConfigValidate(t *testing.T) {
	assert.NoError(t, RunConfig{}.Validate())
	assert.Error(t, RunConfig{Concurrency: -1}.Validate())
	assert.Error(t, RunConfig{GlobalTimeout: -time.Second}.Validate())
	assert.Error(t, RunConfig{DefaultTimeout: -time.Second}.Validate())
	assert.Error(t, RunConfig{Filter: Filter{Names: []string{""}}}.Validate())
	assert.True(t, Filter{}.IsEmpty())
}
