package types

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the result of one attempt of a test case.
type Outcome struct {
	Status    Status
	Reason    string // Failure, timeout, skip or environment error description
	Attempt   int    // 1-based attempt number
	StartTime time.Time
	Duration  time.Duration
	Warnings  []string // Teardown warnings, they never change Status
}

// String returns a compact description used in logs.
func (o Outcome) String() string {
	if o.Reason == "" {
		return fmt.Sprintf("attempt %d: %s (%v)", o.Attempt, o.Status, o.Duration)
	}
	return fmt.Sprintf("attempt %d: %s (%v): %s", o.Attempt, o.Status, o.Duration, o.Reason)
}

// TestResult holds every attempt made for one test case together with the final outcome.
type TestResult struct {
	Name     string
	Tags     []string
	Final    Outcome
	Attempts []Outcome
	Duration time.Duration // Time from first dispatch to final teardown
}

// Warnings returns the teardown warnings of all attempts.
func (r TestResult) Warnings() []string {
	var out []string
	for _, a := range r.Attempts {
		out = append(out, a.Warnings...)
	}
	return out
}

// Execution is the raw record the scheduler produces for one selected test. Tests that were never
// dispatched have no attempts and a synthetic Final outcome.
type Execution struct {
	Test     TestCase
	Attempts []Outcome
	Final    Outcome
	Duration time.Duration
}

// Stats are aggregate counts over the final outcomes of a run
type Stats struct {
	Total             int
	Passed            int
	Failed            int
	TimedOut          int
	Skipped           int
	EnvironmentErrors int
	Cancelled         int
	Warnings          int
	Attempts          int
}

// Add counts one final outcome.
func (s *Stats) Add(status Status) {
	s.Total++
	switch status {
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failed++
	case StatusTimedOut:
		s.TimedOut++
	case StatusSkipped:
		s.Skipped++
	case StatusEnvironmentError:
		s.EnvironmentErrors++
	case StatusCancelled:
		s.Cancelled++
	}
}

// Count returns the number of final outcomes with the given status.
func (s Stats) Count(status Status) int {
	switch status {
	case StatusPassed:
		return s.Passed
	case StatusFailed:
		return s.Failed
	case StatusTimedOut:
		return s.TimedOut
	case StatusSkipped:
		return s.Skipped
	case StatusEnvironmentError:
		return s.EnvironmentErrors
	case StatusCancelled:
		return s.Cancelled
	}
	return 0
}

// RunReport is the immutable summary of one orchestrator run. Results follow selection order.
type RunReport struct {
	RunID     string
	Results   []TestResult
	Stats     Stats
	StartTime time.Time
	EndTime   time.Time
	WallClock time.Duration
}

// Success reports whether every final outcome is passed or skipped.
func (r *RunReport) Success() bool {
	for _, res := range r.Results {
		if !res.Final.Status.IsSuccess() {
			return false
		}
	}
	return true
}

// HasStatus reports whether any final outcome has the given status.
func (r *RunReport) HasStatus(status Status) bool {
	return r.Stats.Count(status) > 0
}

// NonPassing returns the results whose final outcome is neither passed nor skipped.
func (r *RunReport) NonPassing() []TestResult {
	var out []TestResult
	for _, res := range r.Results {
		if !res.Final.Status.IsSuccess() {
			out = append(out, res)
		}
	}
	return out
}

// Result returns the result for a test by name.
func (r *RunReport) Result(name string) (TestResult, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return TestResult{}, false
}

// String returns a one-line summary followed by one line per non-passing test.
func (r *RunReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %d tests, %d passed, %d failed, %d timed out, %d skipped, %d environment errors, %d cancelled in %v",
		r.RunID, r.Stats.Total, r.Stats.Passed, r.Stats.Failed, r.Stats.TimedOut, r.Stats.Skipped,
		r.Stats.EnvironmentErrors, r.Stats.Cancelled, r.WallClock.Truncate(time.Millisecond))
	for _, res := range r.NonPassing() {
		fmt.Fprintf(&b, "\n  %s: %s", res.Name, res.Final.Status)
		if res.Final.Reason != "" {
			fmt.Fprintf(&b, " (%s)", firstLine(res.Final.Reason))
		}
	}
	return b.String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx]
	}
	return s
}
