package types

// Status is the terminal state of a single test attempt
type Status string

const (
	StatusPassed           Status = "passed"
	StatusFailed           Status = "failed"
	StatusTimedOut         Status = "timed_out"
	StatusSkipped          Status = "skipped"
	StatusEnvironmentError Status = "environment_error"
	StatusCancelled        Status = "cancelled"
)

// AllStatuses lists every status in reporting order.
var AllStatuses = []Status{
	StatusPassed,
	StatusFailed,
	StatusTimedOut,
	StatusSkipped,
	StatusEnvironmentError,
	StatusCancelled,
}

func (s Status) String() string {
	return string(s)
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsSuccess reports whether the status counts towards a successful run.
func (s Status) IsSuccess() bool {
	return s == StatusPassed || s == StatusSkipped
}

// IsRetryable reports whether the retry policy applies to an attempt with this status.
func (s Status) IsRetryable() bool {
	return s == StatusFailed || s == StatusTimedOut
}

// TriggersFailFast reports whether a final outcome with this status stops dispatching when
// fail-fast is enabled.
func (s Status) TriggersFailFast() bool {
	return s == StatusFailed || s == StatusTimedOut
}
