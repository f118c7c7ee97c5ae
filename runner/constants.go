package runner

import "time"

const (
	// MaxReasonableConcurrency caps auto-determined concurrency to avoid resource exhaustion
	MaxReasonableConcurrency = 32

	// DefaultAbandonGrace is how long a cancelled body may take to return before the scheduler
	// stops waiting for it.
	DefaultAbandonGrace = time.Second

	// DefaultTeardownTimeout bounds environment release after every test.
	DefaultTeardownTimeout = 30 * time.Second

	// DefaultProgressInterval is used when progress reporting is enabled without an interval.
	DefaultProgressInterval = 30 * time.Second
)
