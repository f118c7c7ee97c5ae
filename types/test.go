package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSkip is returned (possibly wrapped) by a test body that decides not to run.
var ErrSkip = errors.New("test skipped")

// Skip returns an error that makes the current attempt report StatusSkipped with the given reason.
func Skip(reason string) error {
	return fmt.Errorf("%w: %s", ErrSkip, reason)
}

// TestBody is the executable part of a test case. It receives the provisioned environment and a
// context that is cancelled when the attempt deadline passes or the run is aborted; bodies are
// expected to return promptly once ctx is done.
type TestBody interface {
	Run(ctx context.Context, env Environment) error
}

// TestFunc adapts an ordinary function to the TestBody interface.
type TestFunc func(ctx context.Context, env Environment) error

// Run implements TestBody.
func (f TestFunc) Run(ctx context.Context, env Environment) error {
	return f(ctx, env)
}

// RetryPolicy controls how many times a failing or timed out test is attempted and how long to
// wait between attempts.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts including the first one, values below 1 mean 1
	Backoff     time.Duration // Delay before the second attempt
	Multiplier  float64       // Growth factor applied to the delay after every attempt, 0 means constant
	MaxBackoff  time.Duration // Upper bound for the delay, 0 means unbounded
}

// Attempts returns the effective number of attempts.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Validate checks the policy for impossible values.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts cannot be negative: %d", p.MaxAttempts)
	}
	if p.Backoff < 0 {
		return fmt.Errorf("backoff cannot be negative: %v", p.Backoff)
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return fmt.Errorf("backoff multiplier must be 0 or >= 1, got %v", p.Multiplier)
	}
	if p.MaxBackoff < 0 {
		return fmt.Errorf("max backoff cannot be negative: %v", p.MaxBackoff)
	}
	return nil
}

// TestCase is a single registered end-to-end test.
type TestCase struct {
	Name        string
	Description string
	Tags        []string
	Timeout     time.Duration // Zero means RunConfig.DefaultTimeout
	Retry       RetryPolicy
	Environment EnvironmentDescriptor
	Body        TestBody
}

// HasTag reports whether the test case carries the given tag.
func (tc TestCase) HasTag(tag string) bool {
	for _, t := range tc.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Validate checks that the test case can be registered.
func (tc TestCase) Validate() error {
	if tc.Name == "" {
		return errors.New("test name cannot be empty")
	}
	if tc.Body == nil {
		return fmt.Errorf("test %s has no body", tc.Name)
	}
	if tc.Timeout < 0 {
		return fmt.Errorf("test %s has a negative timeout", tc.Name)
	}
	if err := tc.Retry.Validate(); err != nil {
		return fmt.Errorf("test %s: %w", tc.Name, err)
	}
	if err := tc.Environment.Validate(); err != nil {
		return fmt.Errorf("test %s: %w", tc.Name, err)
	}
	return nil
}

// Clone returns a copy that shares no mutable slices with tc.
func (tc TestCase) Clone() TestCase {
	out := tc
	out.Tags = append([]string(nil), tc.Tags...)
	out.Environment = tc.Environment.Clone()
	return out
}
