package types

import (
	"errors"
	"fmt"
	"time"
)

// Filter selects test cases by name glob and by tag.
type Filter struct {
	Names       []string // Glob patterns; a test matches if any pattern matches. Empty matches all.
	IncludeTags []string // A test must carry at least one of these tags. Empty matches all.
	ExcludeTags []string // A test carrying any of these tags is dropped.
}

// IsEmpty reports whether the filter selects everything.
func (f Filter) IsEmpty() bool {
	return len(f.Names) == 0 && len(f.IncludeTags) == 0 && len(f.ExcludeTags) == 0
}

// RunConfig is passed explicitly into the orchestrator for one run.
type RunConfig struct {
	Filter         Filter
	Concurrency    int           // Worker slots, 0 means auto-determine
	GlobalTimeout  time.Duration // Ceiling for the whole run, 0 means none
	DefaultTimeout time.Duration // Used for tests that declare no timeout, 0 means none
	FailFast       bool
}

// Validate rejects configurations that must not start a run.
func (c RunConfig) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency cannot be negative: %d", c.Concurrency)
	}
	if c.GlobalTimeout < 0 {
		return errors.New("global timeout cannot be negative")
	}
	if c.DefaultTimeout < 0 {
		return errors.New("default timeout cannot be negative")
	}
	for _, pattern := range c.Filter.Names {
		if pattern == "" {
			return errors.New("name filter patterns cannot be empty")
		}
	}
	return nil
}
