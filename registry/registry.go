// Package registry holds the statically declared set of test cases and selects subsets of it.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/op-harness/types"
)

// ErrDuplicateName is matched by every DuplicateNameError.
var ErrDuplicateName = errors.New("duplicate test name")

// DuplicateNameError is returned when a test with the same name is already registered.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateName, e.Name)
}

func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}

// Registry manages the registered test cases. Test cases are immutable once registered.
type Registry struct {
	config Config
	tests  []types.TestCase
	index  map[string]int
	mu     sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	return &Registry{
		config: cfg,
		index:  make(map[string]int),
	}
}

// Register adds a test case. It fails with a DuplicateNameError when the name is taken and with a
// validation error when the test case is malformed.
func (r *Registry) Register(tc types.TestCase) error {
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("invalid test case: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[tc.Name]; exists {
		return &DuplicateNameError{Name: tc.Name}
	}
	r.index[tc.Name] = len(r.tests)
	r.tests = append(r.tests, tc.Clone())

	r.config.Log.Debug("Registered test", "test", tc.Name, "tags", tc.Tags, "resources", len(tc.Environment.Resources))
	return nil
}

// RegisterAll registers test cases in order and stops at the first error.
func (r *Registry) RegisterAll(tcs []types.TestCase) error {
	for _, tc := range tcs {
		if err := r.Register(tc); err != nil {
			return err
		}
	}
	return nil
}

// Select returns the test cases matching the filter in registration order. Name patterns use
// doublestar glob syntax, where '/' separates path segments. The result is a fresh copy; calling
// Select repeatedly on an unchanged registry yields the same sequence.
func (r *Registry) Select(filter types.Filter) ([]types.TestCase, error) {
	for _, pattern := range filter.Names {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid name pattern %q: %w", pattern, doublestar.ErrBadPattern)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := make([]types.TestCase, 0, len(r.tests))
	for _, tc := range r.tests {
		if matches(tc, filter) {
			selected = append(selected, tc.Clone())
		}
	}
	return selected, nil
}

// Get returns a registered test case by name.
func (r *Registry) Get(name string) (types.TestCase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.index[name]
	if !ok {
		return types.TestCase{}, false
	}
	return r.tests[idx].Clone(), true
}

// Len returns the number of registered test cases.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tests)
}

// Names returns the registered test names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.tests))
	for i, tc := range r.tests {
		names[i] = tc.Name
	}
	return names
}

// GetConfig returns the registry configuration
func (r *Registry) GetConfig() Config {
	return r.config
}

func matches(tc types.TestCase, filter types.Filter) bool {
	for _, tag := range filter.ExcludeTags {
		if tc.HasTag(tag) {
			return false
		}
	}
	if len(filter.IncludeTags) > 0 {
		found := false
		for _, tag := range filter.IncludeTags {
			if tc.HasTag(tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(filter.Names) == 0 {
		return true
	}
	for _, pattern := range filter.Names {
		// Patterns were validated up front
		if ok, _ := doublestar.Match(pattern, tc.Name); ok {
			return true
		}
	}
	return false
}
