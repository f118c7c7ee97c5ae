package provision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/op-harness/types"
)

// ErrClosed is returned by Provision after the provisioner was closed.
var ErrClosed = errors.New("provisioner closed")

// ProvisionError reports that an environment could not be brought up. Resource and Kind are empty
// when the failure is not tied to a single resource (e.g. an invalid descriptor).
type ProvisionError struct {
	Resource string
	Kind     types.ResourceKind
	Err      error
}

func (e *ProvisionError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("provisioning failed: %v", e.Err)
	}
	return fmt.Sprintf("provisioning %s resource %s: %v", e.Kind, e.Resource, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// TeardownError collects every resource that failed to release cleanly. It never affects the
// verdict of a test, its messages are surfaced as warnings.
type TeardownError struct {
	Errs []error
}

func (e *TeardownError) Error() string {
	msgs := e.Warnings()
	return fmt.Sprintf("teardown failed for %d resource(s): %s", len(msgs), strings.Join(msgs, "; "))
}

func (e *TeardownError) Unwrap() []error {
	return e.Errs
}

// Warnings returns one message per failed resource.
func (e *TeardownError) Warnings() []string {
	out := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		out[i] = err.Error()
	}
	return out
}

// Warnings extracts teardown warnings from an error returned by Handle.Release.
func Warnings(err error) []string {
	if err == nil {
		return nil
	}
	var terr *TeardownError
	if errors.As(err, &terr) {
		return terr.Warnings()
	}
	return []string{err.Error()}
}
