package bodies

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/op-harness/types"
)

// Step is one stage of a sequential test.
type Step struct {
	Name        string
	Description string
	Body        types.TestBody
	// WaitAfter pauses before the next step runs.
	WaitAfter time.Duration
}

// Steps runs its steps in order and stops at the first failure.
type Steps struct {
	Steps []Step
	Log   log.Logger
}

var _ types.TestBody = (*Steps)(nil)

// Run implements types.TestBody.
func (s *Steps) Run(ctx context.Context, env types.Environment) error {
	logger := s.Log
	if logger == nil {
		logger = log.New()
	}
	total := len(s.Steps)
	for i, step := range s.Steps {
		progress := fmt.Sprintf("%d/%d", i+1, total)
		logger.Info("Executing step", "step", progress, "name", step.Name, "description", step.Description)
		if step.Body != nil {
			if err := step.Body.Run(ctx, env); err != nil {
				return fmt.Errorf("step %s (%s): %w", progress, step.Name, err)
			}
		}
		logger.Info("Step executed successfully", "step", progress, "name", step.Name)
		if step.WaitAfter > 0 && i < total-1 {
			if err := Sleep(step.WaitAfter).Run(ctx, env); err != nil {
				return fmt.Errorf("step %s (%s): %w", progress, step.Name, err)
			}
		}
	}
	return nil
}

// Sleep returns a body that waits for d or until the context is done.
func Sleep(d time.Duration) types.TestBody {
	return types.TestFunc(func(ctx context.Context, _ types.Environment) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
