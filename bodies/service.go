package bodies

import (
	"context"
	"fmt"

	"github.com/ethereum-optimism/op-harness/types"
)

// StopService stops a process resource of the environment for the rest of the test, or until a
// StartService step brings it back.
type StopService struct {
	Resource string
}

var _ types.TestBody = (*StopService)(nil)

// Run implements types.TestBody.
func (s *StopService) Run(ctx context.Context, env types.Environment) error {
	ctl, err := serviceController(env, s.Resource)
	if err != nil {
		return err
	}
	return ctl.StopService(ctx, s.Resource)
}

// StartService starts a process resource stopped by an earlier StopService step.
type StartService struct {
	Resource string
}

var _ types.TestBody = (*StartService)(nil)

// Run implements types.TestBody.
func (s *StartService) Run(ctx context.Context, env types.Environment) error {
	ctl, err := serviceController(env, s.Resource)
	if err != nil {
		return err
	}
	return ctl.StartService(ctx, s.Resource)
}

func serviceController(env types.Environment, name string) (types.ServiceController, error) {
	ctl, ok := env.(types.ServiceController)
	if !ok {
		return nil, fmt.Errorf("environment cannot control service %s", name)
	}
	return ctl, nil
}
