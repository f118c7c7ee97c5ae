package bodies

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/ethereum-optimism/op-harness/logging"
	"github.com/ethereum-optimism/op-harness/types"
)

// waitDelay bounds how long we wait for output pipes after a command is killed.
const waitDelay = 2 * time.Second

// Exec runs a command and fails when it exits non-zero.
type Exec struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
}

var _ types.TestBody = (*Exec)(nil)

// Run implements types.TestBody.
func (e *Exec) Run(ctx context.Context, env types.Environment) error {
	if e.Command == "" {
		return errors.New("exec: no command")
	}
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = env.Expand(a)
	}

	cmd := exec.CommandContext(ctx, env.Expand(e.Command), args...)
	cmd.Dir = env.Expand(e.Dir)
	cmd.Env = commandEnv(env, e.Env)
	cmd.WaitDelay = waitDelay

	output, err := logging.NewCapture("", e.Command, logging.DefaultTailBytes)
	if err != nil {
		return err
	}
	defer output.Close()
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("command %s interrupted: %w", e.Command, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("command %s exited with code %d: %s", e.Command, exitErr.ExitCode(), output.Tail())
		}
		return fmt.Errorf("command %s failed: %w", e.Command, err)
	}
	return nil
}

// commandEnv layers the environment's variables and the body's own (expanded) variables over the
// current process environment.
func commandEnv(env types.Environment, extra map[string]string) []string {
	vars := os.Environ()
	for k, v := range env.Vars() {
		vars = append(vars, k+"="+v)
	}
	for k, v := range extra {
		vars = append(vars, k+"="+env.Expand(v))
	}
	return vars
}
