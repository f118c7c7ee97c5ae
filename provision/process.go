package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/op-harness/logging"
	"github.com/ethereum-optimism/op-harness/types"
)

const readyPollInterval = 50 * time.Millisecond

var errExited = errors.New("process exited")

type process struct {
	cmd       *exec.Cmd
	output    *logging.Capture
	stopGrace time.Duration
	log       log.Logger

	done    chan struct{}
	waitErr error

	res *types.Resource
}

// startProcess spawns the resource's command and waits until it is ready: until its port accepts
// TCP connections when it has one, and for StartupDelay when set. The process outlives ctx, ctx
// only bounds the readiness wait.
func (p *Local) startProcess(ctx context.Context, spec types.ResourceSpec, vars map[string]string) (*process, error) {
	res := &types.Resource{
		Name: spec.Name,
		Kind: spec.Kind,
		Vars: map[string]string{},
	}
	if spec.Port > 0 || spec.AllocatePort {
		n, err := reservePort(p.config.Host, spec.Port)
		if err != nil {
			return nil, err
		}
		res.Port = n
		res.Addr = net.JoinHostPort(p.config.Host, strconv.Itoa(n))
		res.Vars = networkVars(spec.Name, p.config.Host, n, "http")
	}

	args := make([]string, len(spec.Args))
	for i, a := range spec.Args {
		args[i] = expand(a, res.Vars, vars)
	}
	cmd := exec.Command(expand(spec.Command, res.Vars, vars), args...)
	cmd.Dir = expand(spec.Dir, res.Vars, vars)
	cmd.Env = os.Environ()
	for _, layer := range []map[string]string{vars, res.Vars} {
		for k, v := range layer {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+expand(v, res.Vars, vars))
	}

	stopGrace := spec.StopGrace
	if stopGrace <= 0 {
		stopGrace = p.config.StopGrace
	}
	cmd.WaitDelay = stopGrace

	output, err := logging.NewCapture(p.config.LogDir, spec.Name+"-"+strconv.FormatInt(time.Now().UnixNano(), 36), 0)
	if err != nil {
		return nil, err
	}
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		_ = output.Close()
		return nil, fmt.Errorf("spawning %s: %w", spec.Command, err)
	}
	proc := &process{
		cmd:       cmd,
		output:    output,
		stopGrace: stopGrace,
		log:       p.log.New("resource", spec.Name, "pid", cmd.Process.Pid),
		done:      make(chan struct{}),
		res:       res,
	}
	go func() {
		proc.waitErr = cmd.Wait()
		_ = output.Close()
		close(proc.done)
	}()
	if path := output.Path(); path != "" {
		proc.log.Debug("Process started", "log", path)
	}

	readyTimeout := spec.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = p.config.ReadyTimeout
	}
	if err := proc.waitReady(ctx, spec.StartupDelay, readyTimeout); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), p.config.TeardownTimeout)
		defer cancel()
		if stopErr := proc.stop(stopCtx); stopErr != nil && !errors.Is(stopErr, errExited) {
			proc.log.Warn("Failed to stop process that never became ready", "err", stopErr)
		}
		return nil, proc.withOutput(err)
	}
	return proc, nil
}

func (p *process) waitReady(ctx context.Context, delay, timeout time.Duration) error {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-p.done:
			return p.exitError()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.res.Port == 0 {
		select {
		case <-p.done:
			return p.exitError()
		default:
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var dialer net.Dialer
	dial := func() error {
		select {
		case <-p.done:
			return backoff.Permanent(p.exitError())
		default:
		}
		conn, err := dialer.DialContext(ctx, "tcp", p.res.Addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}
	if err := backoff.Retry(dial, backoff.WithContext(backoff.NewConstantBackOff(readyPollInterval), ctx)); err != nil {
		if errors.Is(err, errExited) {
			return err
		}
		return fmt.Errorf("%s not accepting connections after %v: %w", p.res.Addr, timeout, err)
	}
	return nil
}

func (p *process) exitError() error {
	if p.waitErr != nil {
		return fmt.Errorf("%w early: %v", errExited, p.waitErr)
	}
	return fmt.Errorf("%w early", errExited)
}

// withOutput appends the tail of the process output to err.
func (p *process) withOutput(err error) error {
	tail := p.output.Tail()
	if tail == "" {
		return err
	}
	return fmt.Errorf("%w\noutput:\n%s", err, tail)
}

func (p *process) info() *types.Resource { return p.res }

// stop interrupts the process and kills it if it has not exited after the stop grace period. A
// process that already exited on its own with an error is reported.
func (p *process) stop(ctx context.Context) error {
	select {
	case <-p.done:
		if p.waitErr != nil {
			return p.withOutput(fmt.Errorf("%w before teardown: %v", errExited, p.waitErr))
		}
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Debug("Interrupt failed, killing", "err", err)
	} else {
		timer := time.NewTimer(p.stopGrace)
		defer timer.Stop()
		select {
		case <-p.done:
			return nil
		case <-timer.C:
			p.log.Warn("Process did not exit after interrupt, killing", "grace", p.stopGrace)
		case <-ctx.Done():
		}
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing process %d: %w", p.cmd.Process.Pid, err)
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("process %d did not exit after kill: %w", p.cmd.Process.Pid, ctx.Err())
	}
}
