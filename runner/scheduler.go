package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/op-harness/metrics"
	"github.com/ethereum-optimism/op-harness/provision"
	"github.com/ethereum-optimism/op-harness/types"
)

// ErrGlobalTimeout is the cancellation cause when the run ceiling is reached.
var ErrGlobalTimeout = errors.New("global timeout reached")

// Config contains scheduler configuration
type Config struct {
	Log         log.Logger
	Provisioner provision.Provisioner
	Progress    ProgressIndicator
	// AbandonGrace bounds how long a cancelled body may keep running before its outcome is
	// recorded without it.
	AbandonGrace    time.Duration
	TeardownTimeout time.Duration
}

// Scheduler runs test cases under a bounded worker pool.
type Scheduler struct {
	provisioner     provision.Provisioner
	progress        ProgressIndicator
	log             log.Logger
	tracer          trace.Tracer
	abandonGrace    time.Duration
	teardownTimeout time.Duration
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Provisioner == nil {
		return nil, errors.New("provisioner is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}
	if cfg.AbandonGrace <= 0 {
		cfg.AbandonGrace = DefaultAbandonGrace
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}
	return &Scheduler{
		provisioner:     cfg.Provisioner,
		progress:        cfg.Progress,
		log:             cfg.Log.New("component", "scheduler"),
		tracer:          otel.Tracer("scheduler"),
		abandonGrace:    cfg.AbandonGrace,
		teardownTimeout: cfg.TeardownTimeout,
	}, nil
}

// DetermineConcurrency picks a worker count when none is configured.
func DetermineConcurrency(numTests int) int {
	n := min(runtime.NumCPU(), numTests, MaxReasonableConcurrency)
	if n < 1 {
		return 1
	}
	return n
}

// runState is shared by every worker of one run.
type runState struct {
	runID      string
	cfg        types.RunConfig
	failFast   atomic.Bool
	failedBy   atomic.Value // name of the test that tripped fail-fast
	dispatched atomic.Int32
}

// Run executes tests and returns one execution per test, in input order. It returns an error only
// for an invalid configuration; every per-test failure is contained in the executions.
func (s *Scheduler) Run(ctx context.Context, runID string, tests []types.TestCase, cfg types.RunConfig) ([]types.Execution, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = DetermineConcurrency(len(tests))
	}
	if concurrency > MaxReasonableConcurrency {
		s.log.Warn("Very high concurrency requested", "concurrency", concurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}

	if cfg.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, cfg.GlobalTimeout, ErrGlobalTimeout)
		defer cancel()
	}

	state := &runState{runID: runID, cfg: cfg}
	executions := make([]types.Execution, len(tests))

	s.log.Info("Starting test execution", "runID", runID, "tests", len(tests), "concurrency", concurrency,
		"globalTimeout", cfg.GlobalTimeout, "failFast", cfg.FailFast)
	s.progress.StartRun(runID, len(tests))

	p := pool.New().WithMaxGoroutines(concurrency)
	for i, tc := range tests {
		// Blocks while every worker is busy
		p.Go(func() {
			executions[i] = s.dispatch(ctx, state, tc)
		})
	}
	p.Wait()

	s.progress.CompleteRun(runID)
	s.log.Info("Test execution finished", "runID", runID, "dispatched", state.dispatched.Load(), "tests", len(tests))
	return executions, nil
}

// dispatch runs a test in the worker slot it was given, or records why it never started.
func (s *Scheduler) dispatch(ctx context.Context, state *runState, tc types.TestCase) types.Execution {
	if state.failFast.Load() {
		reason := "not started: fail-fast"
		if by, ok := state.failedBy.Load().(string); ok {
			reason = fmt.Sprintf("not started: fail-fast triggered by %s", by)
		}
		return notStarted(tc, types.StatusSkipped, reason)
	}
	if ctx.Err() != nil {
		return notStarted(tc, ctxStatus(ctx), "not started: "+cancelReason(ctx))
	}

	state.dispatched.Add(1)
	exec := s.execute(ctx, state, tc)

	if state.cfg.FailFast && exec.Final.Status.TriggersFailFast() {
		// Only the first failure is named
		if state.failFast.CompareAndSwap(false, true) {
			state.failedBy.Store(tc.Name)
			s.log.Warn("Fail-fast triggered, no further tests will be started", "test", tc.Name, "status", exec.Final.Status)
		}
	}
	return exec
}

func notStarted(tc types.TestCase, status types.Status, reason string) types.Execution {
	return types.Execution{
		Test:  tc,
		Final: types.Outcome{Status: status, Reason: reason, StartTime: time.Now()},
	}
}

// execute runs every attempt of a test, then releases its environment.
func (s *Scheduler) execute(ctx context.Context, state *runState, tc types.TestCase) types.Execution {
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("test %s", tc.Name))
	defer span.End()

	start := time.Now()
	logger := s.log.New("test", tc.Name)
	s.progress.StartTest(tc.Name)
	logger.Info("Running test", "attempts", tc.Retry.Attempts(), "timeout", s.timeoutFor(tc, state.cfg))

	exec := types.Execution{Test: tc}
	retry := newRetryBackOff(tc.Retry)
	var env provision.Handle

	for attempt := 1; attempt <= tc.Retry.Attempts(); attempt++ {
		if attempt > 1 {
			delay := retry.NextBackOff()
			s.progress.RetryTest(tc.Name, attempt, delay)
			if err := sleepCtx(ctx, delay); err != nil {
				logger.Warn("Run cancelled while waiting to retry", "attempt", attempt)
				break
			}
		}

		var (
			outcome   types.Outcome
			completed bool
		)
		outcome, env, completed = s.attempt(ctx, state, tc, attempt, env, logger)
		// Non-reusable environments are released after every attempt, their warnings belong to it.
		// A body that did not return in time may still be using its handle, so that handle is
		// never passed to another attempt.
		if env != nil && (!tc.Environment.Reusable || !completed) {
			if tc.Environment.Reusable {
				logger.Warn("Discarding reusable environment of an interrupted attempt", "attempt", attempt, "handle", env.ID())
			}
			outcome.Warnings = s.release(ctx, env, logger)
			env = nil
		}
		exec.Attempts = append(exec.Attempts, outcome)
		metrics.RecordAttempt(state.runID, tc.Name, outcome.Status)

		if !outcome.Status.IsRetryable() || ctx.Err() != nil {
			break
		}
		if attempt < tc.Retry.Attempts() {
			logger.Warn("Attempt failed, retrying", "attempt", attempt, "status", outcome.Status, "reason", outcome.Reason)
		}
	}
	if env != nil {
		last := &exec.Attempts[len(exec.Attempts)-1]
		last.Warnings = append(last.Warnings, s.release(ctx, env, logger)...)
	}

	exec.Final = exec.Attempts[len(exec.Attempts)-1]
	exec.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("status", string(exec.Final.Status)),
		attribute.Int("attempts", len(exec.Attempts)),
	)
	if !exec.Final.Status.IsSuccess() {
		span.SetStatus(codes.Error, exec.Final.Reason)
	}
	metrics.RecordTestResult(state.runID, exec.Final.Status, exec.Duration)
	s.progress.CompleteTest(tc.Name, exec.Final.Status)

	logFn := logger.Info
	if !exec.Final.Status.IsSuccess() {
		logFn = logger.Warn
	}
	logFn("Test finished", "status", exec.Final.Status, "attempts", len(exec.Attempts), "duration", exec.Duration, "reason", exec.Final.Reason)
	return exec
}

// attempt provisions the environment when none is held and runs the body once. The handle is
// returned to the caller, which owns its release. completed is false when the body had not returned
// by its deadline.
func (s *Scheduler) attempt(ctx context.Context, state *runState, tc types.TestCase, n int, env provision.Handle, logger log.Logger) (types.Outcome, provision.Handle, bool) {
	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("attempt %d", n))
	defer span.End()

	outcome := types.Outcome{Attempt: n, StartTime: time.Now()}
	finish := func(status types.Status, reason string) types.Outcome {
		outcome.Status = status
		outcome.Reason = reason
		outcome.Duration = time.Since(outcome.StartTime)
		span.SetAttributes(attribute.String("status", string(status)))
		if !status.IsSuccess() {
			span.SetStatus(codes.Error, reason)
		}
		logger.Debug("Attempt finished", "attempt", n, "status", status, "duration", outcome.Duration)
		return outcome
	}

	if env == nil {
		var err error
		env, err = s.provisioner.Provision(ctx, tc.Environment)
		if err != nil {
			if ctx.Err() != nil {
				return finish(ctxStatus(ctx), cancelReason(ctx)), nil, true
			}
			metrics.RecordErrorDetails("provision", err)
			return finish(types.StatusEnvironmentError, err.Error()), nil, true
		}
	}

	attemptCtx := ctx
	if timeout := s.timeoutFor(tc, state.cfg); timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	completed, err := s.runBody(attemptCtx, tc.Body, env, logger)
	switch {
	case ctx.Err() != nil && (!completed || err != nil):
		return finish(ctxStatus(ctx), cancelReason(ctx)), env, completed
	case attemptCtx.Err() != nil && (!completed || err != nil):
		return finish(types.StatusTimedOut, fmt.Sprintf("timed out after %v", s.timeoutFor(tc, state.cfg))), env, completed
	case err == nil:
		return finish(types.StatusPassed, ""), env, completed
	case errors.Is(err, types.ErrSkip):
		return finish(types.StatusSkipped, err.Error()), env, completed
	default:
		return finish(types.StatusFailed, err.Error()), env, completed
	}
}

// runBody runs the body, converting panics into errors. completed is false when the context was
// done before the body returned; the body then gets abandonGrace to return before it is abandoned.
func (s *Scheduler) runBody(ctx context.Context, body types.TestBody, env types.Environment, logger log.Logger) (completed bool, err error) {
	done := make(chan error, 1)
	go func() {
		var pc panics.Catcher
		var bodyErr error
		pc.Try(func() { bodyErr = body.Run(ctx, env) })
		if r := pc.Recovered(); r != nil {
			logger.Error("Test body panicked", "panic", r.Value, "stack", string(r.Stack))
			bodyErr = fmt.Errorf("panic: %v", r.Value)
		}
		done <- bodyErr
	}()

	select {
	case err = <-done:
		return true, err
	case <-ctx.Done():
	}

	timer := time.NewTimer(s.abandonGrace)
	defer timer.Stop()
	select {
	case err = <-done:
		return false, err
	case <-timer.C:
		logger.Warn("Test body did not return after cancellation, abandoning it", "grace", s.abandonGrace)
		return false, ctx.Err()
	}
}

// release tears an environment down, detached from run cancellation, and returns its warnings.
func (s *Scheduler) release(ctx context.Context, env provision.Handle, logger log.Logger) []string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.teardownTimeout)
	defer cancel()

	err := env.Release(ctx)
	if err != nil {
		logger.Warn("Environment teardown reported errors", "handle", env.ID(), "err", err)
		metrics.RecordErrorDetails("teardown", err)
	}
	return provision.Warnings(err)
}

// timeoutFor returns the per-attempt timeout, zero meaning only the run ceiling applies.
func (s *Scheduler) timeoutFor(tc types.TestCase, cfg types.RunConfig) time.Duration {
	if tc.Timeout > 0 {
		return tc.Timeout
	}
	return cfg.DefaultTimeout
}

// ctxStatus maps a cancelled run context to the outcome of the attempts it interrupts.
func ctxStatus(ctx context.Context) types.Status {
	if errors.Is(context.Cause(ctx), ErrGlobalTimeout) {
		return types.StatusTimedOut
	}
	return types.StatusCancelled
}

func cancelReason(ctx context.Context) string {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrGlobalTimeout) {
		return ErrGlobalTimeout.Error()
	}
	if cause == nil || errors.Is(cause, context.Canceled) {
		return "run cancelled"
	}
	return fmt.Sprintf("run cancelled: %v", cause)
}

// newRetryBackOff builds the delay sequence between attempts. Delays are deterministic.
func newRetryBackOff(p types.RetryPolicy) backoff.BackOff {
	if p.Backoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Backoff
	b.RandomizationFactor = 0
	b.Multiplier = math.Max(p.Multiplier, 1)
	b.MaxInterval = time.Duration(math.MaxInt64)
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
