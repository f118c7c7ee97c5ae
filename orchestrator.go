package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/op-harness/exitcodes"
	"github.com/ethereum-optimism/op-harness/metrics"
	"github.com/ethereum-optimism/op-harness/provision"
	"github.com/ethereum-optimism/op-harness/registry"
	"github.com/ethereum-optimism/op-harness/reporting"
	"github.com/ethereum-optimism/op-harness/runner"
	"github.com/ethereum-optimism/op-harness/types"
)

// OrchestratorConfig wires the components of a run together.
type OrchestratorConfig struct {
	Log         log.Logger
	Registry    *registry.Registry
	Provisioner provision.Provisioner
	Progress    runner.ProgressIndicator
	// AbandonGrace and TeardownTimeout are passed to the scheduler, zero values use its defaults.
	AbandonGrace    time.Duration
	TeardownTimeout time.Duration
}

// outstandingReleaser is implemented by provisioners that can tear down handles their owners
// never released.
type outstandingReleaser interface {
	ReleaseAll(ctx context.Context) error
}

// Orchestrator selects tests, runs them and builds the run report.
type Orchestrator struct {
	log         log.Logger
	registry    *registry.Registry
	provisioner provision.Provisioner
	scheduler   *runner.Scheduler
	tracer      trace.Tracer

	teardownTimeout time.Duration
}

// NewOrchestrator creates an orchestrator. The registry and provisioner are required.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Provisioner == nil {
		return nil, errors.New("provisioner is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = runner.DefaultTeardownTimeout
	}
	scheduler, err := runner.NewScheduler(runner.Config{
		Log:             cfg.Log,
		Provisioner:     cfg.Provisioner,
		Progress:        cfg.Progress,
		AbandonGrace:    cfg.AbandonGrace,
		TeardownTimeout: cfg.TeardownTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Orchestrator{
		log:             cfg.Log.New("component", "orchestrator"),
		registry:        cfg.Registry,
		provisioner:     cfg.Provisioner,
		scheduler:       scheduler,
		tracer:          otel.Tracer("orchestrator"),
		teardownTimeout: cfg.TeardownTimeout,
	}, nil
}

// Run executes the tests selected by cfg.Filter and returns the report. Configuration problems
// are returned as a *RuntimeError before any test runs; test failures never produce an error.
// Every environment provisioned during the run has been released when Run returns, including
// when ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, cfg types.RunConfig) (*types.RunReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, NewRuntimeError(fmt.Errorf("invalid run config: %w", err))
	}
	tests, err := o.registry.Select(cfg.Filter)
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to select tests: %w", err))
	}

	runID := uuid.New().String()
	ctx, span := o.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.tests", len(tests)),
	))
	defer span.End()

	o.log.Info("Starting run", "runID", runID, "selected", len(tests), "registered", o.registry.Len())
	start := time.Now()
	execs, err := o.scheduler.Run(ctx, runID, tests, cfg)
	o.releaseOutstanding(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, NewRuntimeError(fmt.Errorf("failed to run tests: %w", err))
	}

	report := reporting.Aggregate(runID, execs, start, time.Now())
	result := "pass"
	if !report.Success() {
		result = "fail"
	}
	metrics.RecordRun(runID, result, report.WallClock)
	span.SetAttributes(attribute.String("run.result", result))

	o.log.Info("Run completed", "runID", runID, "result", result,
		"passed", report.Stats.Passed, "failed", report.Stats.Failed, "timedOut", report.Stats.TimedOut,
		"skipped", report.Stats.Skipped, "environmentErrors", report.Stats.EnvironmentErrors,
		"cancelled", report.Stats.Cancelled, "duration", report.WallClock)
	return report, nil
}

// releaseOutstanding tears down any handle still alive after the scheduler returned.
func (o *Orchestrator) releaseOutstanding(ctx context.Context) {
	r, ok := o.provisioner.(outstandingReleaser)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.teardownTimeout)
	defer cancel()
	if err := r.ReleaseAll(ctx); err != nil {
		o.log.Warn("Failed to release outstanding environments", "err", err)
		metrics.RecordErrorDetails("release_outstanding", err)
	}
}

// ExitCode maps a report to the process exit code. Environment errors take precedence over test
// failures. Cancelled tests count as failures.
func ExitCode(report *types.RunReport) int {
	switch {
	case report == nil:
		return exitcodes.RuntimeErr
	case report.HasStatus(types.StatusEnvironmentError):
		return exitcodes.EnvironmentErr
	case !report.Success():
		return exitcodes.TestFailure
	default:
		return exitcodes.Success
	}
}

// ReportError returns the typed error matching ExitCode, or nil for a successful run.
func ReportError(report *types.RunReport) error {
	switch ExitCode(report) {
	case exitcodes.Success:
		return nil
	case exitcodes.EnvironmentErr:
		return NewEnvironmentFailureError(report.String())
	case exitcodes.TestFailure:
		return NewTestFailureError(report.String())
	default:
		return NewRuntimeError(errors.New("no report produced"))
	}
}
