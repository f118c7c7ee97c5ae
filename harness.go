// Package harness runs end-to-end tests declared in manifests against locally provisioned
// environments and reports the results.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/op-harness/exitcodes"
	"github.com/ethereum-optimism/op-harness/provision"
	"github.com/ethereum-optimism/op-harness/registry"
	"github.com/ethereum-optimism/op-harness/reporting"
	"github.com/ethereum-optimism/op-harness/runner"
	"github.com/ethereum-optimism/op-harness/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// harness implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &harness{}

// harness loads the manifests once and runs the selected tests, either once or periodically.
type harness struct {
	ctx         context.Context
	config      *Config
	version     string
	registry    *registry.Registry
	provisioner *provision.Local
	reporter    reporting.Reporter
	out         io.Writer
	report      *types.RunReport

	running  atomic.Bool
	runCount atomic.Int64
	done     chan struct{}
	wg       sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*harness, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating harness with config",
		"manifests", config.Manifests,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"concurrency", config.Run.Concurrency,
		"failFast", config.Run.FailFast)

	reg := registry.NewRegistry(registry.Config{Log: config.Log})
	for _, m := range config.Manifests {
		if err := reg.LoadFile(m); err != nil {
			return nil, fmt.Errorf("failed to load manifest: %w", err)
		}
	}

	reporter, err := reporting.New(config.Format)
	if err != nil {
		return nil, err
	}

	provisioner := provision.NewLocal(provision.Config{
		Log:             config.Log,
		LogDir:          config.LogDir,
		TeardownTimeout: config.TeardownTimeout,
	})
	config.Log.Info("harness.New: loaded manifests", "tests", reg.Len())

	return &harness{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		provisioner:      provisioner,
		reporter:         reporter,
		out:              os.Stdout,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the tests, then keeps running them at the configured interval unless in run-once mode.
// Start implements the cliapp.Lifecycle interface.
func (h *harness) Start(ctx context.Context) error {
	h.ctx = ctx
	h.done = make(chan struct{})
	h.running.Store(true)

	if h.config.List {
		err := h.listTests()
		go h.shutdownCallback(nil)
		return err
	}

	if h.config.RunOnce {
		h.config.Log.Info("Starting op-harness in run-once mode")
	} else {
		h.config.Log.Info("Starting op-harness in continuous mode", "interval", h.config.RunInterval)
	}

	// Run tests immediately on startup
	if err := h.runTests(ctx); err != nil {
		h.config.Log.Error("Runtime error running tests", "error", err)
		return err
	}

	if h.config.RunOnce {
		h.config.Log.Info("Tests completed, exiting (run-once mode)")
		if err := ReportError(h.report); err != nil {
			h.config.Log.Warn("Run-once test run completed with failures", "exitCode", ExitCode(h.report))
			return err
		}
		go func() {
			h.shutdownCallback(nil)
		}()
		return nil
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.config.Log.Debug("Starting periodic test runner goroutine", "interval", h.config.RunInterval)

		for {
			select {
			case <-time.After(h.config.RunInterval):
				if !h.running.Load() {
					h.config.Log.Debug("Service stopped, exiting periodic test runner")
					return
				}
				h.config.Log.Info("Running periodic tests")
				if err := h.runTests(ctx); err != nil {
					h.config.Log.Error("Error running periodic tests", "error", err)
				}

			case <-h.done:
				h.config.Log.Debug("Done signal received, stopping periodic test runner")
				return

			case <-ctx.Done():
				h.config.Log.Debug("Context canceled, stopping periodic test runner")
				h.running.Store(false)
				return
			}
		}
	}()
	h.config.Log.Debug("op-harness started successfully")
	return nil
}

// listTests prints the names of the selected tests.
func (h *harness) listTests() error {
	tests, err := h.registry.Select(h.config.Run.Filter)
	if err != nil {
		return NewRuntimeError(err)
	}
	for _, tc := range tests {
		if _, err := fmt.Fprintln(h.out, tc.Name); err != nil {
			return NewRuntimeError(err)
		}
	}
	return nil
}

// runTests performs one run and renders its report.
func (h *harness) runTests(ctx context.Context) error {
	progress := runner.NewNoOpProgressIndicator()
	if h.config.ShowProgress {
		progress = runner.NewConsoleProgressIndicator(h.config.Log, h.config.ProgressInterval)
	}
	orchestrator, err := NewOrchestrator(OrchestratorConfig{
		Log:             h.config.Log,
		Registry:        h.registry,
		Provisioner:     h.provisioner,
		Progress:        progress,
		TeardownTimeout: h.config.TeardownTimeout,
	})
	if err != nil {
		return NewRuntimeError(err)
	}

	report, err := orchestrator.Run(ctx, h.config.Run)
	if err != nil {
		return err
	}
	h.report = report
	h.runCount.Add(1)

	if err := h.reporter.Render(h.out, report); err != nil {
		return NewRuntimeError(fmt.Errorf("failed to render report: %w", err))
	}
	if h.config.ReportFile != "" {
		if err := reporting.WriteFile(h.config.ReportFile, &reporting.JSONReporter{Indent: true}, report); err != nil {
			return NewRuntimeError(err)
		}
		h.config.Log.Info("Wrote report file", "path", h.config.ReportFile)
	}
	h.config.Log.Info("Test run completed", "run_id", report.RunID, "success", report.Success(), "exitCode", ExitCode(report))
	return nil
}

// runs returns the number of completed runs.
func (h *harness) runs() int64 {
	return h.runCount.Load()
}

// Stop stops the op-harness service and releases every environment still alive.
// Stop implements the cliapp.Lifecycle interface.
func (h *harness) Stop(ctx context.Context) error {
	h.config.Log.Info("Stopping op-harness")

	if !h.running.Load() {
		h.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	h.running.Store(false)

	h.config.Log.Debug("Sending done signal to goroutines")
	close(h.done)

	if err := h.provisioner.Close(ctx); err != nil {
		h.config.Log.Warn("Failed to release environments on shutdown", "err", err)
	}

	h.config.Log.Info("op-harness stopped successfully")
	return nil
}

// Stopped returns true if the op-harness service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (h *harness) Stopped() bool {
	return !h.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (h *harness) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}

// ExitCoder converts a Start error into the cli exit error carrying the matching exit code.
func ExitCoder(err error) cli.ExitCoder {
	var exitErr cli.ExitCoder
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitErr):
		return exitErr
	case IsRuntimeError(err):
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	case IsEnvironmentFailureError(err):
		return cli.Exit(err.Error(), exitcodes.EnvironmentErr)
	case IsTestFailureError(err):
		return cli.Exit(err.Error(), exitcodes.TestFailure)
	default:
		return cli.Exit(err.Error(), exitcodes.TestFailure)
	}
}
