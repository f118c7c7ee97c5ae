package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	harness "github.com/ethereum-optimism/op-harness"
	"github.com/ethereum-optimism/op-harness/exitcodes"
	"github.com/ethereum-optimism/op-harness/flags"
	"github.com/ethereum-optimism/op-harness/metrics"
	"github.com/ethereum-optimism/op-harness/service"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-harness"
	app.Usage = "End-to-end test orchestrator"
	app.Description = "op-harness provisions local environments and runs end-to-end tests against them"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
			return
		}
		cli.HandleExitCoder(harness.ExitCoder(err))
	}
	return app
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	logger := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()

	cfg, err := harness.NewConfig(ctx, logger)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, harness.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg)
	metrics.Debug = logCfg.Level <= log.LevelDebug

	svc := service.New(service.Config{
		Log:            logger,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsHost:    cfg.Metrics.ListenAddr,
		MetricsPort:    cfg.Metrics.ListenPort,
	})
	svc.Start(ctx.Context)
	go func() {
		<-ctx.Context.Done()
		svc.Shutdown()
	}()

	h, err := harness.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, harness.NewRuntimeError(fmt.Errorf("failed to create harness: %w", err))
	}
	return h, nil
}

// exitCode mirrors the exit code the ExitErrHandler produces for err.
func exitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	return harness.ExitCoder(err).ExitCode()
}
