package harness

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/op-harness/flags"
	"github.com/ethereum-optimism/op-harness/reporting"
	"github.com/ethereum-optimism/op-harness/types"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	Manifests        []string      // Absolute paths of the test manifests
	Run              types.RunConfig
	Format           string        // Output format of the console report
	ReportFile       string        // Optional path of the JSON report
	List             bool          // Print the selected tests and exit
	LogDir           string        // Directory to store the output of provisioned processes
	TeardownTimeout  time.Duration // Maximum time spent releasing one environment
	RunInterval      time.Duration // Interval between test runs
	RunOnce          bool          // Indicates if the service should exit after one test run
	ShowProgress     bool          // Whether to show periodic progress updates during test execution
	ProgressInterval time.Duration // Interval between progress updates when ShowProgress is 'true'
	Metrics          opmetrics.CLIConfig
	Log              log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	manifests := ctx.StringSlice(flags.Manifest.Name)
	if len(manifests) == 0 {
		return nil, errors.New("at least one manifest is required")
	}
	absManifests := make([]string, 0, len(manifests))
	for _, m := range manifests {
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for manifest '%s': %w", m, err)
		}
		absManifests = append(absManifests, abs)
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir != "" {
		var err error
		logDir, err = filepath.Abs(logDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
		}
	}

	reportFile := ctx.String(flags.ReportFile.Name)
	if reportFile != "" {
		var err error
		reportFile, err = filepath.Abs(reportFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for report file '%s': %w", reportFile, err)
		}
	}

	format := strings.ToLower(ctx.String(flags.Format.Name))
	if _, err := reporting.New(format); err != nil {
		return nil, err
	}

	runCfg := types.RunConfig{
		Filter: types.Filter{
			Names:       ctx.StringSlice(flags.Run.Name),
			IncludeTags: ctx.StringSlice(flags.Tag.Name),
			ExcludeTags: ctx.StringSlice(flags.SkipTag.Name),
		},
		Concurrency:    ctx.Int(flags.Concurrency.Name),
		GlobalTimeout:  ctx.Duration(flags.Timeout.Name),
		DefaultTimeout: ctx.Duration(flags.DefaultTimeout.Name),
		FailFast:       ctx.Bool(flags.FailFast.Name),
	}
	if err := runCfg.Validate(); err != nil {
		return nil, err
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	if runInterval < 0 {
		return nil, errors.New("run interval cannot be negative")
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	return &Config{
		Manifests:        absManifests,
		Run:              runCfg,
		Format:           format,
		ReportFile:       reportFile,
		List:             ctx.Bool(flags.List.Name),
		LogDir:           logDir,
		TeardownTimeout:  ctx.Duration(flags.TeardownTimeout.Name),
		RunInterval:      runInterval,
		RunOnce:          runInterval == 0,
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		Metrics:          metricsCfg,
		Log:              log,
	}, nil
}
