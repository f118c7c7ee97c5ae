package flags

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/ethereum-optimism/op-harness/reporting"
)

const EnvVarPrefix = "OP_HARNESS"

var (
	Manifest = &cli.StringSliceFlag{
		Name:     "manifest",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "MANIFEST"),
		Usage:    "Path to a test manifest (eg. 'tests.yaml' or 'tests.toml'). May be repeated.",
	}
	Run = &cli.StringSliceFlag{
		Name:    "run",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN"),
		Usage:   "Only run tests whose name matches this glob (eg. 'redis/**'). May be repeated.",
	}
	Tag = &cli.StringSliceFlag{
		Name:    "tag",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TAG"),
		Usage:   "Only run tests carrying at least one of these tags. May be repeated.",
	}
	SkipTag = &cli.StringSliceFlag{
		Name:    "skip-tag",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SKIP_TAG"),
		Usage:   "Do not run tests carrying any of these tags. May be repeated.",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of concurrent test workers (0 = auto-determine based on system capabilities)",
	}
	Timeout = &cli.DurationFlag{
		Name:    "timeout",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TIMEOUT"),
		Usage:   "Ceiling for the whole run (e.g. '10m'). Set to 0 to disable.",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   5 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEFAULT_TIMEOUT"),
		Usage:   "Timeout for tests that do not declare one. Set to 0 to disable.",
	}
	FailFast = &cli.BoolFlag{
		Name:    "fail-fast",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAIL_FAST"),
		Usage:   "Stop dispatching new tests after the first failure",
	}
	Format = &cli.StringFlag{
		Name:    "format",
		Value:   reporting.FormatTable,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FORMAT"),
		Usage:   fmt.Sprintf("Output format of the run report. Must be one of: %s", strings.Join(reporting.Formats, ", ")),
		Action: func(ctx *cli.Context, v string) error {
			return validateFormat(v)
		},
	}
	ReportFile = &cli.StringFlag{
		Name:    "report-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORT_FILE"),
		Usage:   "Write a JSON report with one record per test to this path",
	}
	List = &cli.BoolFlag{
		Name:    "list",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LIST"),
		Usage:   "Print the names of the selected tests and exit",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOGDIR"),
		Usage:   "Directory to store the output of provisioned processes",
	}
	TeardownTimeout = &cli.DurationFlag{
		Name:    "teardown-timeout",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEARDOWN_TIMEOUT"),
		Usage:   "Maximum time spent releasing one test environment",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates while tests are running",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
)

var requiredFlags = []cli.Flag{
	Manifest,
}

var optionalFlags = []cli.Flag{
	Run,
	Tag,
	SkipTag,
	Concurrency,
	Timeout,
	DefaultTimeout,
	FailFast,
	Format,
	ReportFile,
	List,
	LogDir,
	TeardownTimeout,
	RunInterval,
	ShowProgress,
	ProgressInterval,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}

func validateFormat(v string) error {
	for _, f := range reporting.Formats {
		if strings.EqualFold(v, f) {
			return nil
		}
	}
	return fmt.Errorf("format must be one of: %s", strings.Join(reporting.Formats, ", "))
}
