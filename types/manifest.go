package types

import "time"

// ManifestConfig is the on-disk declaration of a set of test cases (YAML or TOML).
type ManifestConfig struct {
	Defaults ManifestDefaults `yaml:"defaults,omitempty" toml:"defaults"`
	Tests    []TestConfig     `yaml:"tests" toml:"tests"`
}

// ManifestDefaults apply to every test that does not override them.
type ManifestDefaults struct {
	Timeout *time.Duration `yaml:"timeout,omitempty" toml:"timeout"`
	Retry   *RetryConfig   `yaml:"retry,omitempty" toml:"retry"`
	Tags    []string       `yaml:"tags,omitempty" toml:"tags"`
}

// RetryConfig mirrors RetryPolicy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" toml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff,omitempty" toml:"backoff"`
	Multiplier  float64       `yaml:"multiplier,omitempty" toml:"multiplier"`
	MaxBackoff  time.Duration `yaml:"max_backoff,omitempty" toml:"max_backoff"`
}

// TestConfig declares a single test. Exactly one of Run, HTTPCheck, RedisPing or Steps is set.
type TestConfig struct {
	Name        string            `yaml:"name" toml:"name"`
	Description string            `yaml:"description,omitempty" toml:"description"`
	Tags        []string          `yaml:"tags,omitempty" toml:"tags"`
	Timeout     *time.Duration    `yaml:"timeout,omitempty" toml:"timeout"`
	Retry       *RetryConfig      `yaml:"retry,omitempty" toml:"retry"`
	Environment EnvironmentConfig `yaml:"environment,omitempty" toml:"environment"`
	Run         *CommandConfig    `yaml:"run,omitempty" toml:"run"`
	HTTPCheck   *HTTPCheckConfig  `yaml:"http_check,omitempty" toml:"http_check"`
	RedisPing   *RedisPingConfig  `yaml:"redis_ping,omitempty" toml:"redis_ping"`
	Steps       []StepConfig      `yaml:"steps,omitempty" toml:"steps"`
}

// StepConfig declares one step of a sequential test body.
type StepConfig struct {
	Name        string           `yaml:"name" toml:"name"`
	Description string           `yaml:"description,omitempty" toml:"description"`
	WaitAfter   time.Duration    `yaml:"wait_after,omitempty" toml:"wait_after"`
	Sleep       time.Duration    `yaml:"sleep,omitempty" toml:"sleep"`
	Run         *CommandConfig   `yaml:"run,omitempty" toml:"run"`
	HTTPCheck   *HTTPCheckConfig `yaml:"http_check,omitempty" toml:"http_check"`
	RedisPing   *RedisPingConfig `yaml:"redis_ping,omitempty" toml:"redis_ping"`

	// StartService and StopService name a process resource of the test's environment.
	StartService string `yaml:"start_service,omitempty" toml:"start_service"`
	StopService  string `yaml:"stop_service,omitempty" toml:"stop_service"`
}

// EnvironmentConfig mirrors EnvironmentDescriptor.
type EnvironmentConfig struct {
	Reusable  bool             `yaml:"reusable,omitempty" toml:"reusable"`
	Resources []ResourceConfig `yaml:"resources,omitempty" toml:"resources"`
}

// ResourceConfig mirrors ResourceSpec.
type ResourceConfig struct {
	Name         string            `yaml:"name" toml:"name"`
	Kind         string            `yaml:"kind" toml:"kind"`
	Shareable    bool              `yaml:"shareable,omitempty" toml:"shareable"`
	Exclusive    bool              `yaml:"exclusive,omitempty" toml:"exclusive"`
	Port         int               `yaml:"port,omitempty" toml:"port"`
	AllocatePort bool              `yaml:"allocate_port,omitempty" toml:"allocate_port"`
	Command      string            `yaml:"command,omitempty" toml:"command"`
	Args         []string          `yaml:"args,omitempty" toml:"args"`
	Env          map[string]string `yaml:"env,omitempty" toml:"env"`
	Dir          string            `yaml:"dir,omitempty" toml:"dir"`
	ReadyTimeout time.Duration     `yaml:"ready_timeout,omitempty" toml:"ready_timeout"`
	StartupDelay time.Duration     `yaml:"startup_delay,omitempty" toml:"startup_delay"`
	StopGrace    time.Duration     `yaml:"stop_grace,omitempty" toml:"stop_grace"`
	Routes       []RouteConfig     `yaml:"routes,omitempty" toml:"routes"`
}

// RouteConfig mirrors Route.
type RouteConfig struct {
	Method string `yaml:"method,omitempty" toml:"method"`
	Path   string `yaml:"path" toml:"path"`
	Status int    `yaml:"status,omitempty" toml:"status"`
	Body   string `yaml:"body,omitempty" toml:"body"`
}

// CommandConfig declares a command run as (part of) a test body.
type CommandConfig struct {
	Command string            `yaml:"command" toml:"command"`
	Args    []string          `yaml:"args,omitempty" toml:"args"`
	Env     map[string]string `yaml:"env,omitempty" toml:"env"`
	Dir     string            `yaml:"dir,omitempty" toml:"dir"`
}

// HTTPCheckConfig declares an HTTP request whose response status is asserted.
type HTTPCheckConfig struct {
	URL          string `yaml:"url" toml:"url"`
	Method       string `yaml:"method,omitempty" toml:"method"`
	ExpectStatus int    `yaml:"expect_status,omitempty" toml:"expect_status"`
	ExpectBody   string `yaml:"expect_body,omitempty" toml:"expect_body"`
}

// RedisPingConfig declares a PING against a redis resource.
type RedisPingConfig struct {
	Resource string `yaml:"resource" toml:"resource"`
}
