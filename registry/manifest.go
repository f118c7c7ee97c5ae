package registry

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/op-harness/bodies"
	"github.com/ethereum-optimism/op-harness/types"
)

// LoadFile reads a manifest and registers every test it declares, in file order.
func (r *Registry) LoadFile(path string) error {
	tcs, err := LoadManifest(path, r.config.Log)
	if err != nil {
		return err
	}
	if err := r.RegisterAll(tcs); err != nil {
		return fmt.Errorf("registering tests from %s: %w", path, err)
	}
	r.config.Log.Info("Loaded test manifest", "path", path, "tests", len(tcs))
	return nil
}

// LoadManifest parses a YAML (.yaml, .yml) or TOML (.toml) manifest into test cases. Relative
// working directories are resolved against the manifest's directory.
func LoadManifest(path string, logger log.Logger) ([]types.TestCase, error) {
	logger.Debug("Reading test manifest", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	cfg, err := parseManifest(path, data)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolving manifest directory: %w", err)
	}
	b := &builder{baseDir: baseDir, defaults: cfg.Defaults, log: logger}

	tcs := make([]types.TestCase, 0, len(cfg.Tests))
	for i, tc := range cfg.Tests {
		built, err := b.testCase(tc)
		if err != nil {
			return nil, fmt.Errorf("manifest %s test #%d: %w", path, i+1, err)
		}
		tcs = append(tcs, built)
	}
	return tcs, nil
}

func parseManifest(path string, data []byte) (*types.ManifestConfig, error) {
	var cfg types.ManifestConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, err
		}
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown field %s", undecoded[0])
		}
	default:
		return nil, fmt.Errorf("unsupported manifest extension %q", ext)
	}
	return &cfg, nil
}

type builder struct {
	baseDir  string
	defaults types.ManifestDefaults
	log      log.Logger
}

func (b *builder) testCase(cfg types.TestConfig) (types.TestCase, error) {
	if cfg.Name == "" {
		return types.TestCase{}, errors.New("test name is required")
	}

	body, err := b.body(cfg.Name, cfg.Run, cfg.HTTPCheck, cfg.RedisPing, cfg.Steps, cfg.Environment)
	if err != nil {
		return types.TestCase{}, fmt.Errorf("test %s: %w", cfg.Name, err)
	}

	tc := types.TestCase{
		Name:        cfg.Name,
		Description: cfg.Description,
		Tags:        mergeTags(b.defaults.Tags, cfg.Tags),
		Environment: b.environment(cfg.Environment),
		Body:        body,
	}
	if cfg.Timeout != nil {
		tc.Timeout = *cfg.Timeout
	} else if b.defaults.Timeout != nil {
		tc.Timeout = *b.defaults.Timeout
	}
	if retry := cfg.Retry; retry != nil {
		tc.Retry = retryPolicy(*retry)
	} else if b.defaults.Retry != nil {
		tc.Retry = retryPolicy(*b.defaults.Retry)
	}
	return tc, nil
}

// body builds the single body declared for a test or step.
func (b *builder) body(name string, run *types.CommandConfig, check *types.HTTPCheckConfig, ping *types.RedisPingConfig, steps []types.StepConfig, env types.EnvironmentConfig) (types.TestBody, error) {
	var declared []types.TestBody
	if run != nil {
		if run.Command == "" {
			return nil, errors.New("run requires a command")
		}
		declared = append(declared, &bodies.Exec{
			Command: run.Command,
			Args:    run.Args,
			Env:     run.Env,
			Dir:     b.resolveDir(run.Dir),
		})
	}
	if check != nil {
		if check.URL == "" {
			return nil, errors.New("http_check requires a url")
		}
		declared = append(declared, &bodies.HTTPCheck{
			URL:          check.URL,
			Method:       check.Method,
			ExpectStatus: check.ExpectStatus,
			ExpectBody:   check.ExpectBody,
		})
	}
	if ping != nil {
		if ping.Resource == "" {
			return nil, errors.New("redis_ping requires a resource")
		}
		declared = append(declared, &bodies.RedisPing{Resource: ping.Resource})
	}
	if len(steps) > 0 {
		s, err := b.steps(name, steps, env)
		if err != nil {
			return nil, err
		}
		declared = append(declared, s)
	}

	switch len(declared) {
	case 0:
		return nil, errors.New("no body declared, expected one of run, http_check, redis_ping or steps")
	case 1:
		return declared[0], nil
	default:
		return nil, errors.New("more than one body declared")
	}
}

func (b *builder) steps(name string, configs []types.StepConfig, env types.EnvironmentConfig) (*bodies.Steps, error) {
	s := &bodies.Steps{Log: b.log.New("test", name)}
	for i, cfg := range configs {
		stepName := cfg.Name
		if stepName == "" {
			stepName = fmt.Sprintf("step-%d", i+1)
		}
		step := bodies.Step{
			Name:        stepName,
			Description: cfg.Description,
			WaitAfter:   cfg.WaitAfter,
		}
		bodyDeclared := cfg.Run != nil || cfg.HTTPCheck != nil || cfg.RedisPing != nil
		serviceDeclared := cfg.StartService != "" || cfg.StopService != ""
		switch {
		case cfg.Sleep > 0:
			if bodyDeclared || serviceDeclared {
				return nil, fmt.Errorf("step %s: sleep cannot be combined with another action", stepName)
			}
			step.Body = bodies.Sleep(cfg.Sleep)
		case serviceDeclared:
			if bodyDeclared || (cfg.StartService != "" && cfg.StopService != "") {
				return nil, fmt.Errorf("step %s: start_service and stop_service cannot be combined with another action", stepName)
			}
			body, err := serviceStep(cfg, env)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", stepName, err)
			}
			step.Body = body
		default:
			body, err := b.body(name, cfg.Run, cfg.HTTPCheck, cfg.RedisPing, nil, env)
			if err != nil {
				return nil, fmt.Errorf("step %s: %w", stepName, err)
			}
			step.Body = body
		}
		s.Steps = append(s.Steps, step)
	}
	return s, nil
}

// serviceStep builds a start_service or stop_service step. The service must be an unshared
// process resource of the test's own environment.
func serviceStep(cfg types.StepConfig, env types.EnvironmentConfig) (types.TestBody, error) {
	name := cfg.StartService
	if cfg.StopService != "" {
		name = cfg.StopService
	}
	idx := slices.IndexFunc(env.Resources, func(rc types.ResourceConfig) bool { return rc.Name == name })
	if idx < 0 {
		return nil, fmt.Errorf("service %s is not a resource of the environment", name)
	}
	if rc := env.Resources[idx]; types.ResourceKind(rc.Kind) != types.ResourceProcess || rc.Shareable {
		return nil, fmt.Errorf("service %s must be an unshared process resource", name)
	}
	if cfg.StopService != "" {
		return &bodies.StopService{Resource: name}, nil
	}
	return &bodies.StartService{Resource: name}, nil
}

func (b *builder) environment(cfg types.EnvironmentConfig) types.EnvironmentDescriptor {
	desc := types.EnvironmentDescriptor{Reusable: cfg.Reusable}
	for _, rc := range cfg.Resources {
		spec := types.ResourceSpec{
			Name:         rc.Name,
			Kind:         types.ResourceKind(rc.Kind),
			Shareable:    rc.Shareable,
			Exclusive:    rc.Exclusive,
			Port:         rc.Port,
			AllocatePort: rc.AllocatePort,
			Command:      rc.Command,
			Args:         rc.Args,
			Env:          rc.Env,
			ReadyTimeout: rc.ReadyTimeout,
			StartupDelay: rc.StartupDelay,
			StopGrace:    rc.StopGrace,
		}
		if spec.Kind == types.ResourceProcess {
			spec.Dir = b.resolveDir(rc.Dir)
		}
		for _, route := range rc.Routes {
			spec.Routes = append(spec.Routes, types.Route(route))
		}
		desc.Resources = append(desc.Resources, spec)
	}
	return desc
}

// resolveDir anchors relative directories at the manifest. Directories referencing variables are
// left alone, they are expanded against the environment at run time.
func (b *builder) resolveDir(dir string) string {
	switch {
	case dir == "":
		return b.baseDir
	case strings.Contains(dir, "$"), filepath.IsAbs(dir):
		return dir
	default:
		return filepath.Join(b.baseDir, dir)
	}
}

func retryPolicy(cfg types.RetryConfig) types.RetryPolicy {
	return types.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.Backoff,
		Multiplier:  cfg.Multiplier,
		MaxBackoff:  cfg.MaxBackoff,
	}
}

func mergeTags(defaults, tags []string) []string {
	seen := make(map[string]struct{}, len(defaults)+len(tags))
	var out []string
	for _, list := range [][]string{defaults, tags} {
		for _, t := range list {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
