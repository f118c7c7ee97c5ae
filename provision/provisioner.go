// Package provision brings up and tears down the resources a test needs.
//
// A Provisioner turns a declarative types.EnvironmentDescriptor into a live Handle. The consumer
// owns the handle exclusively and must call Release on every exit path; Release is idempotent.
// Exclusive resources (fixed ports, resources marked exclusive) are serialized internally, so
// callers never coordinate access to scarce resources themselves.
package provision

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/op-harness/metrics"
	"github.com/ethereum-optimism/op-harness/types"
)

const (
	DefaultHost            = "127.0.0.1"
	DefaultReadyTimeout    = 10 * time.Second
	DefaultStopGrace       = 5 * time.Second
	DefaultTeardownTimeout = 30 * time.Second
)

// Handle is a live environment. It is exclusively owned by the caller of Provision.
type Handle interface {
	types.Environment
	// ID uniquely identifies the handle for logging.
	ID() string
	// Release tears the environment down. Only the first call does any work, later calls return
	// the first result.
	Release(ctx context.Context) error
}

// Provisioner turns environment descriptors into live handles.
type Provisioner interface {
	Provision(ctx context.Context, desc types.EnvironmentDescriptor) (Handle, error)
}

// Config contains provisioner configuration
type Config struct {
	Log log.Logger
	// Host is the interface network resources bind to.
	Host string
	// LogDir receives one log file per process resource, empty keeps output in memory only.
	LogDir          string
	ReadyTimeout    time.Duration
	StopGrace       time.Duration
	TeardownTimeout time.Duration
}

// Local provisions resources on the local machine.
type Local struct {
	config Config
	log    log.Logger
	locks  *keyedLocks

	mu      sync.Mutex
	closed  bool
	shared  map[string]*sharedEntry
	handles map[string]*handle
}

var _ Provisioner = (*Local)(nil)

// NewLocal creates a provisioner for local resources.
func NewLocal(cfg Config) *Local {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}
	return &Local{
		config:  cfg,
		log:     cfg.Log.New("component", "provisioner"),
		locks:   newKeyedLocks(),
		shared:  make(map[string]*sharedEntry),
		handles: make(map[string]*handle),
	}
}

// Provision brings up every resource of the descriptor in declaration order. Later resources may
// reference the variables of earlier ones. If any resource fails, the ones already started are
// released and a *ProvisionError is returned.
func (p *Local) Provision(ctx context.Context, desc types.EnvironmentDescriptor) (Handle, error) {
	if err := desc.Validate(); err != nil {
		return nil, &ProvisionError{Err: err}
	}
	if p.isClosed() {
		return nil, &ProvisionError{Err: ErrClosed}
	}

	h := &handle{
		id:       uuid.NewString(),
		provider: p,
	}
	logger := p.log.New("handle", h.id)

	unlock, err := p.locks.acquire(ctx, desc.ExclusiveKeys())
	if err != nil {
		return nil, &ProvisionError{Err: err}
	}
	h.unlock = unlock

	vars := make(map[string]string)
	resources := make([]*types.Resource, 0, len(desc.Resources))
	for _, spec := range desc.Resources {
		start := time.Now()
		res, err := p.acquire(ctx, spec, vars)
		metrics.RecordResourceProvisioned(spec.Kind, err, time.Since(start))
		if err != nil {
			logger.Warn("Failed to provision resource", "resource", spec.Name, "kind", spec.Kind, "err", err)
			p.abandon(h)
			return nil, &ProvisionError{Resource: spec.Name, Kind: spec.Kind, Err: err}
		}
		h.owned = append(h.owned, owned{spec: spec, res: res, vars: maps.Clone(vars)})

		info := res.info()
		for k, v := range info.Vars {
			vars[k] = v
		}
		resources = append(resources, info)
		logger.Debug("Provisioned resource", "resource", spec.Name, "kind", spec.Kind, "addr", info.Addr, "path", info.Path, "duration", time.Since(start))
	}
	h.StaticEnvironment = types.NewStaticEnvironment(resources...)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.abandon(h)
		return nil, &ProvisionError{Err: ErrClosed}
	}
	p.handles[h.id] = h
	p.mu.Unlock()

	metrics.EnvironmentAcquired()
	logger.Debug("Environment ready", "resources", len(resources))
	return h, nil
}

// Outstanding returns the number of handles not yet released.
func (p *Local) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// ReleaseAll releases every outstanding handle. The provisioner stays usable.
func (p *Local) ReleaseAll(ctx context.Context) error {
	p.mu.Lock()
	pending := make([]*handle, 0, len(p.handles))
	for _, h := range p.handles {
		pending = append(pending, h)
	}
	p.mu.Unlock()

	if len(pending) > 0 {
		p.log.Warn("Releasing outstanding environments", "count", len(pending))
	}
	var errs []error
	for _, h := range pending {
		if err := h.Release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("environment %s: %w", h.id, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every outstanding handle and rejects further provisioning.
func (p *Local) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.ReleaseAll(ctx)
}

func (p *Local) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// acquire starts a resource, or joins an already running one when it is shareable.
func (p *Local) acquire(ctx context.Context, spec types.ResourceSpec, vars map[string]string) (resource, error) {
	if spec.Shareable {
		return p.acquireShared(ctx, spec, vars)
	}
	return p.start(ctx, spec, vars)
}

// abandon tears down a handle that never reached the caller.
func (p *Local) abandon(h *handle) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.TeardownTimeout)
	defer cancel()
	if err := h.teardown(ctx); err != nil {
		p.log.Warn("Failed to release partially provisioned environment", "handle", h.id, "err", err)
	}
}

// forget drops a released handle from the outstanding set.
func (p *Local) forget(h *handle) {
	p.mu.Lock()
	_, ok := p.handles[h.id]
	delete(p.handles, h.id)
	p.mu.Unlock()
	if ok {
		metrics.EnvironmentReleased()
	}
}

// sharedEntry is a shareable resource referenced by one or more handles.
type sharedEntry struct {
	ready chan struct{}
	res   resource
	err   error
	refs  int
}

func sharedKey(spec types.ResourceSpec) string {
	return fmt.Sprintf("%s:%s", spec.Kind, spec.Name)
}

// acquireShared returns the running instance of a shareable resource, starting it on first use.
// The first declaration of a (kind, name) pair determines its configuration.
func (p *Local) acquireShared(ctx context.Context, spec types.ResourceSpec, vars map[string]string) (resource, error) {
	key := sharedKey(spec)

	p.mu.Lock()
	e, ok := p.shared[key]
	if !ok {
		e = &sharedEntry{ready: make(chan struct{}), refs: 1}
		p.shared[key] = e
		p.mu.Unlock()

		res, err := p.start(ctx, spec, vars)
		p.mu.Lock()
		e.res, e.err = res, err
		if err != nil {
			delete(p.shared, key)
		}
		close(e.ready)
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return &sharedRef{key: key, entry: e, provider: p}, nil
	}
	e.refs++
	p.mu.Unlock()

	select {
	case <-e.ready:
	case <-ctx.Done():
		_ = (&sharedRef{key: key, entry: e, provider: p}).stop(context.Background())
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, fmt.Errorf("shared resource failed to start: %w", e.err)
	}
	p.log.Debug("Joined shared resource", "resource", spec.Name, "kind", spec.Kind)
	return &sharedRef{key: key, entry: e, provider: p}, nil
}

// sharedRef is one handle's reference to a shared resource. Stopping it only stops the underlying
// resource when it is the last reference.
type sharedRef struct {
	key      string
	entry    *sharedEntry
	provider *Local
}

func (s *sharedRef) info() *types.Resource {
	return s.entry.res.info()
}

func (s *sharedRef) stop(ctx context.Context) error {
	p := s.provider
	p.mu.Lock()
	s.entry.refs--
	last := s.entry.refs == 0 && p.shared[s.key] == s.entry
	if last {
		delete(p.shared, s.key)
	}
	p.mu.Unlock()

	if !last || s.entry.res == nil {
		return nil
	}
	p.log.Debug("Stopping shared resource", "key", s.key)
	return s.entry.res.stop(ctx)
}
