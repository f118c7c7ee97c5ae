package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum-optimism/op-harness/metrics"
	"github.com/ethereum-optimism/op-harness/types"
)

var errReleased = errors.New("environment already released")

type owned struct {
	spec types.ResourceSpec
	res  resource
	// vars are the variables of the earlier resources, needed to start a process again.
	vars map[string]string
	// stopped is set while a process resource is stopped by the test.
	stopped bool
}

type handle struct {
	*types.StaticEnvironment

	id       string
	provider *Local
	unlock   func()

	mu       sync.Mutex
	owned    []owned
	released bool

	once sync.Once
	err  error
}

var (
	_ Handle                  = (*handle)(nil)
	_ types.ServiceController = (*handle)(nil)
)

func (h *handle) ID() string {
	return h.id
}

func (h *handle) Release(ctx context.Context) error {
	h.once.Do(func() {
		h.err = h.teardown(ctx)
		h.provider.forget(h)
		if h.err != nil {
			h.provider.log.Warn("Environment released with errors", "handle", h.id, "err", h.err)
		} else {
			h.provider.log.Debug("Environment released", "handle", h.id)
		}
	})
	return h.err
}

func (h *handle) StopService(ctx context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	o, proc, err := h.service(name)
	if err != nil {
		return err
	}
	if o.stopped {
		return fmt.Errorf("service %s is not running", name)
	}
	o.stopped = true
	if err := proc.stop(ctx); err != nil {
		return fmt.Errorf("stopping service %s: %w", name, err)
	}
	h.provider.log.Debug("Service stopped", "handle", h.id, "resource", name)
	return nil
}

func (h *handle) StartService(ctx context.Context, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	o, proc, err := h.service(name)
	if err != nil {
		return err
	}
	if !o.stopped {
		return fmt.Errorf("service %s is already running", name)
	}
	// Keep the port so the variables handed out at provisioning stay valid.
	spec := o.spec
	spec.Port, spec.AllocatePort = proc.info().Port, false
	restarted, err := h.provider.startProcess(ctx, spec, o.vars)
	if err != nil {
		return fmt.Errorf("starting service %s: %w", name, err)
	}
	o.res = restarted
	o.stopped = false
	h.provider.log.Debug("Service started", "handle", h.id, "resource", name, "addr", restarted.info().Addr)
	return nil
}

// service looks up a process resource owned by this handle. Shared processes are not controllable.
func (h *handle) service(name string) (*owned, *process, error) {
	if h.released {
		return nil, nil, errReleased
	}
	for i := range h.owned {
		o := &h.owned[i]
		if o.spec.Name != name {
			continue
		}
		proc, ok := o.res.(*process)
		if !ok {
			return nil, nil, fmt.Errorf("resource %s is not a service that can be stopped", name)
		}
		return o, proc, nil
	}
	return nil, nil, fmt.Errorf("unknown service %s", name)
}

// teardown stops resources in reverse declaration order, then gives up the exclusive locks.
// Services stopped by the test are skipped.
func (h *handle) teardown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for i := len(h.owned) - 1; i >= 0; i-- {
		o := h.owned[i]
		if o.stopped {
			continue
		}
		if err := o.res.stop(ctx); err != nil {
			metrics.RecordTeardownError(o.spec.Kind)
			errs = append(errs, fmt.Errorf("releasing %s resource %s: %w", o.spec.Kind, o.spec.Name, err))
		}
	}
	h.owned = nil
	h.released = true
	if h.unlock != nil {
		h.unlock()
		h.unlock = nil
	}
	if len(errs) > 0 {
		return &TeardownError{Errs: errs}
	}
	return nil
}
