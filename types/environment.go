package types

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ResourceKind names a kind of resource the provisioner knows how to bring up
type ResourceKind string

const (
	ResourceTempDir  ResourceKind = "tempdir"
	ResourcePort     ResourceKind = "port"
	ResourceProcess  ResourceKind = "process"
	ResourceRedis    ResourceKind = "redis"
	ResourceHTTPStub ResourceKind = "http-stub"
)

// ResourceKinds lists the supported kinds.
var ResourceKinds = []ResourceKind{
	ResourceTempDir,
	ResourcePort,
	ResourceProcess,
	ResourceRedis,
	ResourceHTTPStub,
}

// IsValid reports whether the kind is supported.
func (k ResourceKind) IsValid() bool {
	for _, known := range ResourceKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Route is a canned response served by an http-stub resource.
type Route struct {
	Method string
	Path   string
	Status int
	Body   string
}

// ResourceSpec declares one resource of an environment.
type ResourceSpec struct {
	Name string
	Kind ResourceKind

	// Shareable resources are provisioned once and handed to every concurrent test asking for the
	// same (kind, name); they must be treated as read-only.
	Shareable bool
	// Exclusive resources are never held by two environments at the same time.
	Exclusive bool

	Port         int  // Fixed port, implies Exclusive
	AllocatePort bool // Allocate an ephemeral port (process resources)

	Command string
	Args    []string
	Env     map[string]string
	Dir     string

	ReadyTimeout time.Duration // How long to wait for a process port to accept connections
	StartupDelay time.Duration // Fixed wait after starting a process
	StopGrace    time.Duration // Time between interrupt and kill on teardown

	Routes []Route
}

// IsExclusive reports whether the provisioner must serialize access to this resource.
func (r ResourceSpec) IsExclusive() bool {
	return r.Exclusive || r.Port > 0
}

// ExclusiveKey returns the lock key used to serialize exclusive resources.
func (r ResourceSpec) ExclusiveKey() string {
	if r.Port > 0 {
		return fmt.Sprintf("port:%d", r.Port)
	}
	return fmt.Sprintf("%s:%s", r.Kind, r.Name)
}

// Validate checks the resource declaration.
func (r ResourceSpec) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("resource name cannot be empty")
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("resource %s has unknown kind %q", r.Name, r.Kind)
	}
	if r.Port < 0 || r.Port > 65535 {
		return fmt.Errorf("resource %s has invalid port %d", r.Name, r.Port)
	}
	if r.Kind == ResourceProcess && r.Command == "" {
		return fmt.Errorf("process resource %s has no command", r.Name)
	}
	if r.Shareable && r.IsExclusive() {
		return fmt.Errorf("resource %s cannot be both shareable and exclusive", r.Name)
	}
	for _, route := range r.Routes {
		if route.Path == "" {
			return fmt.Errorf("resource %s has a route without a path", r.Name)
		}
	}
	return nil
}

// EnvironmentDescriptor declares everything a test needs. It carries no live state.
type EnvironmentDescriptor struct {
	Resources []ResourceSpec
	// Reusable environments are kept across retry attempts instead of being re-provisioned.
	Reusable bool
}

// IsEmpty reports whether no resources are required.
func (d EnvironmentDescriptor) IsEmpty() bool {
	return len(d.Resources) == 0
}

// Validate checks every resource and rejects duplicate resource names.
func (d EnvironmentDescriptor) Validate() error {
	seen := make(map[string]struct{}, len(d.Resources))
	for _, r := range d.Resources {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, ok := seen[r.Name]; ok {
			return fmt.Errorf("duplicate resource name %s", r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// ExclusiveKeys returns the sorted, de-duplicated lock keys of the exclusive resources.
func (d EnvironmentDescriptor) ExclusiveKeys() []string {
	set := make(map[string]struct{})
	for _, r := range d.Resources {
		if r.IsExclusive() {
			set[r.ExclusiveKey()] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the descriptor.
func (d EnvironmentDescriptor) Clone() EnvironmentDescriptor {
	out := EnvironmentDescriptor{Reusable: d.Reusable}
	for _, r := range d.Resources {
		c := r
		c.Args = append([]string(nil), r.Args...)
		c.Routes = append([]Route(nil), r.Routes...)
		if r.Env != nil {
			c.Env = make(map[string]string, len(r.Env))
			for k, v := range r.Env {
				c.Env[k] = v
			}
		}
		out.Resources = append(out.Resources, c)
	}
	return out
}

// Resource is a live resource inside a provisioned environment.
type Resource struct {
	Name string
	Kind ResourceKind
	Addr string // host:port for network resources
	Port int
	Path string // directory for tempdir resources
	Vars map[string]string
}

// Environment is the view of a provisioned environment handed to test bodies.
type Environment interface {
	// Resource looks up a live resource by its declared name.
	Resource(name string) (*Resource, bool)
	// Vars returns the variables exported by all resources, keyed by variable name.
	Vars() map[string]string
	// Expand substitutes ${VAR} and $VAR references to exported variables. References to unknown
	// variables are left untouched.
	Expand(s string) string
}

// ServiceController is implemented by environments whose process resources a test may stop and
// start again, e.g. to check how a client copes with a restarting server.
type ServiceController interface {
	// StopService stops a running process resource. Its variables stay valid.
	StopService(ctx context.Context, name string) error
	// StartService starts a stopped process resource again on the same port and waits until it is
	// ready.
	StartService(ctx context.Context, name string) error
}

// VarPrefix converts a resource name into the prefix of its exported variables,
// e.g. "web-server" becomes "WEB_SERVER".
func VarPrefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// StaticEnvironment is an Environment over a fixed set of resources.
type StaticEnvironment struct {
	resources map[string]*Resource
	vars      map[string]string
}

var _ Environment = (*StaticEnvironment)(nil)

// NewStaticEnvironment indexes resources by name and merges their variables.
// Later resources win on variable collisions.
func NewStaticEnvironment(resources ...*Resource) *StaticEnvironment {
	env := &StaticEnvironment{
		resources: make(map[string]*Resource, len(resources)),
		vars:      make(map[string]string),
	}
	for _, r := range resources {
		env.resources[r.Name] = r
		for k, v := range r.Vars {
			env.vars[k] = v
		}
	}
	return env
}

func (e *StaticEnvironment) Resource(name string) (*Resource, bool) {
	r, ok := e.resources[name]
	return r, ok
}

func (e *StaticEnvironment) Vars() map[string]string {
	out := make(map[string]string, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

// Expand substitutes references to the environment's variables and leaves every other one as is.
func (e *StaticEnvironment) Expand(s string) string {
	return ExpandVars(s, e.vars)
}
