package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/ethereum-optimism/op-harness/types"
)

// resource is a live resource owned by a handle.
type resource interface {
	info() *types.Resource
	stop(ctx context.Context) error
}

func (p *Local) start(ctx context.Context, spec types.ResourceSpec, vars map[string]string) (resource, error) {
	var (
		res resource
		err error
	)
	switch spec.Kind {
	case types.ResourceTempDir:
		res, err = startTempDir(spec)
	case types.ResourcePort:
		res, err = p.startPort(spec)
	case types.ResourceProcess:
		res, err = p.startProcess(ctx, spec, vars)
	case types.ResourceRedis:
		res, err = p.startRedis(ctx, spec)
	case types.ResourceHTTPStub:
		res, err = p.startHTTPStub(spec, vars)
	default:
		err = fmt.Errorf("unsupported resource kind %q", spec.Kind)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// expand resolves ${VAR} against the given maps in order. Unknown references are kept.
func expand(s string, layers ...map[string]string) string {
	return types.ExpandVars(s, layers...)
}

// networkVars returns the variables exported by a resource listening on host:port.
func networkVars(name, host string, port int, scheme string) map[string]string {
	prefix := types.VarPrefix(name)
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	vars := map[string]string{
		prefix + "_PORT": strconv.Itoa(port),
		prefix + "_ADDR": addr,
	}
	if scheme != "" {
		vars[prefix+"_URL"] = scheme + "://" + addr
	}
	return vars
}

// listen binds host:port, port 0 picks a free ephemeral port.
func listen(host string, port int) (net.Listener, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if port == 0 {
			return nil, fmt.Errorf("no free port on %s: %w", host, err)
		}
		return nil, fmt.Errorf("port %d unavailable: %w", port, err)
	}
	return ln, nil
}

// reservePort checks that a port can be bound and returns it; port 0 allocates an ephemeral one.
// The port is free again when this returns, the test binds it itself.
func reservePort(host string, port int) (int, error) {
	ln, err := listen(host, port)
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

type tempDir struct {
	res *types.Resource
}

func startTempDir(spec types.ResourceSpec) (*tempDir, error) {
	dir, err := os.MkdirTemp("", "op-harness-"+types.VarPrefix(spec.Name)+"-")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	return &tempDir{res: &types.Resource{
		Name: spec.Name,
		Kind: spec.Kind,
		Path: dir,
		Vars: map[string]string{types.VarPrefix(spec.Name) + "_DIR": dir},
	}}, nil
}

func (t *tempDir) info() *types.Resource { return t.res }

func (t *tempDir) stop(context.Context) error {
	return os.RemoveAll(t.res.Path)
}

type portResource struct {
	res *types.Resource
}

func (p *Local) startPort(spec types.ResourceSpec) (*portResource, error) {
	n, err := reservePort(p.config.Host, spec.Port)
	if err != nil {
		return nil, err
	}
	return &portResource{res: &types.Resource{
		Name: spec.Name,
		Kind: spec.Kind,
		Addr: net.JoinHostPort(p.config.Host, strconv.Itoa(n)),
		Port: n,
		Vars: networkVars(spec.Name, p.config.Host, n, ""),
	}}, nil
}

func (r *portResource) info() *types.Resource { return r.res }

func (r *portResource) stop(context.Context) error { return nil }

type redisServer struct {
	srv *miniredis.Miniredis
	res *types.Resource
}

func (p *Local) startRedis(ctx context.Context, spec types.ResourceSpec) (*redisServer, error) {
	srv := miniredis.NewMiniRedis()
	if err := srv.StartAddr(net.JoinHostPort(p.config.Host, strconv.Itoa(spec.Port))); err != nil {
		return nil, fmt.Errorf("starting redis: %w", err)
	}
	_, portStr, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		srv.Close()
		return nil, err
	}
	n, _ := strconv.Atoi(portStr)

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	pingCtx, cancel := context.WithTimeout(ctx, p.config.ReadyTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		srv.Close()
		return nil, fmt.Errorf("redis readiness check: %w", err)
	}

	return &redisServer{srv: srv, res: &types.Resource{
		Name: spec.Name,
		Kind: spec.Kind,
		Addr: srv.Addr(),
		Port: n,
		Vars: networkVars(spec.Name, p.config.Host, n, "redis"),
	}}, nil
}

func (r *redisServer) info() *types.Resource { return r.res }

func (r *redisServer) stop(context.Context) error {
	r.srv.Close()
	return nil
}

type httpStub struct {
	srv  *http.Server
	done chan error
	res  *types.Resource
}

func (p *Local) startHTTPStub(spec types.ResourceSpec, vars map[string]string) (*httpStub, error) {
	router := mux.NewRouter()
	for _, route := range spec.Routes {
		status := route.Status
		if status == 0 {
			status = http.StatusOK
		}
		body := []byte(expand(route.Body, vars))
		r := router.HandleFunc(route.Path, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write(body)
		})
		if route.Method != "" {
			r.Methods(strings.ToUpper(route.Method))
		}
	}

	ln, err := listen(p.config.Host, spec.Port)
	if err != nil {
		return nil, err
	}
	n := ln.Addr().(*net.TCPAddr).Port
	stub := &httpStub{
		srv: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		done: make(chan error, 1),
		res: &types.Resource{
			Name: spec.Name,
			Kind: spec.Kind,
			Addr: ln.Addr().String(),
			Port: n,
			Vars: networkVars(spec.Name, p.config.Host, n, "http"),
		},
	}
	go func() {
		stub.done <- stub.srv.Serve(ln)
	}()
	return stub, nil
}

func (s *httpStub) info() *types.Resource { return s.res }

func (s *httpStub) stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
		return fmt.Errorf("shutting down http stub: %w", err)
	}
	if err := <-s.done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
