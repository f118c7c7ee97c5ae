package provision

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/op-harness/types"
)

func newTestProvisioner(t *testing.T) *Local {
	t.Helper()
	p := NewLocal(Config{
		Log:          log.NewLogger(log.DiscardHandler()),
		LogDir:       t.TempDir(),
		ReadyTimeout: 2 * time.Second,
		StopGrace:    time.Second,
	})
	t.Cleanup(func() {
		require.NoError(t, p.Close(context.Background()))
	})
	return p
}

func descriptor(resources ...types.ResourceSpec) types.EnvironmentDescriptor {
	return types.EnvironmentDescriptor{Resources: resources}
}

func freePort(t *testing.T) int {
	t.Helper()
	n, err := reservePort(DefaultHost, 0)
	require.NoError(t, err)
	return n
}

func TestProvisionTempDir(t *testing.T) {
	p := newTestProvisioner(t)
	h, err := p.Provision(context.Background(), descriptor(types.ResourceSpec{Name: "data", Kind: types.ResourceTempDir}))
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID())
	assert.Equal(t, 1, p.Outstanding())

	res, ok := h.Resource("data")
	require.True(t, ok)
	assert.DirExists(t, res.Path)
	assert.Equal(t, res.Path, h.Vars()["DATA_DIR"])
	assert.Equal(t, res.Path+"/x", h.Expand("${DATA_DIR}/x"))

	require.NoError(t, h.Release(context.Background()))
	assert.NoDirExists(t, res.Path)
	assert.Equal(t, 0, p.Outstanding())

	// Idempotent
	require.NoError(t, h.Release(context.Background()))
}

func TestProvisionEmptyDescriptor(t *testing.T) {
	p := newTestProvisioner(t)
	h, err := p.Provision(context.Background(), types.EnvironmentDescriptor{})
	require.NoError(t, err)
	assert.Empty(t, h.Vars())
	require.NoError(t, h.Release(context.Background()))
}

func TestProvisionInvalidDescriptor(t *testing.T) {
	p := newTestProvisioner(t)
	_, err := p.Provision(context.Background(), descriptor(types.ResourceSpec{Name: "x", Kind: "database"}))
	require.Error(t, err)
	var perr *ProvisionError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestProvisionPortVariables(t *testing.T) {
	p := newTestProvisioner(t)
	h, err := p.Provision(context.Background(), descriptor(types.ResourceSpec{Name: "rpc-node", Kind: types.ResourcePort}))
	require.NoError(t, err)
	defer h.Release(context.Background())

	res, ok := h.Resource("rpc-node")
	require.True(t, ok)
	assert.Greater(t, res.Port, 0)
	vars := h.Vars()
	assert.Equal(t, res.Addr, vars["RPC_NODE_ADDR"])
	assert.NotEmpty(t, vars["RPC_NODE_PORT"])
}

func TestExclusivePortIsSerialized(t *testing.T) {
	p := newTestProvisioner(t)
	desc := descriptor(types.ResourceSpec{Name: "rpc", Kind: types.ResourcePort, Port: freePort(t)})

	first, err := p.Provision(context.Background(), desc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = p.Provision(ctx, desc)
	require.Error(t, err)
	var perr *ProvisionError
	require.True(t, errors.As(err, &perr))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	// A waiter is admitted once the holder releases
	acquired := make(chan Handle, 1)
	go func() {
		h, err := p.Provision(context.Background(), desc)
		assert.NoError(t, err)
		acquired <- h
	}()
	select {
	case <-acquired:
		t.Fatal("second environment acquired an exclusive port while it was held")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, first.Release(context.Background()))
	select {
	case h := <-acquired:
		require.NoError(t, h.Release(context.Background()))
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not admitted after release")
	}
}

func TestExclusiveNeverHeldConcurrently(t *testing.T) {
	p := newTestProvisioner(t)
	desc := descriptor(types.ResourceSpec{Name: "db", Kind: types.ResourceTempDir, Exclusive: true})

	var holders, maxHolders atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := p.Provision(context.Background(), desc)
			if !assert.NoError(t, err) {
				return
			}
			n := holders.Add(1)
			for {
				m := maxHolders.Load()
				if n <= m || maxHolders.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			holders.Add(-1)
			assert.NoError(t, h.Release(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxHolders.Load())
}

func TestShareableRedisIsReferenceCounted(t *testing.T) {
	p := newTestProvisioner(t)
	desc := descriptor(types.ResourceSpec{Name: "cache", Kind: types.ResourceRedis, Shareable: true})

	h1, err := p.Provision(context.Background(), desc)
	require.NoError(t, err)
	h2, err := p.Provision(context.Background(), desc)
	require.NoError(t, err)

	r1, _ := h1.Resource("cache")
	r2, _ := h2.Resource("cache")
	require.Equal(t, r1.Addr, r2.Addr)
	assert.Equal(t, "redis://"+r1.Addr, h1.Vars()["CACHE_URL"])

	client := redis.NewClient(&redis.Options{Addr: r1.Addr, MaxRetries: -1})
	defer client.Close()
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())

	require.NoError(t, h1.Release(context.Background()))
	got, err := client.Get(context.Background(), "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, h2.Release(context.Background()))
	assert.Error(t, client.Ping(context.Background()).Err())
}

func TestUnsharedRedisInstancesAreIsolated(t *testing.T) {
	p := newTestProvisioner(t)
	desc := descriptor(types.ResourceSpec{Name: "cache", Kind: types.ResourceRedis})

	h1, err := p.Provision(context.Background(), desc)
	require.NoError(t, err)
	defer h1.Release(context.Background())
	h2, err := p.Provision(context.Background(), desc)
	require.NoError(t, err)
	defer h2.Release(context.Background())

	r1, _ := h1.Resource("cache")
	r2, _ := h2.Resource("cache")
	assert.NotEqual(t, r1.Addr, r2.Addr)
}

func TestHTTPStubRoutes(t *testing.T) {
	p := newTestProvisioner(t)
	h, err := p.Provision(context.Background(), descriptor(
		types.ResourceSpec{Name: "data", Kind: types.ResourceTempDir},
		types.ResourceSpec{Name: "api", Kind: types.ResourceHTTPStub, Routes: []types.Route{
			{Method: "get", Path: "/health", Body: "ok"},
			{Path: "/dir", Body: "${DATA_DIR}"},
			{Method: "POST", Path: "/broken", Status: http.StatusInternalServerError},
		}},
	))
	require.NoError(t, err)
	defer h.Release(context.Background())

	base := h.Vars()["API_URL"]
	require.True(t, strings.HasPrefix(base, "http://"))

	get := func(method, path string) (int, string) {
		req, err := http.NewRequest(method, base+path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	status, body := get(http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, _ = get(http.MethodPost, "/health")
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	dataDir, _ := h.Resource("data")
	_, body = get(http.MethodGet, "/dir")
	assert.Equal(t, dataDir.Path, body)

	status, _ = get(http.MethodPost, "/broken")
	assert.Equal(t, http.StatusInternalServerError, status)

	status, _ = get(http.MethodGet, "/missing")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestProcessReceivesVariables(t *testing.T) {
	p := newTestProvisioner(t)
	h, err := p.Provision(context.Background(), descriptor(
		types.ResourceSpec{Name: "data", Kind: types.ResourceTempDir},
		types.ResourceSpec{
			Name:         "worker",
			Kind:         types.ResourceProcess,
			Command:      "sh",
			Args:         []string{"-c", `echo "$GREETING" > "$DATA_DIR/out"; exec sleep 30`},
			Env:          map[string]string{"GREETING": "hello from ${DATA_DIR}"},
			StartupDelay: 200 * time.Millisecond,
		},
	))
	require.NoError(t, err)

	data, _ := h.Resource("data")
	content, err := os.ReadFile(filepath.Join(data.Path, "out"))
	require.NoError(t, err)
	assert.Equal(t, "hello from "+data.Path+"\n", string(content))

	start := time.Now()
	require.NoError(t, h.Release(context.Background()))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestProcessExitsBeforeReady(t *testing.T) {
	p := newTestProvisioner(t)
	_, err := p.Provision(context.Background(), descriptor(types.ResourceSpec{
		Name:         "node",
		Kind:         types.ResourceProcess,
		Command:      "sh",
		Args:         []string{"-c", "echo fatal config error >&2; exit 1"},
		StartupDelay: 5 * time.Second,
	}))
	require.Error(t, err)
	var perr *ProvisionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "node", perr.Resource)
	assert.True(t, errors.Is(err, errExited))
	assert.Contains(t, err.Error(), "fatal config error")
}

func TestProcessNeverListens(t *testing.T) {
	p := newTestProvisioner(t)
	_, err := p.Provision(context.Background(), descriptor(types.ResourceSpec{
		Name:         "node",
		Kind:         types.ResourceProcess,
		Command:      "sleep",
		Args:         []string{"30"},
		AllocatePort: true,
		ReadyTimeout: 200 * time.Millisecond,
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not accepting connections")
	assert.Equal(t, 0, p.Outstanding())
}

func TestProcessSpawnFailure(t *testing.T) {
	p := newTestProvisioner(t)
	_, err := p.Provision(context.Background(), descriptor(types.ResourceSpec{
		Name:    "node",
		Kind:    types.ResourceProcess,
		Command: "/nonexistent/op-harness-binary",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawning")
}

func TestProcessCrashBecomesTeardownWarning(t *testing.T) {
	p := newTestProvisioner(t)
	h, err := p.Provision(context.Background(), descriptor(types.ResourceSpec{
		Name:    "node",
		Kind:    types.ResourceProcess,
		Command: "sh",
		Args:    []string{"-c", "sleep 0.2; echo crashed; exit 3"},
	}))
	require.NoError(t, err)
	time.Sleep(time.Second)

	err = h.Release(context.Background())
	require.Error(t, err)
	var terr *TeardownError
	require.True(t, errors.As(err, &terr))
	warnings := Warnings(err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "process resource node")
	assert.Contains(t, warnings[0], "crashed")

	// Repeat calls return the first result
	assert.Equal(t, err, h.Release(context.Background()))
}

func TestServiceStopAndStart(t *testing.T) {
	p := newTestProvisioner(t)
	h, err := p.Provision(context.Background(), descriptor(
		types.ResourceSpec{Name: "data", Kind: types.ResourceTempDir},
		types.ResourceSpec{
			Name:         "worker",
			Kind:         types.ResourceProcess,
			Command:      "sh",
			Args:         []string{"-c", `echo started >> "$DATA_DIR/starts"; exec sleep 30`},
			StartupDelay: 100 * time.Millisecond,
		},
	))
	require.NoError(t, err)
	ctl, ok := h.(types.ServiceController)
	require.True(t, ok)
	ctx := context.Background()

	err = ctl.StartService(ctx, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service worker is already running")

	require.NoError(t, ctl.StopService(ctx, "worker"))
	err = ctl.StopService(ctx, "worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service worker is not running")

	require.NoError(t, ctl.StartService(ctx, "worker"))
	data, _ := h.Resource("data")
	content, err := os.ReadFile(filepath.Join(data.Path, "starts"))
	require.NoError(t, err)
	assert.Equal(t, "started\nstarted\n", string(content))

	require.ErrorContains(t, ctl.StopService(ctx, "data"), "not a service")
	require.ErrorContains(t, ctl.StopService(ctx, "missing"), "unknown service missing")

	require.NoError(t, h.Release(ctx))
	assert.ErrorIs(t, ctl.StartService(ctx, "worker"), errReleased)
}

func TestStoppedServiceIsSkippedAtTeardown(t *testing.T) {
	p := newTestProvisioner(t)
	h, err := p.Provision(context.Background(), descriptor(types.ResourceSpec{
		Name:    "worker",
		Kind:    types.ResourceProcess,
		Command: "sleep",
		Args:    []string{"30"},
	}))
	require.NoError(t, err)

	require.NoError(t, h.(types.ServiceController).StopService(context.Background(), "worker"))
	assert.NoError(t, h.Release(context.Background()))
	assert.Equal(t, 0, p.Outstanding())
}

func TestPartialFailureReleasesProvisionedResources(t *testing.T) {
	p := newTestProvisioner(t)

	busy, err := net.Listen("tcp", net.JoinHostPort(DefaultHost, "0"))
	require.NoError(t, err)
	defer busy.Close()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	name := "partial-" + strings.ReplaceAll(t.Name(), "/", "-")
	_, err = p.Provision(context.Background(), descriptor(
		types.ResourceSpec{Name: name, Kind: types.ResourceTempDir},
		types.ResourceSpec{Name: "api", Kind: types.ResourceHTTPStub, Port: busyPort},
	))
	require.Error(t, err)
	var perr *ProvisionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "api", perr.Resource)
	assert.Equal(t, types.ResourceHTTPStub, perr.Kind)

	leftovers, err := filepath.Glob(filepath.Join(os.TempDir(), "op-harness-"+types.VarPrefix(name)+"-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
	assert.Equal(t, 0, p.Outstanding())
}

func TestCloseReleasesOutstanding(t *testing.T) {
	p := NewLocal(Config{Log: log.NewLogger(log.DiscardHandler())})
	h, err := p.Provision(context.Background(), descriptor(types.ResourceSpec{Name: "data", Kind: types.ResourceTempDir}))
	require.NoError(t, err)
	res, _ := h.Resource("data")

	require.NoError(t, p.Close(context.Background()))
	assert.NoDirExists(t, res.Path)
	assert.Equal(t, 0, p.Outstanding())

	// The owner releasing afterwards is harmless
	require.NoError(t, h.Release(context.Background()))

	_, err = p.Provision(context.Background(), types.EnvironmentDescriptor{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestReleaseAllKeepsProvisionerUsable(t *testing.T) {
	p := newTestProvisioner(t)
	h, err := p.Provision(context.Background(), descriptor(types.ResourceSpec{Name: "data", Kind: types.ResourceTempDir}))
	require.NoError(t, err)
	res, _ := h.Resource("data")

	require.NoError(t, p.ReleaseAll(context.Background()))
	assert.NoDirExists(t, res.Path)
	assert.Equal(t, 0, p.Outstanding())

	h2, err := p.Provision(context.Background(), descriptor(types.ResourceSpec{Name: "data", Kind: types.ResourceTempDir}))
	require.NoError(t, err)
	require.NoError(t, h2.Release(context.Background()))
}

func TestKeyedLocksReleaseOnCancel(t *testing.T) {
	locks := newKeyedLocks()
	release, err := locks.acquire(context.Background(), []string{"b"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, []string{"a", "b"})
	require.Error(t, err)

	// "a" must not be left held by the failed attempt
	release()
	release2, err := locks.acquire(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	release2()
}
