package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    ResourceSpec
		wantErr string
	}{
		{name: "tempdir", spec: ResourceSpec{Name: "data", Kind: ResourceTempDir}},
		{name: "fixed port", spec: ResourceSpec{Name: "rpc", Kind: ResourcePort, Port: 8545}},
		{name: "no name", spec: ResourceSpec{Kind: ResourceTempDir}, wantErr: "name cannot be empty"},
		{name: "unknown kind", spec: ResourceSpec{Name: "x", Kind: "database"}, wantErr: "unknown kind"},
		{name: "port out of range", spec: ResourceSpec{Name: "x", Kind: ResourcePort, Port: 70000}, wantErr: "invalid port"},
		{name: "shareable and exclusive", spec: ResourceSpec{Name: "x", Kind: ResourceRedis, Shareable: true, Exclusive: true}, wantErr: "both shareable and exclusive"},
		{name: "route without path", spec: ResourceSpec{Name: "x", Kind: ResourceHTTPStub, Routes: []Route{{Method: "GET"}}}, wantErr: "route without a path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvironmentDescriptorExclusiveKeys(t *testing.T) {
	desc := EnvironmentDescriptor{Resources: []ResourceSpec{
		{Name: "rpc", Kind: ResourcePort, Port: 9000},
		{Name: "db", Kind: ResourceRedis, Exclusive: true},
		{Name: "tmp", Kind: ResourceTempDir},
		{Name: "rpc2", Kind: ResourcePort, Port: 9000},
	}}

	assert.Equal(t, []string{"port:9000", "redis:db"}, desc.ExclusiveKeys())
	assert.Error(t, EnvironmentDescriptor{Resources: []ResourceSpec{
		{Name: "a", Kind: ResourceTempDir},
		{Name: "a", Kind: ResourceTempDir},
	}}.Validate())
}

func TestVarPrefix(t *testing.T) {
	assert.Equal(t, "WEB_SERVER", VarPrefix("web-server"))
	assert.Equal(t, "API_V2", VarPrefix("api.v2"))
}

func TestStaticEnvironment(t *testing.T) {
	t.Setenv("HARNESS_TEST_PROCESS_VAR", "from-process")
	env := NewStaticEnvironment(&Resource{
		Name: "api",
		Kind: ResourceHTTPStub,
		Addr: "127.0.0.1:1234",
		Vars: map[string]string{"API_URL": "http://127.0.0.1:1234"},
	})

	res, ok := env.Resource("api")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:1234", res.Addr)
	_, ok = env.Resource("missing")
	assert.False(t, ok)

	assert.Equal(t, "http://127.0.0.1:1234/health", env.Expand("${API_URL}/health"))
	// The process environment is never consulted
	assert.Equal(t, "$HARNESS_TEST_PROCESS_VAR", env.Expand("$HARNESS_TEST_PROCESS_VAR"))

	vars := env.Vars()
	vars["API_URL"] = "mutated"
	assert.Equal(t, "http://127.0.0.1:1234", env.Vars()["API_URL"])
}
