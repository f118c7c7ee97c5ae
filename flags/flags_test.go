package flags

import (
	"strings"
	"testing"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// TestOptionalFlagsDontSetRequired asserts that all flags deemed optional set
// the Required field to false.
func TestOptionalFlagsDontSetRequired(t *testing.T) {
	for _, flag := range optionalFlags {
		reqFlag, ok := flag.(cli.RequiredFlag)
		require.True(t, ok)
		require.False(t, reqFlag.IsRequired())
	}
}

// TestUniqueFlags asserts that all flag names are unique, to avoid accidental conflicts between the many flags.
func TestUniqueFlags(t *testing.T) {
	seenCLI := make(map[string]struct{})
	for _, flag := range Flags {
		name := flag.Names()[0]
		if _, ok := seenCLI[name]; ok {
			t.Errorf("duplicate flag %s", name)
			continue
		}
		seenCLI[name] = struct{}{}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for _, flag := range Flags {
		flagName := flag.Names()[0]

		t.Run(flagName, func(t *testing.T) {
			envFlagGetter, ok := flag.(interface {
				GetEnvVars() []string
			})
			require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
			envFlags := envFlagGetter.GetEnvVars()
			require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")
			require.True(t, strings.HasPrefix(envFlags[0], EnvVarPrefix+"_"))
			require.Equal(t, opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix), envFlags[0])
		})
	}
}

func TestFormatFlag(t *testing.T) {
	testCases := []struct {
		name        string
		args        []string
		expected    string
		shouldError bool
	}{
		{"default is table", []string{"app"}, "table", false},
		{"json", []string{"app", "--format", "json"}, "json", false},
		{"text", []string{"app", "--format", "text"}, "text", false},
		{"upper case", []string{"app", "--format", "JSON"}, "JSON", false},
		{"mixed case", []string{"app", "--format", "Table"}, "Table", false},
		{"invalid value", []string{"app", "--format", "xml"}, "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			app := &cli.App{
				Flags: []cli.Flag{Format},
				Action: func(ctx *cli.Context) error {
					got = ctx.String(Format.Name)
					return nil
				},
			}
			err := app.Run(tc.args)
			if tc.shouldError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "format must be one of")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestRepeatedFilterFlags(t *testing.T) {
	var names, tags, skip []string
	app := &cli.App{
		Flags: []cli.Flag{Run, Tag, SkipTag},
		Action: func(ctx *cli.Context) error {
			names = ctx.StringSlice(Run.Name)
			tags = ctx.StringSlice(Tag.Name)
			skip = ctx.StringSlice(SkipTag.Name)
			return nil
		},
	}
	err := app.Run([]string{"app", "--run", "redis/*", "--run", "http/**", "--tag", "smoke", "--skip-tag", "slow"})
	require.NoError(t, err)
	assert.Equal(t, []string{"redis/*", "http/**"}, names)
	assert.Equal(t, []string{"smoke"}, tags)
	assert.Equal(t, []string{"slow"}, skip)
}

func TestCheckRequired(t *testing.T) {
	run := func(args ...string) error {
		app := &cli.App{
			Flags: []cli.Flag{&cli.StringSliceFlag{Name: Manifest.Name}},
			Action: func(ctx *cli.Context) error {
				return CheckRequired(ctx)
			},
		}
		return app.Run(append([]string{"app"}, args...))
	}

	require.NoError(t, run("--manifest", "tests.yaml"))
	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flag manifest is required")
}
