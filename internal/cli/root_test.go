package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "disburse", cmd.Use)
	assert.Contains(t, cmd.Long, "state log")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"run"},
		{"steps"},
		{"states"},
		{"trace"},
		{"audit", "approve"},
		{"audit", "reject"},
		{"claims", "release"},
		{"config", "show"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	allFlag := runCmd.Flags().Lookup("all")
	require.NotNil(t, allFlag)
	assert.Equal(t, "false", allFlag.DefValue)
}

func TestClaimsReleaseFlags(t *testing.T) {
	cmd := NewRootCommand()
	releaseCmd, _, err := cmd.Find([]string{"claims", "release"})
	require.NoError(t, err)

	staleFlag := releaseCmd.Flags().Lookup("stale-after")
	require.NotNil(t, staleFlag)
	assert.Equal(t, "1h0m0s", staleFlag.DefValue)
}

func TestExecute_InvalidFormat(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Execute(context.Background(), []string{"--format", "xml", "steps"}, &out, &errOut)
	assert.Equal(t, ExitCommandError, code)
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), `invalid format "xml"`)
}

func TestExecute_UsageErrorsAreCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown_flag", []string{"steps", "--bogus"}, "unknown flag"},
		{"missing_reason", []string{"audit", "reject", "pay-1"}, `required flag(s) "reason"`},
		{"wrong_arg_count", []string{"trace", "payment"}, "accepts 2 arg(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			code := Execute(context.Background(), tt.args, &out, &errOut)
			assert.Equal(t, ExitCommandError, code)
			assert.Contains(t, errOut.String(), "Error [COMMAND_ERROR]")
			assert.Contains(t, errOut.String(), tt.want)
		})
	}
}

func TestExecute_JSONErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Execute(context.Background(), []string{"--format", "json", "--config", "/does/not/exist.yaml", "config", "show"}, &out, &errOut)
	assert.Equal(t, ExitCommandError, code)

	_, responses := decode[any](t, out.String())
	require.Len(t, responses, 1)
	assert.Equal(t, "error", responses[0].Status)
	assert.Equal(t, "COMMAND_ERROR", responses[0].Error.Code)
	assert.Contains(t, responses[0].Error.Message, "failed to load config")
}
