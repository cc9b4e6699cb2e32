package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clapcheck/clapcheck/internal/catalog"
	"github.com/clapcheck/clapcheck/internal/harness"
	"github.com/clapcheck/clapcheck/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	m.Run()
}

// execute runs the command tree with args and captures stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "clapcheck", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"validate", "list", "serve", harness.SingleTestCommand}

	for _, name := range commands {
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestSingleTestCommandHidden(t *testing.T) {
	cmd := NewRootCommand()
	subCmd, _, err := cmd.Find([]string{harness.SingleTestCommand})
	require.NoError(t, err)
	assert.True(t, subCmd.Hidden)
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	logLevel := cmd.PersistentFlags().Lookup("log-level")
	require.NotNil(t, logLevel)
	assert.Equal(t, "info", logLevel.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
}

func TestListTests(t *testing.T) {
	out, err := execute(t, "list", "tests")
	require.NoError(t, err)

	assert.Contains(t, out, "Library tests:")
	assert.Contains(t, out, "Plugin tests:")
	assert.Contains(t, out, "descriptor-consistency")
	assert.Contains(t, out, "basic-state-reproducibility")
}

func TestListTestsJSON(t *testing.T) {
	out, err := execute(t, "list", "tests", "--json")
	require.NoError(t, err)

	var infos []testInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	assert.Len(t, infos, len(catalog.All()))
	for _, info := range infos {
		assert.NotEmpty(t, info.ID)
		assert.NotEmpty(t, info.Kind)
	}
}

func TestListPluginsEmptyDir(t *testing.T) {
	_, err := execute(t, "list", "plugins", t.TempDir())

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no plugin libraries found")
}

func TestValidateNoLibraries(t *testing.T) {
	_, err := execute(t, "validate", t.TempDir())

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "nothing to validate")
}

func TestValidateRequiresArgs(t *testing.T) {
	_, err := execute(t, "validate")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateRejectsBadTimeout(t *testing.T) {
	_, err := execute(t, "validate", "--timeout=-5s", t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout must be positive")
}

func TestBadConfigPathFails(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "list", "tests")

	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "loading config")
}

func TestConfigFileDrivesValidate(t *testing.T) {
	// A config file with an impossible timeout proves the file is read and
	// validated before any command logic runs.
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("validate:\n  timeout: -1s\n"), 0o644))

	_, err := execute(t, "--config", path, "list", "tests")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate.timeout must be positive")
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "frobnicate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "tests failed")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))
	assert.Equal(t, ExitCommandError, GetExitCode(errors.New("plain error")))

	wrapped := fmt.Errorf("outer: %w", NewExitError(ExitFailure, "inner"))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
}

func TestExitErrorMessage(t *testing.T) {
	plain := NewExitError(ExitFailure, "3 of 10 tests failed")
	assert.Equal(t, "3 of 10 tests failed", plain.Error())

	wrapped := WrapExitError(ExitCommandError, "loading config", errors.New("no such file"))
	assert.Equal(t, "loading config: no such file", wrapped.Error())
	assert.ErrorContains(t, wrapped.Unwrap(), "no such file")
}
