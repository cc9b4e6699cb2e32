package harness

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clapcheck/clapcheck/internal/catalog"
	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/clap/claptest"
	"github.com/clapcheck/clapcheck/internal/report"
	"github.com/clapcheck/clapcheck/internal/workspace"
)

func fakeLibrary() *claptest.Library {
	plugin := claptest.NewEffectPlugin("com.example.gain", "Gain",
		claptest.LinearParam(0, "Gain", 0, 1, 0.5))
	return claptest.NewLibrary("/plugins/gain.clap", plugin)
}

func fakeEnv(lib *claptest.Library) *catalog.Env {
	return &catalog.Env{
		Open:         lib.Opener(),
		CheckBinding: func(string) error { return nil },
	}
}

func TestExecuteRunsCase(t *testing.T) {
	lib := fakeLibrary()
	inv := report.NewInvocation(lib.Path, "com.example.gain", "descriptor-consistency", time.Minute)

	res := Execute(fakeEnv(lib), nil, inv)

	assert.Equal(t, report.Pass, res.Outcome, "message: %s", res.Message)
	assert.Equal(t, inv, res.Invocation)
	assert.NotEmpty(t, res.Description)
}

func TestExecuteUnknownTest(t *testing.T) {
	inv := report.NewInvocation("/p.clap", "", "does-not-exist", time.Minute)

	res := Execute(fakeEnv(fakeLibrary()), nil, inv)

	assert.Equal(t, report.Fail, res.Outcome)
	assert.Contains(t, res.Message, "unknown test case")
}

func TestExecutePluginCaseNeedsPluginID(t *testing.T) {
	inv := report.NewInvocation("/p.clap", "", "state-load-empty", time.Minute)

	res := Execute(fakeEnv(fakeLibrary()), nil, inv)

	assert.Equal(t, report.Fail, res.Outcome)
	assert.Contains(t, res.Message, "names none")
}

func TestExecuteScratchLifecycle(t *testing.T) {
	baseDir := t.TempDir()
	scratch, err := workspace.NewManager(baseDir)
	require.NoError(t, err)

	lib := fakeLibrary()
	inv := report.NewInvocation(lib.Path, "com.example.gain", "basic-state-reproducibility", time.Minute)

	res := Execute(fakeEnv(lib), scratch, inv)
	assert.Equal(t, report.Pass, res.Outcome, "message: %s", res.Message)

	// The scratch directory must be gone whatever the outcome was.
	entries, err := os.ReadDir(baseDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecuteRecoversPanic(t *testing.T) {
	env := &catalog.Env{
		Open:         func(string) (clap.Library, error) { panic("kaboom") },
		CheckBinding: func(string) error { return nil },
	}
	inv := report.NewInvocation("/p.clap", "com.example.gain", "state-load-empty", time.Minute)

	res := Execute(env, nil, inv)

	assert.Equal(t, report.Fail, res.Outcome)
	assert.Contains(t, res.Message, "panic while running the test")
	assert.Contains(t, res.Message, "kaboom")
}

func TestChildRun(t *testing.T) {
	lib := fakeLibrary()
	inv := report.NewInvocation(lib.Path, "com.example.gain", "descriptor-consistency", time.Minute)

	var stdin, stdout bytes.Buffer
	require.NoError(t, EncodeInvocation(&stdin, inv))

	child := &Child{Env: fakeEnv(lib), Stdin: &stdin, Stdout: &stdout}
	require.NoError(t, child.Run())

	res, _, err := DecodeResult(&stdout)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, res.Invocation.ID)
	assert.Equal(t, report.Pass, res.Outcome, "message: %s", res.Message)
}

func TestChildRunRejectsBadInput(t *testing.T) {
	var stdout bytes.Buffer
	child := &Child{Env: fakeEnv(fakeLibrary()), Stdin: strings.NewReader("nope"), Stdout: &stdout}

	require.Error(t, child.Run())
	assert.Zero(t, stdout.Len(), "no result may be written when the protocol fails")
}
