package loader

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zeebo/blake3"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/clap/claptest"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildIndex(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.clap"), "library a")
	writeFile(t, filepath.Join(dir, "sub", "b.CLAP"), "library b")
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a plugin")
	direct := filepath.Join(dir, "direct.so")
	writeFile(t, direct, "explicit file argument")

	fake := claptest.NewLibrary("", claptest.NewEffectPlugin("com.example.gain", "Gain"))
	index := BuildIndex(fake.Opener(), dir, direct)

	assert.Empty(t, index.Failures)
	assert.Len(t, index.Entries, 3)

	byPath := map[string]IndexEntry{}
	for _, e := range index.Entries {
		byPath[filepath.Base(e.Path)] = e
	}
	assert.Contains(t, byPath, "a.clap")
	assert.Contains(t, byPath, "b.CLAP")
	assert.Contains(t, byPath, "direct.so")
	assert.NotContains(t, byPath, "notes.txt")

	sum := blake3.Sum256([]byte("library a"))
	assert.Equal(t, hex.EncodeToString(sum[:]), byPath["a.clap"].Digest)

	entry := byPath["a.clap"]
	assert.Equal(t, clap.Version{Major: 1, Minor: 2, Revision: 2}, entry.Version)
	assert.Len(t, entry.Plugins, 1)
	assert.Equal(t, "com.example.gain", entry.Plugins[0].ID)
}

func TestBuildIndexCollectsFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "good.clap"), "fine")
	writeFile(t, filepath.Join(dir, "broken.clap"), "refuses to load")

	fake := claptest.NewLibrary("", claptest.NewEffectPlugin("com.example.gain", "Gain"))
	open := func(path string) (clap.Library, error) {
		if strings.Contains(path, "broken") {
			return nil, errors.New("dlopen: undefined symbol: frobnicate")
		}
		return fake.Opener()(path)
	}

	index := BuildIndex(open, dir, filepath.Join(dir, "does-not-exist"))

	assert.Len(t, index.Entries, 1)
	assert.Len(t, index.Failures, 2)

	var messages []string
	for _, f := range index.Failures {
		messages = append(messages, f.Error)
	}
	joined := strings.Join(messages, "\n")
	assert.Contains(t, joined, "undefined symbol")
	assert.Contains(t, joined, "does-not-exist")
}

func TestBuildIndexSkipsBlankPaths(t *testing.T) {
	index := BuildIndex(nil, "", "   ")
	assert.Empty(t, index.Entries)
	assert.Empty(t, index.Failures)
}
