// Package workspace manages per-invocation scratch directories on local
// disk. State-persistence test cases write temporary preset files under a
// scratch directory; the harness creates one before a case runs and removes
// it afterwards, on success and failure alike. A child that dies mid-test
// cannot clean up after itself, so long-lived parents sweep stale entries.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Scratch is one invocation-scoped temporary directory.
type Scratch struct {
	InvocationID string
	Dir          string
}

// SweepReport summarizes a sweep run.
type SweepReport struct {
	DeletedDirs int
}

// Manager creates and removes scratch directories under a single base
// directory.
type Manager struct {
	baseDir string
	now     func() time.Time
}

// NewManager returns a manager rooted at baseDir.
func NewManager(baseDir string) (*Manager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("scratch base directory is empty")
	}

	return &Manager{
		baseDir: filepath.Clean(trimmed),
		now:     time.Now,
	}, nil
}

// Default returns a manager rooted under the system temporary directory.
func Default() *Manager {
	return &Manager{
		baseDir: filepath.Join(os.TempDir(), "clapcheck"),
		now:     time.Now,
	}
}

// Create initializes a scratch directory for invocationID.
func (m *Manager) Create(invocationID string) (Scratch, error) {
	path, err := m.scratchPath(invocationID)
	if err != nil {
		return Scratch{}, err
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return Scratch{}, fmt.Errorf("create scratch base directory: %w", err)
	}

	if err := os.Mkdir(path, 0o755); err != nil {
		return Scratch{}, fmt.Errorf("create scratch for invocation %q: %w", invocationID, err)
	}

	return Scratch{InvocationID: invocationID, Dir: path}, nil
}

// Remove deletes a scratch directory and everything under it. Removing a
// zero-value Scratch is a no-op so callers can defer it unconditionally.
func (m *Manager) Remove(s Scratch) error {
	if s.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("remove scratch for invocation %q: %w", s.InvocationID, err)
	}
	return nil
}

// Sweep removes scratch directories whose modification time is older than
// olderThan. It tolerates a missing base directory: nothing has run yet.
func (m *Manager) Sweep(olderThan time.Duration) (SweepReport, error) {
	if olderThan <= 0 {
		return SweepReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return SweepReport{}, nil
	}
	if err != nil {
		return SweepReport{}, fmt.Errorf("read scratch base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := SweepReport{}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read scratch entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove scratch %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *Manager) scratchPath(invocationID string) (string, error) {
	if err := validateInvocationID(invocationID); err != nil {
		return "", err
	}
	return filepath.Join(m.baseDir, invocationID), nil
}

func validateInvocationID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("invocation ID is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("invocation ID %q is invalid", id)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("invocation ID %q must not contain path separators", id)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("invocation ID %q is invalid", id)
	}
	return nil
}
