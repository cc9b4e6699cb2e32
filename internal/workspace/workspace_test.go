package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManagerCreateAndRemove(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "scratch")
	mgr, err := NewManager(baseDir)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	s, err := mgr.Create("inv-a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wantPath := filepath.Join(baseDir, "inv-a")
	if s.Dir != wantPath {
		t.Fatalf("Create() dir = %q, want %q", s.Dir, wantPath)
	}

	info, err := os.Stat(s.Dir)
	if err != nil {
		t.Fatalf("Stat(scratch) error = %v", err)
	}
	if !info.IsDir() {
		t.Fatalf("scratch path is not a directory")
	}

	// Remove must take nested content with it.
	if err := os.WriteFile(filepath.Join(s.Dir, "state.bin"), []byte{0x01}, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := mgr.Remove(s); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(s.Dir); !os.IsNotExist(err) {
		t.Fatalf("scratch should be deleted, err = %v", err)
	}

	// Zero-value removal is a no-op so callers can defer unconditionally.
	if err := mgr.Remove(Scratch{}); err != nil {
		t.Fatalf("Remove(zero) error = %v", err)
	}
}

func TestManagerRejectsInvalidInvocationIDs(t *testing.T) {
	mgr, err := NewManager(filepath.Join(t.TempDir(), "scratch"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		if _, err := mgr.Create(id); err == nil {
			t.Errorf("Create(%q) should fail", id)
		}
	}
}

func TestManagerSweep(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "scratch")
	mgr, err := NewManager(baseDir)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	oldScratch, err := mgr.Create("inv-old")
	if err != nil {
		t.Fatalf("Create(old) error = %v", err)
	}
	newScratch, err := mgr.Create("inv-new")
	if err != nil {
		t.Fatalf("Create(new) error = %v", err)
	}

	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldScratch.Dir, oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes(old scratch) error = %v", err)
	}

	report, err := mgr.Sweep(24 * time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.DeletedDirs != 1 {
		t.Fatalf("Sweep() deleted = %d, want 1", report.DeletedDirs)
	}

	if _, err := os.Stat(oldScratch.Dir); !os.IsNotExist(err) {
		t.Fatalf("old scratch should be deleted, err = %v", err)
	}
	if _, err := os.Stat(newScratch.Dir); err != nil {
		t.Fatalf("new scratch should still exist, err = %v", err)
	}
}

func TestManagerSweepMissingBase(t *testing.T) {
	mgr, err := NewManager(filepath.Join(t.TempDir(), "never-created"))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	report, err := mgr.Sweep(time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.DeletedDirs != 0 {
		t.Fatalf("Sweep() deleted = %d, want 0", report.DeletedDirs)
	}
}
