package loader

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/log"
)

// IndexEntry is one successfully scanned library.
type IndexEntry struct {
	Path string `json:"path"`
	// Digest is the BLAKE3-256 of the library file, so two index runs can
	// tell whether the file changed between them.
	Digest  string            `json:"digest"`
	Version clap.Version      `json:"clap_version"`
	Plugins []clap.Descriptor `json:"plugins"`
}

// IndexFailure is one library that could not be scanned.
type IndexFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Index is the result of scanning one or more paths for plugin libraries.
type Index struct {
	Entries  []IndexEntry   `json:"entries"`
	Failures []IndexFailure `json:"failures,omitempty"`
}

// BuildIndex scans the given paths for .clap libraries (case-insensitive
// extension; explicit file arguments are taken as-is), loads each one, and
// collects its validated metadata plus a content digest. Per-file failures
// are recorded in the index rather than aborting the scan.
func BuildIndex(open OpenFunc, paths ...string) *Index {
	logger := log.WithComponent("loader")
	index := &Index{Entries: make([]IndexEntry, 0)}

	for _, root := range paths {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			index.addFailure(root, fmt.Errorf("resolve path: %w", err))
			continue
		}

		info, err := os.Stat(absRoot)
		if err != nil {
			index.addFailure(absRoot, err)
			continue
		}

		if !info.IsDir() {
			index.scanFile(open, absRoot)
			continue
		}

		walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				index.addFailure(path, err)
				return nil
			}
			if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".clap") {
				return nil
			}
			index.scanFile(open, path)
			return nil
		})
		if walkErr != nil {
			index.addFailure(absRoot, walkErr)
		}
	}

	logger.Debug("index built", "entries", len(index.Entries), "failures", len(index.Failures))
	return index
}

func (ix *Index) scanFile(open OpenFunc, path string) {
	digest, err := fileDigest(path)
	if err != nil {
		ix.addFailure(path, err)
		return
	}

	lib, err := OpenWith(open, path)
	if err != nil {
		ix.addFailure(path, err)
		return
	}
	defer lib.Close()

	meta, err := lib.Metadata()
	if err != nil {
		ix.addFailure(path, err)
		return
	}

	ix.Entries = append(ix.Entries, IndexEntry{
		Path:    path,
		Digest:  digest,
		Version: meta.Version,
		Plugins: meta.Plugins,
	})
}

func (ix *Index) addFailure(path string, err error) {
	ix.Failures = append(ix.Failures, IndexFailure{Path: path, Error: err.Error()})
}

func fileDigest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read for digest: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
