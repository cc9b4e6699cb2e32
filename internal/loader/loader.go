// Package loader opens CLAP plugin libraries and validates what their
// factories report. It owns the semantic checks (required descriptor
// fields, duplicate IDs); the raw ABI handling lives in internal/clap.
package loader

import (
	"errors"

	"github.com/clapcheck/clapcheck/internal/clap"
)

// OpenFunc opens one plugin library. Production code uses clap.Open; tests
// substitute a claptest opener.
type OpenFunc func(path string) (clap.Library, error)

// Library wraps one opened plugin library. A Library and everything created
// from it is owned by a single invocation: fresh load, one use, Close.
type Library struct {
	path string
	lib  clap.Library
}

// Open loads and initializes the library at path.
func Open(path string) (*Library, error) {
	return OpenWith(clap.Open, path)
}

// OpenWith is Open with an injectable opener.
func OpenWith(open OpenFunc, path string) (*Library, error) {
	lib, err := open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return &Library{path: path, lib: lib}, nil
}

// Path returns the library file path.
func (l *Library) Path() string { return l.path }

// EntryVersion returns the CLAP version declared by clap_entry.
func (l *Library) EntryVersion() clap.Version { return l.lib.EntryVersion() }

// Metadata enumerates the plugin factory and validates every descriptor:
// id and name are required, and no two descriptors may claim the same ID.
// Validation happens before any instantiation.
func (l *Library) Metadata() (*Metadata, error) {
	descriptors, err := l.lib.Descriptors()
	if err != nil {
		return nil, &LoadError{Path: l.path, Err: err}
	}

	seen := map[string]bool{}
	for i := range descriptors {
		d := &descriptors[i]
		if d.Absent("id") || d.ID == "" {
			return nil, &MalformedDescriptorError{Path: l.path, Index: i, Field: "id"}
		}
		if d.Absent("name") || d.Name == "" {
			return nil, &MalformedDescriptorError{Path: l.path, Index: i, Field: "name"}
		}
		if seen[d.ID] {
			return nil, &DuplicatePluginIDError{Path: l.path, ID: d.ID}
		}
		seen[d.ID] = true
	}

	return &Metadata{
		Path:    l.path,
		Version: l.lib.EntryVersion(),
		Plugins: descriptors,
	}, nil
}

// FactoryExists queries the entry for an arbitrary factory ID.
func (l *Library) FactoryExists(factoryID string) bool {
	return l.lib.FactoryExists(factoryID)
}

// CreateInstance instantiates a plugin through the factory. The host
// callbacks must stay valid until the handle is destroyed.
func (l *Library) CreateInstance(host clap.HostCallbacks, pluginID string) (clap.Handle, error) {
	return l.lib.CreateInstance(host, pluginID)
}

// Close deinitializes the entry and unloads the library.
func (l *Library) Close() error {
	return l.lib.Close()
}

// Metadata is the validated view of one library's plugin factory.
type Metadata struct {
	Path    string            `json:"path"`
	Version clap.Version      `json:"clap_version"`
	Plugins []clap.Descriptor `json:"plugins"`
}

// Descriptor finds a plugin by ID.
func (m *Metadata) Descriptor(pluginID string) (*clap.Descriptor, bool) {
	for i := range m.Plugins {
		if m.Plugins[i].ID == pluginID {
			return &m.Plugins[i], true
		}
	}
	return nil, false
}

// CheckImmediateBinding loads the library with RTLD_NOW|RTLD_LOCAL and
// unloads it again. Unresolvable symbols that lazy binding would defer
// surface here as UnresolvedSymbolError. On platforms without dlopen the
// clap.ErrUnsupportedPlatform sentinel is passed through so callers can
// skip instead of fail.
func CheckImmediateBinding(path string) error {
	if err := clap.OpenImmediate(path); err != nil {
		if errors.Is(err, clap.ErrUnsupportedPlatform) {
			return err
		}
		return &UnresolvedSymbolError{Path: path, Err: err}
	}
	return nil
}
