package loader

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is matching. The concrete types below carry the
// detail; tests and the catalog only ever branch on the sentinels.
var (
	ErrLoad                = errors.New("plugin library failed to load")
	ErrMalformedDescriptor = errors.New("malformed plugin descriptor")
	ErrDuplicatePluginID   = errors.New("duplicate plugin ID")
	ErrUnresolvedSymbol    = errors.New("unresolved symbol")
)

// LoadError reports a library that could not be opened, initialized, or
// enumerated at the ABI level.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// MalformedDescriptorError reports a factory descriptor missing a required
// field. Index is the descriptor's position in the factory enumeration.
type MalformedDescriptorError struct {
	Path  string
	Index int
	Field string
}

func (e *MalformedDescriptorError) Error() string {
	return fmt.Sprintf("%s: descriptor at index %d has no %s", e.Path, e.Index, e.Field)
}

func (e *MalformedDescriptorError) Is(target error) bool { return target == ErrMalformedDescriptor }

// DuplicatePluginIDError reports two factory descriptors claiming the same
// plugin ID. Detected during enumeration, before any instantiation.
type DuplicatePluginIDError struct {
	Path string
	ID   string
}

func (e *DuplicatePluginIDError) Error() string {
	return fmt.Sprintf("%s: factory lists plugin ID %q more than once", e.Path, e.ID)
}

func (e *DuplicatePluginIDError) Is(target error) bool { return target == ErrDuplicatePluginID }

// UnresolvedSymbolError reports a library that fails to load under
// immediate symbol binding.
type UnresolvedSymbolError struct {
	Path string
	Err  error
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *UnresolvedSymbolError) Unwrap() error { return e.Err }

func (e *UnresolvedSymbolError) Is(target error) bool { return target == ErrUnresolvedSymbol }
