package host

import (
	"fmt"

	"github.com/clapcheck/clapcheck/internal/clap"
)

// Chunk sizes for the buffered stream variants. Deliberately small and odd
// so plugins that assume one read or write moves the whole state break
// visibly.
const (
	BufferedReadChunk  = 17
	BufferedWriteChunk = 23
)

// State is the checked facade over clap_plugin_state.
type State struct {
	inst *Instance
	ext  clap.StateExt
}

// State returns the state facade, or an ErrUnsupported-wrapped error when
// the plugin does not expose the extension.
func (i *Instance) State() (*State, error) {
	if err := i.requireMain("clap_plugin.get_extension"); err != nil {
		return nil, err
	}
	if err := i.requireAlive("clap_plugin.get_extension"); err != nil {
		return nil, err
	}
	ext, ok := i.handle.State()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, clap.ExtState)
	}
	return &State{inst: i, ext: ext}, nil
}

// Save serializes the plugin state through an unbuffered stream.
func (s *State) Save() ([]byte, error) {
	if err := s.inst.requireMain("clap_plugin_state.save"); err != nil {
		return nil, err
	}
	return s.ext.Save(clap.StreamOptions{})
}

// SaveBuffered serializes through a stream that accepts at most
// BufferedWriteChunk bytes per write callback.
func (s *State) SaveBuffered() ([]byte, error) {
	if err := s.inst.requireMain("clap_plugin_state.save"); err != nil {
		return nil, err
	}
	return s.ext.Save(clap.StreamOptions{MaxChunk: BufferedWriteChunk})
}

// Load feeds data through an unbuffered stream.
func (s *State) Load(data []byte) error {
	if err := s.inst.requireMain("clap_plugin_state.load"); err != nil {
		return err
	}
	return s.ext.Load(data, clap.StreamOptions{})
}

// LoadBuffered feeds data through a stream that hands out at most
// BufferedReadChunk bytes per read callback.
func (s *State) LoadBuffered(data []byte) error {
	if err := s.inst.requireMain("clap_plugin_state.load"); err != nil {
		return err
	}
	return s.ext.Load(data, clap.StreamOptions{MaxChunk: BufferedReadChunk})
}
