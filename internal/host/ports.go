package host

import (
	"fmt"

	"github.com/clapcheck/clapcheck/internal/clap"
)

// AudioPorts is the checked facade over clap_plugin_audio_ports.
type AudioPorts struct {
	inst *Instance
	ext  clap.AudioPortsExt
}

// AudioPorts returns the audio ports facade, or an ErrUnsupported-wrapped
// error when the plugin does not expose the extension.
func (i *Instance) AudioPorts() (*AudioPorts, error) {
	if err := i.requireMain("clap_plugin.get_extension"); err != nil {
		return nil, err
	}
	if err := i.requireAlive("clap_plugin.get_extension"); err != nil {
		return nil, err
	}
	ext, ok := i.handle.AudioPorts()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, clap.ExtAudioPorts)
	}
	return &AudioPorts{inst: i, ext: ext}, nil
}

// Inputs enumerates the input port configuration.
func (a *AudioPorts) Inputs() ([]clap.AudioPortInfo, error) {
	return a.enumerate(true)
}

// Outputs enumerates the output port configuration.
func (a *AudioPorts) Outputs() ([]clap.AudioPortInfo, error) {
	return a.enumerate(false)
}

func (a *AudioPorts) enumerate(input bool) ([]clap.AudioPortInfo, error) {
	if err := a.inst.requireMain("clap_plugin_audio_ports.get"); err != nil {
		return nil, err
	}
	count := a.ext.Count(input)
	ports := make([]clap.AudioPortInfo, 0, count)
	for index := uint32(0); index < count; index++ {
		info, err := a.ext.Info(index, input)
		if err != nil {
			return nil, fmt.Errorf("audio port at index %d: %w", index, err)
		}
		ports = append(ports, *info)
	}
	return ports, nil
}

// NotePorts is the checked facade over clap_plugin_note_ports.
type NotePorts struct {
	inst *Instance
	ext  clap.NotePortsExt
}

// NotePorts returns the note ports facade, or an ErrUnsupported-wrapped
// error when the plugin does not expose the extension.
func (i *Instance) NotePorts() (*NotePorts, error) {
	if err := i.requireMain("clap_plugin.get_extension"); err != nil {
		return nil, err
	}
	if err := i.requireAlive("clap_plugin.get_extension"); err != nil {
		return nil, err
	}
	ext, ok := i.handle.NotePorts()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, clap.ExtNotePorts)
	}
	return &NotePorts{inst: i, ext: ext}, nil
}

// Inputs enumerates the note input ports.
func (n *NotePorts) Inputs() ([]clap.NotePortInfo, error) {
	return n.enumerate(true)
}

// Outputs enumerates the note output ports.
func (n *NotePorts) Outputs() ([]clap.NotePortInfo, error) {
	return n.enumerate(false)
}

func (n *NotePorts) enumerate(input bool) ([]clap.NotePortInfo, error) {
	if err := n.inst.requireMain("clap_plugin_note_ports.get"); err != nil {
		return nil, err
	}
	count := n.ext.Count(input)
	ports := make([]clap.NotePortInfo, 0, count)
	for index := uint32(0); index < count; index++ {
		info, err := n.ext.Info(index, input)
		if err != nil {
			return nil, fmt.Errorf("note port at index %d: %w", index, err)
		}
		ports = append(ports, *info)
	}
	return ports, nil
}
