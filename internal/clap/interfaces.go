package clap

// Library is one opened plugin library: a dlopen handle plus its resolved
// and initialized clap_entry. Exactly one Library exists per load; Close
// deinitializes the entry and unloads the handle. Implementations are not
// safe for concurrent use.
type Library interface {
	// EntryVersion returns the CLAP version the entry struct declares.
	EntryVersion() Version
	// Descriptors enumerates the plugin factory. The error covers raw ABI
	// faults (missing factory, unreadable descriptor memory); semantic
	// validation of the returned descriptors belongs to the loader.
	Descriptors() ([]Descriptor, error)
	// FactoryExists queries the entry for an arbitrary factory ID and
	// reports whether a non-null factory was returned.
	FactoryExists(factoryID string) bool
	// CreateInstance instantiates a plugin through the factory. The host
	// callbacks remain referenced by native code until the returned handle
	// is destroyed; the caller must keep them valid for that long. Returns
	// ErrNotFound when the factory returns null for the ID.
	CreateInstance(host HostCallbacks, pluginID string) (Handle, error)
	Close() error
}

// Handle is one created plugin instance: a typed facade over the
// clap_plugin function table, one method per ABI entry point. It performs
// no state or thread bookkeeping of its own; that is the instance
// wrapper's job.
type Handle interface {
	Descriptor() (*Descriptor, error)
	Init() bool
	Destroy()
	Activate(sampleRate float64, minFrames, maxFrames uint32) bool
	Deactivate()
	StartProcessing() bool
	StopProcessing()
	Reset()
	Process(p *Process) (ProcessStatus, error)
	OnMainThread()

	// Extension facades. The bool reports whether the plugin exposes the
	// extension at all.
	Params() (ParamsExt, bool)
	State() (StateExt, bool)
	AudioPorts() (AudioPortsExt, bool)
	NotePorts() (NotePortsExt, bool)
}

// ParamsExt is the typed facade over clap_plugin_params.
type ParamsExt interface {
	Count() uint32
	// Info reads the parameter at a position (not a stable ID). The error
	// covers the plugin returning false or unreadable string memory.
	Info(index uint32) (*ParamInfo, error)
	// Value reads the current value for a stable parameter ID.
	Value(id uint32) (float64, error)
	// ValueToText formats a value. ok is false when the plugin does not
	// support text conversion for this parameter.
	ValueToText(id uint32, value float64) (text string, ok bool, err error)
	// TextToValue parses a display string back to a value. ok mirrors
	// ValueToText.
	TextToValue(id uint32, text string) (value float64, ok bool, err error)
	// Flush processes parameter events outside of process. Returned events
	// are whatever the plugin pushed to the output queue.
	Flush(in []Event) ([]Event, error)
}

// StateExt is the typed facade over clap_plugin_state.
type StateExt interface {
	// Save serializes the plugin state through a clap_ostream. An error is
	// returned when the plugin's save callback returns false.
	Save(opts StreamOptions) ([]byte, error)
	// Load feeds data through a clap_istream. A plugin-side rejection
	// (load returning false) is reported as ErrStateRejected.
	Load(data []byte, opts StreamOptions) error
}

// AudioPortsExt is the typed facade over clap_plugin_audio_ports.
type AudioPortsExt interface {
	Count(input bool) uint32
	Info(index uint32, input bool) (*AudioPortInfo, error)
}

// NotePortsExt is the typed facade over clap_plugin_note_ports.
type NotePortsExt interface {
	Count(input bool) uint32
	Info(index uint32, input bool) (*NotePortInfo, error)
}

// HostCallbacks receives the callbacks a plugin may invoke on its host.
// The native implementation bridges the clap_host function table to this
// interface; the instance wrapper implements it to record requests and to
// answer the thread-check extension from its explicit thread markers.
type HostCallbacks interface {
	RequestRestart()
	RequestProcess()
	RequestCallback()
	// IsMainThread and IsAudioThread back the clap.thread-check host
	// extension.
	IsMainThread() bool
	IsAudioThread() bool
}
