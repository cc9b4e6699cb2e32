package clap

import (
	"errors"
	"sort"
)

// Descriptor is the static identifying metadata for one plugin type, read
// from a factory or from a created instance. Fields that were null pointers
// in native memory are listed in AbsentFields so the loader can distinguish
// "missing" from "empty" when validating.
type Descriptor struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Vendor      string   `json:"vendor,omitempty"`
	URL         string   `json:"url,omitempty"`
	ManualURL   string   `json:"manual_url,omitempty"`
	SupportURL  string   `json:"support_url,omitempty"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`
	Features    []string `json:"features"`

	AbsentFields []string `json:"-"`
}

// Absent reports whether the named field was a null pointer in native memory.
func (d *Descriptor) Absent(field string) bool {
	for _, f := range d.AbsentFields {
		if f == field {
			return true
		}
	}
	return false
}

// Equal compares two descriptors field for field. Feature lists are compared
// as sets: ordering differences between the factory copy and the instance
// copy are not a conformance violation.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d.ID != other.ID ||
		d.Name != other.Name ||
		d.Vendor != other.Vendor ||
		d.URL != other.URL ||
		d.ManualURL != other.ManualURL ||
		d.SupportURL != other.SupportURL ||
		d.Version != other.Version ||
		d.Description != other.Description {
		return false
	}
	return featureSet(d.Features) == featureSet(other.Features)
}

func featureSet(features []string) string {
	sorted := make([]string, len(features))
	copy(sorted, features)
	sort.Strings(sorted)
	joined := ""
	for _, f := range sorted {
		joined += f + "\x00"
	}
	return joined
}

// ParamFlags is the clap_param_info_flags bit field.
type ParamFlags uint32

const (
	ParamIsStepped ParamFlags = 1 << 0
	ParamIsPeriodic ParamFlags = 1 << 1
	ParamIsHidden   ParamFlags = 1 << 2
	ParamIsReadonly ParamFlags = 1 << 3
	ParamIsBypass   ParamFlags = 1 << 4
	ParamIsAutomatable ParamFlags = 1 << 5
)

// ParamInfo describes one parameter as reported by the params extension.
type ParamInfo struct {
	ID      uint32
	Name    string
	Module  string
	Flags   ParamFlags
	Min     float64
	Max     float64
	Default float64
	// Cookie is an opaque plugin-side pointer that must be passed back
	// unmodified in parameter events targeting this parameter.
	Cookie uintptr
}

// Stepped reports whether the parameter only takes integer values.
func (p *ParamInfo) Stepped() bool { return p.Flags&ParamIsStepped != 0 }

// Bypass reports whether this is the plugin's bypass parameter.
func (p *ParamInfo) Bypass() bool { return p.Flags&ParamIsBypass != 0 }

// AudioPortInfo describes one audio port.
type AudioPortInfo struct {
	ID           uint32
	Name         string
	Flags        uint32
	ChannelCount uint32
	PortType     string
	InPlacePair  uint32
}

// NoteDialect bits from clap/ext/note-ports.h.
type NoteDialect uint32

const (
	NoteDialectCLAP NoteDialect = 1 << 0
	NoteDialectMIDI NoteDialect = 1 << 1
)

// NotePortInfo describes one note port.
type NotePortInfo struct {
	ID                uint32
	Name              string
	SupportedDialects NoteDialect
	PreferredDialect  NoteDialect
}

// EventType mirrors the core CLAP event types used by the validator.
type EventType uint16

const (
	EventNoteOn     EventType = 0
	EventNoteOff    EventType = 1
	EventNoteChoke  EventType = 2
	EventNoteEnd    EventType = 3
	EventParamValue EventType = 5
)

// Event is a flattened core event. Type selects which payload fields are
// meaningful: note events use NoteID/Port/Channel/Key/Velocity, parameter
// events use ParamID/Cookie/Value plus the note addressing fields.
type Event struct {
	Time uint32
	Type EventType

	NoteID   int32
	Port     int16
	Channel  int16
	Key      int16
	Velocity float64

	ParamID uint32
	Cookie  uintptr
	Value   float64
}

// ProcessStatus is the return value of clap_plugin.process.
type ProcessStatus int32

const (
	ProcessError            ProcessStatus = 0
	ProcessContinue         ProcessStatus = 1
	ProcessContinueIfNotQuiet ProcessStatus = 2
	ProcessTail             ProcessStatus = 3
	ProcessSleep            ProcessStatus = 4
)

// AudioBuffer is one audio port's worth of 32-bit sample data.
type AudioBuffer struct {
	Channels     [][]float32
	ConstantMask uint64
}

// Process carries everything for one clap_plugin.process call. OutEvents is
// populated by the call with whatever the plugin pushed to the output queue.
type Process struct {
	SteadyTime int64
	Frames     uint32
	Inputs     []*AudioBuffer
	Outputs    []*AudioBuffer
	InEvents   []Event
	OutEvents  []Event
}

// StreamOptions tunes the state stream handed to the plugin. MaxChunk > 0
// clamps how many bytes a single read or write callback may transfer,
// simulating a buffered stream.
type StreamOptions struct {
	MaxChunk int
}

// ErrStateRejected is returned by StateExt.Load when the plugin's load
// callback returned false. Callers distinguish a clean rejection from a
// stream malfunction through this sentinel.
var ErrStateRejected = errors.New("plugin rejected state load")

// ErrNotFound is returned by Library.CreateInstance when the factory
// returned null for the requested plugin ID.
var ErrNotFound = errors.New("factory returned no plugin for ID")

// ErrUnsupportedPlatform is returned by Open and OpenImmediate on platforms
// without dlopen support. Tests depending on them resolve to Skip.
var ErrUnsupportedPlatform = errors.New("native plugin loading is not supported on this platform")
