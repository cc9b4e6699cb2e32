// Package claptest provides an in-memory clap.Library implementation with
// configurable misbehavior, so conformance checks can be exercised without
// loading native code.
package claptest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/clapcheck/clapcheck/internal/clap"
)

// Param is one fake parameter: its reported info and initial value.
type Param struct {
	Info  clap.ParamInfo
	Value float64
}

// Behavior holds the misbehavior knobs. The zero value is a fully
// conformant plugin.
type Behavior struct {
	FailInit            bool
	FailActivate        bool
	FailStartProcessing bool

	// InstanceDescriptor, when set, is returned from the created instance
	// instead of the factory descriptor.
	InstanceDescriptor *clap.Descriptor

	NoParamsExt     bool
	NoStateExt      bool
	NoAudioPortsExt bool
	NoNotePortsExt  bool

	// AcceptEmptyState makes load report success for a zero-length stream.
	AcceptEmptyState bool
	// RejectStateLoad makes every load report failure.
	RejectStateLoad bool
	// FailStateSave makes every save report failure.
	FailStateSave bool
	// NondeterministicState appends a counter to each saved state so
	// consecutive saves never match.
	NondeterministicState bool

	// NoTextConversion disables value/text conversion for every parameter
	// (legal: support must be all-or-none).
	NoTextConversion bool
	// IgnoreFlush makes the params flush drop its input events instead of
	// applying them.
	IgnoreFlush bool
	// PartialTextConversion disables conversion only for the listed
	// parameter IDs (a conformance violation).
	PartialTextConversion map[uint32]bool
	// RoundTripError is added to every TextToValue result.
	RoundTripError float64

	FailProcess bool
	// EmitNaN writes a NaN into the first output sample of each process
	// call.
	EmitNaN bool
	// ModifyInputBuffers writes into the input buffers during process.
	ModifyInputBuffers bool
	// NonMonotonicOutputEvents pushes output events with decreasing times.
	NonMonotonicOutputEvents bool
}

// Plugin is one fake plugin type registered in a Library. Instances created
// from it copy the parameter values; the template itself holds only
// configuration.
type Plugin struct {
	Desc     clap.Descriptor
	Params   []Param
	Behavior Behavior

	AudioInputs  []clap.AudioPortInfo
	AudioOutputs []clap.AudioPortInfo
	NoteInputs   []clap.NotePortInfo
	NoteOutputs  []clap.NotePortInfo

	saveCounter int
}

// NewEffectPlugin returns a conformant stereo audio effect template with the
// given parameters.
func NewEffectPlugin(id, name string, params ...Param) *Plugin {
	return &Plugin{
		Desc: clap.Descriptor{
			ID:       id,
			Name:     name,
			Vendor:   "claptest",
			Version:  "1.0.0",
			Features: []string{"audio-effect", "stereo"},
		},
		Params: params,
		AudioInputs: []clap.AudioPortInfo{
			{ID: 0, Name: "Input", ChannelCount: 2, PortType: "stereo"},
		},
		AudioOutputs: []clap.AudioPortInfo{
			{ID: 0, Name: "Output", ChannelCount: 2, PortType: "stereo"},
		},
	}
}

// NewInstrumentPlugin returns a conformant instrument template: one note
// input, one stereo output.
func NewInstrumentPlugin(id, name string, params ...Param) *Plugin {
	return &Plugin{
		Desc: clap.Descriptor{
			ID:       id,
			Name:     name,
			Vendor:   "claptest",
			Version:  "1.0.0",
			Features: []string{"instrument"},
		},
		Params: params,
		AudioOutputs: []clap.AudioPortInfo{
			{ID: 0, Name: "Output", ChannelCount: 2, PortType: "stereo"},
		},
		NoteInputs: []clap.NotePortInfo{
			{ID: 0, Name: "Notes", SupportedDialects: clap.NoteDialectCLAP, PreferredDialect: clap.NoteDialectCLAP},
		},
	}
}

// LinearParam is a convenience constructor for an automatable continuous
// parameter.
func LinearParam(id uint32, name string, min, max, def float64) Param {
	return Param{
		Info: clap.ParamInfo{
			ID:      id,
			Name:    name,
			Flags:   clap.ParamIsAutomatable,
			Min:     min,
			Max:     max,
			Default: def,
		},
		Value: def,
	}
}

// Library is an in-memory clap.Library.
type Library struct {
	Path    string
	Version clap.Version
	Plugins []*Plugin

	// DescriptorsErr simulates a raw enumeration fault.
	DescriptorsErr error
	// ExtraFactories lists additional factory IDs FactoryExists admits.
	ExtraFactories []string
	// AnyFactory makes FactoryExists admit every ID, the classic mistake
	// of unconditionally returning the plugin factory.
	AnyFactory bool
	// CreateAnyID makes CreateInstance hand out the first plugin template
	// for IDs the factory does not list.
	CreateAnyID bool

	closed bool
}

// NewLibrary builds a fake library exposing the given plugin templates.
func NewLibrary(path string, plugins ...*Plugin) *Library {
	return &Library{Path: path, Version: clap.Version{Major: 1, Minor: 2, Revision: 2}, Plugins: plugins}
}

// Opener returns a loader-compatible open func that hands out fresh views
// of this library, mirroring the fresh-load-per-invocation contract.
func (l *Library) Opener() func(path string) (clap.Library, error) {
	return func(path string) (clap.Library, error) {
		view := *l
		view.Path = path
		view.closed = false
		return &view, nil
	}
}

func (l *Library) EntryVersion() clap.Version { return l.Version }

func (l *Library) Descriptors() ([]clap.Descriptor, error) {
	if l.DescriptorsErr != nil {
		return nil, l.DescriptorsErr
	}
	out := make([]clap.Descriptor, len(l.Plugins))
	for i, p := range l.Plugins {
		out[i] = p.Desc
	}
	return out, nil
}

func (l *Library) FactoryExists(factoryID string) bool {
	if l.AnyFactory {
		return true
	}
	if factoryID == clap.PluginFactoryID {
		return true
	}
	for _, id := range l.ExtraFactories {
		if id == factoryID {
			return true
		}
	}
	return false
}

func (l *Library) CreateInstance(host clap.HostCallbacks, pluginID string) (clap.Handle, error) {
	for _, p := range l.Plugins {
		if p.Desc.ID == pluginID {
			return newInstance(p, host), nil
		}
	}
	if l.CreateAnyID && len(l.Plugins) > 0 {
		return newInstance(l.Plugins[0], host), nil
	}
	return nil, fmt.Errorf("%w: %q", clap.ErrNotFound, pluginID)
}

func newInstance(tpl *Plugin, host clap.HostCallbacks) *Instance {
	inst := &Instance{tpl: tpl, host: host, values: map[uint32]float64{}}
	for _, param := range tpl.Params {
		inst.values[param.Info.ID] = param.Value
	}
	return inst
}

func (l *Library) Close() error {
	if l.closed {
		return errors.New("library closed twice")
	}
	l.closed = true
	return nil
}

// Instance implements clap.Handle over a Plugin template.
type Instance struct {
	tpl    *Plugin
	host   clap.HostCallbacks
	values map[uint32]float64

	inited     bool
	destroyed  bool
	activated  bool
	processing bool
}

// Host exposes the callbacks captured at creation, for assertions.
func (i *Instance) Host() clap.HostCallbacks { return i.host }

// Destroyed reports whether Destroy was called.
func (i *Instance) Destroyed() bool { return i.destroyed }

func (i *Instance) Descriptor() (*clap.Descriptor, error) {
	if i.tpl.Behavior.InstanceDescriptor != nil {
		return i.tpl.Behavior.InstanceDescriptor, nil
	}
	desc := i.tpl.Desc
	return &desc, nil
}

func (i *Instance) Init() bool {
	if i.tpl.Behavior.FailInit {
		return false
	}
	i.inited = true
	return true
}

func (i *Instance) Destroy() { i.destroyed = true }

func (i *Instance) Activate(sampleRate float64, minFrames, maxFrames uint32) bool {
	if i.tpl.Behavior.FailActivate || sampleRate <= 0 || maxFrames < minFrames {
		return false
	}
	i.activated = true
	return true
}

func (i *Instance) Deactivate() { i.activated = false }

func (i *Instance) StartProcessing() bool {
	if i.tpl.Behavior.FailStartProcessing {
		return false
	}
	i.processing = true
	return true
}

func (i *Instance) StopProcessing() { i.processing = false }

func (i *Instance) Reset() {}

func (i *Instance) OnMainThread() {}

func (i *Instance) Params() (clap.ParamsExt, bool) {
	if i.tpl.Behavior.NoParamsExt {
		return nil, false
	}
	return &fakeParams{i}, true
}

func (i *Instance) State() (clap.StateExt, bool) {
	if i.tpl.Behavior.NoStateExt {
		return nil, false
	}
	return &fakeState{i}, true
}

func (i *Instance) AudioPorts() (clap.AudioPortsExt, bool) {
	if i.tpl.Behavior.NoAudioPortsExt {
		return nil, false
	}
	return &fakeAudioPorts{i}, true
}

func (i *Instance) NotePorts() (clap.NotePortsExt, bool) {
	if i.tpl.Behavior.NoNotePortsExt {
		return nil, false
	}
	return &fakeNotePorts{i}, true
}

func (i *Instance) Process(p *clap.Process) (clap.ProcessStatus, error) {
	if i.tpl.Behavior.FailProcess {
		return clap.ProcessError, nil
	}
	if !i.processing {
		return clap.ProcessError, nil
	}

	for o, out := range p.Outputs {
		for c, ch := range out.Channels {
			for f := range ch {
				var sample float32
				if o < len(p.Inputs) && c < len(p.Inputs[o].Channels) && f < len(p.Inputs[o].Channels[c]) {
					sample = p.Inputs[o].Channels[c][f]
				}
				ch[f] = sample
			}
		}
	}
	if i.tpl.Behavior.EmitNaN && len(p.Outputs) > 0 && len(p.Outputs[0].Channels) > 0 && len(p.Outputs[0].Channels[0]) > 0 {
		p.Outputs[0].Channels[0][0] = float32(math.NaN())
	}
	if i.tpl.Behavior.ModifyInputBuffers && len(p.Inputs) > 0 && len(p.Inputs[0].Channels) > 0 && len(p.Inputs[0].Channels[0]) > 0 {
		p.Inputs[0].Channels[0][0] += 1
	}

	for _, ev := range p.InEvents {
		if ev.Type == clap.EventParamValue {
			i.values[ev.ParamID] = ev.Value
		}
		p.OutEvents = append(p.OutEvents, ev)
	}
	if i.tpl.Behavior.NonMonotonicOutputEvents {
		p.OutEvents = append(p.OutEvents,
			clap.Event{Time: p.Frames - 1, Type: clap.EventNoteEnd},
			clap.Event{Time: 0, Type: clap.EventNoteEnd},
		)
	}
	return clap.ProcessContinue, nil
}

type fakeParams struct{ i *Instance }

func (f *fakeParams) Count() uint32 { return uint32(len(f.i.tpl.Params)) }

func (f *fakeParams) Info(index uint32) (*clap.ParamInfo, error) {
	if int(index) >= len(f.i.tpl.Params) {
		return nil, fmt.Errorf("parameter index %d out of range", index)
	}
	info := f.i.tpl.Params[index].Info
	return &info, nil
}

func (f *fakeParams) Value(id uint32) (float64, error) {
	v, ok := f.i.values[id]
	if !ok {
		return 0, fmt.Errorf("unknown parameter ID %d", id)
	}
	return v, nil
}

func (f *fakeParams) ValueToText(id uint32, value float64) (string, bool, error) {
	b := f.i.tpl.Behavior
	if b.NoTextConversion || b.PartialTextConversion[id] {
		return "", false, nil
	}
	return strconv.FormatFloat(value, 'f', -1, 64), true, nil
}

func (f *fakeParams) TextToValue(id uint32, text string) (float64, bool, error) {
	b := f.i.tpl.Behavior
	if b.NoTextConversion || b.PartialTextConversion[id] {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, true, fmt.Errorf("unparseable text %q: %w", text, err)
	}
	return v + b.RoundTripError, true, nil
}

func (f *fakeParams) Flush(in []clap.Event) ([]clap.Event, error) {
	if f.i.tpl.Behavior.IgnoreFlush {
		return nil, nil
	}
	for _, ev := range in {
		if ev.Type == clap.EventParamValue {
			f.i.values[ev.ParamID] = ev.Value
		}
	}
	return nil, nil
}

type fakeState struct{ i *Instance }

// stateBlob is the fake's serialized state format.
type stateBlob struct {
	Values map[string]float64 `json:"values"`
	Nonce  int                `json:"nonce,omitempty"`
}

func (f *fakeState) Save(opts clap.StreamOptions) ([]byte, error) {
	if f.i.tpl.Behavior.FailStateSave {
		return nil, errors.New("clap_plugin_state.save returned false")
	}
	blob := stateBlob{Values: map[string]float64{}}
	for id, v := range f.i.values {
		blob.Values[strconv.FormatUint(uint64(id), 10)] = v
	}
	if f.i.tpl.Behavior.NondeterministicState {
		f.i.tpl.saveCounter++
		blob.Nonce = f.i.tpl.saveCounter
	}
	// encoding/json sorts map keys, so the blob is deterministic.
	return json.Marshal(blob)
}

func (f *fakeState) Load(data []byte, opts clap.StreamOptions) error {
	if f.i.tpl.Behavior.RejectStateLoad {
		return clap.ErrStateRejected
	}
	if len(data) == 0 {
		if f.i.tpl.Behavior.AcceptEmptyState {
			return nil
		}
		return clap.ErrStateRejected
	}
	var blob stateBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return clap.ErrStateRejected
	}
	for k, v := range blob.Values {
		id, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			return clap.ErrStateRejected
		}
		f.i.values[uint32(id)] = v
	}
	return nil
}

type fakeAudioPorts struct{ i *Instance }

func (f *fakeAudioPorts) Count(input bool) uint32 {
	if input {
		return uint32(len(f.i.tpl.AudioInputs))
	}
	return uint32(len(f.i.tpl.AudioOutputs))
}

func (f *fakeAudioPorts) Info(index uint32, input bool) (*clap.AudioPortInfo, error) {
	ports := f.i.tpl.AudioOutputs
	if input {
		ports = f.i.tpl.AudioInputs
	}
	if int(index) >= len(ports) {
		return nil, fmt.Errorf("audio port index %d out of range", index)
	}
	info := ports[index]
	return &info, nil
}

type fakeNotePorts struct{ i *Instance }

func (f *fakeNotePorts) Count(input bool) uint32 {
	if input {
		return uint32(len(f.i.tpl.NoteInputs))
	}
	return uint32(len(f.i.tpl.NoteOutputs))
}

func (f *fakeNotePorts) Info(index uint32, input bool) (*clap.NotePortInfo, error) {
	ports := f.i.tpl.NoteOutputs
	if input {
		ports = f.i.tpl.NoteInputs
	}
	if int(index) >= len(ports) {
		return nil, fmt.Errorf("note port index %d out of range", index)
	}
	info := ports[index]
	return &info, nil
}
