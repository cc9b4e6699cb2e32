//go:build darwin || freebsd || linux

package clap

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
)

// rawPlugin mirrors clap_plugin.
type rawPlugin struct {
	desc       uintptr
	pluginData uintptr

	init            uintptr
	destroy         uintptr
	activate        uintptr
	deactivate      uintptr
	startProcessing uintptr
	stopProcessing  uintptr
	reset           uintptr
	process         uintptr
	getExtension    uintptr
	onMainThread    uintptr
}

type nativeHandle struct {
	ptr    uintptr
	raw    *rawPlugin
	bridge *hostBridge

	fnInit            func(plugin uintptr) bool
	fnDestroy         func(plugin uintptr)
	fnActivate        func(plugin uintptr, sampleRate float64, minFrames, maxFrames uint32) bool
	fnDeactivate      func(plugin uintptr)
	fnStartProcessing func(plugin uintptr) bool
	fnStopProcessing  func(plugin uintptr)
	fnReset           func(plugin uintptr)
	fnProcess         func(plugin uintptr, process uintptr) int32
	fnGetExtension    func(plugin uintptr, id string) uintptr
	fnOnMainThread    func(plugin uintptr)

	destroyed bool
}

func newNativeHandle(ptr uintptr, bridge *hostBridge) (Handle, error) {
	raw := (*rawPlugin)(unsafe.Pointer(ptr))
	if raw.init == 0 || raw.destroy == 0 || raw.activate == 0 || raw.deactivate == 0 ||
		raw.startProcessing == 0 || raw.stopProcessing == 0 || raw.reset == 0 ||
		raw.process == 0 || raw.getExtension == 0 || raw.onMainThread == 0 {
		bridge.release()
		return nil, errors.New("plugin has a null function in its clap_plugin table")
	}

	h := &nativeHandle{ptr: ptr, raw: raw, bridge: bridge}
	purego.RegisterFunc(&h.fnInit, raw.init)
	purego.RegisterFunc(&h.fnDestroy, raw.destroy)
	purego.RegisterFunc(&h.fnActivate, raw.activate)
	purego.RegisterFunc(&h.fnDeactivate, raw.deactivate)
	purego.RegisterFunc(&h.fnStartProcessing, raw.startProcessing)
	purego.RegisterFunc(&h.fnStopProcessing, raw.stopProcessing)
	purego.RegisterFunc(&h.fnReset, raw.reset)
	purego.RegisterFunc(&h.fnProcess, raw.process)
	purego.RegisterFunc(&h.fnGetExtension, raw.getExtension)
	purego.RegisterFunc(&h.fnOnMainThread, raw.onMainThread)
	return h, nil
}

func (h *nativeHandle) Descriptor() (*Descriptor, error) {
	if h.raw.desc == 0 {
		return nil, errors.New("plugin instance has a null descriptor pointer")
	}
	d, err := readDescriptor(h.raw.desc)
	if err != nil {
		return nil, fmt.Errorf("instance descriptor: %w", err)
	}
	return &d, nil
}

func (h *nativeHandle) Init() bool { return h.fnInit(h.ptr) }

func (h *nativeHandle) Destroy() {
	if h.destroyed {
		return
	}
	h.destroyed = true
	h.fnDestroy(h.ptr)
	h.bridge.release()
}

func (h *nativeHandle) Activate(sampleRate float64, minFrames, maxFrames uint32) bool {
	return h.fnActivate(h.ptr, sampleRate, minFrames, maxFrames)
}

func (h *nativeHandle) Deactivate()           { h.fnDeactivate(h.ptr) }
func (h *nativeHandle) StartProcessing() bool { return h.fnStartProcessing(h.ptr) }
func (h *nativeHandle) StopProcessing()       { h.fnStopProcessing(h.ptr) }
func (h *nativeHandle) Reset()                { h.fnReset(h.ptr) }
func (h *nativeHandle) OnMainThread()         { h.fnOnMainThread(h.ptr) }

func (h *nativeHandle) extension(id string) uintptr {
	return h.fnGetExtension(h.ptr, id)
}

func (h *nativeHandle) Params() (ParamsExt, bool) {
	ptr := h.extension(ExtParams)
	if ptr == 0 {
		return nil, false
	}
	return newNativeParams(h.ptr, ptr), true
}

func (h *nativeHandle) State() (StateExt, bool) {
	ptr := h.extension(ExtState)
	if ptr == 0 {
		return nil, false
	}
	return newNativeState(h.ptr, ptr), true
}

func (h *nativeHandle) AudioPorts() (AudioPortsExt, bool) {
	ptr := h.extension(ExtAudioPorts)
	if ptr == 0 {
		return nil, false
	}
	return newNativeAudioPorts(h.ptr, ptr), true
}

func (h *nativeHandle) NotePorts() (NotePortsExt, bool) {
	ptr := h.extension(ExtNotePorts)
	if ptr == 0 {
		return nil, false
	}
	return newNativeNotePorts(h.ptr, ptr), true
}

// rawParamInfo mirrors clap_param_info.
type rawParamInfo struct {
	id     uint32
	flags  uint32
	cookie uintptr
	name   [NameSize]byte
	module [PathSize]byte
	min    float64
	max    float64
	def    float64
}

// rawPluginParams mirrors clap_plugin_params.
type rawPluginParams struct {
	count       uintptr
	getInfo     uintptr
	getValue    uintptr
	valueToText uintptr
	textToValue uintptr
	flush       uintptr
}

type nativeParams struct {
	plugin uintptr

	fnCount       func(plugin uintptr) uint32
	fnGetInfo     func(plugin uintptr, index uint32, out uintptr) bool
	fnGetValue    func(plugin uintptr, id uint32, out uintptr) bool
	fnValueToText func(plugin uintptr, id uint32, value float64, buf uintptr, capacity uint32) bool
	fnTextToValue func(plugin uintptr, id uint32, text string, out uintptr) bool
	fnFlush       func(plugin uintptr, in uintptr, out uintptr)
}

func newNativeParams(plugin, ext uintptr) *nativeParams {
	raw := (*rawPluginParams)(unsafe.Pointer(ext))
	p := &nativeParams{plugin: plugin}
	purego.RegisterFunc(&p.fnCount, raw.count)
	purego.RegisterFunc(&p.fnGetInfo, raw.getInfo)
	purego.RegisterFunc(&p.fnGetValue, raw.getValue)
	purego.RegisterFunc(&p.fnValueToText, raw.valueToText)
	purego.RegisterFunc(&p.fnTextToValue, raw.textToValue)
	purego.RegisterFunc(&p.fnFlush, raw.flush)
	return p
}

func (p *nativeParams) Count() uint32 { return p.fnCount(p.plugin) }

func (p *nativeParams) Info(index uint32) (*ParamInfo, error) {
	var raw rawParamInfo
	if !p.fnGetInfo(p.plugin, index, uintptr(unsafe.Pointer(&raw))) {
		return nil, fmt.Errorf("plugin returned an error for parameter index %d", index)
	}
	name, err := goStringFixed(raw.name[:])
	if err != nil {
		return nil, fmt.Errorf("name of parameter with stable ID %d: %w", raw.id, err)
	}
	module, err := goStringFixed(raw.module[:])
	if err != nil {
		return nil, fmt.Errorf("module of parameter %q (stable ID %d): %w", name, raw.id, err)
	}
	return &ParamInfo{
		ID:      raw.id,
		Name:    name,
		Module:  module,
		Flags:   ParamFlags(raw.flags),
		Min:     raw.min,
		Max:     raw.max,
		Default: raw.def,
		Cookie:  raw.cookie,
	}, nil
}

func (p *nativeParams) Value(id uint32) (float64, error) {
	var value float64
	if !p.fnGetValue(p.plugin, id, uintptr(unsafe.Pointer(&value))) {
		return 0, fmt.Errorf("get_value returned false for parameter ID %d", id)
	}
	return value, nil
}

func (p *nativeParams) ValueToText(id uint32, value float64) (string, bool, error) {
	var buf [NameSize]byte
	if !p.fnValueToText(p.plugin, id, value, uintptr(unsafe.Pointer(&buf[0])), NameSize) {
		return "", false, nil
	}
	text, err := goStringFixed(buf[:])
	if err != nil {
		return "", true, fmt.Errorf("text for value %v of parameter ID %d: %w", value, id, err)
	}
	return text, true, nil
}

func (p *nativeParams) TextToValue(id uint32, text string) (float64, bool, error) {
	var value float64
	if !p.fnTextToValue(p.plugin, id, text, uintptr(unsafe.Pointer(&value))) {
		return 0, false, nil
	}
	return value, true, nil
}

func (p *nativeParams) Flush(in []Event) ([]Event, error) {
	inList, inRelease := newInputEventList(in)
	defer inRelease()
	outList, collect, outRelease := newOutputEventList()
	defer outRelease()

	p.fnFlush(p.plugin, inList, outList)
	return collect(), nil
}

// rawPluginState mirrors clap_plugin_state.
type rawPluginState struct {
	save uintptr
	load uintptr
}

type nativeState struct {
	plugin uintptr

	fnSave func(plugin uintptr, stream uintptr) bool
	fnLoad func(plugin uintptr, stream uintptr) bool
}

func newNativeState(plugin, ext uintptr) *nativeState {
	raw := (*rawPluginState)(unsafe.Pointer(ext))
	s := &nativeState{plugin: plugin}
	purego.RegisterFunc(&s.fnSave, raw.save)
	purego.RegisterFunc(&s.fnLoad, raw.load)
	return s
}

func (s *nativeState) Save(opts StreamOptions) ([]byte, error) {
	stream, buffer, release := newOutputStream(opts.MaxChunk)
	defer release()
	if !s.fnSave(s.plugin, stream) {
		return nil, errors.New("clap_plugin_state.save returned false")
	}
	return buffer(), nil
}

func (s *nativeState) Load(data []byte, opts StreamOptions) error {
	stream, release := newInputStream(data, opts.MaxChunk)
	defer release()
	if !s.fnLoad(s.plugin, stream) {
		return ErrStateRejected
	}
	return nil
}

// rawAudioPortInfo mirrors clap_audio_port_info.
type rawAudioPortInfo struct {
	id           uint32
	name         [NameSize]byte
	flags        uint32
	channelCount uint32
	portType     uintptr
	inPlacePair  uint32
}

// rawPluginAudioPorts mirrors clap_plugin_audio_ports.
type rawPluginAudioPorts struct {
	count uintptr
	get   uintptr
}

type nativeAudioPorts struct {
	plugin uintptr

	fnCount func(plugin uintptr, isInput bool) uint32
	fnGet   func(plugin uintptr, index uint32, isInput bool, out uintptr) bool
}

func newNativeAudioPorts(plugin, ext uintptr) *nativeAudioPorts {
	raw := (*rawPluginAudioPorts)(unsafe.Pointer(ext))
	a := &nativeAudioPorts{plugin: plugin}
	purego.RegisterFunc(&a.fnCount, raw.count)
	purego.RegisterFunc(&a.fnGet, raw.get)
	return a
}

func (a *nativeAudioPorts) Count(input bool) uint32 { return a.fnCount(a.plugin, input) }

func (a *nativeAudioPorts) Info(index uint32, input bool) (*AudioPortInfo, error) {
	var raw rawAudioPortInfo
	if !a.fnGet(a.plugin, index, input, uintptr(unsafe.Pointer(&raw))) {
		return nil, fmt.Errorf("plugin returned an error for audio port index %d (input: %t)", index, input)
	}
	name, err := goStringFixed(raw.name[:])
	if err != nil {
		return nil, fmt.Errorf("name of audio port %d: %w", raw.id, err)
	}
	return &AudioPortInfo{
		ID:           raw.id,
		Name:         name,
		Flags:        raw.flags,
		ChannelCount: raw.channelCount,
		PortType:     goString(raw.portType),
		InPlacePair:  raw.inPlacePair,
	}, nil
}

// rawNotePortInfo mirrors clap_note_port_info.
type rawNotePortInfo struct {
	id                uint32
	supportedDialects uint32
	preferredDialect  uint32
	name              [NameSize]byte
}

// rawPluginNotePorts mirrors clap_plugin_note_ports.
type rawPluginNotePorts struct {
	count uintptr
	get   uintptr
}

type nativeNotePorts struct {
	plugin uintptr

	fnCount func(plugin uintptr, isInput bool) uint32
	fnGet   func(plugin uintptr, index uint32, isInput bool, out uintptr) bool
}

func newNativeNotePorts(plugin, ext uintptr) *nativeNotePorts {
	raw := (*rawPluginNotePorts)(unsafe.Pointer(ext))
	n := &nativeNotePorts{plugin: plugin}
	purego.RegisterFunc(&n.fnCount, raw.count)
	purego.RegisterFunc(&n.fnGet, raw.get)
	return n
}

func (n *nativeNotePorts) Count(input bool) uint32 { return n.fnCount(n.plugin, input) }

func (n *nativeNotePorts) Info(index uint32, input bool) (*NotePortInfo, error) {
	var raw rawNotePortInfo
	if !n.fnGet(n.plugin, index, input, uintptr(unsafe.Pointer(&raw))) {
		return nil, fmt.Errorf("plugin returned an error for note port index %d (input: %t)", index, input)
	}
	name, err := goStringFixed(raw.name[:])
	if err != nil {
		return nil, fmt.Errorf("name of note port %d: %w", raw.id, err)
	}
	return &NotePortInfo{
		ID:                raw.id,
		Name:              name,
		SupportedDialects: NoteDialect(raw.supportedDialects),
		PreferredDialect:  NoteDialect(raw.preferredDialect),
	}, nil
}
