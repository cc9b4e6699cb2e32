//go:build darwin || freebsd || linux

package clap

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

// rawProcess mirrors clap_process.
type rawProcess struct {
	steadyTime        int64
	framesCount       uint32
	transport         uintptr
	audioInputs       uintptr
	audioOutputs      uintptr
	audioInputsCount  uint32
	audioOutputsCount uint32
	inEvents          uintptr
	outEvents         uintptr
}

// rawAudioBuffer mirrors clap_audio_buffer.
type rawAudioBuffer struct {
	data32       uintptr
	data64       uintptr
	channelCount uint32
	latency      uint32
	constantMask uint64
}

// rawEventHeader mirrors clap_event_header.
type rawEventHeader struct {
	size    uint32
	time    uint32
	spaceID uint16
	typ     uint16
	flags   uint32
}

// rawEventNote mirrors clap_event_note.
type rawEventNote struct {
	header    rawEventHeader
	noteID    int32
	portIndex int16
	channel   int16
	key       int16
	velocity  float64
}

// rawEventParamValue mirrors clap_event_param_value.
type rawEventParamValue struct {
	header    rawEventHeader
	paramID   uint32
	cookie    uintptr
	noteID    int32
	portIndex int16
	channel   int16
	key       int16
	value     float64
}

// rawInputEvents mirrors clap_input_events.
type rawInputEvents struct {
	ctx  uintptr
	size uintptr
	get  uintptr
}

// rawOutputEvents mirrors clap_output_events.
type rawOutputEvents struct {
	ctx     uintptr
	tryPush uintptr
}

// rawIStream mirrors clap_istream.
type rawIStream struct {
	ctx  uintptr
	read uintptr
}

// rawOStream mirrors clap_ostream.
type rawOStream struct {
	ctx   uintptr
	write uintptr
}

// Bridges are resolved through token registries: the ctx field of each
// vtable struct carries an opaque token, never a Go pointer.
var (
	bridgeMu     sync.Mutex
	istreamReg   = map[uintptr]*istreamBridge{}
	ostreamReg   = map[uintptr]*ostreamBridge{}
	inEventsReg  = map[uintptr]*inEventsBridge{}
	outEventsReg = map[uintptr]*outEventsBridge{}
	tokenCounter uintptr
)

func nextToken() uintptr {
	return atomic.AddUintptr(&tokenCounter, 1)
}

type istreamBridge struct {
	data     []byte
	pos      int
	maxChunk int
}

type ostreamBridge struct {
	data     []byte
	maxChunk int
}

type inEventsBridge struct {
	ptrs []uintptr
	refs []any
}

type outEventsBridge struct {
	events []Event
}

var (
	processCBOnce      sync.Once
	cbStreamRead       uintptr
	cbStreamWrite      uintptr
	cbInEventsSize     uintptr
	cbInEventsGet      uintptr
	cbOutEventsTryPush uintptr
)

func ctxToken(list uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(list))
}

func initProcessCallbacks() {
	processCBOnce.Do(func() {
		cbStreamRead = purego.NewCallback(func(stream, buffer uintptr, size uint64) int64 {
			bridgeMu.Lock()
			b := istreamReg[ctxToken(stream)]
			bridgeMu.Unlock()
			if b == nil || buffer == 0 {
				return -1
			}
			n := len(b.data) - b.pos
			if int(size) < n {
				n = int(size)
			}
			if b.maxChunk > 0 && n > b.maxChunk {
				n = b.maxChunk
			}
			if n <= 0 {
				return 0
			}
			copy(unsafe.Slice((*byte)(unsafe.Pointer(buffer)), n), b.data[b.pos:b.pos+n])
			b.pos += n
			return int64(n)
		})

		cbStreamWrite = purego.NewCallback(func(stream, buffer uintptr, size uint64) int64 {
			bridgeMu.Lock()
			b := ostreamReg[ctxToken(stream)]
			bridgeMu.Unlock()
			if b == nil || buffer == 0 {
				return -1
			}
			n := int(size)
			if b.maxChunk > 0 && n > b.maxChunk {
				n = b.maxChunk
			}
			if n == 0 {
				return 0
			}
			b.data = append(b.data, unsafe.Slice((*byte)(unsafe.Pointer(buffer)), n)...)
			return int64(n)
		})

		cbInEventsSize = purego.NewCallback(func(list uintptr) uint32 {
			bridgeMu.Lock()
			b := inEventsReg[ctxToken(list)]
			bridgeMu.Unlock()
			if b == nil {
				return 0
			}
			return uint32(len(b.ptrs))
		})

		cbInEventsGet = purego.NewCallback(func(list uintptr, index uint32) uintptr {
			bridgeMu.Lock()
			b := inEventsReg[ctxToken(list)]
			bridgeMu.Unlock()
			if b == nil || int(index) >= len(b.ptrs) {
				return 0
			}
			return b.ptrs[index]
		})

		cbOutEventsTryPush = purego.NewCallback(func(list, ev uintptr) uintptr {
			bridgeMu.Lock()
			b := outEventsReg[ctxToken(list)]
			bridgeMu.Unlock()
			if b == nil || ev == 0 {
				return 0
			}
			b.events = append(b.events, parseEvent(ev))
			return 1
		})
	})
}

// parseEvent copies one plugin-pushed event out of native memory. Events
// outside the core namespace keep only their time and type.
func parseEvent(ev uintptr) Event {
	header := (*rawEventHeader)(unsafe.Pointer(ev))
	out := Event{Time: header.time, Type: EventType(header.typ)}
	if header.spaceID != 0 {
		return out
	}
	switch out.Type {
	case EventNoteOn, EventNoteOff, EventNoteChoke, EventNoteEnd:
		raw := (*rawEventNote)(unsafe.Pointer(ev))
		out.NoteID = raw.noteID
		out.Port = raw.portIndex
		out.Channel = raw.channel
		out.Key = raw.key
		out.Velocity = raw.velocity
	case EventParamValue:
		raw := (*rawEventParamValue)(unsafe.Pointer(ev))
		out.ParamID = raw.paramID
		out.Cookie = raw.cookie
		out.NoteID = raw.noteID
		out.Port = raw.portIndex
		out.Channel = raw.channel
		out.Key = raw.key
		out.Value = raw.value
	}
	return out
}

func marshalEvent(e Event) (ptr uintptr, ref any) {
	switch e.Type {
	case EventNoteOn, EventNoteOff, EventNoteChoke, EventNoteEnd:
		raw := &rawEventNote{
			header: rawEventHeader{
				size: uint32(unsafe.Sizeof(rawEventNote{})),
				time: e.Time,
				typ:  uint16(e.Type),
			},
			noteID:    e.NoteID,
			portIndex: e.Port,
			channel:   e.Channel,
			key:       e.Key,
			velocity:  e.Velocity,
		}
		return uintptr(unsafe.Pointer(raw)), raw
	case EventParamValue:
		raw := &rawEventParamValue{
			header: rawEventHeader{
				size: uint32(unsafe.Sizeof(rawEventParamValue{})),
				time: e.Time,
				typ:  uint16(e.Type),
			},
			paramID:   e.ParamID,
			cookie:    e.Cookie,
			noteID:    e.NoteID,
			portIndex: e.Port,
			channel:   e.Channel,
			key:       e.Key,
			value:     e.Value,
		}
		return uintptr(unsafe.Pointer(raw)), raw
	}
	return 0, nil
}

// newInputEventList builds a clap_input_events over the given events. The
// returned release func unregisters the bridge; the list pointer is only
// valid until then.
func newInputEventList(events []Event) (uintptr, func()) {
	initProcessCallbacks()

	bridge := &inEventsBridge{}
	for _, e := range events {
		ptr, ref := marshalEvent(e)
		if ptr == 0 {
			continue
		}
		bridge.ptrs = append(bridge.ptrs, ptr)
		bridge.refs = append(bridge.refs, ref)
	}

	token := nextToken()
	bridgeMu.Lock()
	inEventsReg[token] = bridge
	bridgeMu.Unlock()

	list := &rawInputEvents{ctx: token, size: cbInEventsSize, get: cbInEventsGet}
	release := func() {
		bridgeMu.Lock()
		delete(inEventsReg, token)
		bridgeMu.Unlock()
		runtime.KeepAlive(list)
		runtime.KeepAlive(bridge)
	}
	return uintptr(unsafe.Pointer(list)), release
}

// newOutputEventList builds a clap_output_events whose try_push collects
// into a Go slice, returned by collect after the native call completes.
func newOutputEventList() (uintptr, func() []Event, func()) {
	initProcessCallbacks()

	bridge := &outEventsBridge{}
	token := nextToken()
	bridgeMu.Lock()
	outEventsReg[token] = bridge
	bridgeMu.Unlock()

	list := &rawOutputEvents{ctx: token, tryPush: cbOutEventsTryPush}
	collect := func() []Event {
		bridgeMu.Lock()
		defer bridgeMu.Unlock()
		return bridge.events
	}
	release := func() {
		bridgeMu.Lock()
		delete(outEventsReg, token)
		bridgeMu.Unlock()
		runtime.KeepAlive(list)
	}
	return uintptr(unsafe.Pointer(list)), collect, release
}

func newInputStream(data []byte, maxChunk int) (uintptr, func()) {
	initProcessCallbacks()

	bridge := &istreamBridge{data: data, maxChunk: maxChunk}
	token := nextToken()
	bridgeMu.Lock()
	istreamReg[token] = bridge
	bridgeMu.Unlock()

	stream := &rawIStream{ctx: token, read: cbStreamRead}
	release := func() {
		bridgeMu.Lock()
		delete(istreamReg, token)
		bridgeMu.Unlock()
		runtime.KeepAlive(stream)
	}
	return uintptr(unsafe.Pointer(stream)), release
}

func newOutputStream(maxChunk int) (uintptr, func() []byte, func()) {
	initProcessCallbacks()

	bridge := &ostreamBridge{maxChunk: maxChunk}
	token := nextToken()
	bridgeMu.Lock()
	ostreamReg[token] = bridge
	bridgeMu.Unlock()

	stream := &rawOStream{ctx: token, write: cbStreamWrite}
	buffer := func() []byte {
		bridgeMu.Lock()
		defer bridgeMu.Unlock()
		return bridge.data
	}
	release := func() {
		bridgeMu.Lock()
		delete(ostreamReg, token)
		bridgeMu.Unlock()
		runtime.KeepAlive(stream)
	}
	return uintptr(unsafe.Pointer(stream)), buffer, release
}

func (h *nativeHandle) Process(p *Process) (ProcessStatus, error) {
	inBuffers, inRefs := marshalAudioBuffers(p.Inputs)
	outBuffers, outRefs := marshalAudioBuffers(p.Outputs)
	inList, inRelease := newInputEventList(p.InEvents)
	defer inRelease()
	outList, collect, outRelease := newOutputEventList()
	defer outRelease()

	raw := rawProcess{
		steadyTime:        p.SteadyTime,
		framesCount:       p.Frames,
		audioInputsCount:  uint32(len(inBuffers)),
		audioOutputsCount: uint32(len(outBuffers)),
		inEvents:          inList,
		outEvents:         outList,
	}
	if len(inBuffers) > 0 {
		raw.audioInputs = uintptr(unsafe.Pointer(&inBuffers[0]))
	}
	if len(outBuffers) > 0 {
		raw.audioOutputs = uintptr(unsafe.Pointer(&outBuffers[0]))
	}

	status := ProcessStatus(h.fnProcess(h.ptr, uintptr(unsafe.Pointer(&raw))))
	p.OutEvents = collect()

	runtime.KeepAlive(inBuffers)
	runtime.KeepAlive(outBuffers)
	runtime.KeepAlive(inRefs)
	runtime.KeepAlive(outRefs)
	return status, nil
}

func marshalAudioBuffers(buffers []*AudioBuffer) ([]rawAudioBuffer, []any) {
	raws := make([]rawAudioBuffer, 0, len(buffers))
	refs := make([]any, 0, len(buffers))
	for _, b := range buffers {
		channels := make([]uintptr, len(b.Channels))
		for i, ch := range b.Channels {
			if len(ch) > 0 {
				channels[i] = uintptr(unsafe.Pointer(&ch[0]))
			}
		}
		raw := rawAudioBuffer{
			channelCount: uint32(len(b.Channels)),
			constantMask: b.ConstantMask,
		}
		if len(channels) > 0 {
			raw.data32 = uintptr(unsafe.Pointer(&channels[0]))
		}
		raws = append(raws, raw)
		refs = append(refs, channels, b)
	}
	return raws, refs
}
