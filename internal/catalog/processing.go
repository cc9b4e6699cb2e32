package catalog

import (
	"errors"
	"fmt"
	"math"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/host"
	"github.com/clapcheck/clapcheck/internal/rng"
)

const (
	// processFrames is the buffer length used by every processing pass.
	processFrames uint32 = 512
	// defaultSampleRate is the rate plugins are activated at.
	defaultSampleRate = 44_100.0
	// processCycles is how many buffers a processing case pushes through
	// the plugin.
	processCycles = 5
	// noteEventsPerCycle is how many note events the generators spread
	// across one buffer.
	noteEventsPerCycle = 16
)

func init() {
	register(Case{
		ID:          "process-audio-out-of-place-basic",
		Kind:        KindPlugin,
		Category:    CategoryProcessing,
		Description: "Processes random audio through the plugin with its default parameter values and tests whether the output does not contain any non-finite or subnormal values. Uses out-of-place audio processing.",
		Run:         runProcessAudioBasic,
	})
	register(Case{
		ID:          "process-note-out-of-place-basic",
		Kind:        KindPlugin,
		Category:    CategoryProcessing,
		Description: "Sends audio and random note events to the plugin with its default parameter values and tests the output for consistency. Uses out-of-place audio processing.",
		Run:         runProcessNoteBasic,
	})
	register(Case{
		ID:          "process-note-inconsistent",
		Kind:        KindPlugin,
		Category:    CategoryProcessing,
		Description: "Sends intentionally inconsistent and mismatching note events to the plugin with its default parameter values and tests the output for consistency. Uses out-of-place audio processing.",
		Run:         runProcessNoteInconsistent,
	})
}

func runProcessAudioBasic(env *Env, path, pluginID string) Verdict {
	prng := rng.New()

	s, err := newSession(env, path, pluginID)
	if err != nil {
		return Fail(err)
	}
	defer s.close()

	if err := s.inst.Init(); err != nil {
		return Failf("error during initialization: %v", err)
	}

	ap, err := s.inst.AudioPorts()
	if errors.Is(err, host.ErrUnsupported) {
		return Skipf("The plugin does not support the '%s' extension.", clap.ExtAudioPorts)
	}
	if err != nil {
		return Fail(err)
	}
	layout, err := portLayoutFrom(ap)
	if err != nil {
		return Failf("error while querying '%s' IO configuration: %v", clap.ExtAudioPorts, err)
	}

	pass := newProcessPass(s.inst, layout, processFrames)
	err = pass.run(defaultSampleRate, processCycles, func(p *clap.Process) error {
		randomizeBuffers(prng, p.Inputs)
		return nil
	})
	if err != nil {
		return Fail(err)
	}
	if err := violationError(s.host); err != nil {
		return Fail(err)
	}
	return Pass()
}

func runProcessNoteBasic(env *Env, path, pluginID string) Verdict {
	return runNoteProcessing(env, path, pluginID, rng.NewNoteGenerator())
}

func runProcessNoteInconsistent(env *Env, path, pluginID string) Verdict {
	return runNoteProcessing(env, path, pluginID, rng.NewInconsistentNoteGenerator())
}

func runNoteProcessing(env *Env, path, pluginID string, gen *rng.NoteGenerator) Verdict {
	prng := rng.New()

	s, err := newSession(env, path, pluginID)
	if err != nil {
		return Fail(err)
	}
	defer s.close()

	if err := s.inst.Init(); err != nil {
		return Failf("error during initialization: %v", err)
	}

	// Note or MIDI only plugins are fine, so missing audio ports just mean
	// an empty buffer layout.
	layout, err := optionalAudioLayout(s.inst)
	if err != nil {
		return Fail(err)
	}

	np, err := s.inst.NotePorts()
	if errors.Is(err, host.ErrUnsupported) {
		return Skipf("The plugin does not implement the '%s' extension.", clap.ExtNotePorts)
	}
	if err != nil {
		return Fail(err)
	}
	noteInputs, err := np.Inputs()
	if err != nil {
		return Failf("error while querying '%s' IO configuration: %v", clap.ExtNotePorts, err)
	}
	if len(noteInputs) == 0 {
		return Skipf("The plugin implements the '%s' extension but it does not have any input note ports.", clap.ExtNotePorts)
	}

	pass := newProcessPass(s.inst, layout, processFrames)
	err = pass.run(defaultSampleRate, processCycles, func(p *clap.Process) error {
		p.InEvents = gen.Events(prng, processFrames, noteEventsPerCycle)
		randomizeBuffers(prng, p.Inputs)
		return nil
	})
	if err != nil {
		return Fail(err)
	}
	if err := violationError(s.host); err != nil {
		return Fail(err)
	}
	return Pass()
}

// portLayout is the audio buffer shape derived from the audio-ports
// extension.
type portLayout struct {
	inputs  []clap.AudioPortInfo
	outputs []clap.AudioPortInfo
}

func portLayoutFrom(ap *host.AudioPorts) (portLayout, error) {
	inputs, err := ap.Inputs()
	if err != nil {
		return portLayout{}, err
	}
	outputs, err := ap.Outputs()
	if err != nil {
		return portLayout{}, err
	}
	return portLayout{inputs: inputs, outputs: outputs}, nil
}

// optionalAudioLayout queries the audio port configuration, treating a
// missing audio-ports extension as an empty layout.
func optionalAudioLayout(inst *host.Instance) (portLayout, error) {
	ap, err := inst.AudioPorts()
	if errors.Is(err, host.ErrUnsupported) {
		return portLayout{}, nil
	}
	if err != nil {
		return portLayout{}, err
	}
	layout, err := portLayoutFrom(ap)
	if err != nil {
		return portLayout{}, fmt.Errorf("error while querying '%s' IO configuration: %w", clap.ExtAudioPorts, err)
	}
	return layout, nil
}

func allocateBuffers(ports []clap.AudioPortInfo, frames uint32) []*clap.AudioBuffer {
	buffers := make([]*clap.AudioBuffer, len(ports))
	for i, port := range ports {
		channels := make([][]float32, port.ChannelCount)
		for c := range channels {
			channels[c] = make([]float32, frames)
		}
		buffers[i] = &clap.AudioBuffer{Channels: channels}
	}
	return buffers
}

func randomizeBuffers(prng *rng.Pcg32, buffers []*clap.AudioBuffer) {
	for _, b := range buffers {
		for _, ch := range b.Channels {
			for i := range ch {
				ch[i] = float32(prng.RangeF64(-1, 1))
			}
		}
	}
}

func snapshotBuffers(buffers []*clap.AudioBuffer) [][][]float32 {
	snap := make([][][]float32, len(buffers))
	for i, b := range buffers {
		snap[i] = make([][]float32, len(b.Channels))
		for c, ch := range b.Channels {
			snap[i][c] = append([]float32(nil), ch...)
		}
	}
	return snap
}

func buffersEqual(snapshot [][][]float32, buffers []*clap.AudioBuffer) bool {
	for i, b := range buffers {
		for c, ch := range b.Channels {
			for f, sample := range ch {
				if snapshot[i][c][f] != sample {
					return false
				}
			}
		}
	}
	return true
}

// processPass pushes buffers through a plugin the way a host's audio
// thread would: activate, start, N process calls with consistency checks
// in between, stop, deactivate.
type processPass struct {
	inst    *host.Instance
	inputs  []*clap.AudioBuffer
	outputs []*clap.AudioBuffer
	frames  uint32
}

func newProcessPass(inst *host.Instance, layout portLayout, frames uint32) *processPass {
	return &processPass{
		inst:    inst,
		inputs:  allocateBuffers(layout.inputs, frames),
		outputs: allocateBuffers(layout.outputs, frames),
		frames:  frames,
	}
}

// run performs count process cycles. prepare is called before each cycle
// to fill the input buffers and the input event queue. On success the
// plugin is deactivated again; on error it is left for Teardown.
func (t *processPass) run(sampleRate float64, count int, prepare func(p *clap.Process) error) error {
	if err := t.inst.Activate(sampleRate, 1, t.frames); err != nil {
		return err
	}

	p := &clap.Process{Frames: t.frames, Inputs: t.inputs, Outputs: t.outputs}
	err := t.inst.OnAudioThread(func() error {
		if err := t.inst.StartProcessing(); err != nil {
			return err
		}
		for i := 0; i < count; i++ {
			p.InEvents = nil
			p.OutEvents = nil
			if err := prepare(p); err != nil {
				return err
			}

			originalInputs := snapshotBuffers(p.Inputs)
			status, err := t.inst.Process(p)
			if err != nil {
				return fmt.Errorf("error during audio processing: %w", err)
			}
			if status == clap.ProcessError {
				return errors.New("the plugin's process function returned an error status")
			}
			if err := checkOutOfPlaceOutput(p, originalInputs); err != nil {
				return fmt.Errorf("failed during processing cycle %d out of %d: %w", i+1, count, err)
			}

			p.SteadyTime += int64(t.frames)
		}
		return t.inst.StopProcessing()
	})
	if err != nil {
		return err
	}
	return t.inst.Deactivate()
}

// checkOutOfPlaceOutput verifies that the output buffers contain no
// non-finite or subnormal samples, that the input buffers were not
// overwritten, and that the output event queue is monotonically ordered.
func checkOutOfPlaceOutput(p *clap.Process, originalInputs [][][]float32) error {
	if !buffersEqual(originalInputs, p.Inputs) {
		return errors.New("the plugin has overwritten the input buffers during out-of-place processing")
	}

	for portIdx, buf := range p.Outputs {
		for channelIdx, ch := range buf.Channels {
			for sampleIdx, sample := range ch {
				v := float64(sample)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("the sample written to output port %d, channel %d, and sample index %d is %v", portIdx, channelIdx, sampleIdx, sample)
				}
				if isSubnormal(sample) {
					return fmt.Errorf("the sample written to output port %d, channel %d, and sample index %d is subnormal (%v)", portIdx, channelIdx, sampleIdx, sample)
				}
			}
		}
	}

	var lastEventTime uint32
	for _, ev := range p.OutEvents {
		if ev.Time < lastEventTime {
			return fmt.Errorf("the plugin output an event for sample %d after it had previously output an event for sample %d", ev.Time, lastEventTime)
		}
		lastEventTime = ev.Time
	}
	return nil
}

func isSubnormal(s float32) bool {
	bits := math.Float32bits(s)
	return bits>>23&0xff == 0 && bits&0x7fffff != 0
}
