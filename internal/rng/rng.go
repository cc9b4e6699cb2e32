// Package rng provides the deterministic pseudo-random generation used by
// fuzzing test cases. Everything is seeded from fixed constants so a
// failing permutation reproduces identically on every run and platform.
package rng

import (
	"math/bits"
	"sort"

	"github.com/clapcheck/clapcheck/internal/clap"
)

const (
	pcgMultiplier = 6364136223846793005

	// Fixed seed and stream for all generated test data.
	defaultSeed   = 1337
	defaultStream = 420
)

// Pcg32 is a PCG XSH-RR 64/32 generator.
type Pcg32 struct {
	state uint64
	inc   uint64
}

// New returns the validator's default generator. Every test case that needs
// randomness starts from this fixed seed.
func New() *Pcg32 {
	return NewPcg32(defaultSeed, defaultStream)
}

// NewPcg32 seeds a generator with an explicit state and stream.
func NewPcg32(state, stream uint64) *Pcg32 {
	inc := (stream << 1) | 1
	p := &Pcg32{state: state + inc, inc: inc}
	p.step()
	return p
}

func (p *Pcg32) step() {
	p.state = p.state*pcgMultiplier + p.inc
}

// Uint32 returns the next output.
func (p *Pcg32) Uint32() uint32 {
	s := p.state
	p.step()
	rot := int(s >> 59)
	xsh := uint32(((s >> 18) ^ s) >> 27)
	return bits.RotateLeft32(xsh, -rot)
}

// Uint64 combines two outputs, low word first.
func (p *Pcg32) Uint64() uint64 {
	lo := uint64(p.Uint32())
	hi := uint64(p.Uint32())
	return lo | hi<<32
}

// Float64 returns a value in [0, 1) with 53 bits of precision.
func (p *Pcg32) Float64() float64 {
	return float64(p.Uint64()>>11) / (1 << 53)
}

// IntN returns a value in [0, n). n must be positive.
func (p *Pcg32) IntN(n int) int {
	return int((uint64(p.Uint32()) * uint64(n)) >> 32)
}

// RangeF64 returns a value in [min, max].
func (p *Pcg32) RangeF64(min, max float64) float64 {
	return min + p.Float64()*(max-min)
}

// ValueAssignment pairs a parameter with a generated value.
type ValueAssignment struct {
	ID     uint32
	Cookie uintptr
	Value  float64
}

// ParamFuzzer generates in-range values for a fixed set of parameters.
// Parameters are visited in ascending stable-ID order so permutations are
// independent of enumeration order.
type ParamFuzzer struct {
	params []clap.ParamInfo
}

// NewParamFuzzer builds a fuzzer over the given parameter set.
func NewParamFuzzer(infos map[uint32]clap.ParamInfo) *ParamFuzzer {
	params := make([]clap.ParamInfo, 0, len(infos))
	for _, info := range infos {
		params = append(params, info)
	}
	sort.Slice(params, func(i, j int) bool { return params[i].ID < params[j].ID })
	return &ParamFuzzer{params: params}
}

// RandomValue generates one legal value for a parameter. Stepped parameters
// only receive integer values.
func (f *ParamFuzzer) RandomValue(rng *Pcg32, info *clap.ParamInfo) float64 {
	if info.Stepped() {
		span := int(info.Max-info.Min) + 1
		if span < 1 {
			span = 1
		}
		return info.Min + float64(rng.IntN(span))
	}
	return rng.RangeF64(info.Min, info.Max)
}

// Permutation generates one value per parameter.
func (f *ParamFuzzer) Permutation(rng *Pcg32) []ValueAssignment {
	out := make([]ValueAssignment, 0, len(f.params))
	for i := range f.params {
		info := &f.params[i]
		out = append(out, ValueAssignment{
			ID:     info.ID,
			Cookie: info.Cookie,
			Value:  f.RandomValue(rng, info),
		})
	}
	return out
}

// Events converts assignments into time-zero parameter events.
func Events(assignments []ValueAssignment) []clap.Event {
	events := make([]clap.Event, 0, len(assignments))
	for _, a := range assignments {
		events = append(events, clap.Event{
			Type:    clap.EventParamValue,
			ParamID: a.ID,
			Cookie:  a.Cookie,
			NoteID:  -1,
			Port:    -1,
			Channel: -1,
			Key:     -1,
			Value:   a.Value,
		})
	}
	return events
}

// NoteGenerator produces note event sequences. In consistent mode the
// stream is well formed: a note-on is only generated for an inactive key
// and a note-off only for an active one. In inconsistent mode events are
// generated without tracking, which is still legal input a plugin must
// tolerate.
type NoteGenerator struct {
	inconsistent bool
	active       map[noteKey]int32
	nextNoteID   int32
}

type noteKey struct {
	channel int16
	key     int16
}

// NewNoteGenerator returns a consistent-mode generator.
func NewNoteGenerator() *NoteGenerator {
	return &NoteGenerator{active: map[noteKey]int32{}}
}

// NewInconsistentNoteGenerator returns a generator that ignores note
// bookkeeping.
func NewInconsistentNoteGenerator() *NoteGenerator {
	return &NoteGenerator{inconsistent: true, active: map[noteKey]int32{}}
}

// Events generates count events with non-decreasing times within a buffer
// of the given length.
func (g *NoteGenerator) Events(rng *Pcg32, frames uint32, count int) []clap.Event {
	times := make([]int, count)
	for i := range times {
		times[i] = rng.IntN(int(frames))
	}
	sort.Ints(times)

	events := make([]clap.Event, 0, count)
	for _, t := range times {
		events = append(events, g.next(rng, uint32(t)))
	}
	return events
}

func (g *NoteGenerator) next(rng *Pcg32, time uint32) clap.Event {
	if g.inconsistent {
		kinds := []clap.EventType{clap.EventNoteOn, clap.EventNoteOff, clap.EventNoteChoke}
		return clap.Event{
			Time:     time,
			Type:     kinds[rng.IntN(len(kinds))],
			NoteID:   -1,
			Channel:  int16(rng.IntN(16)),
			Key:      int16(rng.IntN(128)),
			Velocity: rng.Float64(),
		}
	}

	// Turn an active note off half the time, otherwise start a new one.
	if len(g.active) > 0 && rng.IntN(2) == 0 {
		keys := make([]noteKey, 0, len(g.active))
		for k := range g.active {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].channel != keys[j].channel {
				return keys[i].channel < keys[j].channel
			}
			return keys[i].key < keys[j].key
		})
		k := keys[rng.IntN(len(keys))]
		id := g.active[k]
		delete(g.active, k)
		return clap.Event{
			Time:     time,
			Type:     clap.EventNoteOff,
			NoteID:   id,
			Channel:  k.channel,
			Key:      k.key,
			Velocity: rng.Float64(),
		}
	}

	for {
		k := noteKey{channel: int16(rng.IntN(16)), key: int16(rng.IntN(128))}
		if _, on := g.active[k]; on {
			continue
		}
		id := g.nextNoteID
		g.nextNoteID++
		g.active[k] = id
		return clap.Event{
			Time:     time,
			Type:     clap.EventNoteOn,
			NoteID:   id,
			Channel:  k.channel,
			Key:      k.key,
			Velocity: rng.Float64(),
		}
	}
}
