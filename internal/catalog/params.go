package catalog

import (
	"errors"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/host"
	"github.com/clapcheck/clapcheck/internal/rng"
)

const (
	// valuesPerParam is how many values param-conversions round-trips per
	// parameter: the minimum, the maximum, and four random values.
	valuesPerParam = 6
	// fuzzPermutations is how many random parameter permutations
	// param-fuzz-basic applies.
	fuzzPermutations = 50
)

func init() {
	register(Case{
		ID:          "param-conversions",
		Kind:        KindPlugin,
		Category:    CategoryParams,
		Description: "Asserts that value to string and string to value conversions are supported for either all or none of the plugin's parameters, and that conversions between values and strings round-trip consistently.",
		Run:         runParamConversions,
	})
	register(Case{
		ID:          "param-fuzz-basic",
		Kind:        KindPlugin,
		Category:    CategoryParams,
		Description: "Processes audio while applying seeded random parameter permutations and checks that the plugin stays well behaved. The fixed seed makes failing permutations reproducible.",
		Run:         runParamFuzzBasic,
	})
}

func runParamConversions(env *Env, path, pluginID string) Verdict {
	prng := rng.New()

	s, err := newSession(env, path, pluginID)
	if err != nil {
		return Fail(err)
	}
	defer s.close()

	if err := s.inst.Init(); err != nil {
		return Failf("error during initialization: %v", err)
	}

	params, err := s.inst.Params()
	if errors.Is(err, host.ErrUnsupported) {
		return Skipf("The plugin does not support the '%s' extension.", clap.ExtParams)
	}
	if err != nil {
		return Fail(err)
	}
	if err := s.inst.PumpCallbacks(); err != nil {
		return Fail(err)
	}

	infos, err := params.Infos()
	if err != nil {
		return Failf("failure while fetching the plugin's parameters: %v", err)
	}

	// Support for either conversion must be all-or-none across the
	// parameter set, so count how many calls reported support.
	expectedConversions := len(infos) * valuesPerParam
	supportedValueToText := 0
	supportedTextToValue := 0

paramLoop:
	for _, id := range sortedParamIDs(infos) {
		info := infos[id]

		// The minimum and maximum may have special meanings, the rest of
		// the range is sampled randomly.
		values := [valuesPerParam]float64{
			info.Min,
			info.Max,
			prng.RangeF64(info.Min, info.Max),
			prng.RangeF64(info.Min, info.Max),
			prng.RangeF64(info.Min, info.Max),
			prng.RangeF64(info.Min, info.Max),
		}
		for _, startingValue := range values {
			// Plugins may round string representations, so the round-trip
			// starts from the string the plugin produced.
			startingText, ok, err := params.ValueToText(id, startingValue)
			if err != nil {
				return Failf("error during value to text conversion for parameter %d ('%s'): %v", id, info.Name, err)
			}
			if !ok {
				continue paramLoop
			}
			supportedValueToText++

			reconvertedValue, ok, err := params.TextToValue(id, startingText)
			if err != nil {
				return Failf("error during text to value conversion for parameter %d ('%s'): %v", id, info.Name, err)
			}
			if !ok {
				// Keep checking that value to text stays consistent even
				// when the reverse conversion is unsupported.
				continue
			}
			supportedTextToValue++

			reconvertedText, ok, err := params.ValueToText(id, reconvertedValue)
			if err != nil || !ok {
				return Failf("failure in repeated value to text conversion for parameter %d ('%s')", id, info.Name)
			}
			if startingText != reconvertedText {
				return Failf("Converting %v to a string, back to a value, and then back to a string again for parameter %d ('%s') results in '%s' -> %v -> '%s', which is not consistent.", startingValue, id, info.Name, startingText, reconvertedValue, reconvertedText)
			}

			finalValue, ok, err := params.TextToValue(id, reconvertedText)
			if err != nil || !ok {
				return Failf("failure in repeated text to value conversion for parameter %d ('%s')", id, info.Name)
			}
			if finalValue != reconvertedValue {
				return Failf("Converting %v to a string, back to a value, back to a string, and then back to a value again for parameter %d ('%s') results in '%s' -> %v -> '%s' -> %v, which is not consistent.", startingValue, id, info.Name, startingText, reconvertedValue, reconvertedText, finalValue)
			}
		}
	}

	if supportedValueToText != 0 && supportedValueToText != expectedConversions {
		return Failf("'clap_plugin_params.value_to_text()' reported support for %d out of %d calls. This function is expected to be supported for either none of the parameters or for all of them.", supportedValueToText, expectedConversions)
	}
	if supportedTextToValue != 0 && supportedTextToValue != expectedConversions {
		return Failf("'clap_plugin_params.text_to_value()' reported support for %d out of %d calls. This function is expected to be supported for either none of the parameters or for all of them.", supportedTextToValue, expectedConversions)
	}

	if err := violationError(s.host); err != nil {
		return Fail(err)
	}

	if supportedValueToText == 0 || supportedTextToValue == 0 {
		return Skipf("The plugin's parameters need to support both value to text and text to value conversions for this test.")
	}
	return Pass()
}

func runParamFuzzBasic(env *Env, path, pluginID string) Verdict {
	prng := rng.New()

	s, err := newSession(env, path, pluginID)
	if err != nil {
		return Fail(err)
	}
	defer s.close()

	if err := s.inst.Init(); err != nil {
		return Failf("error during initialization: %v", err)
	}

	params, err := s.inst.Params()
	if errors.Is(err, host.ErrUnsupported) {
		return Skipf("The plugin does not support the '%s' extension.", clap.ExtParams)
	}
	if err != nil {
		return Fail(err)
	}

	infos, err := params.Infos()
	if err != nil {
		return Failf("failure while fetching the plugin's parameters: %v", err)
	}
	fuzzer := rng.NewParamFuzzer(infos)

	layout, err := optionalAudioLayout(s.inst)
	if err != nil {
		return Fail(err)
	}

	// Mix note events into the stream when the plugin takes them.
	var noteGen *rng.NoteGenerator
	if np, err := s.inst.NotePorts(); err == nil {
		noteInputs, err := np.Inputs()
		if err != nil {
			return Failf("error while querying '%s' IO configuration: %v", clap.ExtNotePorts, err)
		}
		if len(noteInputs) > 0 {
			noteGen = rng.NewNoteGenerator()
		}
	} else if !errors.Is(err, host.ErrUnsupported) {
		return Fail(err)
	}

	pass := newProcessPass(s.inst, layout, processFrames)
	err = pass.run(defaultSampleRate, fuzzPermutations, func(p *clap.Process) error {
		// Parameter events land at time zero, note events after them.
		events := rng.Events(fuzzer.Permutation(prng))
		if noteGen != nil {
			events = append(events, noteGen.Events(prng, processFrames, noteEventsPerCycle)...)
		}
		p.InEvents = events
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
