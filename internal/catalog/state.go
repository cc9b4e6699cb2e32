package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/host"
	"github.com/clapcheck/clapcheck/internal/rng"
)

func init() {
	register(Case{
		ID:          "state-load-empty",
		Kind:        KindPlugin,
		Category:    CategoryState,
		Description: "Asks the plugin to load a completely empty state. The plugin is expected to reject it.",
		Run:         runStateLoadEmpty,
	})
	register(Case{
		ID:          "basic-state-reproducibility",
		Kind:        KindPlugin,
		Category:    CategoryState,
		Description: "Randomizes the plugin's parameters through the process function, saves its state, recreates the instance, reloads the state, and checks that the parameter values match and that saving the state again results in an identical state file.",
		Run:         runBasicStateReproducibility,
	})
	register(Case{
		ID:          "flush-state-reproducibility",
		Kind:        KindPlugin,
		Category:    CategoryState,
		Description: "Sets the plugin's parameters through the flush function, then sends the same values to a fresh instance through the process function and checks that the reported values and saved states match.",
		Run:         runFlushStateReproducibility,
	})
	register(Case{
		ID:          "buffered-state-streams",
		Kind:        KindPlugin,
		Category:    CategoryState,
		Description: "Performs the basic state reproducibility check while reloading and rewriting the state through streams that transfer only a small number of bytes at a time.",
		Run:         runBufferedStateStreams,
	})
}

func runStateLoadEmpty(env *Env, path, pluginID string) Verdict {
	s, err := newSession(env, path, pluginID)
	if err != nil {
		return Fail(err)
	}
	defer s.close()

	if err := s.inst.Init(); err != nil {
		return Failf("error during initialization: %v", err)
	}

	st, err := s.inst.State()
	if errors.Is(err, host.ErrUnsupported) {
		return Skipf("The plugin does not support the '%s' extension.", clap.ExtState)
	}
	if err != nil {
		return Fail(err)
	}

	switch err := st.Load(nil); {
	case err == nil:
		return Failf("Loading a zero-length state must be rejected, but the plugin reported success.")
	case errors.Is(err, clap.ErrStateRejected):
		return Pass()
	default:
		return Failf("error while loading a zero-length state: %v", err)
	}
}

// stateSnapshot is the first half shared by the reproducibility cases: a
// fuzzed parameter set applied through the process function, the values the
// plugin reports afterwards, and a state file saved with default streams.
type stateSnapshot struct {
	infos    map[uint32]clap.ParamInfo
	expected map[uint32]float64
	state    []byte
}

// fuzzAndSnapshot initializes the session's instance, randomizes its
// parameters through one process cycle, and captures the resulting state.
// The verdict carries the failure or skip when ok is false.
func fuzzAndSnapshot(s *session, prng *rng.Pcg32) (stateSnapshot, Verdict, bool) {
	var snap stateSnapshot

	if err := s.inst.Init(); err != nil {
		return snap, Failf("error during initialization: %v", err), false
	}

	layout, err := optionalAudioLayout(s.inst)
	if err != nil {
		return snap, Fail(err), false
	}
	params, err := s.inst.Params()
	if errors.Is(err, host.ErrUnsupported) {
		return snap, Skipf("The plugin does not support the '%s' extension.", clap.ExtParams), false
	}
	if err != nil {
		return snap, Fail(err), false
	}
	st, err := s.inst.State()
	if errors.Is(err, host.ErrUnsupported) {
		return snap, Skipf("The plugin does not support the '%s' extension.", clap.ExtState), false
	}
	if err != nil {
		return snap, Fail(err), false
	}

	infos, err := params.Infos()
	if err != nil {
		return snap, Failf("failure while fetching the plugin's parameters: %v", err), false
	}

	fuzzer := rng.NewParamFuzzer(infos)
	setEvents := rng.Events(fuzzer.Permutation(prng))

	pass := newProcessPass(s.inst, layout, processFrames)
	err = pass.run(defaultSampleRate, 1, func(p *clap.Process) error {
		p.InEvents = setEvents
		return nil
	})
	if err != nil {
		return snap, Fail(err), false
	}

	// The plugin may round the values it was sent, so the comparison
	// baseline is what it reports, not what we generated.
	expected, err := currentValues(params, infos)
	if err != nil {
		return snap, Fail(err), false
	}
	state, err := st.Save()
	if err != nil {
		return snap, Failf("could not save the plugin's state: %v", err), false
	}

	snap = stateSnapshot{infos: infos, expected: expected, state: state}
	return snap, Verdict{}, true
}

// persistState round-trips a saved state through a preset file in the
// invocation's scratch directory, the way a host does between sessions.
// Without a scratch directory the state stays in memory.
func persistState(env *Env, state []byte) ([]byte, error) {
	if env.ScratchDir == "" {
		return state, nil
	}
	path := filepath.Join(env.ScratchDir, "state.preset")
	if err := os.WriteFile(path, state, 0o644); err != nil {
		return nil, fmt.Errorf("write state preset: %w", err)
	}
	reread, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reread state preset: %w", err)
	}
	return reread, nil
}

// secondInstance recreates the plugin and returns its params and state
// extensions. The verdict carries the failure or skip when ok is false.
func secondInstance(s *session, pluginID string) (*host.Params, *host.State, Verdict, bool) {
	if err := s.respawn(pluginID); err != nil {
		return nil, nil, Fail(err), false
	}
	if err := s.inst.Init(); err != nil {
		return nil, nil, Failf("error while initializing the second plugin instance: %v", err), false
	}

	params, err := s.inst.Params()
	if errors.Is(err, host.ErrUnsupported) {
		return nil, nil, Skipf("The plugin's second instance does not support the '%s' extension.", clap.ExtParams), false
	}
	if err != nil {
		return nil, nil, Fail(err), false
	}
	st, err := s.inst.State()
	if errors.Is(err, host.ErrUnsupported) {
		return nil, nil, Skipf("The plugin's second instance does not support the '%s' extension.", clap.ExtState), false
	}
	if err != nil {
		return nil, nil, Fail(err), false
	}
	return params, st, Verdict{}, true
}

func runBasicStateReproducibility(env *Env, path, pluginID string) Verdict {
	prng := rng.New()

	s, err := newSession(env, path, pluginID)
	if err != nil {
		return Fail(err)
	}
	defer s.close()

	snap, verdict, ok := fuzzAndSnapshot(s, prng)
	if !ok {
		return verdict
	}
	saved, err := persistState(env, snap.state)
	if err != nil {
		return Fail(err)
	}

	params, st, verdict, ok := secondInstance(s, pluginID)
	if !ok {
		return verdict
	}

	if err := st.Load(saved); err != nil {
		return Failf("could not load the saved state into the second instance: %v", err)
	}
	actual, err := currentValues(params, snap.infos)
	if err != nil {
		return Fail(err)
	}
	if mismatch := mismatchedValues(actual, snap.expected, snap.infos); mismatch != "" {
		return Failf("After reloading the state, the plugin's parameter values do not match the old values when queried through 'clap_plugin_params.get()'. The mismatching values are %s.", mismatch)
	}

	secondState, err := st.Save()
	if err != nil {
		return Failf("could not save the state a second time: %v", err)
	}
	if !bytes.Equal(secondState, saved) {
		return Failf("Re-saving the loaded state resulted in a different state file.")
	}
	return Pass()
}

func runFlushStateReproducibility(env *Env, path, pluginID string) Verdict {
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
	st, err := s.inst.State()
	if errors.Is(err, host.ErrUnsupported) {
		return Skipf("The plugin does not support the '%s' extension.", clap.ExtState)
	}
	if err != nil {
		return Fail(err)
	}

	infos, err := params.Infos()
	if err != nil {
		return Failf("failure while fetching the plugin's parameters: %v", err)
	}
	initial, err := currentValues(params, infos)
	if err != nil {
		return Fail(err)
	}

	// The same events go through flush here and through the process
	// function on the second instance.
	fuzzer := rng.NewParamFuzzer(infos)
	setEvents := rng.Events(fuzzer.Permutation(prng))

	if _, err := params.Flush(setEvents); err != nil {
		return Failf("error during parameter flush: %v", err)
	}

	expected, err := currentValues(params, infos)
	if err != nil {
		return Fail(err)
	}
	firstState, err := st.Save()
	if err != nil {
		return Failf("could not save the plugin's state: %v", err)
	}
	if len(infos) > 0 && maps.Equal(expected, initial) {
		return Failf("'clap_plugin_params.flush()' has been called with random parameter values, but the plugin's reported parameter values have not changed.")
	}

	params2, st2, verdict, ok := secondInstance(s, pluginID)
	if !ok {
		return verdict
	}
	layout, err := optionalAudioLayout(s.inst)
	if err != nil {
		return Fail(err)
	}

	pass := newProcessPass(s.inst, layout, processFrames)
	err = pass.run(defaultSampleRate, 1, func(p *clap.Process) error {
		p.InEvents = setEvents
		return nil
	})
	if err != nil {
		return Fail(err)
	}

	actual, err := currentValues(params2, infos)
	if err != nil {
		return Fail(err)
	}
	if mismatch := mismatchedValues(actual, expected, infos); mismatch != "" {
		return Failf("Setting the same parameter values through 'clap_plugin_params.flush()' and through the process function results in different reported values when queried through 'clap_plugin_params.get_value()'. The mismatching values are %s.", mismatch)
	}

	secondState, err := st2.Save()
	if err != nil {
		return Failf("could not save the state of the second instance: %v", err)
	}
	if !bytes.Equal(secondState, firstState) {
		return Failf("Sending the same parameter values to two different instances of the plugin resulted in different state files.")
	}
	return Pass()
}

func runBufferedStateStreams(env *Env, path, pluginID string) Verdict {
	prng := rng.New()

	s, err := newSession(env, path, pluginID)
	if err != nil {
		return Fail(err)
	}
	defer s.close()

	// The unbuffered state from the first pass is the ground truth the
	// buffered reload and rewrite are checked against.
	snap, verdict, ok := fuzzAndSnapshot(s, prng)
	if !ok {
		return verdict
	}

	params, st, verdict, ok := secondInstance(s, pluginID)
	if !ok {
		return verdict
	}

	if err := st.LoadBuffered(snap.state); err != nil {
		return Failf("could not load the saved state through a buffered stream: %v", err)
	}
	actual, err := currentValues(params, snap.infos)
	if err != nil {
		return Fail(err)
	}
	if mismatch := mismatchedValues(actual, snap.expected, snap.infos); mismatch != "" {
		return Failf("After reloading the state by allowing the plugin to read at most %d bytes at a time, the plugin's parameter values do not match the old values when queried through 'clap_plugin_params.get()'. The mismatching values are %s.", host.BufferedReadChunk, mismatch)
	}

	secondState, err := st.SaveBuffered()
	if err != nil {
		return Failf("could not save the state through a buffered stream: %v", err)
	}
	if !bytes.Equal(secondState, snap.state) {
		return Failf("Re-saving the loaded state resulted in a different state file. The original state file was written unbuffered, reloaded by allowing the plugin to read only %d bytes at a time, and then written again by allowing the plugin to write only %d bytes at a time.", host.BufferedReadChunk, host.BufferedWriteChunk)
	}
	return Pass()
}
