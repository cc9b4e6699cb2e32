package catalog

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/host"
	"github.com/clapcheck/clapcheck/internal/loader"
)

// session bundles the library load and the current plugin instance for one
// plugin case. The case owns exactly one session; close tears down
// whichever instance is current and unloads the library.
type session struct {
	lib  *loader.Library
	host *host.Host
	inst *host.Instance
}

// newSession loads the library and creates the first plugin instance. The
// instance is not yet initialized.
func newSession(env *Env, path, pluginID string) (*session, error) {
	lib, err := loader.OpenWith(env.Open, path)
	if err != nil {
		return nil, err
	}
	h := host.NewHost()
	handle, err := lib.CreateInstance(h, pluginID)
	if err != nil {
		lib.Close()
		return nil, fmt.Errorf("could not create the plugin instance: %w", err)
	}
	return &session{lib: lib, host: h, inst: host.Wrap(handle, h)}, nil
}

// respawn tears down the current instance and creates a fresh one from the
// same library load, sharing the same host callbacks.
func (s *session) respawn(pluginID string) error {
	s.inst.Teardown()
	handle, err := s.lib.CreateInstance(s.host, pluginID)
	if err != nil {
		return fmt.Errorf("could not create the plugin instance a second time: %w", err)
	}
	s.inst = host.Wrap(handle, s.host)
	return nil
}

func (s *session) close() {
	s.inst.Teardown()
	s.lib.Close()
}

// violationError reports the thread affinity violations recorded during
// the case, if any.
func violationError(h *host.Host) error {
	violations := h.Violations()
	if len(violations) == 0 {
		return nil
	}
	return fmt.Errorf("thread safety checks failed: %s", strings.Join(violations, "; "))
}

// currentValues reads the current value of every known parameter.
func currentValues(params *host.Params, ids map[uint32]clap.ParamInfo) (map[uint32]float64, error) {
	values := make(map[uint32]float64, len(ids))
	for id := range ids {
		v, err := params.Value(id)
		if err != nil {
			return nil, fmt.Errorf("could not read the value of parameter %d: %w", id, err)
		}
		values[id] = v
	}
	return values, nil
}

// mismatchedValues lists the parameters whose values differ beyond the
// rounding tolerance, in ascending ID order. An empty string means the two
// snapshots agree.
func mismatchedValues(actual, expected map[uint32]float64, infos map[uint32]clap.ParamInfo) string {
	ids := make([]uint32, 0, len(expected))
	for id := range expected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var parts []string
	for _, id := range ids {
		e, a := expected[id], actual[id]
		if roundValue(a) == roundValue(e) {
			continue
		}
		parts = append(parts, fmt.Sprintf("parameter %d ('%s'), expected %v, actual %v", id, infos[id].Name, e, a))
	}
	return strings.Join(parts, ", ")
}

// roundValue rounds to the tenth decimal to allow for serialization wobble
// in the plugin's state format.
func roundValue(v float64) float64 {
	return math.Round(v*1e10) / 1e10
}

func sortedParamIDs(infos map[uint32]clap.ParamInfo) []uint32 {
	ids := make([]uint32, 0, len(infos))
	for id := range infos {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
