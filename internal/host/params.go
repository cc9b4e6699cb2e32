package host

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/lifecycle"
)

// Params is the checked facade over clap_plugin_params.
type Params struct {
	inst *Instance
	ext  clap.ParamsExt
}

// Params returns the params facade, or an ErrUnsupported-wrapped error when
// the plugin does not expose the extension.
func (i *Instance) Params() (*Params, error) {
	if err := i.requireMain("clap_plugin.get_extension"); err != nil {
		return nil, err
	}
	if err := i.requireAlive("clap_plugin.get_extension"); err != nil {
		return nil, err
	}
	ext, ok := i.handle.Params()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, clap.ExtParams)
	}
	return &Params{inst: i, ext: ext}, nil
}

// Count returns the number of parameters.
func (p *Params) Count() uint32 { return p.ext.Count() }

// Infos enumerates every parameter and validates the reported metadata.
// All findings are collected before returning so one malformed parameter
// does not mask the next: the error joins every violation.
func (p *Params) Infos() (map[uint32]clap.ParamInfo, error) {
	if err := p.inst.requireMain("clap_plugin_params.get_info"); err != nil {
		return nil, err
	}

	count := p.ext.Count()
	infos := make(map[uint32]clap.ParamInfo, count)
	names := make(map[uint32]string, count)
	var problems []error
	bypassID := uint32(0)
	bypassSeen := false

	for index := uint32(0); index < count; index++ {
		info, err := p.ext.Info(index)
		if err != nil {
			return nil, fmt.Errorf("parameter info at index %d: %w", index, err)
		}

		if _, dup := infos[info.ID]; dup {
			problems = append(problems, fmt.Errorf(
				"parameters %q and %q share the stable ID %d", names[info.ID], info.Name, info.ID))
		} else {
			infos[info.ID] = *info
			names[info.ID] = info.Name
		}

		if info.Min > info.Max {
			problems = append(problems, fmt.Errorf(
				"parameter %d (%q) reports minimum %v above maximum %v", info.ID, info.Name, info.Min, info.Max))
		}
		if info.Default < info.Min || info.Default > info.Max {
			problems = append(problems, fmt.Errorf(
				"parameter %d (%q) has default %v outside of [%v, %v]", info.ID, info.Name, info.Default, info.Min, info.Max))
		}
		if info.Stepped() && (!isInteger(info.Min) || !isInteger(info.Max) || !isInteger(info.Default)) {
			problems = append(problems, fmt.Errorf(
				"parameter %d (%q) is stepped but has a non-integer range [%v, %v] with default %v",
				info.ID, info.Name, info.Min, info.Max, info.Default))
		}
		if info.Bypass() {
			if bypassSeen {
				problems = append(problems, fmt.Errorf(
					"parameters %d and %d are both marked as bypass; a plugin can have at most one",
					bypassID, info.ID))
			}
			bypassSeen = true
			bypassID = info.ID
			if !info.Stepped() {
				problems = append(problems, fmt.Errorf(
					"bypass parameter %d (%q) is not stepped", info.ID, info.Name))
			}
		}
		if msg := checkModulePath(info.Module); msg != "" {
			problems = append(problems, fmt.Errorf(
				"parameter %d (%q) has a malformed module path %q: %s", info.ID, info.Name, info.Module, msg))
		}
	}

	if len(problems) > 0 {
		return infos, errors.Join(problems...)
	}
	return infos, nil
}

// Value reads the current value for a stable parameter ID.
func (p *Params) Value(id uint32) (float64, error) {
	if err := p.inst.requireMain("clap_plugin_params.get_value"); err != nil {
		return 0, err
	}
	return p.ext.Value(id)
}

// ValueToText formats a value. ok reports whether the plugin supports text
// conversion for this parameter.
func (p *Params) ValueToText(id uint32, value float64) (string, bool, error) {
	if err := p.inst.requireMain("clap_plugin_params.value_to_text"); err != nil {
		return "", false, err
	}
	return p.ext.ValueToText(id, value)
}

// TextToValue parses a display string back to a value.
func (p *Params) TextToValue(id uint32, text string) (float64, bool, error) {
	if err := p.inst.requireMain("clap_plugin_params.text_to_value"); err != nil {
		return 0, false, err
	}
	return p.ext.TextToValue(id, text)
}

// Flush sends parameter events outside a processing cycle. On an active
// instance flush belongs to the audio context, on a deactivated one to the
// main context.
func (p *Params) Flush(in []clap.Event) ([]clap.Event, error) {
	op := "clap_plugin_params.flush"
	switch p.inst.machine.State() {
	case lifecycle.Activated, lifecycle.Processing:
		if err := p.inst.requireAudio(op); err != nil {
			return nil, err
		}
	default:
		if err := p.inst.requireMain(op); err != nil {
			return nil, err
		}
	}
	return p.ext.Flush(in)
}

func isInteger(v float64) bool {
	return v == math.Trunc(v) && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// checkModulePath validates the clap_param_info.module convention: slash
// separated segments, no leading or trailing slash, no empty segment.
func checkModulePath(module string) string {
	if module == "" {
		return ""
	}
	if strings.HasPrefix(module, "/") {
		return "leading slash"
	}
	if strings.HasSuffix(module, "/") {
		return "trailing slash"
	}
	if strings.Contains(module, "//") {
		return "empty segment"
	}
	return ""
}
