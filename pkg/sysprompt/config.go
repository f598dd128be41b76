package sysprompt

import (
	"sort"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/ollm-run/ollmcore/pkg/types"
)

// ToolFilterConfig is the user's tool enablement state: a global
// enable/disable map plus per-mode overrides, decoded from
// settings.json's tools and toolsByMode keys.
type ToolFilterConfig struct {
	Enabled map[string]bool                 `mapstructure:"tools" json:"tools" yaml:"tools"`
	ByMode  map[string]map[string]bool      `mapstructure:"toolsByMode" json:"toolsByMode" yaml:"toolsByMode"`
}

// DecodeToolFilterConfig decodes the raw settings maps (as produced by
// viper's Get on the tools/toolsByMode keys) into a ToolFilterConfig.
func DecodeToolFilterConfig(raw map[string]interface{}) (ToolFilterConfig, error) {
	var cfg ToolFilterConfig
	if err := mapstructure.Decode(raw, &cfg); err != nil {
		return ToolFilterConfig{}, errors.Wrap(err, "failed to decode tool filter config")
	}
	return cfg, nil
}

// assistantDefaults is the small tool surface the assistant persona
// starts from before overrides.
var assistantDefaults = map[string]bool{
	ReadFileTool:  true,
	WebSearchTool: true,
	WebFetchTool:  true,
}

// planningDefaults is the read-only + web surface for the planning persona.
var planningDefaults = map[string]bool{
	ReadFileTool:  true,
	GrepTool:      true,
	GlobTool:      true,
	WebSearchTool: true,
	WebFetchTool:  true,
}

// FilterTools returns the subset of all tools visible to the given
// mode, in stable (sorted by id) order. capsKnown=false means the
// model's capability flags could not be determined; shell and
// write-class tools are then removed from every mode.
func FilterTools(mode types.Mode, cfg ToolFilterConfig, capsKnown bool, all []ToolDescriptor) []ToolDescriptor {
	overrides := cfg.ByMode[string(mode)]

	var out []ToolDescriptor
	for _, tool := range all {
		if !globallyEnabled(cfg, tool.ID) {
			continue
		}
		if !capsKnown && (tool.ID == ShellTool || tool.WriteClass) {
			continue
		}
		if !visibleInMode(mode, tool.ID, overrides) {
			continue
		}
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// globallyEnabled treats tools absent from the map as enabled; only an
// explicit false disables a tool everywhere.
func globallyEnabled(cfg ToolFilterConfig, id string) bool {
	enabled, ok := cfg.Enabled[id]
	return !ok || enabled
}

func visibleInMode(mode types.Mode, id string, overrides map[string]bool) bool {
	if v, ok := overrides[id]; ok {
		return v
	}
	switch mode {
	case types.ModeDeveloper, types.ModeDebugger:
		return true
	case types.ModeAssistant:
		return assistantDefaults[id]
	case types.ModePlanning:
		return planningDefaults[id]
	case types.ModeUser:
		// user mode runs only what the per-mode overrides grant
		return false
	default:
		return false
	}
}
