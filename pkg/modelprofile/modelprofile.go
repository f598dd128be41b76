// Package modelprofile is the static description of installed models:
// context window, per-tier recommended sizes, a pre-computed
// 85%-of-window effective cap, and capability flags. Lookup goes
// through an exact-match catalogue, then a substring family fallback,
// then an unknown-model template. A compiled registry is read-only
// after startup.
package modelprofile

import (
	"math"
	"strings"

	"github.com/ollm-run/ollmcore/pkg/types"
)

// effectiveCapRatio is the fraction of a model's context window sent
// to the provider as the hard ceiling.
const effectiveCapRatio = 0.85

// Capabilities describes what a model can do.
type Capabilities struct {
	SupportsToolCalling bool
	SupportsStreaming   bool
}

// ContextProfile is one {size, effective cap, vram estimate} tuple for a tier.
type ContextProfile struct {
	Size               int     // user-facing context size
	EffectiveCapTokens int     // 85%-rounded value sent to the provider
	VRAMEstimateGB     float64 // rough VRAM requirement at this size
}

// Profile is the compiled, static description of one installed model.
type Profile struct {
	ID                string
	Name              string
	MaxContextWindow  int
	DefaultContext    int
	ContextProfiles   []ContextProfile
	Capabilities      Capabilities
}

// EffectiveCapForTier returns the effective cap for the given tier,
// falling back to the model's first context profile when the tier
// index is out of range.
func (p Profile) EffectiveCapForTier(tier types.Tier) int {
	idx := int(tier) - 1
	if idx >= 0 && idx < len(p.ContextProfiles) {
		return p.ContextProfiles[idx].EffectiveCapTokens
	}
	if len(p.ContextProfiles) > 0 {
		return p.ContextProfiles[0].EffectiveCapTokens
	}
	return int(math.Round(float64(p.DefaultContext) * effectiveCapRatio))
}

// catalogue is the master list of known models, keyed by id: the
// exact-match table consulted before any fallback.
var catalogue = map[string]Profile{
	"llama3.1:8b": {
		ID: "llama3.1:8b", Name: "Llama 3.1 8B", MaxContextWindow: 128000, DefaultContext: 8192,
		Capabilities:    Capabilities{SupportsToolCalling: true, SupportsStreaming: true},
		ContextProfiles: tieredProfiles(128000),
	},
	"llama3.1:70b": {
		ID: "llama3.1:70b", Name: "Llama 3.1 70B", MaxContextWindow: 128000, DefaultContext: 8192,
		Capabilities:    Capabilities{SupportsToolCalling: true, SupportsStreaming: true},
		ContextProfiles: tieredProfiles(128000),
	},
	"qwen2.5:7b": {
		ID: "qwen2.5:7b", Name: "Qwen 2.5 7B", MaxContextWindow: 32768, DefaultContext: 8192,
		Capabilities:    Capabilities{SupportsToolCalling: true, SupportsStreaming: true},
		ContextProfiles: tieredProfiles(32768),
	},
	"mistral:7b": {
		ID: "mistral:7b", Name: "Mistral 7B", MaxContextWindow: 32768, DefaultContext: 8192,
		Capabilities:    Capabilities{SupportsToolCalling: false, SupportsStreaming: true},
		ContextProfiles: tieredProfiles(32768),
	},
	"gemma2:9b": {
		ID: "gemma2:9b", Name: "Gemma 2 9B", MaxContextWindow: 8192, DefaultContext: 8192,
		Capabilities:    Capabilities{SupportsToolCalling: false, SupportsStreaming: true},
		ContextProfiles: tieredProfiles(8192),
	},
}

// tieredProfiles derives the five tier-sized context profiles for a
// model given its maximum context window, scaling VRAM estimate
// linearly with size as a rough heuristic.
func tieredProfiles(maxWindow int) []ContextProfile {
	fractions := []float64{0.125, 0.25, 0.5, 0.75, 1.0}
	profiles := make([]ContextProfile, 0, len(fractions))
	for _, frac := range fractions {
		size := int(float64(maxWindow) * frac)
		if size < 2048 {
			size = 2048
		}
		profiles = append(profiles, ContextProfile{
			Size:               size,
			EffectiveCapTokens: int(math.Round(float64(size) * effectiveCapRatio)),
			VRAMEstimateGB:     math.Round(float64(size)/4096*0.5*100) / 100,
		})
	}
	return profiles
}

// familyFallbacks matches substrings of an unrecognised model id to a
// representative profile, so "llama3.2:3b-instruct" style identifiers
// resolve without an exact catalogue entry.
var familyFallbacks = []struct {
	substr  string
	profile Profile
}{
	{"llama3", catalogue["llama3.1:8b"]},
	{"qwen", catalogue["qwen2.5:7b"]},
	{"mistral", catalogue["mistral:7b"]},
	{"gemma", catalogue["gemma2:9b"]},
}

// unknownModelDefault is the template used when an installed model
// matches neither the catalogue nor any family fallback. It still
// satisfies the Profile contract with at least one context profile.
var unknownModelDefault = Profile{
	ID: "unknown-model", Name: "Unknown model",
	MaxContextWindow: 4096, DefaultContext: 4096,
	Capabilities:    Capabilities{SupportsToolCalling: false, SupportsStreaming: true},
	ContextProfiles: tieredProfiles(4096),
}

// Registry is the compiled, read-only set of profiles for the models
// actually installed on this host.
type Registry struct {
	profiles map[string]Profile
	unknown  map[string]bool
	warnings []string
}

// NewRegistryFromProfiles builds a Registry directly from compiled
// profiles, e.g. ones loaded back from the persisted catalogue file.
func NewRegistryFromProfiles(profiles ...Profile) *Registry {
	r := &Registry{
		profiles: make(map[string]Profile, len(profiles)),
		unknown:  make(map[string]bool),
	}
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	return r
}

// Compile builds a Registry for the given installed model ids,
// resolving each against the catalogue, then family fallback, then
// the unknown-model template. Warnings are recorded rather than logged
// directly so the caller decides how to surface them.
func Compile(installedModelIDs []string) *Registry {
	r := &Registry{
		profiles: make(map[string]Profile, len(installedModelIDs)),
		unknown:  make(map[string]bool),
	}
	for _, id := range installedModelIDs {
		r.profiles[id] = r.resolve(id)
	}
	return r
}

func (r *Registry) resolve(id string) Profile {
	if p, ok := catalogue[id]; ok {
		return p
	}
	lower := strings.ToLower(id)
	for _, fb := range familyFallbacks {
		if strings.Contains(lower, fb.substr) {
			p := fb.profile
			p.ID = id
			return p
		}
	}
	r.warnings = append(r.warnings, "model "+id+" not in catalogue; using unknown-model template")
	r.unknown[id] = true
	p := unknownModelDefault
	p.ID = id
	return p
}

// Lookup returns the profile for model_id and whether it was found in
// the compiled registry at all (compile always inserts an entry, even
// for unknown models, so this only returns false if Compile was never
// called with this id).
func (r *Registry) Lookup(modelID string) (Profile, bool) {
	p, ok := r.profiles[modelID]
	return p, ok
}

// Known reports whether modelID resolved through the catalogue or a
// family fallback rather than the unknown-model template, i.e. whether
// its capability flags can be relied on.
func (r *Registry) Known(modelID string) bool {
	_, ok := r.profiles[modelID]
	return ok && !r.unknown[modelID]
}

// Warnings returns accumulated "fell back to unknown-model template" notices.
func (r *Registry) Warnings() []string { return r.warnings }
