// Package hooks provides an extensibility mechanism for agent lifecycle
// events. External executables registered for one of nine lifecycle
// events receive a JSON document on stdin and reply with a single JSON
// document on stdout; they can observe and intercept tool calls, model
// turns, and session boundaries for audit logging, security controls,
// and monitoring. Execution is gated by a content-hash approval store
// and bounded by a timeout and an output cap.
package hooks

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ollm-run/ollmcore/pkg/types"
)

// DefaultTimeout is the default execution timeout for hooks.
const DefaultTimeout = 30 * time.Second

// DefaultOutputCap bounds the combined stdout+stderr a hook may produce.
const DefaultOutputCap = 1 << 20 // 1 MB

// Registry owns the set of registered hooks, grouped by lifecycle
// event. Hooks are registered at startup and never modified during a
// session.
type Registry struct {
	hooks   map[types.HookEvent][]types.Hook
	nextSeq int64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[types.HookEvent][]types.Hook)}
}

// Register adds a hook for its declared event, assigning an id and a
// registration order stamp if absent.
func (r *Registry) Register(hook types.Hook) types.Hook {
	if hook.ID == "" {
		hook.ID = uuid.NewString()
	}
	r.nextSeq++
	if hook.RegisteredAt == 0 {
		hook.RegisteredAt = r.nextSeq
	}
	r.hooks[hook.Event] = append(r.hooks[hook.Event], hook)
	return hook
}

// HooksFor returns the hooks registered for event in dispatch order:
// source priority first (builtin > user > workspace > downloaded >
// extension), registration order breaking ties.
func (r *Registry) HooksFor(event types.HookEvent) []types.Hook {
	hooks := append([]types.Hook(nil), r.hooks[event]...)
	sort.SliceStable(hooks, func(i, j int) bool {
		pi, pj := hooks[i].Source.SourcePriority(), hooks[j].Source.SourcePriority()
		if pi != pj {
			return pi < pj
		}
		return hooks[i].RegisteredAt < hooks[j].RegisteredAt
	})
	return hooks
}

// HasHooks reports whether any hooks are registered for the given event.
func (r *Registry) HasHooks(event types.HookEvent) bool {
	return len(r.hooks[event]) > 0
}

// All returns every registered hook across all events.
func (r *Registry) All() []types.Hook {
	var out []types.Hook
	for _, event := range types.AllHookEvents {
		out = append(out, r.hooks[event]...)
	}
	return out
}
