// Package tokencount is the deterministic tokenisation surrogate used
// for budgeting. A rune-count heuristic keeps estimates stable across
// runs without loading a model-specific tokenizer; an exact provider
// counter can be plugged in when one is reachable.
package tokencount

import "unicode/utf8"

// charsPerToken approximates one token per roughly four characters of
// English-ish text.
const charsPerToken = 4

// CountText estimates the token count of a single string.
func CountText(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	tokens := n / charsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}

// Provider is an optional exact counter, e.g. a model-provider's
// count_tokens RPC. When nil, or when it errors, Counter falls back to
// the surrogate.
type Provider interface {
	CountTokens(text, modelID string) (int, error)
}

// Counter estimates token counts, preferring an exact Provider when one is set.
type Counter struct {
	provider Provider
	modelID  string
}

// New creates a Counter that always uses the surrogate heuristic.
func New() *Counter {
	return &Counter{}
}

// WithProvider returns a Counter that prefers calling provider for the
// given model id, falling back to the surrogate on any error.
func WithProvider(provider Provider, modelID string) *Counter {
	return &Counter{provider: provider, modelID: modelID}
}

// Count returns the token count for s, stable across runs for a given
// (surrogate-only) configuration.
func (c *Counter) Count(s string) int {
	if c.provider != nil {
		if n, err := c.provider.CountTokens(s, c.modelID); err == nil {
			return n
		}
	}
	return CountText(s)
}

// CountParts sums the estimated token count across a slice of text parts.
func (c *Counter) CountParts(parts []string) int {
	total := 0
	for _, p := range parts {
		total += c.Count(p)
	}
	return total
}
