// Package checkpoint manages the ordered collection of compression
// summaries attached to a Conversation. Each Checkpoint replaces a
// contiguous span of messages; when the collection grows past its tier
// cap the two oldest checkpoints merge into one of the next level up,
// capped at level 5. Unaccessed checkpoints age into candidates for
// further compression on a tier-dependent schedule.
package checkpoint

import (
	"time"

	"github.com/google/uuid"

	"github.com/ollm-run/ollmcore/pkg/types"
)

// maxLevel is the ceiling hierarchical merges saturate at.
const maxLevel = 5

// TierPolicy is the per-tier budget for one conversation size class.
type TierPolicy struct {
	SummaryTokenBudget int // max tokens a single checkpoint's summary may use
	MaxCheckpoints     int // cap before the oldest two merge
}

// Policies maps each Tier to its checkpoint budget.
var Policies = map[types.Tier]TierPolicy{
	types.TierMinimal:  {SummaryTokenBudget: 400, MaxCheckpoints: 2},
	types.TierBasic:    {SummaryTokenBudget: 700, MaxCheckpoints: 4},
	types.TierStandard: {SummaryTokenBudget: 1000, MaxCheckpoints: 6},
	types.TierPremium:  {SummaryTokenBudget: 1500, MaxCheckpoints: 8},
	types.TierUltra:    {SummaryTokenBudget: 2000, MaxCheckpoints: 12},
}

// defaultAgeByTier is how long a checkpoint may sit unaccessed before
// it becomes a candidate for further compression. Small tiers age fast.
var defaultAgeByTier = map[types.Tier]time.Duration{
	types.TierMinimal:  1 * time.Hour,
	types.TierBasic:    4 * time.Hour,
	types.TierStandard: 8 * time.Hour,
	types.TierPremium:  16 * time.Hour,
	types.TierUltra:    24 * time.Hour,
}

// AgeThreshold returns the staleness threshold for a tier.
func AgeThreshold(tier types.Tier) time.Duration {
	if d, ok := defaultAgeByTier[tier]; ok {
		return d
	}
	return defaultAgeByTier[types.TierStandard]
}

// Collection is the ordered, oldest-first set of checkpoints for one conversation.
type Collection struct {
	policy TierPolicy
	items  []types.Checkpoint
}

// NewCollection creates an empty Collection governed by tier's policy.
func NewCollection(tier types.Tier) *Collection {
	return &Collection{policy: Policies[tier]}
}

// Items returns the checkpoints, oldest first.
func (c *Collection) Items() []types.Checkpoint { return c.items }

// Load replaces the collection's contents verbatim, without the merge
// policy Add applies, for snapshot restores.
func (c *Collection) Load(items []types.Checkpoint) {
	c.items = append([]types.Checkpoint(nil), items...)
}

// Len reports how many checkpoints are currently held.
func (c *Collection) Len() int { return len(c.items) }

// Add appends a freshly created checkpoint (range_first <= range_last
// of the replaced message span), merging the two oldest entries first
// if the collection is already at its tier cap.
func (c *Collection) Add(ck types.Checkpoint, now time.Time) types.Checkpoint {
	if ck.ID == "" {
		ck.ID = uuid.NewString()
	}
	if ck.CreatedAt.IsZero() {
		ck.CreatedAt = now
	}
	ck.LastAccessedAt = now
	if ck.Level == 0 {
		ck.Level = 1
	}
	if len(c.items) >= c.policy.MaxCheckpoints {
		c.mergeOldest(now)
	}
	c.items = append(c.items, ck)
	return ck
}

// mergeOldest combines the two oldest checkpoints into a single
// higher-level one: summaries and key decisions are concatenated,
// modified files are de-duplicated, next steps come from the newer of
// the two, and token accounting is summed. The new checkpoint's range
// spans both originals.
func (c *Collection) mergeOldest(now time.Time) {
	if len(c.items) < 2 {
		return
	}
	a, b := c.items[0], c.items[1]
	merged := types.Checkpoint{
		ID:             uuid.NewString(),
		Level:          MergedLevel(a, b),
		RangeFirst:     a.RangeFirst,
		RangeLast:      b.RangeLast,
		SummaryMessage: a.SummaryMessage + "\n" + b.SummaryMessage,
		OriginalTokens: a.OriginalTokens + b.OriginalTokens,
		CurrentTokens:  a.CurrentTokens + b.CurrentTokens,
		CreatedAt:      now,
		LastAccessedAt: now,
		KeyDecisions:   append(append([]string{}, a.KeyDecisions...), b.KeyDecisions...),
		FilesModified:  dedupeStrings(append(append([]string{}, a.FilesModified...), b.FilesModified...)),
		NextSteps:      b.NextSteps,
	}
	c.items = append([]types.Checkpoint{merged}, c.items[2:]...)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// AtCap reports whether the next Add would force a merge.
func (c *Collection) AtCap() bool { return len(c.items) >= c.policy.MaxCheckpoints }

// OldestPair returns the two oldest checkpoints, or false when fewer
// than two exist.
func (c *Collection) OldestPair() (types.Checkpoint, types.Checkpoint, bool) {
	if len(c.items) < 2 {
		return types.Checkpoint{}, types.Checkpoint{}, false
	}
	return c.items[0], c.items[1], true
}

// ReplaceOldestPair substitutes a caller-built merged checkpoint for
// the two oldest entries, used when a provider-authored merge summary
// is available instead of the local concatenation fallback.
func (c *Collection) ReplaceOldestPair(merged types.Checkpoint, now time.Time) {
	if len(c.items) < 2 {
		return
	}
	if merged.ID == "" {
		merged.ID = uuid.NewString()
	}
	merged.CreatedAt = now
	merged.LastAccessedAt = now
	c.items = append([]types.Checkpoint{merged}, c.items[2:]...)
}

// HasAgedCandidates reports whether any checkpoint has sat unaccessed
// past the threshold since creation, making it a candidate for further
// compression even when the count cap is not yet reached.
func (c *Collection) HasAgedCandidates(now time.Time, threshold time.Duration) bool {
	for _, ck := range c.items {
		if ck.LastAccessedAt.Equal(ck.CreatedAt) && now.Sub(ck.CreatedAt) > threshold {
			return true
		}
	}
	return false
}

// MergedLevel computes the level a merge of a and b is assigned,
// saturating at the level ceiling.
func MergedLevel(a, b types.Checkpoint) int {
	level := a.Level
	if b.Level > level {
		level = b.Level
	}
	level++
	if level > maxLevel {
		level = maxLevel
	}
	return level
}

// Touch updates a checkpoint's last_accessed_at, used when a restore
// or provider-view build reads through it.
func (c *Collection) Touch(id string, now time.Time) {
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i].LastAccessedAt = now
			return
		}
	}
}
