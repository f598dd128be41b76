// Package compression is the tiered engine that reduces a
// conversation's token footprint by summarising older non-preserved
// messages into checkpoints. User messages, the first system message,
// anything explicitly preserved, and a recent window of assistant/tool
// turns are never touched. A summary that fails to shrink its region
// falls back to truncation, and provider failures leave the
// conversation unchanged.
package compression

import (
	"context"
	"time"

	"github.com/ollm-run/ollmcore/pkg/checkpoint"
	"github.com/ollm-run/ollmcore/pkg/logger"
	"github.com/ollm-run/ollmcore/pkg/tokencount"
	"github.com/ollm-run/ollmcore/pkg/types"
)

// Strategy names one compression approach.
type Strategy string

const (
	StrategyTruncate  Strategy = "truncate"
	StrategySummarize Strategy = "summarize"
	StrategyHybrid    Strategy = "hybrid"
)

// State is the engine's position in its run loop, exposed for
// observation; terminal states return control to the caller.
type State string

const (
	StateIdle        State = "idle"
	StatePlanning    State = "planning"
	StateSummarising State = "summarising"
	StateInstalling  State = "installing"
	StateFallback    State = "fallback"
	StateNoChange    State = "no_change"
)

// OutcomeKind classifies a compression pass's result.
type OutcomeKind int

const (
	// OutcomeNoChange means the conversation was left untouched.
	OutcomeNoChange OutcomeKind = iota
	// OutcomeCompressed means messages were removed and accounting updated.
	OutcomeCompressed
)

// Outcome reports what one compression pass did.
type Outcome struct {
	Kind       OutcomeKind
	Strategy   Strategy
	FromTokens int
	ToTokens   int
	Checkpoint *types.Checkpoint
}

// DefaultTargetRatio is the usage the engine compresses down to,
// leaving headroom under the 0.80 trigger threshold.
const DefaultTargetRatio = 0.70

// recentWindowRatio is the share of the cap reserved for the most
// recent assistant/tool messages, which are never compressed.
const recentWindowRatio = 0.30

// Engine compresses one conversation according to its tier policy.
type Engine struct {
	tier        types.Tier
	policy      checkpoint.TierPolicy
	summarizer  Summarizer
	counter     *tokencount.Counter
	targetRatio float64
	state       State
	clock       func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTargetRatio overrides the post-compression usage target.
func WithTargetRatio(r float64) EngineOption {
	return func(e *Engine) { e.targetRatio = r }
}

// WithClock overrides the engine's time source (for tests).
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates an Engine for the given tier. summarizer may be
// nil, in which case every pass degrades to truncation.
func NewEngine(tier types.Tier, summarizer Summarizer, counter *tokencount.Counter, opts ...EngineOption) *Engine {
	e := &Engine{
		tier:        tier,
		policy:      checkpoint.Policies[tier],
		summarizer:  summarizer,
		counter:     counter,
		targetRatio: DefaultTargetRatio,
		state:       StateIdle,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the engine's current state.
func (e *Engine) State() State { return e.state }

// defaultStrategy picks the tier's starting strategy.
func (e *Engine) defaultStrategy() Strategy {
	if e.tier == types.TierMinimal {
		return StrategyHybrid
	}
	return StrategySummarize
}

// Compress runs one pass over conv, mutating its messages, the
// checkpoint collection, and the compression history on success. It
// never errors on provider failure; the conversation is simply left
// unchanged. coll must be the collection backing conv.Checkpoints.
func (e *Engine) Compress(ctx context.Context, conv *types.Conversation, coll *checkpoint.Collection, systemPromptTokens int) Outcome {
	e.state = StatePlanning
	defer func() { e.state = StateIdle }()

	now := e.clock()
	fromTokens := totalTokens(conv, systemPromptTokens)
	target := int(float64(conv.EffectiveCapTokens) * e.targetRatio)

	// Aged checkpoints are re-compressed even when the count cap has
	// not been reached yet.
	if coll.HasAgedCandidates(now, checkpoint.AgeThreshold(e.tier)) {
		e.mergeOldestPair(ctx, coll, now)
	}

	compressible := e.compressibleIndexes(conv)
	if len(compressible) == 0 {
		e.state = StateNoChange
		return Outcome{Kind: OutcomeNoChange, FromTokens: fromTokens, ToTokens: fromTokens}
	}

	strategy := e.defaultStrategy()
	var outcome Outcome
	switch strategy {
	case StrategyHybrid:
		outcome = e.hybrid(ctx, conv, coll, compressible, systemPromptTokens, target, now)
	default:
		outcome = e.summarize(ctx, conv, coll, compressible, now)
	}

	if outcome.Kind == OutcomeCompressed {
		conv.Checkpoints = coll.Items()
		toTokens := totalTokens(conv, systemPromptTokens)
		outcome.FromTokens = fromTokens
		outcome.ToTokens = toTokens
		conv.CompressionHistory = append(conv.CompressionHistory, types.CompressionEvent{
			At:         now,
			FromTokens: fromTokens,
			ToTokens:   toTokens,
			Strategy:   string(outcome.Strategy),
		})
	} else {
		outcome.FromTokens = fromTokens
		outcome.ToTokens = fromTokens
	}
	return outcome
}

// compressibleIndexes returns the message indexes eligible for
// compression: not preserved, not the first system message, not a user
// message, and outside the recent window.
func (e *Engine) compressibleIndexes(conv *types.Conversation) []int {
	protected := make([]bool, len(conv.Messages))
	for i, m := range conv.Messages {
		if m.Preserved || m.Role == types.RoleUser {
			protected[i] = true
		}
		if i == 0 && m.Role == types.RoleSystem {
			protected[i] = true
		}
	}

	// Recent window: walk back from the newest message, protecting
	// assistant/tool messages until their combined tokens would exceed
	// the reserved share of the cap.
	budget := int(float64(conv.EffectiveCapTokens) * recentWindowRatio)
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		m := conv.Messages[i]
		if m.Role == types.RoleUser || m.Role == types.RoleSystem {
			continue
		}
		if budget-m.TokenCount < 0 {
			break
		}
		budget -= m.TokenCount
		protected[i] = true
	}

	var out []int
	for i := range conv.Messages {
		if !protected[i] {
			out = append(out, i)
		}
	}
	return out
}

// summarize compresses the whole compressible region into one
// checkpoint via the provider. It falls back to truncation when no
// summarizer is configured or the summary inflates; a provider error
// leaves the conversation unchanged.
func (e *Engine) summarize(ctx context.Context, conv *types.Conversation, coll *checkpoint.Collection, indexes []int, now time.Time) Outcome {
	if e.summarizer == nil {
		e.state = StateFallback
		return e.truncate(conv, indexes, len(indexes))
	}

	e.state = StateSummarising
	span := messagesAt(conv, indexes)
	originalTokens := sumTokens(span)

	req := SummarizeRequest{
		Transcript:    RenderTranscript(span),
		TokenBudget:   e.policy.SummaryTokenBudget,
		Structured:    e.tier >= types.TierPremium,
		MaximalDetail: e.tier == types.TierUltra,
	}
	result, err := e.summarizer.Summarize(ctx, req)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("summarisation failed, leaving conversation unchanged")
		e.state = StateNoChange
		return Outcome{Kind: OutcomeNoChange}
	}

	summaryTokens := e.counter.Count(result.Summary)
	if summaryTokens >= originalTokens {
		// Inflation guard: the summary did not shrink the region.
		e.state = StateFallback
		return e.truncate(conv, indexes, len(indexes))
	}

	e.state = StateInstalling
	if coll.AtCap() {
		e.mergeOldestPair(ctx, coll, now)
	}
	ck := coll.Add(types.Checkpoint{
		Level:          1,
		RangeFirst:     indexes[0],
		RangeLast:      indexes[len(indexes)-1],
		SummaryMessage: result.Summary,
		OriginalTokens: originalTokens,
		CurrentTokens:  summaryTokens,
		KeyDecisions:   result.KeyDecisions,
		FilesModified:  result.FilesModified,
		NextSteps:      result.NextSteps,
	}, now)
	removeMessages(conv, indexes)
	conv.Checkpoints = coll.Items()
	return Outcome{Kind: OutcomeCompressed, Strategy: StrategySummarize, Checkpoint: &ck}
}

// hybrid summarises the oldest half of the compressible region, then
// truncates from the remainder while usage still exceeds target.
func (e *Engine) hybrid(ctx context.Context, conv *types.Conversation, coll *checkpoint.Collection, indexes []int, systemPromptTokens, target int, now time.Time) Outcome {
	half := len(indexes) / 2
	if half == 0 {
		half = len(indexes)
	}

	outcome := e.summarize(ctx, conv, coll, indexes[:half], now)
	if outcome.Kind == OutcomeNoChange {
		return outcome
	}
	outcome.Strategy = StrategyHybrid

	if totalTokens(conv, systemPromptTokens) > target {
		remaining := e.compressibleIndexes(conv)
		for len(remaining) > 0 && totalTokens(conv, systemPromptTokens) > target {
			removeMessages(conv, remaining[:1])
			remaining = e.compressibleIndexes(conv)
		}
	}
	return outcome
}

// truncate drops up to n of the oldest compressible messages without
// writing a checkpoint.
func (e *Engine) truncate(conv *types.Conversation, indexes []int, n int) Outcome {
	if n > len(indexes) {
		n = len(indexes)
	}
	if n == 0 {
		return Outcome{Kind: OutcomeNoChange}
	}
	removeMessages(conv, indexes[:n])
	return Outcome{Kind: OutcomeCompressed, Strategy: StrategyTruncate}
}

// mergeOldestPair combines the two oldest checkpoints, preferring a
// provider-authored merge summary and degrading to local concatenation.
func (e *Engine) mergeOldestPair(ctx context.Context, coll *checkpoint.Collection, now time.Time) {
	a, b, ok := coll.OldestPair()
	if !ok {
		return
	}
	if e.summarizer == nil {
		return
	}

	req := SummarizeRequest{
		Transcript:         a.SummaryMessage + "\n" + b.SummaryMessage,
		TokenBudget:        e.policy.SummaryTokenBudget,
		Structured:         true,
		PriorKeyDecisions:  append(append([]string{}, a.KeyDecisions...), b.KeyDecisions...),
		PriorFilesModified: append(append([]string{}, a.FilesModified...), b.FilesModified...),
		PriorNextSteps:     b.NextSteps,
	}
	result, err := e.summarizer.Summarize(ctx, req)
	if err != nil {
		// Collection.Add will concatenate locally instead.
		return
	}

	coll.ReplaceOldestPair(types.Checkpoint{
		Level:          checkpoint.MergedLevel(a, b),
		RangeFirst:     a.RangeFirst,
		RangeLast:      b.RangeLast,
		SummaryMessage: result.Summary,
		OriginalTokens: a.OriginalTokens + b.OriginalTokens,
		CurrentTokens:  e.counter.Count(result.Summary),
		KeyDecisions:   result.KeyDecisions,
		FilesModified:  result.FilesModified,
		NextSteps:      result.NextSteps,
	}, now)
}

func messagesAt(conv *types.Conversation, indexes []int) []types.Message {
	out := make([]types.Message, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, conv.Messages[i])
	}
	return out
}

func sumTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += m.TokenCount
	}
	return total
}

func removeMessages(conv *types.Conversation, indexes []int) {
	drop := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		drop[i] = true
	}
	kept := conv.Messages[:0:0]
	for i, m := range conv.Messages {
		if !drop[i] {
			kept = append(kept, m)
		}
	}
	conv.Messages = kept
}

func totalTokens(conv *types.Conversation, systemPromptTokens int) int {
	total := systemPromptTokens
	for _, m := range conv.Messages {
		total += m.TokenCount
	}
	for _, ck := range conv.Checkpoints {
		total += ck.CurrentTokens
	}
	return total
}
