// Package contextmgr owns the live conversation. It is the only
// mutating API over conversation state: it appends messages, keeps
// token accounting correct, decides when to compress and when to
// snapshot, and coordinates the compression engine, snapshot store,
// prompt orchestrator, and hook runner it holds. The manager treats
// every public mutating operation as a cooperatively-yielded critical
// section: appends suspend while a compression is in flight, except
// tool results, which are buffered and installed when it finishes.
package contextmgr

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ollm-run/ollmcore/pkg/checkpoint"
	"github.com/ollm-run/ollmcore/pkg/compression"
	"github.com/ollm-run/ollmcore/pkg/eventbus"
	"github.com/ollm-run/ollmcore/pkg/hooks"
	"github.com/ollm-run/ollmcore/pkg/logger"
	"github.com/ollm-run/ollmcore/pkg/modelprofile"
	"github.com/ollm-run/ollmcore/pkg/ollmerr"
	"github.com/ollm-run/ollmcore/pkg/snapshot"
	"github.com/ollm-run/ollmcore/pkg/tokencount"
	"github.com/ollm-run/ollmcore/pkg/types"
)

// Bus event names emitted by the manager.
const (
	EventSessionStart        = "session_start"
	EventMessageAppended     = "message_appended"
	EventCompressionTrigger  = "compression_triggered"
	EventSnapshotCreated     = "snapshot_created"
	EventSnapshotRestored    = "snapshot_restored"
	EventModeChanged         = "mode_changed"
	EventPreOverflowWarning  = "pre_overflow_warning"
	EventLowMemoryWarning    = "low_memory_warning"
)

// Default thresholds for the compression decision algorithm.
const (
	DefaultTriggerThreshold  = 0.80
	DefaultSnapshotThreshold = 0.85
	DefaultOverflowThreshold = 0.95
	DefaultCooldown          = 60 * time.Second
)

// PromptBuilder rebuilds the system prompt for a mode/tier pair,
// returning the prompt text and its token cost.
type PromptBuilder func(mode types.Mode, tier types.Tier) (string, int, error)

// Manager owns one live Conversation and its sub-engines.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	conv *types.Conversation
	coll *checkpoint.Collection

	registry   *modelprofile.Registry
	counter    *tokencount.Counter
	snapshots  *snapshot.Store
	bus        *eventbus.Bus
	hookRunner *hooks.Runner
	newEngine  func(tier types.Tier) *compression.Engine
	engine     *compression.Engine
	buildPrompt PromptBuilder

	systemPrompt       string
	systemPromptTokens int

	compressing        bool
	streaming          bool
	lastTimestamp      int64
	streamBuf          strings.Builder
	pendingToolResults []types.Message
	lastCompression    time.Time

	triggerThreshold  float64
	snapshotThreshold float64
	overflowThreshold float64
	cooldown          time.Duration
	clock             func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHookRunner attaches a hook runner for lifecycle dispatch.
func WithHookRunner(r *hooks.Runner) Option {
	return func(m *Manager) { m.hookRunner = r }
}

// WithCooldown overrides the automatic-compression cooldown.
func WithCooldown(d time.Duration) Option {
	return func(m *Manager) { m.cooldown = d }
}

// WithTriggerThreshold overrides the 0.80 compression trigger.
func WithTriggerThreshold(t float64) Option {
	return func(m *Manager) { m.triggerThreshold = t }
}

// WithClock overrides the manager's time source (for tests).
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// New creates a Manager. newEngine is invoked once per session with
// the session's tier; buildPrompt is consulted whenever the mode or
// tool surface changes.
func New(
	registry *modelprofile.Registry,
	counter *tokencount.Counter,
	snapshots *snapshot.Store,
	bus *eventbus.Bus,
	newEngine func(tier types.Tier) *compression.Engine,
	buildPrompt PromptBuilder,
	opts ...Option,
) *Manager {
	m := &Manager{
		registry:          registry,
		counter:           counter,
		snapshots:         snapshots,
		bus:               bus,
		newEngine:         newEngine,
		buildPrompt:       buildPrompt,
		triggerThreshold:  DefaultTriggerThreshold,
		snapshotThreshold: DefaultSnapshotThreshold,
		overflowThreshold: DefaultOverflowThreshold,
		cooldown:          DefaultCooldown,
		clock:             time.Now,
	}
	m.cond = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OpenSession creates a new Conversation bound to a registered model
// and a fixed tier. sessionID may be empty, in which case one is
// generated. The effective token cap is taken from the model profile
// and never changes for the life of the session.
func (m *Manager) OpenSession(ctx context.Context, modelID string, tier types.Tier, mode types.Mode, sessionID string) error {
	profile, ok := m.registry.Lookup(modelID)
	if !ok {
		return ollmerr.New(ollmerr.ModelUnknown, "model "+modelID+" not found in profile registry")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.conv = &types.Conversation{
		SessionID:          sessionID,
		Mode:               mode,
		Tier:               tier,
		ModelID:            modelID,
		EffectiveCapTokens: profile.EffectiveCapForTier(tier),
	}
	m.coll = checkpoint.NewCollection(tier)
	m.engine = m.newEngine(tier)
	m.streaming = false
	m.streamBuf.Reset()
	m.pendingToolResults = nil
	m.lastCompression = time.Time{}
	m.lastTimestamp = 0

	if err := m.rebuildSystemPromptLocked(); err != nil {
		return err
	}

	for _, warning := range m.registry.Warnings() {
		logger.G(ctx).Warn(warning)
	}

	m.bus.Emit(EventSessionStart, sessionID)
	if m.hookRunner != nil {
		m.hookRunner.Dispatch(ctx, types.EventSessionStart, map[string]interface{}{"session_id": sessionID})
	}
	return nil
}

// Conversation returns the live conversation (read-only use). The
// call suspends while a compression is in flight so callers never
// observe the engine's partial mutations.
func (m *Manager) Conversation() *types.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitNotCompressingLocked()
	return m.conv
}

// AppendUser adds a user message, which is always preserved. The call
// suspends while a compression is in flight and re-evaluates the
// compression decision after the append.
func (m *Manager) AppendUser(ctx context.Context, text string) error {
	tokens := m.counter.Count(text)
	if tokens == 0 {
		return ollmerr.New(ollmerr.Empty, "user message has no tokens")
	}

	m.mu.Lock()
	m.waitNotCompressingLocked()
	msg := types.Message{
		Role:       types.RoleUser,
		Parts:      []types.Part{{Kind: "text", Text: text}},
		Timestamp:  m.nextTimestampLocked(),
		TokenCount: tokens,
		Preserved:  true,
	}
	m.conv.Messages = append(m.conv.Messages, msg)
	m.mu.Unlock()

	m.bus.Emit(EventMessageAppended, msg)
	m.maybeCompress(ctx)
	return nil
}

// AppendAssistantStreamChunk accumulates one chunk of an in-flight
// assistant response. No compression fires during streaming; the
// message's token count is computed at end of stream.
func (m *Manager) AppendAssistantStreamChunk(chunk string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitNotCompressingLocked()
	m.streaming = true
	m.streamBuf.WriteString(chunk)
}

// EndAssistantStream finalises the accumulated assistant message, runs
// the compression decision, and reports OverCap if the conversation
// still exceeds its cap afterwards.
func (m *Manager) EndAssistantStream(ctx context.Context) error {
	m.mu.Lock()
	if !m.streaming {
		m.mu.Unlock()
		return errors.New("no assistant stream in progress")
	}
	text := m.streamBuf.String()
	m.streamBuf.Reset()
	m.streaming = false

	msg := types.Message{
		Role:       types.RoleAssistant,
		Parts:      []types.Part{{Kind: "text", Text: text}},
		Timestamp:  m.nextTimestampLocked(),
		TokenCount: m.counter.Count(text),
	}
	m.conv.Messages = append(m.conv.Messages, msg)
	m.mu.Unlock()

	m.bus.Emit(EventMessageAppended, msg)
	m.maybeCompress(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usageLocked() > 1.0 {
		return ollmerr.New(ollmerr.OverCap, "conversation exceeds effective cap after compression")
	}
	return nil
}

// CancelAssistantStream finalises the stream with whatever text has
// arrived, synthesising the end-of-stream transition.
func (m *Manager) CancelAssistantStream(ctx context.Context) error {
	m.mu.Lock()
	if !m.streaming {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.EndAssistantStream(ctx)
}

// AppendToolResult adds a tool result message. Tool results are
// permitted while a compression is in flight: they are buffered and
// installed as soon as it finishes.
func (m *Manager) AppendToolResult(ctx context.Context, toolID, payload string) {
	m.mu.Lock()
	msg := types.Message{
		Role:       types.RoleToolResult,
		Parts:      []types.Part{{Kind: "tool_result", Text: payload}},
		Timestamp:  m.nextTimestampLocked(),
		TokenCount: m.counter.Count(payload),
	}
	if m.compressing {
		m.pendingToolResults = append(m.pendingToolResults, msg)
		m.mu.Unlock()
		m.bus.Emit(EventMessageAppended, msg)
		return
	}
	m.conv.Messages = append(m.conv.Messages, msg)
	m.mu.Unlock()

	m.bus.Emit(EventMessageAppended, msg)
	m.maybeCompress(ctx)
}

// BuildProviderView returns the ordered message sequence sent to the
// provider: the system prompt, each checkpoint rendered as a summary
// message, then the remaining live messages. Reading through a
// checkpoint refreshes its last-accessed time.
func (m *Manager) BuildProviderView() []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitNotCompressingLocked()

	now := m.clock()
	view := make([]types.Message, 0, len(m.conv.Messages)+len(m.conv.Checkpoints)+1)
	view = append(view, types.Message{
		Role:       types.RoleSystem,
		Parts:      []types.Part{{Kind: "text", Text: m.systemPrompt}},
		TokenCount: m.systemPromptTokens,
		Preserved:  true,
	})
	for _, ck := range m.conv.Checkpoints {
		m.coll.Touch(ck.ID, now)
		view = append(view, types.Message{
			Role:         types.RoleAssistant,
			Parts:        []types.Part{{Kind: "text", Text: ck.SummaryMessage}},
			TokenCount:   ck.CurrentTokens,
			CheckpointID: ck.ID,
		})
	}
	m.conv.Checkpoints = m.coll.Items()
	view = append(view, m.conv.Messages...)
	return view
}

// ManualSnapshot persists the current conversation and returns the new
// snapshot id.
func (m *Manager) ManualSnapshot(ctx context.Context) (string, error) {
	return m.takeSnapshot(ctx, types.TriggerManual)
}

// RestoreSnapshot atomically replaces the live conversation with a
// previously persisted one.
func (m *Manager) RestoreSnapshot(ctx context.Context, snapshotID string) error {
	snap, err := m.snapshots.Load(ctx, snapshotID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conv := snap.Conversation
	m.conv = &conv
	m.coll = checkpoint.NewCollection(conv.Tier)
	m.coll.Load(conv.Checkpoints)
	m.lastTimestamp = 0
	for _, msg := range conv.Messages {
		if msg.Timestamp > m.lastTimestamp {
			m.lastTimestamp = msg.Timestamp
		}
	}
	m.engine = m.newEngine(conv.Tier)
	err = m.rebuildSystemPromptLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.bus.Emit(EventSnapshotRestored, snapshotID)
	return nil
}

// SetMode switches the operational persona and rebuilds the system
// prompt. The tier never changes.
func (m *Manager) SetMode(mode types.Mode) error {
	m.mu.Lock()
	m.conv.Mode = mode
	err := m.rebuildSystemPromptLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}
	m.bus.Emit(EventModeChanged, mode)
	return nil
}

// SystemPromptTokens reports the current prompt's token cost.
func (m *Manager) SystemPromptTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitNotCompressingLocked()
	return m.systemPromptTokens
}

// Usage returns current token usage as a fraction of the effective
// cap, waiting out any in-flight compression first so the accounting
// it reads is settled.
func (m *Manager) Usage() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitNotCompressingLocked()
	return m.usageLocked()
}

// DispatchHooks runs the hooks for a lifecycle event and interprets
// the aggregated outcome: system messages are appended to the
// conversation, and the aborted flag tells the caller to short-circuit
// the in-progress operation. Hooks never write conversation state
// directly.
func (m *Manager) DispatchHooks(ctx context.Context, event types.HookEvent, data interface{}) types.AggregatedHookOutcome {
	if m.hookRunner == nil {
		return types.AggregatedHookOutcome{}
	}
	outcome := m.hookRunner.Dispatch(ctx, event, data)

	for _, sysMsg := range outcome.SystemMessages {
		m.mu.Lock()
		msg := types.Message{
			Role:       types.RoleSystem,
			Parts:      []types.Part{{Kind: "text", Text: sysMsg}},
			Timestamp:  m.nextTimestampLocked(),
			TokenCount: m.counter.Count(sysMsg),
		}
		m.conv.Messages = append(m.conv.Messages, msg)
		m.mu.Unlock()
		m.bus.Emit(EventMessageAppended, msg)
	}
	return outcome
}

// WarnLowMemory reports reduced VRAM availability. The effective cap
// never resizes mid-session; the warning is emitted for the UI only.
func (m *Manager) WarnLowMemory(ctx context.Context, availableGB float64) {
	logger.G(ctx).WithField("available_gb", availableGB).Warn("low GPU memory; context size unchanged")
	m.bus.Emit(EventLowMemoryWarning, availableGB)
}

// waitNotCompressingLocked suspends the caller until no compression is
// in flight. Must hold m.mu.
func (m *Manager) waitNotCompressingLocked() {
	for m.compressing {
		m.cond.Wait()
	}
}

// nextTimestampLocked hands out a strictly increasing order value that
// survives compression removing earlier messages.
func (m *Manager) nextTimestampLocked() int64 {
	m.lastTimestamp++
	return m.lastTimestamp
}

func (m *Manager) usageLocked() float64 {
	if m.conv == nil || m.conv.EffectiveCapTokens == 0 {
		return 0
	}
	total := m.systemPromptTokens
	for _, msg := range m.conv.Messages {
		total += msg.TokenCount
	}
	for _, ck := range m.conv.Checkpoints {
		total += ck.CurrentTokens
	}
	return float64(total) / float64(m.conv.EffectiveCapTokens)
}

// maybeCompress applies the compression decision algorithm after an
// append: snapshot at the 0.85 and 0.95 thresholds, compress at 0.80.
// The cooldown suppresses back-to-back automatic compressions but is
// bypassed once usage reaches the overflow threshold, so a burst of
// large tool output cannot wedge the session over cap.
func (m *Manager) maybeCompress(ctx context.Context) {
	m.mu.Lock()
	usage := m.usageLocked()

	if usage >= m.overflowThreshold {
		m.mu.Unlock()
		m.bus.Emit(EventPreOverflowWarning, usage)
		if _, err := m.takeSnapshot(ctx, types.TriggerAuto95); err != nil {
			logger.G(ctx).WithError(err).Warn("auto snapshot failed")
		}
		m.mu.Lock()
	} else if usage >= m.snapshotThreshold {
		m.mu.Unlock()
		if _, err := m.takeSnapshot(ctx, types.TriggerAuto85); err != nil {
			logger.G(ctx).WithError(err).Warn("auto snapshot failed")
		}
		m.mu.Lock()
	}

	if usage < m.triggerThreshold || m.compressing || m.streaming {
		m.mu.Unlock()
		return
	}

	now := m.clock()
	if usage < m.overflowThreshold && !m.lastCompression.IsZero() && now.Sub(m.lastCompression) < m.cooldown {
		m.mu.Unlock()
		return
	}

	m.compressing = true
	m.lastCompression = now
	conv, coll, spt := m.conv, m.coll, m.systemPromptTokens
	m.mu.Unlock()

	outcome := m.engine.Compress(ctx, conv, coll, spt)

	m.mu.Lock()
	m.compressing = false
	m.conv.Messages = append(m.conv.Messages, m.pendingToolResults...)
	m.pendingToolResults = nil
	m.cond.Broadcast()
	m.mu.Unlock()

	switch outcome.Kind {
	case compression.OutcomeCompressed:
		m.bus.Emit(EventCompressionTrigger, outcome)
	default:
		logger.G(ctx).WithFields(map[string]interface{}{
			"from_tokens": outcome.FromTokens,
			"usage":       usage,
		}).Info("compression pass made no change")
	}
}

// takeSnapshot deep-copies the conversation and persists it.
func (m *Manager) takeSnapshot(ctx context.Context, trigger types.SnapshotTrigger) (string, error) {
	m.mu.Lock()
	convCopy, err := deepCopyConversation(m.conv)
	sessionID := m.conv.SessionID
	m.mu.Unlock()
	if err != nil {
		return "", ollmerr.Wrap(ollmerr.SnapshotFailed, err, "failed to copy conversation")
	}

	snap := types.ContextSnapshot{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Conversation: convCopy,
		Trigger:      trigger,
		CreatedAt:    m.clock(),
	}
	if err := m.snapshots.Save(ctx, snap); err != nil {
		return "", err
	}
	m.bus.Emit(EventSnapshotCreated, snap.ID)
	return snap.ID, nil
}

func (m *Manager) rebuildSystemPromptLocked() error {
	prompt, tokens, err := m.buildPrompt(m.conv.Mode, m.conv.Tier)
	if err != nil {
		return errors.Wrap(err, "failed to build system prompt")
	}
	m.systemPrompt = prompt
	m.systemPromptTokens = tokens
	return nil
}

// deepCopyConversation snapshots the conversation value without
// aliasing its slices.
func deepCopyConversation(conv *types.Conversation) (types.Conversation, error) {
	data, err := json.Marshal(conv)
	if err != nil {
		return types.Conversation{}, err
	}
	var out types.Conversation
	if err := json.Unmarshal(data, &out); err != nil {
		return types.Conversation{}, err
	}
	return out, nil
}
