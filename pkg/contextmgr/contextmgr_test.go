package contextmgr

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollm-run/ollmcore/pkg/compression"
	"github.com/ollm-run/ollmcore/pkg/eventbus"
	"github.com/ollm-run/ollmcore/pkg/modelprofile"
	"github.com/ollm-run/ollmcore/pkg/ollmerr"
	"github.com/ollm-run/ollmcore/pkg/snapshot"
	"github.com/ollm-run/ollmcore/pkg/tokencount"
	"github.com/ollm-run/ollmcore/pkg/types"
)

const (
	testModelID      = "test-model:7b"
	testCap          = 3482
	testPromptTokens = 300
)

// testSummarizer produces a small fixed summary.
type testSummarizer struct {
	calls int
	fail  bool
}

func (s *testSummarizer) Summarize(ctx context.Context, req compression.SummarizeRequest) (compression.SummarizeResult, error) {
	s.calls++
	if s.fail {
		return compression.SummarizeResult{}, ollmerr.New(ollmerr.ProviderUnavailable, "daemon down")
	}
	return compression.SummarizeResult{Summary: "compact summary of earlier turns"}, nil
}

type harness struct {
	mgr        *Manager
	bus        *eventbus.Bus
	store      *snapshot.Store
	summarizer *testSummarizer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	profile := modelprofile.Profile{
		ID:               testModelID,
		Name:             "Test Model",
		MaxContextWindow: 4096,
		DefaultContext:   4096,
		Capabilities:     modelprofile.Capabilities{SupportsToolCalling: true, SupportsStreaming: true},
		ContextProfiles: []modelprofile.ContextProfile{
			{Size: 4096, EffectiveCapTokens: testCap},
		},
	}
	registry := modelprofile.NewRegistryFromProfiles(profile)
	counter := tokencount.New()
	store, err := snapshot.New(t.TempDir(), 10)
	require.NoError(t, err)
	bus := eventbus.New()
	summarizer := &testSummarizer{}

	newEngine := func(tier types.Tier) *compression.Engine {
		return compression.NewEngine(tier, summarizer, counter)
	}
	buildPrompt := func(mode types.Mode, tier types.Tier) (string, int, error) {
		return "system prompt text", testPromptTokens, nil
	}

	mgr := New(registry, counter, store, bus, newEngine, buildPrompt, opts...)
	return &harness{mgr: mgr, bus: bus, store: store, summarizer: summarizer}
}

// text returns a string the surrogate counter sizes at exactly n tokens.
func text(n int) string {
	return strings.Repeat("wxyz", n)
}

func (h *harness) open(t *testing.T, tier types.Tier) {
	t.Helper()
	require.NoError(t, h.mgr.OpenSession(context.Background(), testModelID, tier, types.ModeDeveloper, "sess-1"))
}

// appendPair adds one user message and one streamed assistant message
// of tokensEach tokens each.
func (h *harness) appendPair(t *testing.T, tokensEach int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.mgr.AppendUser(ctx, text(tokensEach)))
	h.mgr.AppendAssistantStreamChunk(text(tokensEach))
	require.NoError(t, h.mgr.EndAssistantStream(ctx))
}

func countEvents(bus *eventbus.Bus, event string) int {
	n := 0
	for _, e := range bus.History() {
		if e.Event == event {
			n++
		}
	}
	return n
}

func TestOpenSessionUnknownModel(t *testing.T) {
	h := newHarness(t)
	err := h.mgr.OpenSession(context.Background(), "nope:1b", types.TierMinimal, types.ModeDeveloper, "")
	require.Error(t, err)
	assert.True(t, ollmerr.Is(err, ollmerr.ModelUnknown))
}

func TestOpenSessionSetsCapAndEmits(t *testing.T) {
	h := newHarness(t)
	h.open(t, types.TierMinimal)

	conv := h.mgr.Conversation()
	assert.Equal(t, testCap, conv.EffectiveCapTokens)
	assert.Equal(t, types.TierMinimal, conv.Tier)

	_, ok := h.bus.WaitFor(EventSessionStart, time.Second)
	assert.True(t, ok)
}

func TestAppendUserEmpty(t *testing.T) {
	h := newHarness(t)
	h.open(t, types.TierMinimal)

	err := h.mgr.AppendUser(context.Background(), "")
	require.Error(t, err)
	assert.True(t, ollmerr.Is(err, ollmerr.Empty))
}

func TestAppendUserPreserved(t *testing.T) {
	h := newHarness(t)
	h.open(t, types.TierMinimal)

	require.NoError(t, h.mgr.AppendUser(context.Background(), "hello there"))
	conv := h.mgr.Conversation()
	require.Len(t, conv.Messages, 1)
	assert.True(t, conv.Messages[0].Preserved)
	assert.Equal(t, types.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, 1, countEvents(h.bus, EventMessageAppended))
}

func TestOutOfOrderStreamEnd(t *testing.T) {
	h := newHarness(t)
	h.open(t, types.TierMinimal)
	assert.Error(t, h.mgr.EndAssistantStream(context.Background()))
}

func TestBudgetInvariantHolds(t *testing.T) {
	h := newHarness(t)
	h.open(t, types.TierMinimal)

	for i := 0; i < 30; i++ {
		h.appendPair(t, 60)
		usage := h.mgr.Usage()
		assert.LessOrEqual(t, usage, 1.0, "budget invariant violated at pair %d", i)
	}
}

func TestToolResultAppendsUnpreserved(t *testing.T) {
	h := newHarness(t)
	h.open(t, types.TierStandard)

	h.mgr.AppendToolResult(context.Background(), "read_file", "file contents here")
	conv := h.mgr.Conversation()
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, types.RoleToolResult, conv.Messages[0].Role)
	assert.False(t, conv.Messages[0].Preserved)
}

func TestBuildProviderViewShape(t *testing.T) {
	h := newHarness(t)
	h.open(t, types.TierMinimal)

	require.NoError(t, h.mgr.AppendUser(context.Background(), "first question"))
	view := h.mgr.BuildProviderView()

	require.NotEmpty(t, view)
	assert.Equal(t, types.RoleSystem, view[0].Role)
	assert.Equal(t, testPromptTokens, view[0].TokenCount)
	assert.Equal(t, "first question", view[len(view)-1].Text())

	total := 0
	for _, m := range view {
		total += m.TokenCount
	}
	assert.LessOrEqual(t, total, testCap)
}

func TestProviderViewRendersCheckpointsAsMessages(t *testing.T) {
	h := newHarness(t, WithCooldown(0))
	h.open(t, types.TierBasic)

	for i := 0; i < 25; i++ {
		h.appendPair(t, 60)
	}
	conv := h.mgr.Conversation()
	require.NotEmpty(t, conv.Checkpoints, "expected compression to have produced checkpoints")

	view := h.mgr.BuildProviderView()
	assert.NotEmpty(t, view[1].CheckpointID, "checkpoint must follow the system prompt")
}

func TestManualSnapshotAndRestore(t *testing.T) {
	h := newHarness(t)
	h.open(t, types.TierStandard)
	ctx := context.Background()

	require.NoError(t, h.mgr.AppendUser(ctx, "remember this"))
	snapID, err := h.mgr.ManualSnapshot(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, snapID)

	require.NoError(t, h.mgr.AppendUser(ctx, "after the snapshot"))
	require.Len(t, h.mgr.Conversation().Messages, 2)

	require.NoError(t, h.mgr.RestoreSnapshot(ctx, snapID))
	conv := h.mgr.Conversation()
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, "remember this", conv.Messages[0].Text())

	_, ok := h.bus.WaitFor(EventSnapshotRestored, time.Second)
	assert.True(t, ok)
}

func TestRestoreSnapshotNotFound(t *testing.T) {
	h := newHarness(t)
	h.open(t, types.TierStandard)
	err := h.mgr.RestoreSnapshot(context.Background(), "missing")
	assert.True(t, ollmerr.Is(err, ollmerr.SnapshotNotFound))
}

func TestSetModeRebuildsAndEmits(t *testing.T) {
	h := newHarness(t)
	h.open(t, types.TierStandard)

	require.NoError(t, h.mgr.SetMode(types.ModePlanning))
	assert.Equal(t, types.ModePlanning, h.mgr.Conversation().Mode)
	_, ok := h.bus.WaitFor(EventModeChanged, time.Second)
	assert.True(t, ok)
}

func TestLowMemoryWarningDoesNotResize(t *testing.T) {
	h := newHarness(t)
	h.open(t, types.TierStandard)

	capBefore := h.mgr.Conversation().EffectiveCapTokens
	h.mgr.WarnLowMemory(context.Background(), 1.5)
	assert.Equal(t, capBefore, h.mgr.Conversation().EffectiveCapTokens)
	_, ok := h.bus.WaitFor(EventLowMemoryWarning, time.Second)
	assert.True(t, ok)
}

func TestCooldownSuppressesBackToBackCompression(t *testing.T) {
	h := newHarness(t, WithCooldown(time.Hour))
	h.open(t, types.TierBasic)

	for i := 0; i < 25; i++ {
		h.appendPair(t, 60)
	}
	assert.Equal(t, 1, h.summarizer.calls, "cooldown must suppress repeat compressions")
}
