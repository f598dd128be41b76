package modelprofile

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollm-run/ollmcore/pkg/types"
)

func TestCatalogueLookup(t *testing.T) {
	registry := Compile([]string{"llama3.1:8b"})

	profile, ok := registry.Lookup("llama3.1:8b")
	require.True(t, ok)
	assert.Equal(t, 128000, profile.MaxContextWindow)
	assert.True(t, profile.Capabilities.SupportsToolCalling)
	assert.True(t, registry.Known("llama3.1:8b"))
	assert.Empty(t, registry.Warnings())
}

func TestFamilyFallback(t *testing.T) {
	registry := Compile([]string{"llama3.2:3b-instruct"})

	profile, ok := registry.Lookup("llama3.2:3b-instruct")
	require.True(t, ok)
	assert.Equal(t, "llama3.2:3b-instruct", profile.ID)
	assert.Equal(t, 128000, profile.MaxContextWindow)
	assert.True(t, registry.Known("llama3.2:3b-instruct"))
}

func TestUnknownModelTemplate(t *testing.T) {
	registry := Compile([]string{"my-model:13b"})

	profile, ok := registry.Lookup("my-model:13b")
	require.True(t, ok)
	assert.Equal(t, "my-model:13b", profile.ID)
	require.NotEmpty(t, profile.ContextProfiles)
	for _, cp := range profile.ContextProfiles {
		assert.Greater(t, cp.Size, 0)
		assert.Greater(t, cp.EffectiveCapTokens, 0)
	}

	assert.False(t, registry.Known("my-model:13b"))
	require.Len(t, registry.Warnings(), 1)
	assert.Contains(t, registry.Warnings()[0], "my-model:13b")
}

func TestLookupUncompiledModel(t *testing.T) {
	registry := Compile(nil)
	_, ok := registry.Lookup("anything")
	assert.False(t, ok)
}

func TestEffectiveCapIs85Percent(t *testing.T) {
	registry := Compile([]string{"qwen2.5:7b"})
	profile, _ := registry.Lookup("qwen2.5:7b")

	for i, cp := range profile.ContextProfiles {
		want := int(math.Round(float64(cp.Size) * 0.85))
		assert.Equal(t, want, cp.EffectiveCapTokens, "profile %d", i)
	}
}

func TestEffectiveCapForTier(t *testing.T) {
	registry := Compile([]string{"llama3.1:8b"})
	profile, _ := registry.Lookup("llama3.1:8b")

	capMinimal := profile.EffectiveCapForTier(types.TierMinimal)
	capUltra := profile.EffectiveCapForTier(types.TierUltra)
	assert.Less(t, capMinimal, capUltra)
	assert.Equal(t, int(math.Round(128000*0.85)), capUltra)
}

func TestContextProfileFloor(t *testing.T) {
	// Tiny windows floor profile sizes at 2048 rather than going below.
	registry := Compile([]string{"my-model:13b"})
	profile, _ := registry.Lookup("my-model:13b")
	for _, cp := range profile.ContextProfiles {
		assert.GreaterOrEqual(t, cp.Size, 2048)
	}
}
