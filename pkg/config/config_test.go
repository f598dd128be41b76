package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollm-run/ollmcore/pkg/types"
)

func TestLoadSettingsMissingFileYieldsDefaults(t *testing.T) {
	viper.Reset()
	settings, err := LoadSettings(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", settings.Provider.Ollama.Host)
	assert.Equal(t, 11434, settings.Provider.Ollama.Port)
	assert.False(t, settings.TrustWorkspace)
}

func TestSettingsRoundTrip(t *testing.T) {
	viper.Reset()
	root := t.TempDir()

	in := &Settings{
		Provider: ProviderSettings{Ollama: OllamaSettings{
			AutoStart: true, Host: "localhost", Port: 11435, URL: "http://localhost:11435",
		}},
		Tools: map[string]bool{"shell": false, "read_file": true},
		ToolsByMode: map[string]map[string]bool{
			"assistant": {"web_fetch": true},
		},
		TrustWorkspace: true,
	}
	require.NoError(t, SaveSettings(root, in))

	out, err := LoadSettings(root)
	require.NoError(t, err)
	assert.Equal(t, "localhost", out.Provider.Ollama.Host)
	assert.Equal(t, 11435, out.Provider.Ollama.Port)
	assert.False(t, out.Tools["shell"])
	assert.True(t, out.Tools["read_file"])
	assert.True(t, out.ToolsByMode["assistant"]["web_fetch"])
	assert.True(t, out.TrustWorkspace)
}

func TestTrustedHooksRoundTrip(t *testing.T) {
	root := t.TempDir()

	approvals := []types.HookApproval{
		{
			Source:     "/workspace/.ollm/hooks/audit.sh",
			Hash:       "sha256:abc123",
			ApprovedAt: time.Now().UTC().Truncate(time.Second),
			ApprovedBy: "alice",
		},
	}
	require.NoError(t, SaveTrustedHooks(root, approvals))

	loaded, err := LoadTrustedHooks(root)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, approvals[0], loaded[0])

	// The file carries the versioned shape.
	data, err := os.ReadFile(filepath.Join(root, "trusted-hooks.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version": 1`)
	assert.Contains(t, string(data), `"approvedBy": "alice"`)
}

func TestLoadTrustedHooksMissingFile(t *testing.T) {
	approvals, err := LoadTrustedHooks(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, approvals)
}

func TestProfilesRoundTrip(t *testing.T) {
	root := t.TempDir()

	entries := []ProfileEntry{
		{
			ID: "llama3.1:8b", Name: "Llama 3.1 8B",
			MaxContextWindow: 128000, DefaultContext: 8192,
			ContextProfiles: []ContextProfileEntry{
				{Size: 16000, OllamaContextSize: 13600, VRAMEstimateGB: 2.0},
			},
		},
	}
	require.NoError(t, SaveProfiles(root, entries, time.Now()))

	loaded, err := LoadProfiles(root)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, entries[0], loaded[0])
}

func TestDefaultStateRootHonoursEnv(t *testing.T) {
	t.Setenv("OLLM_STATE_ROOT", "/tmp/custom-root")
	root, err := DefaultStateRoot()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom-root", root)
}
