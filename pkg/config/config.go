// Package config loads and persists the runtime's state files under
// the state root (default ~/.ollm): settings.json, trusted-hooks.json,
// and the compiled model profile catalogue. Settings are viper-backed
// with environment-variable fallback; trust approvals hot-reload when
// the file changes on disk.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/ollm-run/ollmcore/pkg/types"
)

const (
	settingsFileName = "settings.json"
	trustedFileName  = "trusted-hooks.json"
	profilesFileName = "LLM_profiles.json"

	trustedFileVersion = 1
)

// Settings is the decoded shape of settings.json.
type Settings struct {
	Provider       ProviderSettings           `mapstructure:"provider" json:"provider" yaml:"provider"`
	Tools          map[string]bool            `mapstructure:"tools" json:"tools" yaml:"tools"`
	ToolsByMode    map[string]map[string]bool `mapstructure:"toolsByMode" json:"toolsByMode" yaml:"toolsByMode"`
	TrustWorkspace bool                       `mapstructure:"trust_workspace" json:"trust_workspace" yaml:"trust_workspace"`
}

// ProviderSettings configures the local inference daemon connection.
type ProviderSettings struct {
	Ollama OllamaSettings `mapstructure:"ollama" json:"ollama" yaml:"ollama"`
}

// OllamaSettings is the provider.ollama block of settings.json.
type OllamaSettings struct {
	AutoStart bool   `mapstructure:"autoStart" json:"autoStart" yaml:"autoStart"`
	Host      string `mapstructure:"host" json:"host" yaml:"host"`
	Port      int    `mapstructure:"port" json:"port" yaml:"port"`
	URL       string `mapstructure:"url" json:"url" yaml:"url"`
}

// InitDefaults installs setting defaults into viper.
func InitDefaults() {
	viper.SetDefault("provider.ollama.autoStart", true)
	viper.SetDefault("provider.ollama.host", "127.0.0.1")
	viper.SetDefault("provider.ollama.port", 11434)
	viper.SetDefault("trust_workspace", false)
	viper.SetDefault("compression.trigger_threshold", 0.80)
	viper.SetDefault("compression.cooldown_seconds", 60)
	viper.SetDefault("snapshots.max_count", 10)
	viper.SetDefault("hooks.timeout_seconds", 30)
	viper.SetDefault("hooks.output_cap_bytes", 1<<20)
	viper.SetDefault("events.history_size", 1024)
}

// DefaultStateRoot resolves the state root directory, honouring the
// OLLM_STATE_ROOT environment variable.
func DefaultStateRoot() (string, error) {
	if root := os.Getenv("OLLM_STATE_ROOT"); root != "" {
		return root, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(homeDir, ".ollm"), nil
}

// LoadSettings reads settings.json from the state root into viper and
// decodes it. A missing file yields defaults only.
func LoadSettings(stateRoot string) (*Settings, error) {
	InitDefaults()

	viper.SetConfigFile(filepath.Join(stateRoot, settingsFileName))
	viper.SetConfigType("json")
	if err := viper.ReadInConfig(); err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrap(err, "failed to read settings")
			}
		}
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	return &settings, nil
}

// SaveSettings writes settings.json under the state root.
func SaveSettings(stateRoot string, settings *Settings) error {
	if err := os.MkdirAll(stateRoot, 0o755); err != nil {
		return errors.Wrap(err, "failed to create state root")
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode settings")
	}
	return errors.Wrap(os.WriteFile(filepath.Join(stateRoot, settingsFileName), data, 0o644),
		"failed to write settings")
}

// trustedFile is the on-disk shape of trusted-hooks.json.
type trustedFile struct {
	Version   int                  `json:"version"`
	Approvals []types.HookApproval `json:"approvals"`
}

// LoadTrustedHooks reads the approval list from trusted-hooks.json.
// A missing file yields an empty list.
func LoadTrustedHooks(stateRoot string) ([]types.HookApproval, error) {
	data, err := os.ReadFile(filepath.Join(stateRoot, trustedFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read trusted hooks")
	}

	var file trustedFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to decode trusted hooks")
	}
	return file.Approvals, nil
}

// SaveTrustedHooks persists the approval list to trusted-hooks.json.
func SaveTrustedHooks(stateRoot string, approvals []types.HookApproval) error {
	if err := os.MkdirAll(stateRoot, 0o755); err != nil {
		return errors.Wrap(err, "failed to create state root")
	}
	data, err := json.MarshalIndent(trustedFile{Version: trustedFileVersion, Approvals: approvals}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode trusted hooks")
	}
	return errors.Wrap(os.WriteFile(filepath.Join(stateRoot, trustedFileName), data, 0o644),
		"failed to write trusted hooks")
}

// profilesFile is the on-disk shape of LLM_profiles.json, compiled at
// startup against the set of installed models.
type profilesFile struct {
	CompiledAt time.Time      `json:"compiledAt"`
	Models     []ProfileEntry `json:"models"`
}

// ProfileEntry is one installed model's compiled profile record.
type ProfileEntry struct {
	ID               string                `json:"id"`
	Name             string                `json:"name"`
	MaxContextWindow int                   `json:"max_context_window"`
	DefaultContext   int                   `json:"default_context"`
	ContextProfiles  []ContextProfileEntry `json:"context_profiles"`
}

// ContextProfileEntry is one {size, provider context size, vram} tuple.
type ContextProfileEntry struct {
	Size              int     `json:"size"`
	OllamaContextSize int     `json:"ollama_context_size"`
	VRAMEstimateGB    float64 `json:"vram_estimate_gb"`
}

// SaveProfiles writes the compiled profile catalogue.
func SaveProfiles(stateRoot string, entries []ProfileEntry, now time.Time) error {
	if err := os.MkdirAll(stateRoot, 0o755); err != nil {
		return errors.Wrap(err, "failed to create state root")
	}
	data, err := json.MarshalIndent(profilesFile{CompiledAt: now, Models: entries}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode profiles")
	}
	return errors.Wrap(os.WriteFile(filepath.Join(stateRoot, profilesFileName), data, 0o644),
		"failed to write profiles")
}

// LoadProfiles reads the compiled profile catalogue; a missing file
// yields an empty list so the caller recompiles.
func LoadProfiles(stateRoot string) ([]ProfileEntry, error) {
	data, err := os.ReadFile(filepath.Join(stateRoot, profilesFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read profiles")
	}
	var file profilesFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "failed to decode profiles")
	}
	return file.Models, nil
}
