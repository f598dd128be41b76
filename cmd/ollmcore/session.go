package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ollm-run/ollmcore/pkg/compression"
	"github.com/ollm-run/ollmcore/pkg/contextmgr"
	"github.com/ollm-run/ollmcore/pkg/eventbus"
	"github.com/ollm-run/ollmcore/pkg/modelprofile"
	"github.com/ollm-run/ollmcore/pkg/presenter"
	"github.com/ollm-run/ollmcore/pkg/skills"
	"github.com/ollm-run/ollmcore/pkg/snapshot"
	"github.com/ollm-run/ollmcore/pkg/sysprompt"
	"github.com/ollm-run/ollmcore/pkg/tokencount"
	"github.com/ollm-run/ollmcore/pkg/types"
)

// defaultToolDescriptors is the registered tool surface described to
// the model. Tool implementations live outside this binary; only the
// registration contract is represented here.
var defaultToolDescriptors = []sysprompt.ToolDescriptor{
	{ID: sysprompt.ReadFileTool, Description: "Read a file from the workspace."},
	{ID: sysprompt.WriteFileTool, Description: "Write a file in the workspace.", WriteClass: true},
	{ID: sysprompt.EditFileTool, Description: "Apply a targeted edit to a file.", WriteClass: true},
	{ID: sysprompt.GrepTool, Description: "Search file contents by regular expression."},
	{ID: sysprompt.GlobTool, Description: "Find files by name pattern."},
	{ID: sysprompt.ShellTool, Description: "Run a shell command on the host.", WriteClass: true},
	{ID: sysprompt.WebSearchTool, Description: "Search the web."},
	{ID: sysprompt.WebFetchTool, Description: "Fetch a URL and return its content."},
}

// newManager wires a context manager over the given state root.
func newManager(ctx context.Context, root string, installedModels []string) (*contextmgr.Manager, *eventbus.Bus, error) {
	settings, err := loadSettings(root)
	if err != nil {
		return nil, nil, err
	}

	registry := modelprofile.Compile(installedModels)
	counter := tokencount.New()
	store, err := snapshot.New(root, viper.GetInt("snapshots.max_count"))
	if err != nil {
		return nil, nil, err
	}
	bus := eventbus.NewWithHistorySize(viper.GetInt("events.history_size"))

	toolFilter := sysprompt.ToolFilterConfig{Enabled: settings.Tools, ByMode: settings.ToolsByMode}
	activeSkills, _ := skills.Initialize(ctx)

	buildPrompt := func(mode types.Mode, tier types.Tier) (string, int, error) {
		profile, _ := registry.Lookup(installedModels[0])
		tools := sysprompt.FilterTools(mode, toolFilter, registry.Known(installedModels[0]), defaultToolDescriptors)

		var skillTemplates []sysprompt.SkillTemplate
		for _, s := range activeSkills {
			skillTemplates = append(skillTemplates, sysprompt.SkillTemplate{Name: s.Name, Content: s.Content})
		}

		wd, _ := os.Getwd()
		prompt, tokens, err := sysprompt.Build(
			mode, tier, tools,
			profile.Capabilities.SupportsToolCalling,
			skillTemplates,
			nil,
			sysprompt.LoadProjectRules(wd),
		)
		return prompt, tokens, err
	}

	newEngine := func(tier types.Tier) *compression.Engine {
		// The CLI has no provider connection; passes degrade to truncation.
		return compression.NewEngine(tier, nil, counter,
			compression.WithTargetRatio(viper.GetFloat64("compression.trigger_threshold")-0.10))
	}

	mgr := contextmgr.New(registry, counter, store, bus, newEngine, buildPrompt,
		contextmgr.WithCooldown(time.Duration(viper.GetInt("compression.cooldown_seconds"))*time.Second))
	return mgr, bus, nil
}

func parseTier(s string) (types.Tier, error) {
	switch s {
	case "1", "minimal":
		return types.TierMinimal, nil
	case "2", "basic":
		return types.TierBasic, nil
	case "3", "standard":
		return types.TierStandard, nil
	case "4", "premium":
		return types.TierPremium, nil
	case "5", "ultra":
		return types.TierUltra, nil
	default:
		return 0, errors.Errorf("unknown tier %q", s)
	}
}

var openSessionCmd = &cobra.Command{
	Use:   "open-session",
	Short: "Create a new session and persist its initial snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		root, err := stateRoot()
		if err != nil {
			return err
		}

		modelID, _ := cmd.Flags().GetString("model")
		tierFlag, _ := cmd.Flags().GetString("tier")
		modeFlag, _ := cmd.Flags().GetString("mode")
		sessionID, _ := cmd.Flags().GetString("session")

		tier, err := parseTier(tierFlag)
		if err != nil {
			return err
		}

		mgr, _, err := newManager(ctx, root, []string{modelID})
		if err != nil {
			return err
		}
		if err := mgr.OpenSession(ctx, modelID, tier, types.Mode(modeFlag), sessionID); err != nil {
			return err
		}

		snapID, err := mgr.ManualSnapshot(ctx)
		if err != nil {
			return err
		}

		conv := mgr.Conversation()
		presenter.Success(fmt.Sprintf("session %s opened (cap %d tokens, snapshot %s)",
			conv.SessionID, conv.EffectiveCapTokens, snapID))
		return nil
	},
}

var appendUserCmd = &cobra.Command{
	Use:   "append-user [text]",
	Short: "Append a user message to a session and persist the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, err := restoreLatest(ctx, cmd)
		if err != nil {
			return err
		}

		if err := mgr.AppendUser(ctx, args[0]); err != nil {
			return err
		}
		if _, err := mgr.ManualSnapshot(ctx); err != nil {
			return err
		}

		presenter.Stats(presenter.ConvertUsageStats(mgr.Conversation(), mgr.SystemPromptTokens()))
		return nil
	},
}

var providerViewCmd = &cobra.Command{
	Use:   "provider-view",
	Short: "Print the ordered message sequence a provider call would receive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, err := restoreLatest(ctx, cmd)
		if err != nil {
			return err
		}

		view := mgr.BuildProviderView()
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(view)
	},
}

var setModeCmd = &cobra.Command{
	Use:   "set-mode [mode]",
	Short: "Switch a session's operational mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mgr, err := restoreLatest(ctx, cmd)
		if err != nil {
			return err
		}

		if err := mgr.SetMode(types.Mode(args[0])); err != nil {
			return err
		}
		if _, err := mgr.ManualSnapshot(ctx); err != nil {
			return err
		}
		presenter.Success("mode set to " + args[0])
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore [snapshot-id]",
	Short: "Restore a session to a specific snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		root, err := stateRoot()
		if err != nil {
			return err
		}

		store, err := snapshot.New(root, viper.GetInt("snapshots.max_count"))
		if err != nil {
			return err
		}
		snap, err := store.Load(ctx, args[0])
		if err != nil {
			return err
		}

		mgr, _, err := newManager(ctx, root, []string{snap.Conversation.ModelID})
		if err != nil {
			return err
		}
		if err := mgr.RestoreSnapshot(ctx, snap.ID); err != nil {
			return err
		}

		// Persist the restored state as the session's newest snapshot so
		// subsequent commands pick it up.
		if _, err := mgr.ManualSnapshot(ctx); err != nil {
			return err
		}
		presenter.Success("session " + snap.SessionID + " restored to snapshot " + snap.ID)
		return nil
	},
}

// restoreLatest rebuilds a manager from the newest snapshot of the
// session named by the --session flag.
func restoreLatest(ctx context.Context, cmd *cobra.Command) (*contextmgr.Manager, error) {
	root, err := stateRoot()
	if err != nil {
		return nil, err
	}
	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		return nil, errors.New("--session is required")
	}

	store, err := snapshot.New(root, viper.GetInt("snapshots.max_count"))
	if err != nil {
		return nil, err
	}
	metas, err := store.List(sessionID)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, errors.Errorf("no snapshots for session %s", sessionID)
	}

	snap, err := store.Load(ctx, metas[0].ID)
	if err != nil {
		return nil, err
	}

	mgr, _, err := newManager(ctx, root, []string{snap.Conversation.ModelID})
	if err != nil {
		return nil, err
	}
	if err := mgr.RestoreSnapshot(ctx, snap.ID); err != nil {
		return nil, err
	}
	return mgr, nil
}

func init() {
	openSessionCmd.Flags().String("model", "", "Installed model id")
	openSessionCmd.Flags().String("tier", "standard", "Session tier (minimal, basic, standard, premium, ultra)")
	openSessionCmd.Flags().String("mode", string(types.ModeDeveloper), "Operational mode")
	openSessionCmd.Flags().String("session", "", "Session id (generated when empty)")
	openSessionCmd.MarkFlagRequired("model")

	for _, c := range []*cobra.Command{appendUserCmd, providerViewCmd, setModeCmd} {
		c.Flags().String("session", "", "Session id")
	}
}
