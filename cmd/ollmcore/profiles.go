package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ollm-run/ollmcore/pkg/config"
	"github.com/ollm-run/ollmcore/pkg/modelprofile"
	"github.com/ollm-run/ollmcore/pkg/presenter"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles [model-id...]",
	Short: "Compile and persist the model profile catalogue for installed models",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := stateRoot()
		if err != nil {
			return err
		}

		registry := modelprofile.Compile(args)
		for _, warning := range registry.Warnings() {
			presenter.Warning(warning)
		}

		var entries []config.ProfileEntry
		for _, id := range args {
			profile, _ := registry.Lookup(id)
			entry := config.ProfileEntry{
				ID:               profile.ID,
				Name:             profile.Name,
				MaxContextWindow: profile.MaxContextWindow,
				DefaultContext:   profile.DefaultContext,
			}
			for _, cp := range profile.ContextProfiles {
				entry.ContextProfiles = append(entry.ContextProfiles, config.ContextProfileEntry{
					Size:              cp.Size,
					OllamaContextSize: cp.EffectiveCapTokens,
					VRAMEstimateGB:    cp.VRAMEstimateGB,
				})
			}
			entries = append(entries, entry)
			fmt.Printf("%-24s window=%d profiles=%d\n", profile.ID, profile.MaxContextWindow, len(profile.ContextProfiles))
		}

		if err := config.SaveProfiles(root, entries, time.Now()); err != nil {
			return err
		}
		presenter.Success("profiles written")
		return nil
	},
}
