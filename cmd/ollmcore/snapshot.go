package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ollm-run/ollmcore/pkg/config"
	"github.com/ollm-run/ollmcore/pkg/presenter"
	"github.com/ollm-run/ollmcore/pkg/snapshot"
)

// loadSettings reads the state root's settings.json.
func loadSettings(root string) (*config.Settings, error) {
	return config.LoadSettings(root)
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect and manage persisted conversation snapshots",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list [session-id]",
	Short: "List a session's snapshots, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := stateRoot()
		if err != nil {
			return err
		}
		store, err := snapshot.New(root, viper.GetInt("snapshots.max_count"))
		if err != nil {
			return err
		}

		metas, err := store.List(args[0])
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			presenter.Info("no snapshots")
			return nil
		}
		for _, meta := range metas {
			fmt.Printf("%s  %-12s  %s\n", meta.ID, meta.Trigger, meta.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show [snapshot-id]",
	Short: "Print one snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := stateRoot()
		if err != nil {
			return err
		}
		store, err := snapshot.New(root, viper.GetInt("snapshots.max_count"))
		if err != nil {
			return err
		}

		snap, err := store.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(snap)
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete [snapshot-id]",
	Short: "Delete one snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := stateRoot()
		if err != nil {
			return err
		}
		store, err := snapshot.New(root, viper.GetInt("snapshots.max_count"))
		if err != nil {
			return err
		}

		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		presenter.Success("snapshot " + args[0] + " deleted")
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotShowCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)
}
