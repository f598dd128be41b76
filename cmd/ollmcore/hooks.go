package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ollm-run/ollmcore/pkg/config"
	"github.com/ollm-run/ollmcore/pkg/hooks"
	"github.com/ollm-run/ollmcore/pkg/presenter"
)

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Inspect registered lifecycle hooks and their approvals",
}

var hooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered hooks in dispatch order",
	RunE: func(cmd *cobra.Command, args []string) error {
		discovery, err := hooks.NewDiscovery()
		if err != nil {
			return err
		}
		registry, err := discovery.Discover()
		if err != nil {
			return err
		}

		all := registry.All()
		if len(all) == 0 {
			presenter.Info("no hooks registered")
			return nil
		}
		for _, hook := range all {
			fmt.Printf("%-24s %-22s %-10s %s\n", hook.Name, hook.Event, hook.Source, hook.Command)
		}
		return nil
	},
}

var hooksApprovalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List recorded hook approvals",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := stateRoot()
		if err != nil {
			return err
		}
		approvals, err := config.LoadTrustedHooks(root)
		if err != nil {
			return err
		}
		if len(approvals) == 0 {
			presenter.Info("no approvals recorded")
			return nil
		}
		for _, a := range approvals {
			fmt.Printf("%-48s %s approved by %s at %s\n", a.Source, a.Hash, a.ApprovedBy, a.ApprovedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	hooksCmd.AddCommand(hooksListCmd)
	hooksCmd.AddCommand(hooksApprovalsCmd)
}
