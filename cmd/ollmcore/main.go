// Package main provides the entry point for the ollmcore CLI. It
// initializes configuration, sets up the command structure with Cobra,
// and exposes the context manager's operations over a local state root
// for scripting and manual testing.
package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ollm-run/ollmcore/pkg/config"
	"github.com/ollm-run/ollmcore/pkg/logger"
	"github.com/ollm-run/ollmcore/pkg/presenter"
)

func init() {
	config.InitDefaults()

	// Set default logging configuration
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "fmt")

	// Environment variables: OLLM_COMPRESSION_COOLDOWN_SECONDS ->
	// compression.cooldown_seconds
	viper.SetEnvPrefix("OLLM")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
}

var rootCmd = &cobra.Command{
	Use:   "ollmcore",
	Short: "ollmcore manages budgeted conversations against a local model",
	Long: `ollmcore is the conversation core of a local-first agent runtime:
it owns sessions, enforces a fixed token budget per session, compresses
older turns into checkpoints, and persists recoverable snapshots.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(1)
	},
}

func main() {
	cobra.OnInitialize(func() {
		if logLevel := viper.GetString("log_level"); logLevel != "" {
			if err := logger.SetLogLevel(logLevel); err != nil {
				logger.G(context.TODO()).WithField("log_level", logLevel).Warn("Invalid log level, using default")
			}
		}
		if logFormat := viper.GetString("log_format"); logFormat != "" {
			logger.SetLogFormat(logFormat)
		}
	})

	rootCmd.PersistentFlags().String("state-root", "", "State root directory (default ~/.ollm)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (json, text, fmt)")

	viper.BindPFlag("state_root", rootCmd.PersistentFlags().Lookup("state-root"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(openSessionCmd)
	rootCmd.AddCommand(appendUserCmd)
	rootCmd.AddCommand(providerViewCmd)
	rootCmd.AddCommand(setModeCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(hooksCmd)

	if err := rootCmd.Execute(); err != nil {
		presenter.Error(err, "command failed")
		os.Exit(1)
	}
}

// stateRoot resolves the configured state root, falling back to ~/.ollm.
func stateRoot() (string, error) {
	if root := viper.GetString("state_root"); root != "" {
		return root, nil
	}
	return config.DefaultStateRoot()
}
