// Command dcwatch watches Discord channels through a logged-in browser
// session and reports the profile of every message author it sees.
package main

import (
	"fmt"
	"os"
	"time"

	"dcwatch/internal/config"
	"dcwatch/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "dcwatch",
	Short: "dcwatch - Discord channel author watcher",
	Long: `dcwatch keeps a persistent browser logged into Discord, observes the
configured channels and queues every message author for profile extraction.

Extracted profiles are written as JSON backups, archived in sqlite and
optionally posted to a webhook.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Config file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Startup and shutdown timeout")

	// Queue subcommands
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)

	// Channel subcommands
	channelsCmd.AddCommand(channelsListCmd)
	channelsCmd.AddCommand(channelsAddCmd)
	channelsCmd.AddCommand(channelsRemoveCmd)

	// Report subcommands
	reportsCmd.AddCommand(reportsListCmd)
	reportsListCmd.Flags().IntVarP(&reportsLimit, "limit", "n", 20, "Number of profiles to show")

	runCmd.Flags().BoolVar(&headful, "headful", false, "Show the browser window")
	runCmd.Flags().BoolVar(&manualLogin, "manual-login", false, "Wait for a manual login when the session is missing (implies --headful)")
	queueListCmd.Flags().StringVar(&statusFilter, "status", "", "Only list tasks with this status")

	// Add commands to root
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(reportsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads --config and applies its logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	opts := cfg.Logging.Options()
	if verbose {
		opts.Level = "debug"
		opts.Stderr = true
	}
	if err := logging.Initialize(opts); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}
