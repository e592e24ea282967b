// Package cmd defines and implements the CLI commands for the crawld
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crawlkit/crawld/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawld",
		Short: "A polite, resilient crawl execution core.",
		Long: `crawld schedules, throttles and fetches pages across many hosts
without manual babysitting: per-host rate limits adapt to observed behavior,
circuit breakers cool off misbehaving hosts, and fetch work can be offloaded
to remote workers speaking a versioned HTTP protocol.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newFleetCheckCmd())

	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
