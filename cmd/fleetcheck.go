package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crawlkit/crawld/internal/remote"
)

// newFleetCheckCmd creates the 'fleetcheck' subcommand. It is meant to run
// before a long crawl: every configured worker's /meta is compared against
// the expected protocol version, and any drift fails the command.
func newFleetCheckCmd() *cobra.Command {
	var (
		expected int
		timeout  time.Duration
		workers  []string
	)

	cmd := &cobra.Command{
		Use:   "fleetcheck",
		Short: "Verify every remote worker speaks the expected protocol version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			targets := workers
			if len(targets) == 0 {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				targets = cfg.Fleet.Workers
			}
			if len(targets) == 0 {
				return errors.New("no workers configured; pass --worker or set fleet.workers")
			}

			result := remote.CheckFleet(cmd.Context(), targets, expected, timeout)
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d workers against apiVersion %d\n",
				result.Checked, result.Expected)
			if result.OK() {
				fmt.Fprintln(cmd.OutOrStdout(), "fleet is consistent")
				return nil
			}
			for _, issue := range result.Issues {
				fmt.Fprintf(cmd.ErrOrStderr(), "drift: %s\n", issue)
			}
			return fmt.Errorf("%d of %d workers failed the version check", len(result.Issues), result.Checked)
		},
	}

	cmd.Flags().IntVar(&expected, "expect", 0, "expected apiVersion (default: this build's version)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "per-worker request timeout")
	cmd.Flags().StringSliceVar(&workers, "worker", nil, "worker base URL (repeatable, overrides config)")

	return cmd
}
