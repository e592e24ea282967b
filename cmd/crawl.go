package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/app"
	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/frontier"
)

// newCrawlCmd creates the 'crawl' subcommand. Seeds come from flags; cached
// seeds replay stored copies and run discovery over them instead of hitting
// the network.
func newCrawlCmd() *cobra.Command {
	var (
		seeds         []string
		cachedSeeds   []string
		seedFromCache bool
		allowRevisit  bool
		forceCache    bool
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run a crawl over the seeded URLs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(seeds) == 0 && len(cachedSeeds) == 0 {
				return errors.New("at least one --seed or --cached-seed is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer a.Close(context.Background())

			logger := a.Logger
			seedIntent := crawler.IntentFromFlags(logger, allowRevisit, forceCache, false, seedFromCache)
			for _, seed := range seeds {
				if err := enqueueSeed(a, seed, seedIntent, allowRevisit); err != nil {
					return err
				}
			}
			for _, seed := range cachedSeeds {
				if err := enqueueSeed(a, seed, crawler.CacheThenDiscover, allowRevisit); err != nil {
					return err
				}
			}

			logger.Info("crawl starting",
				zap.String("run_id", a.RunID),
				zap.Int("seeds", len(seeds)+len(cachedSeeds)),
				zap.Int("workers", cfg.Crawler.Concurrency))

			// A stalled crawl aborts the run; cancelling the run context
			// tears down every in-flight fetch.
			runCtx, abort := context.WithCancel(ctx)
			defer abort()
			a.Resilience.SetStallHandler(func() {
				logger.Error("crawl stalled, aborting run", zap.String("run_id", a.RunID))
				abort()
			})

			if err := a.Runner.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("crawl run: %w", err)
			}
			logger.Info("crawl finished", zap.String("run_id", a.RunID))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed URL to crawl (repeatable)")
	cmd.Flags().StringSliceVar(&cachedSeeds, "cached-seed", nil, "seed URL served from the cache (repeatable)")
	cmd.Flags().BoolVar(&seedFromCache, "seed-from-cache", false, "treat all seeds as cache-first")
	cmd.Flags().BoolVar(&allowRevisit, "allow-revisit", false, "re-crawl URLs finished in earlier runs")
	cmd.Flags().BoolVar(&forceCache, "force-cache", false, "serve every visit from the cache, never the network")

	return cmd
}

func enqueueSeed(a *app.App, seed string, intent crawler.VisitIntent, revisit bool) error {
	err := a.Frontier.Enqueue(seed, frontier.Options{
		Intent:  intent,
		Revisit: revisit,
	})
	if err != nil && !errors.Is(err, frontier.ErrDuplicate) {
		return fmt.Errorf("enqueue seed %s: %w", seed, err)
	}
	return nil
}
