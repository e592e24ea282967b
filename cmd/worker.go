package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	system "github.com/crawlkit/crawld/internal/clock/system"
	"github.com/crawlkit/crawld/internal/fetch"
	"github.com/crawlkit/crawld/internal/logging"
	"github.com/crawlkit/crawld/internal/metrics"
	"github.com/crawlkit/crawld/internal/remote"
)

// newWorkerCmd creates the 'worker' subcommand: a standalone fetch worker
// serving the versioned batch protocol for remote crawl machines.
func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve the remote fetch-worker HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			metrics.Init()

			clock := system.New()
			fetcher := fetch.NewColly(fetch.CollyConfig{
				UserAgent:      cfg.Crawler.UserAgent,
				RequestTimeout: cfg.FetchTimeout() / 2,
			}, clock, logger)

			srv := remote.NewServer(fetcher, remote.ServerConfig{
				MaxBatchSize: cfg.Worker.MaxBatchSize,
				FetchTimeout: cfg.FetchTimeout(),
				Capabilities: remote.Capabilities{IncludeBody: cfg.Worker.IncludeBody},
			}, logger)

			httpServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Worker.Port),
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("fetch worker listening",
					zap.Int("port", cfg.Worker.Port),
					zap.Int("api_version", remote.APIVersion))
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("worker server: %w", err)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("worker shutdown: %w", err)
				}
			}
			return nil
		},
	}
	return cmd
}
