package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/fetcharr/internal/config"
	"github.com/NamanBalaji/fetcharr/internal/engine"
	"github.com/NamanBalaji/fetcharr/internal/logger"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the persisted download queue until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, appConfig)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sched, err := engine.New(ctx, schedulerConfig(cfg), store)
	if err != nil {
		return err
	}

	logger.Infof("Serving downloads from %s (max %d at a time)", cfg.DownloadDir, cfg.MaxConcurrentDownloads)

	var cleanup <-chan time.Time

	if cfg.DisableCleanup || cfg.CleanupInterval <= 0 {
		logger.Infof("Cleanup of old downloads is disabled")
	} else {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()

		cleanup = ticker.C

		logger.Warnf("Finished and failed downloads older than 24h are deleted every %s", cfg.CleanupInterval)
	}

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case <-cleanup:
			sched.Cleanup()
		}
	}

	logger.Infof("Shutting down, saving state...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sched.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Infof("Shutdown complete.")

	return nil
}
