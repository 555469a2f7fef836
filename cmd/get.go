package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/NamanBalaji/fetcharr/internal/config"
	"github.com/NamanBalaji/fetcharr/internal/engine"
	"github.com/NamanBalaji/fetcharr/internal/source"
	"github.com/NamanBalaji/fetcharr/internal/transfer"
)

var errNameWithManyURLs = errors.New("--name and --checksum need exactly one URL")

type getOptions struct {
	name     string
	checksum string
	dir      string
}

func newGetCmd() *cobra.Command {
	var opts getOptions

	cmd := &cobra.Command{
		Use:   "get URL... [--name FILENAME] [--checksum HEX]",
		Short: "Download URLs through the queue and wait for them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := *appConfig
			if opts.dir != "" {
				cfg.DownloadDir = opts.dir
			}

			return runGet(ctx, &cfg, args, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "File name to save as (single URL only)")
	cmd.Flags().StringVar(&opts.checksum, "checksum", "", "Expected md5, sha1 or sha256 hex digest (single URL only)")
	cmd.Flags().StringVarP(&opts.dir, "dir", "d", "", "Download directory (overrides config)")

	return cmd
}

func runGet(ctx context.Context, cfg *config.Config, urls []string, opts getOptions, out io.Writer) error {
	if len(urls) > 1 && (opts.name != "" || opts.checksum != "") {
		return errNameWithManyURLs
	}

	resolver := source.NewResolver(cfg.IPFSGateway)

	resolved := make([]string, 0, len(urls))
	for _, raw := range urls {
		u, err := resolver.Resolve(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", raw, err)
		}

		resolved = append(resolved, u)
	}

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

	var jobOpts []transfer.Option
	if opts.checksum != "" {
		jobOpts = append(jobOpts, transfer.WithExpectedChecksum(opts.checksum))
	}

	var (
		g    errgroup.Group
		jobs []engine.Job
	)

	for _, u := range resolved {
		job, err := sched.Download(u, opts.name, jobOpts...)
		if err != nil {
			return err
		}

		jobs = append(jobs, job)

		g.Go(func() error {
			if err := job.Transfer.Wait(ctx); err != nil {
				return fmt.Errorf("%s: %w", job.ID, err)
			}

			return nil
		})
	}

	waitErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sched.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	fmt.Fprintln(out, renderJobs(jobs))

	return waitErr
}
