package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/thiagokokada/gitctx/internal/metrics"
	"github.com/thiagokokada/gitctx/internal/watch"
	"github.com/thiagokokada/gitctx/internal/worker"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve JSON lines requests on stdin, responses on stdout",
		Long: `Serve reads one JSON request per line on stdin and writes responses and
progress messages as JSON lines on stdout. Logs go to stderr.

With --watch, the repository named by --repo is reloaded whenever its .git
directory changes, after it has been loaded with a loadRepo request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), cmd)
		},
	}
	flags := cmd.Flags()
	flags.Bool("watch", false, "reload the repository when .git changes")
	flags.Duration("watch-debounce", watch.DefaultDebounce, "delay before reloading after a change")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.Int("max-in-flight", worker.DefaultMaxInFlight, "requests served concurrently")
	bindFlag(a.v, "watch", flags.Lookup("watch"))
	bindFlag(a.v, "watch_debounce", flags.Lookup("watch-debounce"))
	bindFlag(a.v, "metrics_addr", flags.Lookup("metrics-addr"))
	bindFlag(a.v, "max_in_flight", flags.Lookup("max-in-flight"))
	return cmd
}

func (a *app) serve(ctx context.Context, cmd *cobra.Command) error {
	w := worker.New(a.cfg.WorkerOptions())
	defer func() {
		if err := w.Close(); err != nil {
			slog.Error("close worker", slog.Any("error", err))
		}
	}()

	if a.cfg.Watch {
		root, err := filepath.Abs(a.repo)
		if err != nil {
			return err
		}
		watcher := watch.New(root, w, a.cfg.WatchDebounce)
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("auto reload: %w", err)
		}
		defer watcher.Stop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, a.cfg.MetricsAddr) })
	}
	g.Go(func() error {
		// Ends the metrics server once stdin is exhausted.
		defer cancel()
		return w.Serve(gctx, cmd.InOrStdin(), cmd.OutOrStdout())
	})
	slog.Debug("serving", slog.Int("max_in_flight", a.cfg.MaxInFlight))
	return g.Wait()
}
