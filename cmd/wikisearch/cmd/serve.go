package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xwiki/xwiki-platform-sub060/internal/daemon"
	"github.com/xwiki/xwiki-platform-sub060/internal/telemetry"
	"github.com/xwiki/xwiki-platform-sub060/internal/watcher"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var pollOnly bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Own the index and answer search and indexing requests",
		Long: `Take the writer lock on the first index directory, start the indexing
worker and listen on the configured socket. Other wikisearch commands send
their requests here while it runs.

Read-only directories are watched and reopened when another process
publishes a new generation in them. An index that is missing or was
corrupt is rebuilt from the content store on startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts, pollOnly)
		},
	}

	cmd.Flags().BoolVar(&pollOnly, "poll", false, "Poll read-only directories instead of using file notifications")

	return cmd
}

func runServe(cmd *cobra.Command, opts *globalOptions, pollOnly bool) error {
	e, err := loadEnv(cmd, opts, true)
	if err != nil {
		return err
	}
	defer e.close()

	dcfg := e.daemonConfig()
	if err := dcfg.EnsureDir(); err != nil {
		return err
	}

	a, err := openWriter(e)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.service.Start(ctx); err != nil {
		return err
	}

	h := a.handler()
	h.Metrics = telemetry.NewQueryMetrics(telemetry.Config{})
	srv, err := daemon.NewServer(dcfg, h, e.logger)
	if err != nil {
		return err
	}

	debounce, _ := e.cfg.WatchDebounce()
	w := watcher.New(a.pool, watcher.Options{Debounce: debounce, PollOnly: pollOnly, Logger: e.logger})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(srv.ListenAndServe(gctx))
	})
	if foreign := a.pool.Dirs()[1:]; len(foreign) > 0 {
		g.Go(func() error {
			return ignoreCanceled(w.Run(gctx, foreign))
		})
	}

	e.out.Successf("Serving %d index director%s on %s", len(a.pool.Dirs()),
		plural(len(a.pool.Dirs()), "y", "ies"), dcfg.SocketPath)

	err = g.Wait()
	w.Stop()

	e.out.Status("", "Shutting down...")
	a.close()
	e.out.Stats(a.service.Stats())
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
