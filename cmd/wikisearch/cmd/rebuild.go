package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xwiki/xwiki-platform-sub060/internal/daemon"
)

func newRebuildCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index into a new generation",
		Long: `Reindex all content into a new generation of the first index directory.
Searches keep using the current generation until the new one is complete,
then switch over.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRebuild(cmd, opts)
		},
	}
}

func runRebuild(cmd *cobra.Command, opts *globalOptions) error {
	e, err := loadEnv(cmd, opts, false)
	if err != nil {
		return err
	}
	defer e.close()
	ctx := cmd.Context()

	if client := e.client(); client != nil {
		n, err := client.Reindex(ctx, daemon.ReindexParams{Clear: true})
		if err != nil {
			return err
		}
		e.out.Successf("Rebuild of %d entities scheduled on the running server", n)
		return nil
	}

	a, err := openWriter(e)
	if err != nil {
		return err
	}
	defer a.close()

	fresh := a.engine.Fresh()
	if err := a.service.Start(ctx); err != nil {
		return err
	}
	if !fresh {
		n, err := a.service.Rebuild(ctx)
		if err != nil {
			return err
		}
		e.out.Statusf("", "Rebuilding %d entities...", n)
	}

	if err := a.service.WaitIdle(ctx); err != nil {
		return err
	}
	a.close()

	stats := a.service.Stats()
	e.out.Successf("Generation %d published in %s", stats.Generation, a.engine.Dir())
	e.out.Stats(stats)
	return nil
}
