package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xwiki/xwiki-platform-sub060/internal/config"
	"github.com/xwiki/xwiki-platform-sub060/internal/daemon"
	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/index"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	tenants     []string
	page        string
	locale      string
	delete      bool
	attachments []string
	onlyNew     bool
}

func newIndexCmd(opts *globalOptions) *cobra.Command {
	var flags indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index content from the content store",
		Long: `Schedule content for indexing into the live generation.

Without --page every page, object and attachment of the selected tenants
(all tenants by default) is reindexed. With --page only that page is
reindexed, or removed with --delete. --only-new skips entities that already
have a document in the index.

When 'wikisearch serve' is running the request is handed to it; otherwise
the index is opened here and the command waits until everything is
committed.

Examples:
  wikisearch index
  wikisearch index --tenant xwiki,dev
  wikisearch index --only-new
  wikisearch index --tenant xwiki --page Main.WebHome
  wikisearch index --tenant xwiki --page Sandbox.Old --delete`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd, opts, flags)
		},
	}

	cmd.Flags().StringSliceVarP(&flags.tenants, "tenant", "t", nil, "Tenants to index (repeatable or comma-separated)")
	cmd.Flags().StringVarP(&flags.page, "page", "p", "", "Single page to index, as Space.Name")
	cmd.Flags().StringVar(&flags.locale, "locale", "", "Locale of --page")
	cmd.Flags().BoolVar(&flags.delete, "delete", false, "Remove --page and its attachments from the index")
	cmd.Flags().StringSliceVar(&flags.attachments, "attachment", nil, "Attachment names to remove with --delete")
	cmd.Flags().BoolVar(&flags.onlyNew, "only-new", false, "Skip entities already in the index")

	return cmd
}

// pageParams turns the --page flags into an enqueue request.
func (o indexOptions) pageParams() (daemon.EnqueueParams, error) {
	tenants := config.SplitList(strings.Join(o.tenants, ","))
	if len(tenants) != 1 {
		return daemon.EnqueueParams{}, wserrors.ValidationError("--page needs exactly one --tenant", nil)
	}
	i := strings.LastIndex(o.page, ".")
	if i <= 0 || i == len(o.page)-1 {
		return daemon.EnqueueParams{}, wserrors.ValidationError(
			fmt.Sprintf("--page must look like Space.Name, got %q", o.page), nil)
	}
	p := daemon.EnqueueParams{
		Tenant:      tenants[0],
		Space:       o.page[:i],
		Name:        o.page[i+1:],
		Locale:      o.locale,
		Delete:      o.delete,
		Attachments: o.attachments,
	}
	return p, p.Validate()
}

func runIndex(cmd *cobra.Command, opts *globalOptions, flags indexOptions) error {
	if flags.delete && flags.page == "" {
		return wserrors.ValidationError("--delete needs --page", nil)
	}
	if flags.onlyNew && flags.page != "" {
		return wserrors.ValidationError("--only-new cannot be combined with --page", nil)
	}

	e, err := loadEnv(cmd, opts, false)
	if err != nil {
		return err
	}
	defer e.close()
	ctx := cmd.Context()

	if client := e.client(); client != nil {
		return indexRemote(ctx, e, client, flags)
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

	n := -1
	switch {
	case flags.page != "":
		params, err := flags.pageParams()
		if err != nil {
			return err
		}
		if n, err = a.handler().Enqueue(ctx, params); err != nil {
			return err
		}
	case fresh:
		// Start already scheduled everything into the new index.
		e.out.Status("", "New index, indexing all content...")
	default:
		tenants := config.SplitList(strings.Join(flags.tenants, ","))
		if n, err = a.service.Reindex(ctx, index.ReindexOptions{Tenants: tenants, OnlyNew: flags.onlyNew}); err != nil {
			return err
		}
	}

	if n >= 0 {
		e.out.Statusf("", "Indexing %d entities...", n)
	}
	if err := a.service.WaitIdle(ctx); err != nil {
		return err
	}
	a.close()

	e.out.Successf("Indexed into %s", a.engine.Dir())
	e.out.Stats(a.service.Stats())
	return nil
}

func indexRemote(ctx context.Context, e *env, client *daemon.Client, flags indexOptions) error {
	if flags.page != "" {
		params, err := flags.pageParams()
		if err != nil {
			return err
		}
		n, err := client.Enqueue(ctx, params)
		if err != nil {
			return err
		}
		e.out.Successf("Queued %d entities on the running server", n)
		return nil
	}

	n, err := client.Reindex(ctx, daemon.ReindexParams{
		Tenants: config.SplitList(strings.Join(flags.tenants, ",")),
		OnlyNew: flags.onlyNew,
	})
	if err != nil {
		return err
	}
	e.out.Successf("Scheduled %d entities on the running server", n)
	return nil
}
