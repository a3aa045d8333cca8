package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xwiki/xwiki-platform-sub060/internal/daemon"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	tenants []string
	locales []string
	sort    []string
	fields  []string
	dirs    []string
	from    int
	limit   int
	format  string // "text", "json"
	local   bool
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var so searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index directories",
		Long: `Search every configured index directory and merge the hits.

The query is matched against the full text. Prefix it with MULTI to search
every indexed text field, or with PROP <field>: to search one field.
Terms are ORed unless joined with AND; "quotes" make phrases, field:term
targets a field, and + / - require or exclude a clause.

Examples:
  wikisearch search "release notes"
  wikisearch search 'MULTI roadmap' --tenant xwiki --locale en
  wikisearch search 'PROP Blog.BlogPostClass.category:news'
  wikisearch search 'space:Main AND title:home' --sort -date --field title`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, opts, strings.Join(args, " "), so)
		},
	}

	cmd.Flags().StringSliceVarP(&so.tenants, "tenant", "t", nil, "Restrict to tenants (repeatable or comma-separated)")
	cmd.Flags().StringSliceVarP(&so.locales, "locale", "l", nil, "Restrict to locales (repeatable or comma-separated)")
	cmd.Flags().StringSliceVarP(&so.sort, "sort", "s", nil, "Sort fields, '-' prefix for descending (default: score)")
	cmd.Flags().StringSliceVar(&so.fields, "field", nil, "Stored fields to show (default: all)")
	cmd.Flags().StringSliceVar(&so.dirs, "index-dir", nil, "Search these index directories instead of the configured ones")
	cmd.Flags().IntVar(&so.from, "from", 0, "Offset of the first hit")
	cmd.Flags().IntVarP(&so.limit, "limit", "n", 0, "Maximum number of hits (default: search.max_results)")
	cmd.Flags().StringVarP(&so.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&so.local, "local", false, "Open the index here even when a server is running")

	return cmd
}

func runSearch(cmd *cobra.Command, opts *globalOptions, query string, so searchOptions) error {
	e, err := loadEnv(cmd, opts, false)
	if err != nil {
		return err
	}
	defer e.close()
	ctx := cmd.Context()

	params := daemon.SearchParams{
		Query:   query,
		Tenants: so.tenants,
		Locales: so.locales,
		Sort:    so.sort,
		From:    so.from,
		Limit:   so.limit,
		Fields:  so.fields,
		Dirs:    so.dirs,
	}
	if err := params.Validate(); err != nil {
		return err
	}

	var res *daemon.SearchResult
	if client := e.client(); client != nil && !so.local {
		e.logger.Debug("search_using_server")
		res, err = client.Search(ctx, params)
	} else {
		var a *app
		if a, err = openReader(e); err != nil {
			return err
		}
		res, err = a.handler().Search(ctx, params)
		a.close()
	}
	if err != nil {
		return err
	}

	if so.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	e.out.Hits(res.Result(), params.From, so.fields)
	return nil
}
