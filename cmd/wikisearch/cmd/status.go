package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/xwiki/xwiki-platform-sub060/internal/daemon"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show indexing and index directory status",
		Long: `Show the indexing counters of the running server and the state of every
index directory. Without a server, the directories are opened read-only
and only their generations and document counts are shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, opts, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, opts *globalOptions, asJSON bool) error {
	e, err := loadEnv(cmd, opts, false)
	if err != nil {
		return err
	}
	defer e.close()

	var st daemon.StatusResult
	if client := e.client(); client != nil {
		res, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}
		st = *res
	} else {
		a, err := openReader(e)
		if err != nil {
			return err
		}
		st.Directories = a.pool.Handles()
		a.close()
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	if st.Running {
		e.out.Successf("Serving on %s (pid %d, up %s)", e.cfg.Serve.Socket, st.PID, st.Uptime)
		e.out.Newline()
		e.out.Stats(st.Indexing)
		e.out.Newline()
		if st.Queries != nil {
			e.out.Queries(*st.Queries)
			e.out.Newline()
		}
	} else {
		e.out.Warning("Not serving; run 'wikisearch serve' to keep the index up to date")
		e.out.Newline()
	}
	e.out.Handles(st.Directories)
	return nil
}
