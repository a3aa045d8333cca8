// Package cmd provides the wikisearch CLI commands.
package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xwiki/xwiki-platform-sub060/internal/config"
	"github.com/xwiki/xwiki-platform-sub060/internal/daemon"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
	"github.com/xwiki/xwiki-platform-sub060/internal/output"
	"github.com/xwiki/xwiki-platform-sub060/pkg/version"
)

// globalOptions are the persistent flags.
type globalOptions struct {
	dir   string
	debug bool
}

// NewRootCmd creates the root command for the wikisearch CLI.
func NewRootCmd() *cobra.Command {
	var opts globalOptions

	cmd := &cobra.Command{
		Use:   "wikisearch",
		Short: "Full-text search over wiki pages, attachments and objects",
		Long: `wikisearch keeps a full-text index in sync with the pages, attachments
and structured objects of a multi-tenant wiki, and searches several
index directories at once.

Content is read from a SQLite store (see 'wikisearch import'). One process
owns the first index directory; run 'wikisearch serve' to keep it open and
let other commands talk to it.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("wikisearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "Project directory holding wikisearch.yaml")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to the log file")

	cmd.AddCommand(newServeCmd(&opts))
	cmd.AddCommand(newIndexCmd(&opts))
	cmd.AddCommand(newRebuildCmd(&opts))
	cmd.AddCommand(newSearchCmd(&opts))
	cmd.AddCommand(newStatusCmd(&opts))
	cmd.AddCommand(newImportCmd(&opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a failure the way the CLI
// formats errors.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		output.New(root.ErrOrStderr()).Err(err)
	}
	return err
}

// env is what every command starts from.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     *output.Writer
	cleanup func()
}

func (e *env) close() {
	if e.cleanup != nil {
		e.cleanup()
	}
}

// loadEnv reads the project configuration and sets up logging. Records go to
// the configured log file and, when toStderr is set, to stderr.
func loadEnv(cmd *cobra.Command, opts *globalOptions, toStderr bool) (*env, error) {
	dir, err := filepath.Abs(opts.dir)
	if err != nil {
		return nil, fmt.Errorf("resolving project directory: %w", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: toStderr,
	}
	if opts.debug {
		logCfg.Level = "debug"
		if logCfg.FilePath == "" {
			logCfg.FilePath = logging.DefaultLogPath()
		}
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)

	return &env{
		cfg:     cfg,
		logger:  logger,
		out:     output.New(cmd.OutOrStdout()),
		cleanup: cleanup,
	}, nil
}

// client returns a client for the serving process, or nil when none answers.
func (e *env) client() *daemon.Client {
	c := daemon.NewClient(e.daemonConfig())
	if !c.IsRunning() {
		return nil
	}
	return c
}

func (e *env) daemonConfig() daemon.Config {
	return daemon.Config{SocketPath: e.cfg.Serve.Socket, Timeout: e.cfg.ServeTimeout()}
}
