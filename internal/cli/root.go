// Package cli provides the command-line interface for docingest.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/docingest/internal/app"
	"github.com/raphaelgruber/docingest/internal/client"
	"github.com/raphaelgruber/docingest/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	cfg            config.Config
	application    *app.App
	docs           documentAPI
	remote         *client.Client
	closeLogger    func() error
	startupTimeout = 30 * time.Second
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "docingest",
	Short: "Document ingestion pipeline",
	Long: `Docingest registers documents in an index log and turns them into
embedded chunks in a vector store, optionally linking them in a knowledge graph.

Sources are local files (pdf, text, csv, json, docx), web pages, Confluence
pages and knowledge snippets. A worker drains the queue on a schedule.

With --server (or DOCINGEST_SERVER_URL) the document commands talk to a
running docingest server instead of the stores; local files are uploaded.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		var logger *slog.Logger
		logger, closeLogger = config.SetupLogger(cfg.LogFile, level, cfg.InstanceName)
		slog.SetDefault(logger)

		ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
		defer cancel()
		if serverURL != "" {
			if localOnly(cmd) {
				return fmt.Errorf("%s needs direct store access and cannot run with --server", cmd.CommandPath())
			}
			remote = client.New(serverURL)
			if err := remote.Health(ctx); err != nil {
				return fmt.Errorf("server %s: %w", serverURL, err)
			}
			docs = remoteDocuments{c: remote}
			return nil
		}

		application, err = app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		docs = application.IndexLogs
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			if err := application.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close: %v\n", err)
			}
		}
		if closeLogger != nil {
			_ = closeLogger()
		}
	},
}

// localOnly reports whether cmd or one of its parents is marked as needing
// the stores themselves.
func localOnly(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[annotationLocalOnly] == "true" {
			return true
		}
	}
	return false
}

const annotationLocalOnly = "local_only"

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", os.Getenv("DOCINGEST_SERVER_URL"), "docingest server URL; talk to it instead of the stores")

	// Add subcommands
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(chunksCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(locksCmd)
	rootCmd.AddCommand(waitCmd)
}
