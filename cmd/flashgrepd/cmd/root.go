// Package cmd provides the CLI commands for flashgrepd.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/flashgrep/flashgrep/internal/logging"
	"github.com/flashgrep/flashgrep/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the flashgrepd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flashgrepd",
		Short: "Local code-indexing daemon with text search, glob, and bounded code read/write",
		Long: `flashgrepd indexes a repository and serves search, glob, symbol lookup,
and bounded code read/write over a line-delimited JSON-RPC transport.

Run 'flashgrepd serve' in a repository to start indexing and serving.`,
		Version: version.Short(),
	}

	cmd.SetVersionTemplate("flashgrepd version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.flashgrep/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}
