// Package cmd provides the CLI commands for amanidx.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/logging"
	"github.com/Aman-CERP/amanidx/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the amanidx CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanidx",
		Short: "Incremental background indexer for source trees and archives",
		Long: `amanidx keeps persistent indices of source directories and zip/jar
archives up to date.

Roots are indexed by every configured indexer (text, symbols). Unchanged
archives are skipped on later runs, and 'amanidx watch' re-indexes files
as they change.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("amanidx version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr and ~/.amanidx/logs/")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		stopLogging()
		return nil
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging routes slog.Default to the rotating log file, and to stderr
// in debug mode.
func startLogging(_ *cobra.Command, _ []string) error {
	stopLogging()
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	} else if level := os.Getenv("AMANIDX_LOG_LEVEL"); level != "" {
		cfg.Level = level
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	if debugMode {
		slog.Info("debug logging enabled",
			slog.String("log_file", cfg.FilePath),
			slog.String("version", version.Version))
	}
	return nil
}

func stopLogging() {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		amerrors.Log(slog.Default(), "command failed", err)
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), amerrors.FormatForCLI(err))
	}
	stopLogging()
	return err
}
