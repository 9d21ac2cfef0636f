// Package cli implements the ziply command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/not-nullexception/ziply/config"
	"github.com/not-nullexception/ziply/internal/app"
	"github.com/not-nullexception/ziply/internal/library"
	"github.com/not-nullexception/ziply/internal/library/memory"
	"github.com/not-nullexception/ziply/internal/logger"
)

// session holds what PersistentPreRunE opened for the running command
type session struct {
	cfg *config.Config
	lib library.Library
}

var (
	memoryDir string
	debugLogs bool
	current   session
)

var rootCmd = &cobra.Command{
	Use:   "ziply",
	Short: "ziply - shrink large photos in a photo library",
	Long: "ziply finds large photos in a date range and recompresses them, either as\n" +
		"copies in \"Compressed - <album>\" albums or as replacements that tag the\n" +
		"originals for deletion.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return openSession(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if current.lib == nil {
			return nil
		}
		err := current.lib.Close()
		current.lib = nil
		return err
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.PersistentFlags().StringVar(&memoryDir, "memory", "",
		"use an in-memory library seeded from this directory instead of postgres")
	rootCmd.PersistentFlags().BoolVar(&debugLogs, "debug", false, "log at the configured level instead of warnings only")
}

func openSession(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Log.Format = "console"
	if !debugLogs {
		cfg.Log.Level = "warn"
	}
	logger.Setup(&cfg.Log)
	current.cfg = cfg

	ctx := cmd.Context()
	if memoryDir == "" {
		lib, err := app.OpenLibrary(ctx, cfg)
		if err != nil {
			return err
		}
		current.lib = lib
		return nil
	}

	lib := memory.New()
	if _, err := library.ImportDir(ctx, lib, memoryDir); err != nil {
		return err
	}
	current.lib = lib
	return nil
}
