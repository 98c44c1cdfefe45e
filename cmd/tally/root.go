package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/tally/internal/config"
)

var (
	version = "0.1.0"

	configPath string
	debug      bool

	// cfg is loaded before any subcommand runs.
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "tally",
		Short: "Cloud inventory collector and tag analyzer",
		Long: `Tally - cloud inventory collector and tag analyzer

Tally enumerates every resource in an AWS account across regions, writes
one artifact per service operation, and reports on tag coverage,
consistency and compliance. Interrupted scans resume where they stopped.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Tally {{.Version}} - cloud inventory collector and tag analyzer
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// setup loads configuration and configures the global logger.
func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	level := cfg.LogLevel()
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()})

	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	c, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return c, nil
}
