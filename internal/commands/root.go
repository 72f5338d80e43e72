// Package commands implements the pipeline CLI.
package commands

import (
	"fmt"
	"time"

	"github.com/dvloznov/statement-pipeline/internal/config"
	"github.com/dvloznov/statement-pipeline/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "statements",
		Short: "Ingest bank statements and extract enriched transactions",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "pipeline.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides config and LOG_LEVEL)")

	rootCmd.AddCommand(
		newIngestCommand(opts),
		newReenhanceCommand(opts),
		newFormatsCommand(opts),
		newFingerprintCommand(opts),
		newInitConfigCommand(),
	)

	return rootCmd
}

// setup loads the config and builds a console logger on the command's
// stderr.
func (o *rootOptions) setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	log := logger.NewWithWriter(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339})
	log, err = logger.WithLevel(log, cfg.LogLevel)
	if err != nil {
		return nil, log, fmt.Errorf("invalid log level: %w", err)
	}
	return cfg, log, nil
}
