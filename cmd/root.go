// Package cmd defines the CLI commands for the linkstools executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ikun245/telegram-linkstools/internal/config"
	"github.com/ikun245/telegram-linkstools/internal/logging"

	"go.uber.org/zap"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkstools",
		Short: "Validate, extract, and compare Telegram channel links",
		Long: `linkstools checks Telegram channel and group links for validity by
fetching their public preview pages, with a sliding-window rate limit and a
bounded worker pool. It also extracts links from arbitrary text, compares
link files, and runs as an HTTP service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newCompareCmd())
	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
