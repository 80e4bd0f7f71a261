package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ikun245/telegram-linkstools/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the link validation HTTP service",
		Long: `Starts the HTTP service: run submission and inspection under /v1/runs,
link extraction under /v1/extract, plus health and Prometheus metrics
endpoints. The service runs until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
