package main

import (
	"fmt"

	"github.com/Shugur-Network/publisher/internal/application"
	"github.com/Shugur-Network/publisher/internal/logger"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the publisher daemon",
		Long:  "Connect to the default relays, serve the HTTP API and keep the relay set connected until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			printWelcomeBanner()
			if cfgFile != "" {
				logger.Info("Using config file", zap.String("config_file", cfgFile))
			}

			// Use the context passed down from main.go
			ctx := cmd.Context()

			logger.Info("Starting publisher...")
			app, err := application.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize the publisher: %w", err)
			}
			if err := app.Start(ctx); err != nil {
				_ = app.Shutdown()
				return fmt.Errorf("failed to start the publisher: %w", err)
			}
			fields := []zap.Field{zap.String("api", app.Addr())}
			if keys := app.Keys(); keys != nil {
				fields = append(fields, zap.String("publisher_id", keys.ID()))
			}
			logger.Info("Shugur publisher started successfully!", fields...)

			// Block until the context is canceled
			<-ctx.Done()
			logger.Info("Shutdown signal received, initiating graceful shutdown...")
			return app.Shutdown()
		},
	}
}
