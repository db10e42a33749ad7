package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"calendarmerge/internal/api"
	"calendarmerge/internal/config"

	"github.com/google/gops/agent"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(a *app) *cobra.Command {
	var diagnostics bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the service: refresh on a schedule and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := a.logger

			if diagnostics {
				if err := agent.Listen(agent.Options{ShutdownCleanup: true}); err != nil {
					logger.Warn("Failed to start gops agent", zap.Error(err))
				} else {
					defer agent.Close()
				}
			}

			loader := config.NewLoader(a.settings.OptionsPath, logger)
			opts, err := loader.Load()
			if err != nil {
				return err
			}

			client, haConfig, err := a.connectHA()
			if err != nil {
				return err
			}
			if client != nil {
				defer client.Disconnect()
			}

			coord, err := a.newCoordinator(opts, loader, client, haConfig, false)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := coord.Start(ctx); err != nil {
				return err
			}
			defer coord.Stop()

			if err := loader.Watch(ctx, func(o config.Options) {
				coord.ApplyOptions(context.Background(), o)
			}); err != nil {
				logger.Warn("Options file changes will need a restart", zap.Error(err))
			}

			server := api.NewServer(coord, logger, a.settings.APIPort)
			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				if err := server.Stop(); err != nil {
					logger.Error("Failed to stop HTTP API server", zap.Error(err))
				}
			}()

			logger.Info("Calendar merge running. Press Ctrl+C to exit.",
				zap.Int("port", a.settings.APIPort))
			<-ctx.Done()

			logger.Info("Shutting down gracefully...")
			return nil
		},
	}

	cmd.Flags().BoolVar(&diagnostics, "gops", false, "start a gops agent for runtime diagnostics")
	return cmd
}
