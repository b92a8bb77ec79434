package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/y0ug/depwner/internal/webserver"
	"github.com/y0ug/depwner/pkg/auth"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine with its triggers and the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		// Create a cancellable context
		ctxCancel, cancel := context.WithCancel(ctx)
		defer cancel()

		svc, err := openService(ctxCancel)
		if err != nil {
			return err
		}

		// Initialize Auth Config
		authConfig, err := auth.NewConfig()
		if err != nil {
			svc.Close(ctx)
			return fmt.Errorf("failed to initialize auth config: %w", err)
		}
		logger.Infof("Auth type: %v", authConfig.AuthType)
		authHandler := auth.NewHandler(authConfig, logger)

		webServerConfig, err := webserver.NewWebserverConfig()
		if err != nil {
			svc.Close(ctx)
			return fmt.Errorf("failed to load webserver configuration: %w", err)
		}
		if !authConfig.Enabled() {
			logger.Warn("Control API has no authentication; keep it bound to loopback")
		}

		if err := svc.Start(); err != nil {
			svc.Close(ctx)
			return fmt.Errorf("failed to start engine: %w", err)
		}

		webServer := webserver.NewWebServer(svc, webServerConfig, authConfig, authHandler, logger)
		server, err := webserver.StartWebServer(ctxCancel, webServer)
		if err != nil {
			svc.Close(ctx)
			return fmt.Errorf("failed to start web server: %w", err)
		}

		// Listen for OS signals to handle graceful shutdown
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

		sig := <-sigs
		logger.Infof("Received signal: %s. Initiating shutdown...", sig)

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to gracefully shutdown the server")
		}
		if err := svc.Close(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to close the engine")
		}

		logger.Info("Shutdown complete. Exiting.")
		return nil
	},
}
