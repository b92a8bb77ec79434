package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/y0ug/depwner/internal/config"
	"github.com/y0ug/depwner/internal/database"
	"github.com/y0ug/depwner/internal/logging"
	"github.com/y0ug/depwner/internal/models"
	"github.com/y0ug/depwner/internal/notifications"
	"github.com/y0ug/depwner/internal/service"
)

var (
	logLevel string
	dataDir  string

	cfg    *config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "depwner",
	Short: "Endpoint malware detection engine",
	Long: `depwner classifies files against a whitelist, a curated family catalogue,
a signature database and optional pattern rules, and quarantines what it finds.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if dataDir != "" {
			os.Setenv("DATA_DIR", dataDir)
		}

		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}

		logger, err = logging.New(cfg.LogLevel, logging.FileConfig{
			Path:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides DATA_DIR)")

	rootCmd.AddCommand(serveCmd, scanCmd, updateCmd, quarantineCmd, tokenCmd)
}

// openService builds the engine from the loaded configuration.
func openService(ctx context.Context) (*service.Service, error) {
	dbConfig, err := database.LoadDatabaseConfig(cfg.SignatureDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load database configuration: %w", err)
	}
	logger.WithField("type", dbConfig.Type).Info("Signature store configured")

	return service.New(ctx, cfg, dbConfig, notifications.LoadNotificationConfig(), logger)
}

// printResponse writes resp as indented JSON and turns a failure into an error.
func printResponse(resp models.Response) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Message)
	}
	return nil
}
