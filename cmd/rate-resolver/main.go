package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"freightaudit/internal/config"
	"freightaudit/internal/constants"
	"freightaudit/internal/logger"
	"freightaudit/pkg/logging"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceName,
		Short: "Freight rate resolution engine",
		Long: "Resolves the contractual price of billed freight cost lines against each agreement's " +
			"rate card and accessorial catalog, over HTTP, Kafka or in batch.",
		SilenceUsage: true,
		RunE:         serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (or CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd(), batchCmd(), migrateCmd(), importCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the config and builds the logger every command starts from.
func setup() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog(constants.ServiceName)

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Warn("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Warn("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Warn("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and consume cost lines from Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signalContext()
			defer cancel()

			log.InfowCtx(ctx, "Starting rate resolver")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				_ = app.Shutdown(ctx)
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}
