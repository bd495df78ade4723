package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "simwatch/cmd/simwatch-api/docs"
	"simwatch/internal/config"
	"simwatch/internal/logger"
	"simwatch/pkg/logging"
)

const serviceName = "simwatch-api"

var (
	configFile string
	noFeed     bool
)

// @title           Simwatch Monitoring API
// @version         1.0
// @description     Read API over simulations, jobs and alerts recorded by the simwatch MQ agents

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http https

func main() {
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Monitoring API and live feed",
		Long:          "simwatch-api serves the monitoring REST API and relays front end notifications to websocket clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (defaults to $CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVar(&noFeed, "no-feed", false, "Do not consume front end notifications")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		logging.NewEarlyLog(serviceName).Error("%v", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog(serviceName)

			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
				if configFile == "" {
					earlyLog.Warn("No config file given, using defaults and environment variables")
				}
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = logging.WithServiceName(ctx, serviceName)

			log.InfowCtx(ctx, "Starting API service")

			app := NewApp(cfg, log, !noFeed)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				_ = app.Shutdown(context.Background())
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
