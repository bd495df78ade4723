package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"simwatch/internal/config"
	"simwatch/internal/logger"
	"simwatch/pkg/logging"
)

const serviceName = "simwatch-mq"

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "MQ agents of the simulation monitoring pipeline",
		Long:          "simwatch-mq consumes monitoring, consumption and notification messages and records them in the database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (defaults to $CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(publishCmd())

	if err := rootCmd.Execute(); err != nil {
		logging.NewEarlyLog(serviceName).Error("%v", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file named by --config or CONFIG_FILE, or
// runs on defaults and environment overrides when neither is set.
func loadConfig(earlyLog *logging.EarlyLog) (*config.Config, logger.Logger, error) {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Warn("No config file given, using defaults and environment variables")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	if sugared, ok := log.(*logger.SugaredLogger); ok {
		sugared.SetServiceName(serviceName)
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	var opts ServeOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run one agent until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog(serviceName)
			if opts.Agent == "" {
				return fmt.Errorf("--agent is required")
			}

			cfg, log, err := loadConfig(earlyLog)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = logging.WithServiceName(ctx, serviceName)

			log.InfowCtx(ctx, "Starting MQ agent", "agent", opts.Agent, "limit", opts.Limit, "dry_run", opts.DryRun)

			app := NewApp(cfg, log, opts)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				_ = app.Shutdown(context.Background())
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Agent stopped with error", "error", err)
				return err
			}
			log.InfowCtx(ctx, "Agent shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Agent, "agent", "", "Agent to run (see the agents command)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Stop after this many deliveries (0 = no limit)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Keep state in memory and log outgoing messages instead of publishing them")
	return cmd
}
