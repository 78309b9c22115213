package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/prohmpiriya/ticket-rush/internal/di"
	"github.com/prohmpiriya/ticket-rush/internal/metrics"
	"github.com/prohmpiriya/ticket-rush/pkg/config"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// app is shared by every subcommand after preRun
type app struct {
	configPath string
	cfg        *config.Config
}

func (a *app) preRun(service string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var (
			cfg *config.Config
			err error
		)
		if a.configPath != "" {
			cfg, err = config.LoadWithPath(a.configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		a.cfg = cfg

		if err := logger.Init(&logger.Config{
			Level:       cfg.App.LogLevel,
			ServiceName: service,
			Development: cfg.IsDevelopment(),
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if _, err := telemetry.Init(cmd.Context(), &telemetry.Config{
			Enabled:        cfg.OTel.Enabled,
			ServiceName:    service,
			ServiceVersion: cfg.App.Version,
			Environment:    cfg.App.Environment,
			CollectorAddr:  cfg.OTel.CollectorAddr,
			SampleRatio:    cfg.OTel.SampleRatio,
		}); err != nil {
			logger.Get().Warn(fmt.Sprintf("Telemetry disabled: %v", err))
		}
		if err := metrics.Init(); err != nil {
			logger.Get().Warn(fmt.Sprintf("Metrics disabled: %v", err))
		}
		return nil
	}
}

func (a *app) postRun(cmd *cobra.Command, args []string) {
	if err := telemetry.Shutdown(context.Background()); err != nil {
		logger.Get().Warn(fmt.Sprintf("Telemetry shutdown: %v", err))
	}
	logger.Sync()
}

// connect opens the infrastructure and builds the container on it
func (a *app) connect(ctx context.Context) (*di.Infrastructure, *di.Container, error) {
	infra, err := di.Connect(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	container, err := di.NewContainer(infra.ContainerConfig(a.cfg))
	if err != nil {
		infra.Close()
		return nil, nil, err
	}
	if err := container.LoadScripts(ctx); err != nil {
		logger.Get().Warn(fmt.Sprintf("Failed to pre-load Lua scripts: %v", err))
	}
	return infra, container, nil
}

// withService wraps a subcommand with the shared lifecycle hooks
func (a *app) withService(cmd *cobra.Command, service string) *cobra.Command {
	cmd.PreRunE = a.preRun(service)
	cmd.PostRun = a.postRun
	return cmd
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ticketrush",
		Short:         "High-traffic ticket sale backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a .env config file")

	root.AddCommand(a.withService(serveCommand(a), "ticket-rush-api"))
	root.AddCommand(a.withService(queueWorkerCommand(a), "ticket-rush-queue-worker"))
	root.AddCommand(a.withService(expiryWorkerCommand(a), "ticket-rush-expiry-worker"))
	root.AddCommand(a.withService(sagaWorkerCommand(a), "ticket-rush-saga-worker"))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Printf("ticketrush: %v", err)
		stop()
		os.Exit(1)
	}
}
