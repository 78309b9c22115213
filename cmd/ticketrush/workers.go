package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/worker"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
)

func queueWorkerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queue-worker",
		Short: "Promote waiting tokens and remove stale ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			infra, container, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer infra.Close()

			container.QueueWorker().Start(cmd.Context())
			return nil
		},
	}
}

func expiryWorkerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expiry-worker",
		Short: "Expire reservations, recover stuck payments and serve delayed expiry tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.Get()

			infra, container, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer infra.Close()

			sweeper := container.ExpiryWorker()
			if err := sweeper.Start(ctx); err != nil {
				return err
			}
			defer sweeper.Stop()

			srv, mux := worker.NewTaskServer(&worker.TaskServerConfig{
				Addr:        a.cfg.Redis.Addr(),
				Password:    a.cfg.Redis.Password,
				DB:          a.cfg.Redis.DB,
				Concurrency: a.cfg.Worker.TaskConcurrency,
				ExpiryQueue: a.cfg.Reservation.ExpiryQueue,
			}, container.ReservationService)
			if err := srv.Start(mux); err != nil {
				return fmt.Errorf("failed to start task server: %w", err)
			}
			log.Info("Expiry task server started")

			<-ctx.Done()
			srv.Shutdown()
			return nil
		},
	}
}

func sagaWorkerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "saga-worker",
		Short: "Run the compensation, cleanup, inventory-rank and reporting consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.Get()

			infra, container, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer infra.Close()

			consumers, err := container.ConnectConsumers(ctx)
			if err != nil {
				return err
			}

			var wg sync.WaitGroup
			for _, consumer := range consumers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := consumer.Run(ctx); err != nil {
						log.Error(fmt.Sprintf("Consumer %s exited", consumer.Name()), zap.Error(err))
					}
				}()
			}
			// Run returns once ctx is done; close after in-flight commits finish
			wg.Wait()
			for _, consumer := range consumers {
				consumer.Close()
			}
			return nil
		},
	}
}
