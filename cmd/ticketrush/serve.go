package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/prohmpiriya/ticket-rush/pkg/logger"
)

func serveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logger.Get()

			infra, container, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer infra.Close()

			if !a.cfg.IsDevelopment() {
				gin.SetMode(gin.ReleaseMode)
			}

			addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
			srv := &http.Server{
				Addr:              addr,
				Handler:           container.Router(),
				ReadTimeout:       a.cfg.Server.ReadTimeout,
				WriteTimeout:      a.cfg.Server.WriteTimeout,
				IdleTimeout:       a.cfg.Server.IdleTimeout,
				ReadHeaderTimeout: 2 * time.Second,
				MaxHeaderBytes:    1 << 20,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info(fmt.Sprintf("Ticket rush API listening on %s", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
			case <-ctx.Done():
			}

			log.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			log.Info("Server exited gracefully")
			return nil
		},
	}
}
