package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/camden-git/familytree/handlers"
	"github.com/camden-git/familytree/realtime"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket hub and propagation workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			hub := realtime.NewHub(logger)
			go hub.Run(ctx)

			a, err := newApp(cfg, logger, hub)
			if err != nil {
				return err
			}
			defer a.Close()

			worker := a.newWorker(cfg, hub, logger)
			worker.Start()
			defer worker.Stop()
			a.service.SetQueue(worker)
			worker.Sweep(ctx)

			ph := &handlers.PersonHandler{Service: a.service, Logger: logger.Named("http"), MaxTreeDepth: cfg.MaxTreeDepth}
			router := handlers.NewRouter(ph, handlers.RouterConfig{
				AllowedOrigins: cfg.AllowedOrigins,
				Hub:            hub,
				Logger:         logger.Named("http"),
			})

			server := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      router,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Server listening",
					zap.String("addr", server.Addr),
					zap.String("store", cfg.StoreBackend),
					zap.String("propagation_mode", cfg.PropagationMode))
				errCh <- server.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			return nil
		},
	}
}
