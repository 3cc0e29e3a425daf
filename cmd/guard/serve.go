package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"pi_guard/internal/api"
	"pi_guard/internal/service"
	"time"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the compliance HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := slog.Default()
			logger.Info("Starting application", slog.String("name", appName), slog.String("version", version))

			broadcaster := api.NewBroadcaster(logger)
			a, err := newApp(ctx, cfg, service.Sink(broadcaster))
			if err != nil {
				return err
			}

			var auth *api.GovernanceAuth
			if cfg.GovernanceSecret != "" {
				auth = api.NewGovernanceAuth(cfg.GovernanceSecret)
			} else {
				logger.Warn("Governance secret not set, governance routes disabled")
			}

			apiHandler := api.NewAPIHandler(a.contract, a.signer, auth, broadcaster, logger)
			metricsServer := a.metrics.StartMetricsServer(cfg.MetricsAddr)
			httpServer, errCh := startHTTPServer(cfg.HTTPAddr, apiHandler, logger)

			serveErr := waitForShutdown(ctx, logger, errCh)
			shutdown(logger, httpServer, metricsServer, broadcaster, a)
			logger.Info("Application shutdown complete")
			return serveErr
		},
	}
}

func startHTTPServer(addr string, apiHandler *api.APIHandler, logger *slog.Logger) (*http.Server, <-chan error) {
	router := apiHandler.Router()
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"name": "%s", "status": "ok"}`, appName)
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return server, errCh
}

func waitForShutdown(ctx context.Context, logger *slog.Logger, errCh <-chan error) error {
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			return err
		}
		return nil
	}
}

func shutdown(
	logger *slog.Logger,
	httpServer *http.Server,
	metricsServer *http.Server,
	broadcaster *api.Broadcaster,
	a *app,
) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}

	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if err := a.metrics.Shutdown(ctx); err != nil {
		logger.Error("Metrics collector shutdown failed", slog.String("error", err.Error()))
	}

	a.close(ctx)
	broadcaster.Close()
}
