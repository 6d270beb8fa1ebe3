package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/countyops/countysync/config"
)

// StartHTTPServer starts the HTTP server in a goroutine and returns it.
// Server errors other than graceful shutdown are delivered on errCh.
func StartHTTPServer(cfg config.HTTPConfig, handler http.Handler, logger *slog.Logger, errCh chan<- error) *http.Server {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	go func() {
		if logger != nil {
			logger.Info("starting HTTP server", "addr", cfg.Addr)
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	return srv
}

// ShutdownHTTPServer drains in-flight requests within the configured timeout.
func ShutdownHTTPServer(srv *http.Server, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		if logger != nil {
			logger.Error("HTTP server shutdown", "error", err)
		}
		return
	}
	if logger != nil {
		logger.Info("HTTP server stopped")
	}
}
