// Command countysync serves the county-data synchronization API: plugin job
// submission, status, results and cancellation behind role-based access
// control.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/countyops/countysync/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting countysync",
		"dev", cfg.IsDev,
		"store", string(cfg.Store.Driver),
		"auth_mode", string(cfg.Auth.Mode),
		"addr", cfg.HTTP.Addr,
	)

	return bootstrap.RunServer(ctx, &cfg, logger)
}
