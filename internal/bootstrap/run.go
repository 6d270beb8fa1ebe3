package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/countyops/countysync/config"
	httpx "github.com/countyops/countysync/internal/http"
	"github.com/countyops/countysync/internal/observability/statsd"
	"github.com/countyops/countysync/internal/service"
)

// RunServer wires the full service graph and serves until a shutdown signal
// or a fatal component error. It blocks for the lifetime of the process.
func RunServer(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := BuildStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("close store", "error", cerr)
		}
	}()

	resolver, closeResolver, err := BuildResolver(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build resolver: %w", err)
	}
	defer func() {
		if cerr := closeResolver(); cerr != nil {
			logger.Error("close resolver", "error", cerr)
		}
	}()

	registry, err := BuildRegistry()
	if err != nil {
		return fmt.Errorf("build plugin registry: %w", err)
	}

	matrix, err := cfg.Auth.BuildMatrix()
	if err != nil {
		return fmt.Errorf("build permission matrix: %w", err)
	}

	sink, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Statsd.Enabled,
		Address: cfg.Statsd.Address,
		Prefix:  cfg.Statsd.Prefix,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("build metrics sink: %w", err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logger.Error("close metrics sink", "error", cerr)
		}
	}()

	orch, err := service.NewOrchestrator(service.OrchestratorOptions{
		Store:          store.Jobs,
		Registry:       registry,
		Matrix:         matrix,
		Logger:         logger,
		Metrics:        sink,
		DefaultTimeout: cfg.Plugins.ExecTimeout,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	router := httpx.NewRouter(httpx.RouterServices{
		Orchestrator: orch,
		Registry:     registry,
		Resolver:     resolver,
		Logger:       logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	serverErr := make(chan error, 1)
	srv := StartHTTPServer(cfg.HTTP, router, logger, serverErr)
	g.Go(func() error {
		select {
		case err := <-serverErr:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	if cfg.Reaper.Enabled {
		reaper, rerr := service.NewReaper(service.ReaperOptions{
			Store:    store.Leases,
			Interval: cfg.Reaper.Interval,
			Logger:   logger,
		})
		if rerr != nil {
			return fmt.Errorf("build reaper: %w", rerr)
		}
		g.Go(func() error { return reaper.Run(gctx) })
	}

	logger.Info("countysync ready",
		"addr", cfg.HTTP.Addr,
		"store", string(cfg.Store.Driver),
		"auth_mode", string(cfg.Auth.Mode),
		"plugins", registry.Names(),
	)

	<-gctx.Done()

	ShutdownHTTPServer(srv, cfg.HTTP.ShutdownTimeout, logger)

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if derr := orch.Shutdown(drainCtx); derr != nil {
		logger.Warn("orchestrator drain incomplete, in-flight jobs abandoned", "error", derr)
	}

	return g.Wait()
}
