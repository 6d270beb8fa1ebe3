package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/countyops/countysync/config"
	"github.com/countyops/countysync/internal/adapters/oidcauth"
	"github.com/countyops/countysync/internal/adapters/redisauth"
	"github.com/countyops/countysync/internal/adapters/staticauth"
	"github.com/countyops/countysync/internal/core"
	"github.com/countyops/countysync/internal/data"
	"github.com/countyops/countysync/internal/migrate"
	"github.com/countyops/countysync/internal/plugin"
	"github.com/countyops/countysync/internal/plugin/gisexport"
	"github.com/countyops/countysync/internal/plugin/marketanalysis"
	"github.com/countyops/countysync/internal/ports"
)

// Store bundles the job record store with its lease-reaper view and any
// resources that must be released on shutdown.
type Store struct {
	Jobs   core.JobStore
	Leases core.LeaseReaper

	db *sql.DB
}

// Close releases the store's underlying resources, if any.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BuildStore constructs the configured job record store. The postgres driver
// connects, optionally runs migrations, and owns the connection pool; the
// memory driver holds everything in process.
func BuildStore(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		mem := data.NewMemoryStore()
		if logger != nil {
			logger.Warn("using in-memory job store, records are lost on restart")
		}
		return &Store{Jobs: mem, Leases: mem}, nil

	case config.StoreDriverPostgres:
		db, err := ConnectDB(cfg.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.RunMigrationsOnStart {
			if err := migrate.Run(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		pg := data.NewPGStore(db, data.PGStoreConfig{Logger: logger})
		return &Store{Jobs: pg, Leases: pg, db: db}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// BuildResolver constructs the identity resolver for the configured auth
// mode, optionally wrapped with the Redis identity cache. The returned
// cleanup releases the cache connection and is safe to call when nil-op.
func BuildResolver(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (ports.IdentityResolver, func() error, error) {
	noop := func() error { return nil }

	var resolver ports.IdentityResolver
	switch cfg.Auth.Mode {
	case config.AuthModeStatic:
		tokens, err := cfg.Auth.ParseStaticTokens()
		if err != nil {
			return nil, nil, fmt.Errorf("parse static tokens: %w", err)
		}
		if len(tokens) == 0 {
			return nil, nil, fmt.Errorf("auth mode static requires AUTH_STATIC_TOKENS")
		}
		if !cfg.IsDev && logger != nil {
			logger.Warn("static token auth enabled outside dev mode")
		}
		resolver = staticauth.NewResolver(tokens)

	case config.AuthModeOIDC:
		oidc := cfg.Auth.OIDC
		r, err := oidcauth.NewResolver(ctx, oidcauth.Config{
			ClientID:      oidc.ClientID,
			DiscoveryURL:  oidc.DiscoveryURL,
			UsernameClaim: oidc.UsernameClaim,
			GroupsClaim:   oidc.GroupsClaim,
			Roles: oidcauth.GroupMapper{
				AdminGroup:    oidc.AdminGroup,
				AssessorGroup: oidc.AssessorGroup,
				AuditorGroup:  oidc.AuditorGroup,
				StaffGroup:    oidc.StaffGroup,
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("build oidc resolver: %w", err)
		}
		resolver = r

	default:
		return nil, nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}

	if !cfg.Auth.CacheEnabled {
		return resolver, noop, nil
	}

	client, err := ConnectRedis(cfg.Redis, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect identity cache: %w", err)
	}
	cache := redisauth.NewIdentityCacheWithTTL(client, cfg.Auth.CacheTTL)
	return redisauth.NewCachingResolver(resolver, cache), client.Close, nil
}

// BuildRegistry assembles and freezes the plugin registry. New plugins are
// compiled in here; the registry is immutable once the process is serving.
func BuildRegistry() (*plugin.Registry, error) {
	reg := plugin.NewRegistry()
	if err := reg.Register(gisexport.Descriptor(&gisexport.Runner{})); err != nil {
		return nil, err
	}
	if err := reg.Register(marketanalysis.Descriptor(&marketanalysis.Runner{})); err != nil {
		return nil, err
	}
	reg.Freeze()
	return reg, nil
}
