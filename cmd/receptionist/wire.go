package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/boddenberg/receptionist-core/internal/config"
	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/infra/availability"
	"github.com/boddenberg/receptionist-core/internal/infra/cache"
	"github.com/boddenberg/receptionist-core/internal/infra/catalog"
	"github.com/boddenberg/receptionist-core/internal/infra/observability"
	"github.com/boddenberg/receptionist-core/internal/infra/resilience"
	"github.com/boddenberg/receptionist-core/internal/port"
)

func resilienceConfig(cfg *config.Config) resilience.Config {
	return resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
}

// openRedis returns nil when no REDIS_URL is configured.
func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// openPostgres returns nil when no DATABASE_URL is configured.
func openPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// availabilityStore picks Postgres when a pool is available, applying
// pending migrations first.
func availabilityStore(ctx context.Context, pg *pgxpool.Pool, logger *zap.Logger) (port.AvailabilityStore, error) {
	if pg == nil {
		logger.Warn("DATABASE_URL not set, availability kept in memory")
		return availability.NewMemory(), nil
	}
	applied, err := availability.Migrate(ctx, pg)
	if err != nil {
		return nil, err
	}
	if len(applied) > 0 {
		logger.Info("availability migrations applied", zap.Strings("versions", applied))
	}
	return availability.NewPostgres(pg), nil
}

// businessProvider resolves business contexts from the remote business API
// when configured, otherwise from the local catalog file. Lookups are cached.
func businessProvider(
	cfg *config.Config,
	httpClient *http.Client,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (port.BusinessContextProvider, *cache.InMemory[*domain.BusinessContext], error) {
	var source port.BusinessContextProvider
	if cfg.BusinessAPIURL != "" {
		logger.Info("using business API", zap.String("url", cfg.BusinessAPIURL))
		source = catalog.NewHTTPClient(httpClient, cfg.BusinessAPIURL, resilience.NewCircuitBreaker("business-api"), resilienceConfig(cfg))
	} else {
		logger.Info("using business catalog file", zap.String("path", cfg.BusinessCatalog))
		file, err := catalog.LoadFile(cfg.BusinessCatalog)
		if err != nil {
			return nil, nil, err
		}
		source = file
	}
	c := cache.New[*domain.BusinessContext](cfg.CacheTTL)
	return catalog.NewCached(source, c, metrics, logger), c, nil
}
