package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/guildticket/guildticket/internal/actor"
	"github.com/guildticket/guildticket/internal/guilds"
	"github.com/guildticket/guildticket/internal/observability"
	"github.com/guildticket/guildticket/internal/permissions"
	"github.com/guildticket/guildticket/internal/platform/cache"
	"github.com/guildticket/guildticket/internal/platform/db"
	"github.com/guildticket/guildticket/internal/roles"
	"github.com/guildticket/guildticket/internal/tickets"
)

// Services is the wired domain core shared by the API and the worker.
type Services struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *observability.Metrics
	Resolver  *permissions.Resolver
	Guard     *actor.Guard
	Guilds    *guilds.Service
	Roles     *roles.Service
	Lifecycle *tickets.Lifecycle
}

// BuildServices connects to Postgres and Redis and wires the domain
// services. A Redis outage at startup disables the permission cache
// instead of failing. scheduler may be nil.
func BuildServices(ctx context.Context, cfg *Config, logger *slog.Logger, scheduler tickets.AutoCloseScheduler) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	svc := &Services{Pool: pool, Metrics: observability.NewMetrics()}

	var permCache permissions.Cache
	redisClient, err := cache.New(ctx, cfg.RedisAddr, 0)
	if err != nil {
		logger.Warn("permission cache disabled", slog.Any("error", err))
	} else {
		svc.Redis = redisClient
		permCache = permissions.NewRedisCache(redisClient)
	}

	override, err := permissions.OverrideFromEnv(cfg.IsProduction())
	if err != nil {
		svc.Close()
		return nil, err
	}
	if override != nil {
		logger.Warn("permission override active, every user resolves to the override set")
	}

	guildsRepo := guilds.NewRepository(pool)
	rolesRepo := roles.NewRepository(pool)
	svc.Resolver = permissions.NewResolver(roles.PermissionSource(guildsRepo, rolesRepo), permissions.ResolverConfig{
		Cache:    permCache,
		TTL:      cfg.PermissionCacheTTL,
		Override: override,
		Logger:   logger,
		Metrics:  svc.Metrics,
	})
	svc.Guard = actor.NewGuard(svc.Resolver, logger)
	svc.Guilds = guilds.NewService(guildsRepo, svc.Guard, svc.Resolver, logger)
	svc.Roles = roles.NewService(rolesRepo, svc.Guard, svc.Resolver, logger)
	svc.Lifecycle = tickets.NewLifecycle(tickets.NewRepository(pool, cfg.LifecycleTxTimeout), tickets.Config{
		Guard:     svc.Guard,
		Scheduler: scheduler,
		Metrics:   svc.Metrics,
		Logger:    logger,
	})
	return svc, nil
}

// Dependencies returns the readiness probes for the connected backends.
func (s *Services) Dependencies() map[string]Pinger {
	deps := map[string]Pinger{"postgres": PingFunc(s.Pool.Ping)}
	if s.Redis != nil {
		deps["redis"] = PingFunc(func(ctx context.Context) error { return s.Redis.Ping(ctx).Err() })
	}
	return deps
}

// Close releases the connections.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
