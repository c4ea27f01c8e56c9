package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/guildticket/guildticket/internal/observability"
	"github.com/guildticket/guildticket/internal/shared"
)

// DefaultTTL bounds how long a resolved set may be served from cache.
const DefaultTTL = 5 * time.Minute

// Source loads the raw inputs of a permission computation.
type Source interface {
	// GuildOwner returns the owner's Discord id, or shared.ErrNotFound.
	GuildOwner(ctx context.Context, guildID string) (string, error)
	// ActiveRolePermissions returns the bitfield of every active role the user holds in the guild.
	ActiveRolePermissions(ctx context.Context, guildID, userID string) ([]Set, error)
	// AdditionalPermissions returns the user's extra grant, or None when absent.
	AdditionalPermissions(ctx context.Context, guildID, userID string) (Set, error)
}

// ResolverConfig carries optional collaborators. A nil Cache disables caching.
type ResolverConfig struct {
	Cache    Cache
	TTL      time.Duration
	Override Override
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

// Resolver computes cumulative permission sets.
type Resolver struct {
	source     Source
	cache      Cache
	ttl        time.Duration
	override   Override
	logger     *slog.Logger
	metrics    *observability.Metrics
	group      singleflight.Group
	generation atomic.Uint64
}

// NewResolver constructs a Resolver.
func NewResolver(source Source, cfg ResolverConfig) *Resolver {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source:   source,
		cache:    cfg.Cache,
		ttl:      ttl,
		override: cfg.Override,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// Resolve returns the permissions userID holds in guildID: the full set for
// the guild owner, otherwise the union of active role bitfields and the
// user's additional grant.
func (r *Resolver) Resolve(ctx context.Context, guildID, userID string) (Set, error) {
	guildID = strings.TrimSpace(guildID)
	userID = strings.TrimSpace(userID)
	if guildID == "" {
		return None, shared.Invalid("guild_id", "required")
	}
	if userID == "" {
		return None, shared.Invalid("user_id", "required")
	}

	if r.override != nil {
		if bits, ok := r.override.bits(); ok {
			r.metrics.PermissionLookup(observability.CacheBypass)
			return bits, nil
		}
	}

	var slot string
	if r.cache != nil {
		bits, s, found, err := r.cache.Load(ctx, guildID, userID)
		switch {
		case err != nil:
			r.metrics.PermissionLookup(observability.CacheError)
			r.logger.Warn("permission cache load", slog.String("guild_id", guildID), slog.Any("error", err))
		case found:
			r.metrics.PermissionLookup(observability.CacheHit)
			return bits, nil
		default:
			r.metrics.PermissionLookup(observability.CacheMiss)
			slot = s
		}
	}

	key := fmt.Sprintf("%s|%s|%d|%s", guildID, userID, r.generation.Load(), slot)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.compute(context.WithoutCancel(ctx), guildID, userID)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return None, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return None, res.Err
	}
	bits := res.Val.(Set)

	if slot != "" {
		if err := r.cache.Store(ctx, slot, bits, r.ttl); err != nil {
			r.logger.Warn("permission cache store", slog.String("guild_id", guildID), slog.Any("error", err))
		}
	}
	return bits, nil
}

func (r *Resolver) compute(ctx context.Context, guildID, userID string) (Set, error) {
	owner, err := r.source.GuildOwner(ctx, guildID)
	if err != nil {
		return None, fmt.Errorf("permissions: guild owner: %w", err)
	}
	if owner == userID {
		return All, nil
	}
	roleBits, err := r.source.ActiveRolePermissions(ctx, guildID, userID)
	if err != nil {
		return None, fmt.Errorf("permissions: role permissions: %w", err)
	}
	extra, err := r.source.AdditionalPermissions(ctx, guildID, userID)
	if err != nil {
		return None, fmt.Errorf("permissions: additional permissions: %w", err)
	}
	return Union(roleBits...) | extra, nil
}

// InvalidateGuild drops every cached entry of the guild. Call after the
// mutating transaction commits.
func (r *Resolver) InvalidateGuild(ctx context.Context, guildID string) error {
	r.generation.Add(1)
	if r.cache == nil {
		return nil
	}
	return r.cache.InvalidateGuild(ctx, guildID)
}

// InvalidateUser drops the cached entry of a single member.
func (r *Resolver) InvalidateUser(ctx context.Context, guildID, userID string) error {
	r.generation.Add(1)
	if r.cache == nil {
		return nil
	}
	return r.cache.InvalidateUser(ctx, guildID, userID)
}
