package actor

import (
	"context"
	"log/slog"

	"github.com/guildticket/guildticket/internal/permissions"
	"github.com/guildticket/guildticket/internal/shared"
)

// Resolver computes a user's permissions in a guild.
type Resolver interface {
	Resolve(ctx context.Context, guildID, userID string) (permissions.Set, error)
}

// Guard checks the bound actor's permissions. With a nil Resolver it falls
// back to the snapshot carried on the actor.
type Guard struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewGuard constructs a Guard.
func NewGuard(resolver Resolver, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{resolver: resolver, logger: logger}
}

// Permissions resolves the bound actor's permissions in its own guild.
func (g *Guard) Permissions(ctx context.Context) (permissions.Set, error) {
	a, err := Current(ctx)
	if err != nil {
		return permissions.None, err
	}
	if IsSystem(a) {
		return permissions.All, nil
	}
	guildID, err := GuildID(a)
	if err != nil {
		return permissions.None, err
	}
	return g.resolve(ctx, a, guildID)
}

// PermissionsIn resolves the bound actor's permissions in guildID, which
// must be the guild the actor is scoped to.
func (g *Guard) PermissionsIn(ctx context.Context, guildID string) (permissions.Set, error) {
	a, err := Current(ctx)
	if err != nil {
		return permissions.None, err
	}
	if IsSystem(a) {
		return permissions.All, nil
	}
	if err := CheckGuild(a, guildID); err != nil {
		return permissions.None, err
	}
	return g.resolve(ctx, a, guildID)
}

func (g *Guard) resolve(ctx context.Context, a Actor, guildID string) (permissions.Set, error) {
	if g == nil || g.resolver == nil {
		return carried(a), nil
	}
	userID, ok := UserID(a)
	if !ok {
		return permissions.None, &shared.ActorValidationError{Reason: "actor has no user id"}
	}
	return g.resolver.Resolve(ctx, guildID, userID)
}

// RequirePermission fails with a PermissionDeniedError unless the bound
// actor holds flag in its guild or is a System actor.
func (g *Guard) RequirePermission(ctx context.Context, flag permissions.Set) error {
	held, err := g.Permissions(ctx)
	if err != nil {
		return err
	}
	return g.require(ctx, held, flag)
}

// RequirePermissionIn is RequirePermission for an explicit guild.
func (g *Guard) RequirePermissionIn(ctx context.Context, guildID string, flag permissions.Set) error {
	held, err := g.PermissionsIn(ctx, guildID)
	if err != nil {
		return err
	}
	return g.require(ctx, held, flag)
}

func (g *Guard) require(ctx context.Context, held, flag permissions.Set) error {
	if held.Has(flag) {
		return nil
	}
	a, _ := TryCurrent(ctx)
	return Denied(a, flag)
}

// HasPermission reports whether the bound actor holds flag. Resolution
// failures read as false.
func (g *Guard) HasPermission(ctx context.Context, flag permissions.Set) bool {
	held, ok := g.held(ctx)
	return ok && held.Has(flag)
}

// HasAny reports whether the bound actor holds at least one of flags.
func (g *Guard) HasAny(ctx context.Context, flags ...permissions.Set) bool {
	held, ok := g.held(ctx)
	return ok && held.HasAny(flags...)
}

// HasAll reports whether the bound actor holds every one of flags.
func (g *Guard) HasAll(ctx context.Context, flags ...permissions.Set) bool {
	held, ok := g.held(ctx)
	return ok && held.HasAll(flags...)
}

func (g *Guard) held(ctx context.Context) (permissions.Set, bool) {
	held, err := g.Permissions(ctx)
	if err != nil {
		if g != nil {
			g.logger.Debug("permission check", slog.Any("error", err))
		}
		return permissions.None, false
	}
	return held, true
}

// CheckGuild fails when a non-system actor is scoped to a different guild.
func CheckGuild(a Actor, guildID string) error {
	if IsSystem(a) {
		return nil
	}
	own, err := GuildID(a)
	if err != nil {
		return err
	}
	if own != guildID {
		return &shared.ActorValidationError{Reason: "actor is scoped to guild " + own}
	}
	return nil
}

// Denied builds the error returned when a lacks any of the bits in flags.
func Denied(a Actor, flags permissions.Set) error {
	kind := "unknown"
	if a != nil {
		kind = string(a.Kind())
	}
	return &shared.PermissionDeniedError{Permissions: flags.Names(), ActorType: kind}
}
