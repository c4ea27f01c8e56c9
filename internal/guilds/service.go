package guilds

import (
	"context"
	"log/slog"
	"strings"

	"github.com/guildticket/guildticket/internal/permissions"
	"github.com/guildticket/guildticket/internal/shared"
)

// RepositoryPort defines data access methods for the guild registry.
type RepositoryPort interface {
	Get(ctx context.Context, id string) (Guild, error)
	Upsert(ctx context.Context, g Guild) (Guild, error)
	SetOwner(ctx context.Context, id, ownerDiscordID string) error
}

// Invalidator drops a guild's cached permission sets.
type Invalidator interface {
	InvalidateGuild(ctx context.Context, guildID string) error
}

// Authorizer checks the bound actor. *actor.Guard implements it.
type Authorizer interface {
	RequirePermissionIn(ctx context.Context, guildID string, flag permissions.Set) error
}

// Service owns guild registration and ownership. The owner resolves to every
// permission, so any owner change invalidates the guild's cache.
type Service struct {
	repo        RepositoryPort
	guard       Authorizer
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService builds the registry service. A nil invalidator disables invalidation.
func NewService(repo RepositoryPort, guard Authorizer, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, guard: guard, invalidator: invalidator, logger: logger}
}

// Get returns the guild or shared.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (Guild, error) {
	return s.repo.Get(ctx, strings.TrimSpace(id))
}

// Register creates the guild or refreshes its settings. It runs when the
// bot joins a guild and needs no permission.
func (s *Service) Register(ctx context.Context, g Guild) (Guild, error) {
	out, err := s.repo.Upsert(ctx, g)
	if err != nil {
		return Guild{}, err
	}
	s.invalidate(ctx, out.ID)
	s.logger.Info("guild registered", slog.String("guild_id", out.ID), slog.Int("max_tickets_per_user", out.MaxTicketsPerUser))
	return out, nil
}

// TransferOwnership records a new owner. Requires GUILD_SETTINGS_MANAGE.
func (s *Service) TransferOwnership(ctx context.Context, guildID, ownerDiscordID string) error {
	guildID = strings.TrimSpace(guildID)
	ownerDiscordID = strings.TrimSpace(ownerDiscordID)
	if guildID == "" {
		return shared.Invalid("guild_id", "required")
	}
	if err := s.guard.RequirePermissionIn(ctx, guildID, permissions.GuildSettingsManage); err != nil {
		return err
	}
	if err := s.repo.SetOwner(ctx, guildID, ownerDiscordID); err != nil {
		return err
	}
	s.invalidate(ctx, guildID)
	s.logger.Info("guild ownership transferred", slog.String("guild_id", guildID), slog.String("owner_id", ownerDiscordID))
	return nil
}

func (s *Service) invalidate(ctx context.Context, guildID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateGuild(ctx, guildID); err != nil {
		s.logger.Warn("invalidate guild permissions", slog.String("guild_id", guildID), slog.Any("error", err))
	}
}
