package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/guildticket/guildticket/internal/actor"
	"github.com/guildticket/guildticket/internal/permissions"
	"github.com/guildticket/guildticket/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	UpsertDefaultRoles(ctx context.Context, guildID string, defaults []DefaultRole) ([]Role, error)
	CreateRole(ctx context.Context, in CreateRoleInput) (Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context, guildID string) ([]Role, error)
	UpdateRolePermissions(ctx context.Context, id int64, bits permissions.Set) (Role, error)
	SetRoleStatus(ctx context.Context, id int64, status Status) (Role, error)
	DeleteRole(ctx context.Context, id int64) (Role, error)
	AssignRole(ctx context.Context, roleID int64, userID, assignedBy string) (Membership, error)
	RemoveRole(ctx context.Context, roleID int64, userID string) (string, error)
	ActiveMembers(ctx context.Context, guildID string) ([]string, error)
	ListMemberships(ctx context.Context, roleID int64) ([]Membership, error)
	SetGrant(ctx context.Context, guildID, userID string, bits permissions.Set) (Grant, error)
	ClearGrant(ctx context.Context, guildID, userID string) error
}

// Invalidator drops cached permission sets. *permissions.Resolver implements it.
type Invalidator interface {
	InvalidateGuild(ctx context.Context, guildID string) error
	InvalidateUser(ctx context.Context, guildID, userID string) error
}

// Authorizer checks the bound actor. *actor.Guard implements it.
type Authorizer interface {
	RequirePermissionIn(ctx context.Context, guildID string, flag permissions.Set) error
}

// Service handles role business logic. Every mutation that changes resolved
// permissions invalidates the cache after the repository call returns.
type Service struct {
	repo        RepositoryPort
	guard       Authorizer
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService builds Service instance. A nil invalidator disables invalidation.
func NewService(repo RepositoryPort, guard Authorizer, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, guard: guard, invalidator: invalidator, logger: logger}
}

// EnsureDefaultRoles creates the admin, support and viewer roles when missing.
// It is safe to call repeatedly and concurrently.
func (s *Service) EnsureDefaultRoles(ctx context.Context, guildID string) ([]Role, error) {
	guildID = strings.TrimSpace(guildID)
	if guildID == "" {
		return nil, shared.Invalid("guild_id", "required")
	}
	return s.repo.UpsertDefaultRoles(ctx, guildID, DefaultRoles)
}

// CreateRole adds a custom role. Requires ROLE_MANAGE.
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (Role, error) {
	in.GuildID = strings.TrimSpace(in.GuildID)
	in.Name = strings.TrimSpace(strings.ToLower(in.Name))
	if err := shared.ValidateStruct(in); err != nil {
		return Role{}, err
	}
	if in.Permissions&^permissions.All != 0 {
		return Role{}, shared.Invalid("Permissions", "unknown bits")
	}
	if err := s.guard.RequirePermissionIn(ctx, in.GuildID, permissions.RoleManage); err != nil {
		return Role{}, err
	}
	return s.repo.CreateRole(ctx, in)
}

// GetRole loads a role. Requires ROLE_VIEW in the role's guild.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if err := s.guard.RequirePermissionIn(ctx, role.GuildID, permissions.RoleView); err != nil {
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns the guild's roles. Requires ROLE_VIEW.
func (s *Service) ListRoles(ctx context.Context, guildID string) ([]Role, error) {
	if err := s.guard.RequirePermissionIn(ctx, guildID, permissions.RoleView); err != nil {
		return nil, err
	}
	return s.repo.ListRoles(ctx, guildID)
}

// UpdateRolePermissions replaces a role's bitfield and invalidates every
// cached entry of the guild. Requires ROLE_MANAGE.
func (s *Service) UpdateRolePermissions(ctx context.Context, id int64, bits permissions.Set) (Role, error) {
	if bits&^permissions.All != 0 {
		return Role{}, shared.Invalid("permissions", "unknown bits")
	}
	if _, err := s.authorizeRole(ctx, id, permissions.RoleManage); err != nil {
		return Role{}, err
	}
	role, err := s.repo.UpdateRolePermissions(ctx, id, bits)
	if err != nil {
		return Role{}, err
	}
	s.logger.Info("role permissions updated",
		slog.String("guild_id", role.GuildID),
		slog.String("role", describe(role)),
		slog.String("permissions", bits.String()))
	s.invalidateGuild(ctx, role.GuildID)
	return role, nil
}

// SetRoleStatus activates or deactivates a role. Requires ROLE_MANAGE.
func (s *Service) SetRoleStatus(ctx context.Context, id int64, status Status) (Role, error) {
	if !status.Valid() {
		return Role{}, shared.Invalid("status", "oneof=active inactive")
	}
	if _, err := s.authorizeRole(ctx, id, permissions.RoleManage); err != nil {
		return Role{}, err
	}
	role, err := s.repo.SetRoleStatus(ctx, id, status)
	if err != nil {
		return Role{}, err
	}
	s.invalidateGuild(ctx, role.GuildID)
	return role, nil
}

// DeleteRole removes a role with its memberships. Requires ROLE_MANAGE.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	if _, err := s.authorizeRole(ctx, id, permissions.RoleManage); err != nil {
		return err
	}
	role, err := s.repo.DeleteRole(ctx, id)
	if err != nil {
		return err
	}
	s.logger.Info("role deleted", slog.String("guild_id", role.GuildID), slog.String("role", describe(role)))
	s.invalidateGuild(ctx, role.GuildID)
	return nil
}

// AssignRole gives userID the role. Requires ROLE_ASSIGN.
func (s *Service) AssignRole(ctx context.Context, roleID int64, userID string) (Membership, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Membership{}, shared.Invalid("user_id", "required")
	}
	if _, err := s.authorizeRole(ctx, roleID, permissions.RoleAssign); err != nil {
		return Membership{}, err
	}
	a, err := actor.Current(ctx)
	if err != nil {
		return Membership{}, err
	}
	m, err := s.repo.AssignRole(ctx, roleID, userID, actor.PerformerID(a))
	if err != nil {
		return Membership{}, err
	}
	s.invalidateUser(ctx, m.GuildID, userID)
	return m, nil
}

// RemoveRole takes the role away from userID. Requires ROLE_ASSIGN.
func (s *Service) RemoveRole(ctx context.Context, roleID int64, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return shared.Invalid("user_id", "required")
	}
	if _, err := s.authorizeRole(ctx, roleID, permissions.RoleAssign); err != nil {
		return err
	}
	guildID, err := s.repo.RemoveRole(ctx, roleID, userID)
	if err != nil {
		return err
	}
	s.invalidateUser(ctx, guildID, userID)
	return nil
}

// ActiveMembers lists users holding an active role, for roster display.
// Requires MEMBER_VIEW.
func (s *Service) ActiveMembers(ctx context.Context, guildID string) ([]string, error) {
	if err := s.guard.RequirePermissionIn(ctx, guildID, permissions.MemberView); err != nil {
		return nil, err
	}
	return s.repo.ActiveMembers(ctx, guildID)
}

// ListMemberships lists holders of a role. Requires ROLE_VIEW.
func (s *Service) ListMemberships(ctx context.Context, roleID int64) ([]Membership, error) {
	if _, err := s.authorizeRole(ctx, roleID, permissions.RoleView); err != nil {
		return nil, err
	}
	return s.repo.ListMemberships(ctx, roleID)
}

// SetAdditionalPermissions replaces a user's extra grant. Requires ROLE_ASSIGN.
func (s *Service) SetAdditionalPermissions(ctx context.Context, guildID, userID string, bits permissions.Set) (Grant, error) {
	if strings.TrimSpace(userID) == "" {
		return Grant{}, shared.Invalid("user_id", "required")
	}
	if bits&^permissions.All != 0 {
		return Grant{}, shared.Invalid("permissions", "unknown bits")
	}
	if err := s.guard.RequirePermissionIn(ctx, guildID, permissions.RoleAssign); err != nil {
		return Grant{}, err
	}
	g, err := s.repo.SetGrant(ctx, guildID, userID, bits)
	if err != nil {
		return Grant{}, err
	}
	s.invalidateUser(ctx, guildID, userID)
	return g, nil
}

// ClearAdditionalPermissions removes a user's extra grant. Requires ROLE_ASSIGN.
func (s *Service) ClearAdditionalPermissions(ctx context.Context, guildID, userID string) error {
	if err := s.guard.RequirePermissionIn(ctx, guildID, permissions.RoleAssign); err != nil {
		return err
	}
	if err := s.repo.ClearGrant(ctx, guildID, userID); err != nil {
		return err
	}
	s.invalidateUser(ctx, guildID, userID)
	return nil
}

func (s *Service) authorizeRole(ctx context.Context, id int64, flag permissions.Set) (Role, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if err := s.guard.RequirePermissionIn(ctx, role.GuildID, flag); err != nil {
		return Role{}, err
	}
	return role, nil
}

// Invalidation runs after the write is durable; a failure leaves entries to
// expire by TTL and is only logged.
func (s *Service) invalidateGuild(ctx context.Context, guildID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateGuild(ctx, guildID); err != nil {
		s.logger.Warn("invalidate guild permissions", slog.String("guild_id", guildID), slog.Any("error", err))
	}
}

func (s *Service) invalidateUser(ctx context.Context, guildID, userID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateUser(ctx, guildID, userID); err != nil {
		s.logger.Warn("invalidate user permissions",
			slog.String("guild_id", guildID),
			slog.String("user_id", userID),
			slog.Any("error", err))
	}
}

// describe renders a role for log lines.
func describe(r Role) string {
	return fmt.Sprintf("%s#%d", r.Name, r.ID)
}
