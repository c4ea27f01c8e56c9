package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildticket/guildticket/internal/permissions"
	"github.com/guildticket/guildticket/internal/platform/db"
	"github.com/guildticket/guildticket/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, guild_id, name, color, position, permissions, is_default, status, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var (
		role Role
		bits int64
	)
	if err := row.Scan(&role.ID, &role.GuildID, &role.Name, &role.Color, &role.Position, &bits, &role.IsDefault, &role.Status, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, err
	}
	role.Permissions = permissions.Set(bits)
	return role, nil
}

func collectRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// UpsertDefaultRoles inserts the defaults that are missing and returns the
// guild's default roles. Concurrent callers are absorbed by the
// (guild_id, name) unique constraint.
func (r *Repository) UpsertDefaultRoles(ctx context.Context, guildID string, defaults []DefaultRole) ([]Role, error) {
	batch := &pgx.Batch{}
	for _, d := range defaults {
		batch.Queue(`
INSERT INTO roles (guild_id, name, color, position, permissions, is_default, status)
VALUES ($1, $2, $3, $4, $5, TRUE, 'active')
ON CONFLICT (guild_id, name) DO NOTHING`, guildID, d.Name, d.Color, d.Position, int64(d.Permissions))
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		if db.IsCode(err, db.CodeForeignKeyViolation) {
			return nil, shared.NewNotFound("guild", guildID)
		}
		return nil, fmt.Errorf("roles: upsert defaults: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE guild_id = $1 AND is_default ORDER BY position DESC`, guildID)
	if err != nil {
		return nil, fmt.Errorf("roles: list defaults: %w", err)
	}
	out, err := collectRoles(rows)
	if err != nil {
		return nil, fmt.Errorf("roles: list defaults: %w", err)
	}
	return out, nil
}

// CreateRole inserts a custom role.
func (r *Repository) CreateRole(ctx context.Context, in CreateRoleInput) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `
INSERT INTO roles (guild_id, name, color, position, permissions, is_default, status)
VALUES ($1, $2, $3, $4, $5, FALSE, 'active')
RETURNING `+roleColumns, in.GuildID, in.Name, in.Color, in.Position, int64(in.Permissions)))
	switch {
	case db.IsCode(err, db.CodeUniqueViolation):
		return Role{}, fmt.Errorf("roles: role %q exists: %w", in.Name, shared.ErrConflict)
	case db.IsCode(err, db.CodeForeignKeyViolation):
		return Role{}, shared.NewNotFound("guild", in.GuildID)
	case err != nil:
		return Role{}, fmt.Errorf("roles: create: %w", err)
	}
	return role, nil
}

// GetRole loads one role.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.NewNotFound("role", id)
	}
	if err != nil {
		return Role{}, fmt.Errorf("roles: get: %w", err)
	}
	return role, nil
}

// ListRoles returns the guild's roles, highest position first.
func (r *Repository) ListRoles(ctx context.Context, guildID string) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE guild_id = $1 ORDER BY position DESC, id`, guildID)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	out, err := collectRoles(rows)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	return out, nil
}

func (r *Repository) updateRole(ctx context.Context, id int64, set string, arg any) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `UPDATE roles SET `+set+` = $2, updated_at = NOW() WHERE id = $1 RETURNING `+roleColumns, id, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.NewNotFound("role", id)
	}
	if err != nil {
		return Role{}, fmt.Errorf("roles: update %s: %w", set, err)
	}
	return role, nil
}

// UpdateRolePermissions replaces a role's bitfield.
func (r *Repository) UpdateRolePermissions(ctx context.Context, id int64, bits permissions.Set) (Role, error) {
	return r.updateRole(ctx, id, "permissions", int64(bits))
}

// SetRoleStatus activates or deactivates a role.
func (r *Repository) SetRoleStatus(ctx context.Context, id int64, status Status) (Role, error) {
	return r.updateRole(ctx, id, "status", string(status))
}

// DeleteRole removes a role and, by cascade, its memberships.
func (r *Repository) DeleteRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `DELETE FROM roles WHERE id = $1 RETURNING `+roleColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.NewNotFound("role", id)
	}
	if err != nil {
		return Role{}, fmt.Errorf("roles: delete: %w", err)
	}
	return role, nil
}

// AssignRole upserts a membership row.
func (r *Repository) AssignRole(ctx context.Context, roleID int64, userID, assignedBy string) (Membership, error) {
	m := Membership{RoleID: roleID, DiscordUserID: userID, AssignedBy: assignedBy}
	err := r.pool.QueryRow(ctx, `
WITH upserted AS (
    INSERT INTO role_memberships (role_id, discord_user_id, assigned_by)
    VALUES ($1, $2, $3)
    ON CONFLICT (role_id, discord_user_id) DO UPDATE
    SET assigned_by = EXCLUDED.assigned_by, assigned_at = NOW()
    RETURNING role_id, assigned_at
)
SELECT r.guild_id, u.assigned_at FROM upserted u JOIN roles r ON r.id = u.role_id`, roleID, userID, assignedBy).Scan(&m.GuildID, &m.AssignedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows), db.IsCode(err, db.CodeForeignKeyViolation):
		return Membership{}, shared.NewNotFound("role", roleID)
	case err != nil:
		return Membership{}, fmt.Errorf("roles: assign: %w", err)
	}
	return m, nil
}

// RemoveRole deletes a membership row and returns the role's guild.
func (r *Repository) RemoveRole(ctx context.Context, roleID int64, userID string) (string, error) {
	var guildID string
	err := r.pool.QueryRow(ctx, `
DELETE FROM role_memberships m
USING roles r
WHERE r.id = m.role_id AND m.role_id = $1 AND m.discord_user_id = $2
RETURNING r.guild_id`, roleID, userID).Scan(&guildID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", shared.NewNotFound("membership", fmt.Sprintf("%d/%s", roleID, userID))
	}
	if err != nil {
		return "", fmt.Errorf("roles: remove: %w", err)
	}
	return guildID, nil
}

// ActiveMembers returns distinct users holding at least one active role.
func (r *Repository) ActiveMembers(ctx context.Context, guildID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
SELECT DISTINCT m.discord_user_id
FROM role_memberships m
JOIN roles r ON r.id = m.role_id
WHERE r.guild_id = $1 AND r.status = 'active'
ORDER BY m.discord_user_id`, guildID)
	if err != nil {
		return nil, fmt.Errorf("roles: active members: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("roles: active members: %w", err)
	}
	return out, nil
}

// ListMemberships returns every holder of a role.
func (r *Repository) ListMemberships(ctx context.Context, roleID int64) ([]Membership, error) {
	rows, err := r.pool.Query(ctx, `
SELECT m.role_id, r.guild_id, m.discord_user_id, m.assigned_by, m.assigned_at
FROM role_memberships m
JOIN roles r ON r.id = m.role_id
WHERE m.role_id = $1
ORDER BY m.assigned_at`, roleID)
	if err != nil {
		return nil, fmt.Errorf("roles: memberships: %w", err)
	}
	defer rows.Close()
	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.RoleID, &m.GuildID, &m.DiscordUserID, &m.AssignedBy, &m.AssignedAt); err != nil {
			return nil, fmt.Errorf("roles: memberships: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetGrant upserts a user's additional permissions.
func (r *Repository) SetGrant(ctx context.Context, guildID, userID string, bits permissions.Set) (Grant, error) {
	g := Grant{GuildID: guildID, UserID: userID, Permissions: bits}
	err := r.pool.QueryRow(ctx, `
INSERT INTO additional_permissions (guild_id, user_id, permissions)
VALUES ($1, $2, $3)
ON CONFLICT (guild_id, user_id) DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = NOW()
RETURNING updated_at`, guildID, userID, int64(bits)).Scan(&g.UpdatedAt)
	if db.IsCode(err, db.CodeForeignKeyViolation) {
		return Grant{}, shared.NewNotFound("guild", guildID)
	}
	if err != nil {
		return Grant{}, fmt.Errorf("roles: set grant: %w", err)
	}
	return g, nil
}

// ClearGrant removes a user's additional permissions.
func (r *Repository) ClearGrant(ctx context.Context, guildID, userID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM additional_permissions WHERE guild_id = $1 AND user_id = $2`, guildID, userID); err != nil {
		return fmt.Errorf("roles: clear grant: %w", err)
	}
	return nil
}

// ActiveRolePermissions returns the bitfield of every active role userID holds in guildID.
func (r *Repository) ActiveRolePermissions(ctx context.Context, guildID, userID string) ([]permissions.Set, error) {
	rows, err := r.pool.Query(ctx, `
SELECT r.permissions
FROM role_memberships m
JOIN roles r ON r.id = m.role_id
WHERE r.guild_id = $1 AND m.discord_user_id = $2 AND r.status = 'active'`, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("roles: role permissions: %w", err)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("roles: role permissions: %w", err)
	}
	out := make([]permissions.Set, len(raw))
	for i, v := range raw {
		out[i] = permissions.Set(v)
	}
	return out, nil
}

// AdditionalPermissions returns the user's grant, or None.
func (r *Repository) AdditionalPermissions(ctx context.Context, guildID, userID string) (permissions.Set, error) {
	var bits int64
	err := r.pool.QueryRow(ctx, `SELECT permissions FROM additional_permissions WHERE guild_id = $1 AND user_id = $2`, guildID, userID).Scan(&bits)
	if errors.Is(err, pgx.ErrNoRows) {
		return permissions.None, nil
	}
	if err != nil {
		return permissions.None, fmt.Errorf("roles: additional permissions: %w", err)
	}
	return permissions.Set(bits), nil
}
