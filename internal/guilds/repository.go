package guilds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildticket/guildticket/internal/shared"
)

// Repository persists guild settings in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const guildColumns = `id, owner_discord_id, max_tickets_per_user, ticket_counter, autoclose_exclude_default, created_at, updated_at`

func scanGuild(row pgx.Row) (Guild, error) {
	var g Guild
	err := row.Scan(&g.ID, &g.OwnerDiscordID, &g.MaxTicketsPerUser, &g.TicketCounter, &g.AutoCloseExcludeDefault, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

// Get loads one guild.
func (r *Repository) Get(ctx context.Context, id string) (Guild, error) {
	g, err := scanGuild(r.pool.QueryRow(ctx, `SELECT `+guildColumns+` FROM guilds WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Guild{}, shared.NewNotFound("guild", id)
	}
	if err != nil {
		return Guild{}, fmt.Errorf("guilds: get: %w", err)
	}
	return g, nil
}

// Upsert inserts the guild or refreshes its settings. The ticket counter is
// never overwritten by an upsert.
func (r *Repository) Upsert(ctx context.Context, g Guild) (Guild, error) {
	g.ID = strings.TrimSpace(g.ID)
	g.OwnerDiscordID = strings.TrimSpace(g.OwnerDiscordID)
	if err := shared.ValidateStruct(g); err != nil {
		return Guild{}, err
	}
	out, err := scanGuild(r.pool.QueryRow(ctx, `
INSERT INTO guilds (id, owner_discord_id, max_tickets_per_user, autoclose_exclude_default)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE
SET owner_discord_id = EXCLUDED.owner_discord_id,
    max_tickets_per_user = EXCLUDED.max_tickets_per_user,
    autoclose_exclude_default = EXCLUDED.autoclose_exclude_default,
    updated_at = NOW()
RETURNING `+guildColumns, g.ID, g.OwnerDiscordID, g.MaxTicketsPerUser, g.AutoCloseExcludeDefault))
	if err != nil {
		return Guild{}, fmt.Errorf("guilds: upsert: %w", err)
	}
	return out, nil
}

// SetOwner records an ownership transfer. Callers must invalidate the
// guild's cached permissions after it returns.
func (r *Repository) SetOwner(ctx context.Context, id, ownerDiscordID string) error {
	if strings.TrimSpace(ownerDiscordID) == "" {
		return shared.Invalid("owner_discord_id", "required")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE guilds SET owner_discord_id = $2, updated_at = NOW() WHERE id = $1`, id, ownerDiscordID)
	if err != nil {
		return fmt.Errorf("guilds: set owner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFound("guild", id)
	}
	return nil
}

// GuildOwner returns the owner's Discord id.
func (r *Repository) GuildOwner(ctx context.Context, id string) (string, error) {
	var owner string
	err := r.pool.QueryRow(ctx, `SELECT owner_discord_id FROM guilds WHERE id = $1`, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", shared.NewNotFound("guild", id)
	}
	if err != nil {
		return "", fmt.Errorf("guilds: owner: %w", err)
	}
	return owner, nil
}
