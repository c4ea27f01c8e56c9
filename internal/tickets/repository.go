package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guildticket/guildticket/internal/platform/db"
	"github.com/guildticket/guildticket/internal/shared"
)

// Store exposes ticket persistence.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTicket(ctx context.Context, id int64) (Ticket, error)
	ListEvents(ctx context.Context, ticketID int64) ([]Event, error)
	ListDueForAutoClose(ctx context.Context, now time.Time, limit int) ([]Ticket, error)
}

// TxRepository is the transactional surface used by lifecycle transitions.
type TxRepository interface {
	LockGuild(ctx context.Context, guildID string) (GuildSettings, error)
	CountOpenTickets(ctx context.Context, guildID, openerID string) (int, error)
	NextTicketNumber(ctx context.Context, guildID string) (int64, error)
	InsertTicket(ctx context.Context, t Ticket) (Ticket, error)
	AddParticipant(ctx context.Context, ticketID int64, userID string) error
	LockTicket(ctx context.Context, id int64) (Ticket, error)
	UpdateTicket(ctx context.Context, t Ticket, expected Status) (Ticket, error)
	AppendEvent(ctx context.Context, e Event) (Event, error)
}

// Repository implements Store on PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository constructs the repository. txTimeout bounds every
// transaction; zero leaves them unbounded.
func NewRepository(pool *pgxpool.Pool, txTimeout time.Duration) *Repository {
	return &Repository{pool: pool, timeout: txTimeout}
}

// WithTx runs fn at read committed isolation. Transitions take row locks
// with SELECT ... FOR UPDATE so every statement after the lock sees the
// latest committed state.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, db.TxOptions{IsoLevel: pgx.ReadCommitted, Timeout: r.timeout}, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, txRepo{tx: tx})
	})
	if db.IsCode(err, db.CodeSerializationFailure) || db.IsCode(err, db.CodeDeadlockDetected) {
		return fmt.Errorf("tickets: concurrent update: %w", shared.ErrConflict)
	}
	return err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const ticketColumns = `id, guild_id, number, opener_id, category_id, subject, claimed_by_id, status,
close_request_id, close_request_by, close_request_reason, auto_close_at, exclude_from_autoclose,
closed_at, created_at, updated_at`

func scanTicket(row pgx.Row) (Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.GuildID, &t.Number, &t.OpenerID, &t.CategoryID, &t.Subject, &t.ClaimedByID, &t.Status,
		&t.CloseRequestID, &t.CloseRequestBy, &t.CloseRequestReason, &t.AutoCloseAt, &t.ExcludeFromAutoClose,
		&t.ClosedAt, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func getTicket(ctx context.Context, q querier, sql string, id int64) (Ticket, error) {
	t, err := scanTicket(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Ticket{}, shared.NewNotFound("ticket", id)
	}
	if err != nil {
		return Ticket{}, fmt.Errorf("tickets: load ticket: %w", err)
	}
	return t, nil
}

// GetTicket reads a ticket outside any transaction.
func (r *Repository) GetTicket(ctx context.Context, id int64) (Ticket, error) {
	return getTicket(ctx, r.pool, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
}

// ListEvents returns the ticket's events, newest first.
func (r *Repository) ListEvents(ctx context.Context, ticketID int64) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, ticket_id, action, performed_by_id, claimed_by_id, closed_by_id, close_reason, details, created_at
FROM ticket_events
WHERE ticket_id = $1
ORDER BY created_at DESC, id DESC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("tickets: list events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TicketID, &e.Action, &e.PerformedByID, &e.ClaimedByID, &e.ClosedByID, &e.CloseReason, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("tickets: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListDueForAutoClose returns open tickets whose auto-close deadline passed.
func (r *Repository) ListDueForAutoClose(ctx context.Context, now time.Time, limit int) ([]Ticket, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ticketColumns+`
FROM tickets
WHERE status = 'OPEN'
  AND close_request_id IS NOT NULL
  AND NOT exclude_from_autoclose
  AND auto_close_at <= $1
ORDER BY auto_close_at, id
LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("tickets: list due: %w", err)
	}
	defer rows.Close()
	var out []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("tickets: scan due: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

func (r txRepo) LockGuild(ctx context.Context, guildID string) (GuildSettings, error) {
	var g GuildSettings
	err := r.tx.QueryRow(ctx, `
SELECT id, max_tickets_per_user, autoclose_exclude_default
FROM guilds WHERE id = $1 FOR UPDATE`, guildID).Scan(&g.ID, &g.MaxTicketsPerUser, &g.AutoCloseExcludeDefault)
	if errors.Is(err, pgx.ErrNoRows) {
		return GuildSettings{}, shared.NewNotFound("guild", guildID)
	}
	if err != nil {
		return GuildSettings{}, fmt.Errorf("tickets: lock guild: %w", err)
	}
	return g, nil
}

func (r txRepo) CountOpenTickets(ctx context.Context, guildID, openerID string) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `
SELECT COUNT(*) FROM tickets
WHERE guild_id = $1 AND opener_id = $2 AND status <> 'CLOSED'`, guildID, openerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("tickets: count open: %w", err)
	}
	return n, nil
}

func (r txRepo) NextTicketNumber(ctx context.Context, guildID string) (int64, error) {
	var n int64
	err := r.tx.QueryRow(ctx, `
UPDATE guilds SET ticket_counter = ticket_counter + 1, updated_at = NOW()
WHERE id = $1
RETURNING ticket_counter`, guildID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.NewNotFound("guild", guildID)
	}
	if err != nil {
		return 0, fmt.Errorf("tickets: next number: %w", err)
	}
	return n, nil
}

func (r txRepo) InsertTicket(ctx context.Context, t Ticket) (Ticket, error) {
	out, err := scanTicket(r.tx.QueryRow(ctx, `
INSERT INTO tickets (guild_id, number, opener_id, category_id, subject, status, exclude_from_autoclose, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING `+ticketColumns, t.GuildID, t.Number, t.OpenerID, t.CategoryID, t.Subject, t.Status, t.ExcludeFromAutoClose, t.CreatedAt))
	if db.IsCode(err, db.CodeUniqueViolation) {
		return Ticket{}, fmt.Errorf("tickets: number %d taken: %w", t.Number, shared.ErrConflict)
	}
	if err != nil {
		return Ticket{}, fmt.Errorf("tickets: insert ticket: %w", err)
	}
	return out, nil
}

func (r txRepo) AddParticipant(ctx context.Context, ticketID int64, userID string) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO ticket_participants (ticket_id, user_id) VALUES ($1, $2)
ON CONFLICT (ticket_id, user_id) DO NOTHING`, ticketID, userID)
	if err != nil {
		return fmt.Errorf("tickets: add participant: %w", err)
	}
	return nil
}

func (r txRepo) LockTicket(ctx context.Context, id int64) (Ticket, error) {
	return getTicket(ctx, r.tx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, id)
}

// UpdateTicket writes every mutable column, guarded on the status the
// caller read. A status that moved underneath reports ErrConflict.
func (r txRepo) UpdateTicket(ctx context.Context, t Ticket, expected Status) (Ticket, error) {
	out, err := scanTicket(r.tx.QueryRow(ctx, `
UPDATE tickets SET
    claimed_by_id = $3,
    status = $4,
    close_request_id = $5,
    close_request_by = $6,
    close_request_reason = $7,
    auto_close_at = $8,
    exclude_from_autoclose = $9,
    closed_at = $10,
    updated_at = $11
WHERE id = $1 AND status = $2
RETURNING `+ticketColumns,
		t.ID, expected, t.ClaimedByID, t.Status, t.CloseRequestID, t.CloseRequestBy, t.CloseRequestReason,
		t.AutoCloseAt, t.ExcludeFromAutoClose, t.ClosedAt, t.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return Ticket{}, fmt.Errorf("tickets: ticket %d left %s: %w", t.ID, expected, shared.ErrConflict)
	}
	if err != nil {
		return Ticket{}, fmt.Errorf("tickets: update ticket: %w", err)
	}
	return out, nil
}

func (r txRepo) AppendEvent(ctx context.Context, e Event) (Event, error) {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	err := r.tx.QueryRow(ctx, `
INSERT INTO ticket_events (ticket_id, action, performed_by_id, claimed_by_id, closed_by_id, close_reason, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`, e.TicketID, e.Action, e.PerformedByID, e.ClaimedByID, e.ClosedByID, e.CloseReason, e.Details, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return Event{}, fmt.Errorf("tickets: append event: %w", err)
	}
	return e, nil
}
