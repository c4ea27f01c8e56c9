package tickets

import (
	"context"
	"time"

	"github.com/guildticket/guildticket/internal/shared"
)

// DefaultSweepLimit caps one ListDue page when the caller passes no limit.
const DefaultSweepLimit = 100

// Get reads a ticket.
func (l *Lifecycle) Get(ctx context.Context, ticketID int64) (Ticket, error) {
	if ticketID <= 0 {
		return Ticket{}, shared.Invalid("ticket_id", "gt=0")
	}
	return l.store.GetTicket(ctx, ticketID)
}

// GetHistory returns the ticket's lifecycle events, newest first.
func (l *Lifecycle) GetHistory(ctx context.Context, ticketID int64) ([]Event, error) {
	if _, err := l.Get(ctx, ticketID); err != nil {
		return nil, err
	}
	return l.store.ListEvents(ctx, ticketID)
}

// GetCurrentClaim returns the claimer recorded on the ticket row. The event
// log is not consulted.
func (l *Lifecycle) GetCurrentClaim(ctx context.Context, ticketID int64) (string, bool, error) {
	t, err := l.Get(ctx, ticketID)
	if err != nil {
		return "", false, err
	}
	claimer, ok := t.ClaimedBy()
	return claimer, ok, nil
}

// ListDue returns tickets whose auto-close deadline is at or before now.
func (l *Lifecycle) ListDue(ctx context.Context, now time.Time, limit int) ([]Ticket, error) {
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	return l.store.ListDueForAutoClose(ctx, now.UTC(), limit)
}
