package tickets

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guildticket/guildticket/internal/actor"
	"github.com/guildticket/guildticket/internal/observability"
	"github.com/guildticket/guildticket/internal/permissions"
	"github.com/guildticket/guildticket/internal/shared"
)

// Authorizer resolves the bound actor's permissions in a guild.
// *actor.Guard implements it.
type Authorizer interface {
	PermissionsIn(ctx context.Context, guildID string) (permissions.Set, error)
}

// AutoCloseScheduler arranges for AutoClose to be invoked at a deadline.
type AutoCloseScheduler interface {
	ScheduleAutoClose(ctx context.Context, ticketID int64, closeRequestID string, at time.Time) error
}

// Config carries the lifecycle's optional collaborators.
type Config struct {
	Guard     Authorizer
	Scheduler AutoCloseScheduler
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// Lifecycle drives tickets through OPEN, CLAIMED and CLOSED. Each
// transition locks the ticket, checks the bound actor, writes the new state
// and appends one event inside a single transaction.
type Lifecycle struct {
	store     Store
	guard     Authorizer
	scheduler AutoCloseScheduler
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewLifecycle constructs the state machine.
func NewLifecycle(store Store, cfg Config) *Lifecycle {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		store:     store,
		guard:     cfg.Guard,
		scheduler: cfg.Scheduler,
		metrics:   cfg.Metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock, primarily for tests.
func (l *Lifecycle) WithNow(now func() time.Time) *Lifecycle {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *Lifecycle) clock() time.Time {
	return l.now().UTC()
}

// Create opens a ticket numbered from the guild counter. The opener must
// stay under the guild's open ticket limit.
func (l *Lifecycle) Create(ctx context.Context, in CreateInput) (Ticket, error) {
	in.GuildID = strings.TrimSpace(in.GuildID)
	in.OpenerID = strings.TrimSpace(in.OpenerID)
	in.Subject = strings.TrimSpace(in.Subject)
	if err := shared.ValidateStruct(in); err != nil {
		return Ticket{}, err
	}
	a, err := actor.Current(ctx)
	if err != nil {
		return Ticket{}, err
	}
	if err := actor.CheckGuild(a, in.GuildID); err != nil {
		return Ticket{}, err
	}

	var created Ticket
	err = l.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		guild, err := tx.LockGuild(ctx, in.GuildID)
		if err != nil {
			return err
		}
		if guild.MaxTicketsPerUser > 0 {
			open, err := tx.CountOpenTickets(ctx, in.GuildID, in.OpenerID)
			if err != nil {
				return err
			}
			if open >= guild.MaxTicketsPerUser {
				return ErrTicketLimit
			}
		}
		number, err := tx.NextTicketNumber(ctx, in.GuildID)
		if err != nil {
			return err
		}
		now := l.clock()
		t, err := tx.InsertTicket(ctx, Ticket{
			GuildID:              in.GuildID,
			Number:               number,
			OpenerID:             in.OpenerID,
			CategoryID:           in.CategoryID,
			Subject:              in.Subject,
			Status:               StatusOpen,
			ExcludeFromAutoClose: in.ExcludeFromAutoClose || guild.AutoCloseExcludeDefault,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
		if err != nil {
			return err
		}
		if err := tx.AddParticipant(ctx, t.ID, in.OpenerID); err != nil {
			return err
		}
		if _, err := tx.AppendEvent(ctx, Event{
			TicketID:      t.ID,
			Action:        ActionCreated,
			PerformedByID: actor.PerformerID(a),
			Details:       map[string]any{"number": number, "opener_id": in.OpenerID},
			CreatedAt:     now,
		}); err != nil {
			return err
		}
		created = t
		return nil
	})
	l.record(ActionCreated, a, created, err)
	if err != nil {
		return Ticket{}, shared.PublicError(actor.IsSystem(a), err)
	}
	return created, nil
}

// Claim assigns the bound user as handler. A claimed ticket can only be
// taken over with force. Requires TICKET_CLAIM.
func (l *Lifecycle) Claim(ctx context.Context, ticketID int64, force bool) (Ticket, error) {
	return l.transition(ctx, ActionClaimed, ticketID, func(ctx context.Context, a actor.Actor, t *Ticket) (Event, error) {
		userID, ok := actor.UserID(a)
		if !ok {
			return Event{}, &shared.ActorValidationError{Reason: "claim requires a user actor"}
		}
		if err := l.authorize(ctx, a, *t, permissions.TicketClaim); err != nil {
			return Event{}, err
		}
		ev := Event{ClaimedByID: &userID}
		switch t.Status {
		case StatusOpen:
		case StatusClaimed:
			current, _ := t.ClaimedBy()
			if !force || current == userID {
				return Event{}, &shared.AlreadyClaimedError{ClaimedByID: current}
			}
			ev.Details = map[string]any{"forced": true, "previous_claimed_by_id": current}
		default:
			return Event{}, &shared.TransitionError{Action: "claim", From: string(t.Status)}
		}
		t.Status = StatusClaimed
		t.ClaimedByID = &userID
		return ev, nil
	})
}

// Unclaim returns a claimed ticket to OPEN. Allowed for the claimer or a
// holder of TICKET_CLAIM.
func (l *Lifecycle) Unclaim(ctx context.Context, ticketID int64) (Ticket, error) {
	return l.transition(ctx, ActionUnclaimed, ticketID, func(ctx context.Context, a actor.Actor, t *Ticket) (Event, error) {
		current, claimed := t.ClaimedBy()
		userID, _ := actor.UserID(a)
		if err := l.authorize(ctx, a, *t, permissions.TicketClaim, claimed && current == userID); err != nil {
			return Event{}, err
		}
		if !claimed {
			return Event{}, &shared.TransitionError{Action: "unclaim", From: string(t.Status)}
		}
		t.Status = StatusOpen
		t.ClaimedByID = nil
		return Event{ClaimedByID: &current}, nil
	})
}

// Close closes a ticket that is not already closed. Allowed for the opener,
// the claimer or a holder of TICKET_CLOSE_ANY. A pending close request is
// discarded.
func (l *Lifecycle) Close(ctx context.Context, in CloseInput) (Ticket, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := shared.ValidateStruct(in); err != nil {
		return Ticket{}, err
	}
	return l.transition(ctx, ActionClosed, in.TicketID, func(ctx context.Context, a actor.Actor, t *Ticket) (Event, error) {
		userID, isUser := actor.UserID(a)
		current, claimed := t.ClaimedBy()
		isOpener := isUser && t.OpenerID == userID
		isClaimer := isUser && claimed && current == userID
		if err := l.authorize(ctx, a, *t, permissions.TicketCloseAny, isOpener, isClaimer); err != nil {
			return Event{}, err
		}
		if t.Status == StatusClosed {
			return Event{}, &shared.TransitionError{Action: "close", From: string(t.Status)}
		}
		l.closeTicket(t)
		performer := actor.PerformerID(a)
		ev := Event{ClosedByID: &performer, CloseReason: strPtr(in.Reason)}
		if claimed {
			ev.ClaimedByID = &current
		}
		return ev, nil
	})
}

// Reopen moves a closed ticket back to OPEN. Allowed for the opener or a
// holder of TICKET_CLOSE_ANY.
func (l *Lifecycle) Reopen(ctx context.Context, ticketID int64) (Ticket, error) {
	return l.transition(ctx, ActionReopened, ticketID, func(ctx context.Context, a actor.Actor, t *Ticket) (Event, error) {
		userID, isUser := actor.UserID(a)
		if err := l.authorize(ctx, a, *t, permissions.TicketCloseAny, isUser && t.OpenerID == userID); err != nil {
			return Event{}, err
		}
		if t.Status != StatusClosed {
			return Event{}, &shared.TransitionError{Action: "reopen", From: string(t.Status)}
		}
		t.Status = StatusOpen
		t.ClosedAt = nil
		return Event{}, nil
	})
}

// RequestClose records a pending close request on an open ticket. Who may
// request closure is decided by the caller. With AutoCloseHours set and the
// ticket not excluded, a deadline is stored and handed to the scheduler
// once the transaction commits.
func (l *Lifecycle) RequestClose(ctx context.Context, in RequestCloseInput) (Ticket, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := shared.ValidateStruct(in); err != nil {
		return Ticket{}, err
	}
	t, err := l.transition(ctx, ActionCloseRequested, in.TicketID, func(ctx context.Context, a actor.Actor, t *Ticket) (Event, error) {
		if t.Status != StatusOpen {
			return Event{}, &shared.TransitionError{Action: "request close", From: string(t.Status)}
		}
		if t.CloseRequestPending() {
			return Event{}, ErrCloseRequestPending
		}
		id := uuid.New()
		performer := actor.PerformerID(a)
		t.CloseRequestID = &id
		t.CloseRequestBy = &performer
		t.CloseRequestReason = strPtr(in.Reason)
		details := map[string]any{"close_request_id": id.String()}
		if in.AutoCloseHours != nil && !t.ExcludeFromAutoClose {
			at := l.clock().Add(time.Duration(*in.AutoCloseHours) * time.Hour)
			t.AutoCloseAt = &at
			details["auto_close_at"] = at.Format(time.RFC3339)
		}
		return Event{CloseReason: t.CloseRequestReason, Details: details}, nil
	})
	if err != nil {
		return Ticket{}, err
	}
	l.scheduleAutoClose(ctx, t)
	return t, nil
}

// CancelCloseRequest withdraws the pending close request. Only the opener
// may cancel.
func (l *Lifecycle) CancelCloseRequest(ctx context.Context, ticketID int64) (Ticket, error) {
	return l.transition(ctx, ActionCloseRequestCancelled, ticketID, func(ctx context.Context, a actor.Actor, t *Ticket) (Event, error) {
		userID, isUser := actor.UserID(a)
		if !actor.IsSystem(a) && !(isUser && t.OpenerID == userID) {
			return Event{}, &shared.PermissionDeniedError{Permissions: []string{"TICKET_OPENER"}, ActorType: string(a.Kind())}
		}
		if !t.CloseRequestPending() {
			return Event{}, &shared.TransitionError{Action: "cancel close request", From: string(t.Status), Reason: "no pending close request"}
		}
		details := map[string]any{"close_request_id": t.CloseRequestID.String()}
		t.clearCloseRequest()
		return Event{Details: details}, nil
	})
}

// AutoClose is the scheduler entry point. Preconditions are re-checked
// under the row lock, so a redelivered call after the ticket closed fails
// with ErrInvalidTransition and writes nothing. A non-empty closeRequestID
// must name the pending request; tasks left over from a cancelled or
// replaced request fail the same way.
func (l *Lifecycle) AutoClose(ctx context.Context, ticketID int64, closeRequestID, closedByID string) (Ticket, error) {
	closeRequestID = strings.TrimSpace(closeRequestID)
	return l.transition(ctx, ActionAutoClosed, ticketID, func(ctx context.Context, a actor.Actor, t *Ticket) (Event, error) {
		switch {
		case t.Status != StatusOpen:
			return Event{}, &shared.TransitionError{Action: "auto close", From: string(t.Status)}
		case !t.CloseRequestPending():
			return Event{}, &shared.TransitionError{Action: "auto close", From: string(t.Status), Reason: "no pending close request"}
		case t.ExcludeFromAutoClose:
			return Event{}, &shared.TransitionError{Action: "auto close", From: string(t.Status), Reason: "excluded from auto close"}
		case closeRequestID != "" && t.CloseRequestID.String() != closeRequestID:
			return Event{}, &shared.TransitionError{Action: "auto close", From: string(t.Status), Reason: "close request superseded"}
		}
		closer := strings.TrimSpace(closedByID)
		if closer == "" {
			closer = actor.PerformerID(a)
		}
		details := map[string]any{"close_request_id": t.CloseRequestID.String()}
		reason := t.CloseRequestReason
		l.closeTicket(t)
		return Event{ClosedByID: &closer, CloseReason: reason, Details: details}, nil
	})
}

// SetAutoCloseExclusion toggles whether the ticket may be auto-closed.
// Excluding drops a pending deadline. Requires TICKET_EXCLUDE_AUTOCLOSE.
func (l *Lifecycle) SetAutoCloseExclusion(ctx context.Context, ticketID int64, excluded bool) (Ticket, error) {
	return l.transition(ctx, ActionAutoCloseExclusionChanged, ticketID, func(ctx context.Context, a actor.Actor, t *Ticket) (Event, error) {
		if err := l.authorize(ctx, a, *t, permissions.TicketExcludeAutoClose); err != nil {
			return Event{}, err
		}
		if t.Status == StatusClosed {
			return Event{}, &shared.TransitionError{Action: "change auto close exclusion", From: string(t.Status)}
		}
		if t.ExcludeFromAutoClose == excluded {
			return Event{}, &shared.TransitionError{Action: "change auto close exclusion", From: string(t.Status), Reason: "already set"}
		}
		t.ExcludeFromAutoClose = excluded
		if excluded {
			t.AutoCloseAt = nil
		}
		return Event{Details: map[string]any{"excluded": excluded}}, nil
	})
}

type mutation func(ctx context.Context, a actor.Actor, t *Ticket) (Event, error)

// transition runs one state change: lock, scope check, mutate, guarded
// update and event append, all in one transaction.
func (l *Lifecycle) transition(ctx context.Context, action Action, ticketID int64, mutate mutation) (Ticket, error) {
	if ticketID <= 0 {
		return Ticket{}, shared.Invalid("ticket_id", "gt=0")
	}
	a, err := actor.Current(ctx)
	if err != nil {
		return Ticket{}, err
	}

	var out Ticket
	err = l.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.LockTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := actor.CheckGuild(a, t.GuildID); err != nil {
			return err
		}
		from := t.Status
		ev, err := mutate(ctx, a, &t)
		if err != nil {
			return err
		}
		now := l.clock()
		t.UpdatedAt = now
		updated, err := tx.UpdateTicket(ctx, t, from)
		if err != nil {
			return err
		}
		ev.TicketID = t.ID
		ev.Action = action
		ev.PerformedByID = actor.PerformerID(a)
		ev.CreatedAt = now
		if _, err := tx.AppendEvent(ctx, ev); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		l.record(action, a, Ticket{ID: ticketID}, err)
		return Ticket{}, shared.PublicError(actor.IsSystem(a), err)
	}
	l.record(action, a, out, nil)
	return out, nil
}

// authorize passes when the actor is System, when any relation holds, or
// when the actor's resolved permissions include flag.
func (l *Lifecycle) authorize(ctx context.Context, a actor.Actor, t Ticket, flag permissions.Set, relations ...bool) error {
	if actor.IsSystem(a) {
		return nil
	}
	for _, ok := range relations {
		if ok {
			return nil
		}
	}
	if l.guard == nil {
		return actor.Denied(a, flag)
	}
	held, err := l.guard.PermissionsIn(ctx, t.GuildID)
	if err != nil {
		return err
	}
	if !held.Has(flag) {
		return actor.Denied(a, flag)
	}
	return nil
}

func (l *Lifecycle) closeTicket(t *Ticket) {
	now := l.clock()
	t.Status = StatusClosed
	t.ClaimedByID = nil
	t.ClosedAt = &now
	t.clearCloseRequest()
}

// scheduleAutoClose is best effort; the sweep picks up deadlines whose
// task was never enqueued.
func (l *Lifecycle) scheduleAutoClose(ctx context.Context, t Ticket) {
	if l.scheduler == nil || t.AutoCloseAt == nil || t.CloseRequestID == nil {
		return
	}
	if err := l.scheduler.ScheduleAutoClose(ctx, t.ID, t.CloseRequestID.String(), *t.AutoCloseAt); err != nil {
		l.logger.Warn("schedule auto close",
			slog.Int64("ticket_id", t.ID),
			slog.Time("auto_close_at", *t.AutoCloseAt),
			slog.Any("error", err))
	}
}

func (l *Lifecycle) record(action Action, a actor.Actor, t Ticket, err error) {
	outcome := outcomeOf(err)
	l.metrics.Transition(string(action), outcome)
	attrs := []any{
		slog.String("action", string(action)),
		slog.Int64("ticket_id", t.ID),
		slog.String("actor", actor.PerformerID(a)),
		slog.String("actor_type", string(a.Kind())),
	}
	switch outcome {
	case "success":
		l.logger.Info("ticket transition", append(attrs,
			slog.String("guild_id", t.GuildID),
			slog.Int64("number", t.Number),
			slog.String("status", string(t.Status)))...)
	case "error":
		l.logger.Error("ticket transition failed", append(attrs, slog.Any("error", err))...)
	default:
		l.logger.Debug("ticket transition rejected", append(attrs, slog.String("outcome", outcome), slog.Any("error", err))...)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, shared.ErrPermissionDenied), errors.Is(err, shared.ErrActorValidation):
		return "denied"
	case errors.Is(err, shared.ErrInvalidTransition):
		return "invalid"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrValidation):
		return "invalid_input"
	default:
		return "error"
	}
}
