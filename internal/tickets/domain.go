package tickets

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/guildticket/guildticket/internal/shared"
)

// Status is a ticket state.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClaimed Status = "CLAIMED"
	StatusClosed  Status = "CLOSED"
)

// Action names a lifecycle event.
type Action string

const (
	ActionCreated                   Action = "created"
	ActionClaimed                   Action = "claimed"
	ActionUnclaimed                 Action = "unclaimed"
	ActionClosed                    Action = "closed"
	ActionReopened                  Action = "reopened"
	ActionCloseRequested            Action = "close_requested"
	ActionCloseRequestCancelled     Action = "close_request_cancelled"
	ActionAutoClosed                Action = "auto_closed"
	ActionAutoCloseExclusionChanged Action = "autoclose_exclusion_changed"
)

var (
	// ErrTicketLimit is returned by Create when the opener already holds the
	// guild's maximum number of open tickets.
	ErrTicketLimit = fmt.Errorf("open ticket limit reached: %w", shared.ErrConflict)
	// ErrCloseRequestPending is returned by RequestClose when a request is
	// already awaiting resolution.
	ErrCloseRequestPending = fmt.Errorf("close request already pending: %w", shared.ErrConflict)
)

// Ticket is the state machine's subject. ClaimedByID is set exactly when
// Status is CLAIMED.
type Ticket struct {
	ID                   int64
	GuildID              string
	Number               int64
	OpenerID             string
	CategoryID           *string
	Subject              string
	ClaimedByID          *string
	Status               Status
	CloseRequestID       *uuid.UUID
	CloseRequestBy       *string
	CloseRequestReason   *string
	AutoCloseAt          *time.Time
	ExcludeFromAutoClose bool
	ClosedAt             *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CloseRequestPending reports whether a close request awaits resolution.
func (t Ticket) CloseRequestPending() bool {
	return t.CloseRequestID != nil
}

// ClaimedBy returns the current claimer.
func (t Ticket) ClaimedBy() (string, bool) {
	if t.Status != StatusClaimed || t.ClaimedByID == nil {
		return "", false
	}
	return *t.ClaimedByID, true
}

// DueForAutoClose reports whether the sweep should close the ticket at now.
func (t Ticket) DueForAutoClose(now time.Time) bool {
	return t.Status == StatusOpen &&
		t.CloseRequestPending() &&
		!t.ExcludeFromAutoClose &&
		t.AutoCloseAt != nil &&
		!t.AutoCloseAt.After(now)
}

func (t *Ticket) clearCloseRequest() {
	t.CloseRequestID = nil
	t.CloseRequestBy = nil
	t.CloseRequestReason = nil
	t.AutoCloseAt = nil
}

// Event is an immutable audit record of one transition.
type Event struct {
	ID            int64
	TicketID      int64
	Action        Action
	PerformedByID string
	ClaimedByID   *string
	ClosedByID    *string
	CloseReason   *string
	Details       map[string]any
	CreatedAt     time.Time
}

// CreateInput opens a ticket.
type CreateInput struct {
	GuildID              string  `validate:"required,max=32"`
	OpenerID             string  `validate:"required,max=32"`
	CategoryID           *string `validate:"omitempty,max=64"`
	Subject              string  `validate:"max=200"`
	ExcludeFromAutoClose bool
}

// CloseInput closes a ticket.
type CloseInput struct {
	TicketID int64  `validate:"required,gt=0"`
	Reason   string `validate:"max=1024"`
}

// RequestCloseInput asks the opener to confirm closure. When AutoCloseHours
// is set the ticket closes by itself after that many hours.
type RequestCloseInput struct {
	TicketID       int64  `validate:"required,gt=0"`
	Reason         string `validate:"max=1024"`
	AutoCloseHours *int   `validate:"omitempty,gte=1,lte=720"`
}

// GuildSettings is the slice of guild state ticket creation needs.
type GuildSettings struct {
	ID                      string
	MaxTicketsPerUser       int
	AutoCloseExcludeDefault bool
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
