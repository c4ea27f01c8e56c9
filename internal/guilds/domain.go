package guilds

import "time"

// Guild is the tenant boundary. TicketCounter holds the last number handed
// out to a ticket of this guild.
type Guild struct {
	ID                      string `validate:"required,max=32"`
	OwnerDiscordID          string `validate:"required,max=32"`
	MaxTicketsPerUser       int    `validate:"gte=0"`
	TicketCounter           int64
	AutoCloseExcludeDefault bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Unlimited reports whether the guild places no cap on open tickets per user.
func (g Guild) Unlimited() bool {
	return g.MaxTicketsPerUser == 0
}
