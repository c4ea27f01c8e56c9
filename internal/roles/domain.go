package roles

import (
	"time"

	"github.com/guildticket/guildticket/internal/permissions"
)

// Status marks whether a role contributes to permission resolution.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Role is a named permission bundle scoped to a guild. Name is unique per guild.
type Role struct {
	ID          int64
	GuildID     string
	Name        string
	Color       int
	Position    int
	Permissions permissions.Set
	IsDefault   bool
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Membership links a Discord user to a role.
type Membership struct {
	RoleID        int64
	GuildID       string
	DiscordUserID string
	AssignedBy    string
	AssignedAt    time.Time
}

// Grant is the per-user permission layer applied on top of roles.
type Grant struct {
	GuildID     string
	UserID      string
	Permissions permissions.Set
	UpdatedAt   time.Time
}

// CreateRoleInput captures a custom role definition.
type CreateRoleInput struct {
	GuildID     string `validate:"required,max=32"`
	Name        string `validate:"required,max=100"`
	Color       int    `validate:"gte=0,lte=16777215"`
	Position    int    `validate:"gte=0,lte=1000"`
	Permissions permissions.Set
}

// DefaultRole describes one role created by the guild bootstrap.
type DefaultRole struct {
	Name        string
	Color       int
	Position    int
	Permissions permissions.Set
}

// DefaultRoles are created once per guild by EnsureDefaultRoles.
var DefaultRoles = []DefaultRole{
	{Name: "admin", Color: 0xE74C3C, Position: 100, Permissions: permissions.AdminDefault},
	{Name: "support", Color: 0x3498DB, Position: 50, Permissions: permissions.SupportDefault},
	{Name: "viewer", Color: 0x95A5A6, Position: 10, Permissions: permissions.ViewerDefault},
}
