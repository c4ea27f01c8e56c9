// Package actor carries the identity performing an operation through a
// context.Context and checks its guild permissions.
package actor

import (
	"strings"

	"github.com/guildticket/guildticket/internal/permissions"
	"github.com/guildticket/guildticket/internal/shared"
)

// Kind names an actor variant.
type Kind string

const (
	KindDiscordUser Kind = "discord_user"
	KindWebUser     Kind = "web_user"
	KindSystem      Kind = "system"
)

// Actor is one of DiscordUser, WebUser or System.
type Actor interface {
	Kind() Kind
	sealed()
}

// DiscordUser acts from inside a guild through the bot.
type DiscordUser struct {
	UserID      string
	GuildID     string
	Permissions permissions.Set
}

// WebUser acts through the dashboard; SelectedGuildID is empty until a guild is picked.
type WebUser struct {
	UserID          string
	SelectedGuildID string
	Permissions     permissions.Set
}

// System is an internal caller such as a scheduled job. It bypasses permission checks.
type System struct {
	Identifier string
}

func (DiscordUser) Kind() Kind { return KindDiscordUser }
func (WebUser) Kind() Kind     { return KindWebUser }
func (System) Kind() Kind      { return KindSystem }

func (DiscordUser) sealed() {}
func (WebUser) sealed()     {}
func (System) sealed()      {}

// IsSystem reports whether a is the System variant.
func IsSystem(a Actor) bool {
	_, ok := a.(System)
	return ok
}

// GuildID returns the guild the actor operates in.
func GuildID(a Actor) (string, error) {
	switch v := a.(type) {
	case DiscordUser:
		if strings.TrimSpace(v.GuildID) == "" {
			return "", &shared.ActorValidationError{Reason: "discord actor without guild"}
		}
		return v.GuildID, nil
	case WebUser:
		if strings.TrimSpace(v.SelectedGuildID) == "" {
			return "", &shared.ActorValidationError{Reason: "web actor has no selected guild"}
		}
		return v.SelectedGuildID, nil
	case System:
		return "", &shared.ActorValidationError{Reason: "system actor is not scoped to a guild"}
	default:
		return "", &shared.ActorValidationError{Reason: "unknown actor"}
	}
}

// UserID returns the Discord user id behind a, if any.
func UserID(a Actor) (string, bool) {
	switch v := a.(type) {
	case DiscordUser:
		return v.UserID, v.UserID != ""
	case WebUser:
		return v.UserID, v.UserID != ""
	case System:
		return "", false
	default:
		return "", false
	}
}

// PerformerID is the id recorded in audit entries: the user id, or the
// system identifier.
func PerformerID(a Actor) string {
	switch v := a.(type) {
	case DiscordUser:
		return v.UserID
	case WebUser:
		return v.UserID
	case System:
		return v.Identifier
	default:
		return ""
	}
}

// carried returns the permission snapshot attached to the actor at bind time.
func carried(a Actor) permissions.Set {
	switch v := a.(type) {
	case DiscordUser:
		return v.Permissions
	case WebUser:
		return v.Permissions
	case System:
		return permissions.All
	default:
		return permissions.None
	}
}

func validate(a Actor) error {
	switch v := a.(type) {
	case DiscordUser:
		if v.UserID == "" || v.GuildID == "" {
			return &shared.ActorValidationError{Reason: "discord actor requires user and guild"}
		}
	case WebUser:
		if v.UserID == "" {
			return &shared.ActorValidationError{Reason: "web actor requires user"}
		}
	case System:
		if v.Identifier == "" {
			return &shared.ActorValidationError{Reason: "system actor requires identifier"}
		}
	default:
		return &shared.ActorValidationError{Reason: "unknown actor"}
	}
	return nil
}
