package roles

import (
	"context"

	"github.com/guildticket/guildticket/internal/permissions"
)

// OwnerLookup resolves a guild's owner.
type OwnerLookup interface {
	GuildOwner(ctx context.Context, guildID string) (string, error)
}

type grantReader interface {
	ActiveRolePermissions(ctx context.Context, guildID, userID string) ([]permissions.Set, error)
	AdditionalPermissions(ctx context.Context, guildID, userID string) (permissions.Set, error)
}

type source struct {
	OwnerLookup
	grantReader
}

// PermissionSource combines the guild registry and the role store into the
// inputs a permissions.Resolver needs.
func PermissionSource(owners OwnerLookup, repo *Repository) permissions.Source {
	return source{OwnerLookup: owners, grantReader: repo}
}
