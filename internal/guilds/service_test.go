package guilds

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildticket/guildticket/internal/actor"
	"github.com/guildticket/guildticket/internal/permissions"
	"github.com/guildticket/guildticket/internal/shared"
)

type mockRepository struct {
	mu     sync.Mutex
	guilds map[string]Guild
}

func newMockRepository() *mockRepository {
	return &mockRepository{guilds: map[string]Guild{}}
}

func (m *mockRepository) Get(ctx context.Context, id string) (Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[id]
	if !ok {
		return Guild{}, shared.NewNotFound("guild", id)
	}
	return g, nil
}

func (m *mockRepository) Upsert(ctx context.Context, g Guild) (Guild, error) {
	if err := shared.ValidateStruct(g); err != nil {
		return Guild{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.guilds[g.ID]; ok {
		g.TicketCounter = prev.TicketCounter
	}
	m.guilds[g.ID] = g
	return g, nil
}

func (m *mockRepository) SetOwner(ctx context.Context, id, ownerDiscordID string) error {
	if ownerDiscordID == "" {
		return shared.Invalid("owner_discord_id", "required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[id]
	if !ok {
		return shared.NewNotFound("guild", id)
	}
	g.OwnerDiscordID = ownerDiscordID
	m.guilds[id] = g
	return nil
}

type recordingInvalidator struct {
	guilds []string
	err    error
}

func (r *recordingInvalidator) InvalidateGuild(ctx context.Context, guildID string) error {
	r.guilds = append(r.guilds, guildID)
	return r.err
}

func newService() (*Service, *mockRepository, *recordingInvalidator) {
	repo := newMockRepository()
	inv := &recordingInvalidator{}
	return NewService(repo, actor.NewGuard(nil, nil), inv, nil), repo, inv
}

func TestRegisterKeepsCounterAndInvalidates(t *testing.T) {
	svc, repo, inv := newService()
	ctx := context.Background()

	_, err := svc.Register(ctx, Guild{ID: "g1", OwnerDiscordID: "1", MaxTicketsPerUser: 2})
	require.NoError(t, err)
	repo.guilds["g1"] = Guild{ID: "g1", OwnerDiscordID: "1", MaxTicketsPerUser: 2, TicketCounter: 9}

	g, err := svc.Register(ctx, Guild{ID: "g1", OwnerDiscordID: "1", MaxTicketsPerUser: 0})
	require.NoError(t, err)
	assert.EqualValues(t, 9, g.TicketCounter)
	assert.True(t, g.Unlimited())
	assert.Equal(t, []string{"g1", "g1"}, inv.guilds)

	_, err = svc.Register(ctx, Guild{ID: "g2"})
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Len(t, inv.guilds, 2)
}

func TestGetMissingGuild(t *testing.T) {
	svc, _, _ := newService()
	_, err := svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestTransferOwnership(t *testing.T) {
	svc, repo, inv := newService()
	repo.guilds["g1"] = Guild{ID: "g1", OwnerDiscordID: "1"}

	member := actor.WithActor(context.Background(), actor.DiscordUser{UserID: "2", GuildID: "g1", Permissions: permissions.ViewerDefault})
	err := svc.TransferOwnership(member, "g1", "2")
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)
	assert.Empty(t, inv.guilds)

	owner := actor.WithActor(context.Background(), actor.DiscordUser{UserID: "1", GuildID: "g1", Permissions: permissions.All})
	require.NoError(t, svc.TransferOwnership(owner, "g1", "2"))
	assert.Equal(t, "2", repo.guilds["g1"].OwnerDiscordID)
	assert.Equal(t, []string{"g1"}, inv.guilds)

	system := actor.WithActor(context.Background(), actor.System{Identifier: "gateway"})
	assert.ErrorIs(t, svc.TransferOwnership(system, "g9", "3"), shared.ErrNotFound)
	assert.ErrorIs(t, svc.TransferOwnership(system, "g1", " "), shared.ErrValidation)
}

func TestInvalidationFailureIsTolerated(t *testing.T) {
	svc, repo, inv := newService()
	repo.guilds["g1"] = Guild{ID: "g1", OwnerDiscordID: "1"}
	inv.err = errors.New("redis down")

	system := actor.WithActor(context.Background(), actor.System{Identifier: "gateway"})
	assert.NoError(t, svc.TransferOwnership(system, "g1", "5"))
}
