package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/guildticket/guildticket/internal/permissions"
	"github.com/guildticket/guildticket/internal/shared"
)

type stubResolver struct {
	mu    sync.Mutex
	perms map[string]permissions.Set
	err   error
	calls []string
}

func (s *stubResolver) Resolve(ctx context.Context, guildID, userID string) (permissions.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, guildID+"/"+userID)
	if s.err != nil {
		return permissions.None, s.err
	}
	return s.perms[guildID+"/"+userID], nil
}

func TestCurrentWithoutBinding(t *testing.T) {
	_, err := Current(context.Background())
	assert.ErrorIs(t, err, shared.ErrActorContextMissing)

	_, ok := TryCurrent(context.Background())
	assert.False(t, ok)
}

func TestRunBindsActorForCallee(t *testing.T) {
	a := DiscordUser{UserID: "1", GuildID: "g1"}
	err := Run(context.Background(), a, func(ctx context.Context) error {
		got, err := Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, a, got)

		done := make(chan Actor)
		go func() {
			inner, _ := TryCurrent(ctx)
			done <- inner
		}()
		assert.Equal(t, a, <-done, "goroutines handed the context inherit the binding")
		return nil
	})
	require.NoError(t, err)
}

func TestRunRejectsInvalidActors(t *testing.T) {
	called := false
	fn := func(context.Context) error { called = true; return nil }

	for _, a := range []Actor{nil, DiscordUser{UserID: "1"}, WebUser{}, System{}} {
		err := Run(context.Background(), a, fn)
		assert.ErrorIs(t, err, shared.ErrActorValidation, fmt.Sprintf("%#v", a))
	}
	assert.False(t, called)
}

func TestBindingsDoNotLeakAcrossConcurrentTasks(t *testing.T) {
	var g errgroup.Group
	for i := 0; i < 50; i++ {
		id := fmt.Sprint(i)
		g.Go(func() error {
			return Run(context.Background(), DiscordUser{UserID: id, GuildID: "g"}, func(ctx context.Context) error {
				got, err := Current(ctx)
				if err != nil {
					return err
				}
				if PerformerID(got) != id {
					return errors.New("saw another task's actor")
				}
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
}

func TestGuildIDPerVariant(t *testing.T) {
	id, err := GuildID(DiscordUser{UserID: "1", GuildID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, "g1", id)

	id, err = GuildID(WebUser{UserID: "1", SelectedGuildID: "g2"})
	require.NoError(t, err)
	assert.Equal(t, "g2", id)

	_, err = GuildID(WebUser{UserID: "1"})
	assert.ErrorIs(t, err, shared.ErrActorValidation)

	_, err = GuildID(System{Identifier: "cron"})
	assert.ErrorIs(t, err, shared.ErrActorValidation)
}

func TestRequirePermissionUsesResolver(t *testing.T) {
	res := &stubResolver{perms: map[string]permissions.Set{"g1/1": permissions.TicketClaim}}
	guard := NewGuard(res, nil)
	ctx := WithActor(context.Background(), DiscordUser{UserID: "1", GuildID: "g1", Permissions: permissions.All})

	require.NoError(t, guard.RequirePermission(ctx, permissions.TicketClaim))

	err := guard.RequirePermission(ctx, permissions.TicketCloseAny)
	require.Error(t, err)
	var denied *shared.PermissionDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, []string{"TICKET_CLOSE_ANY"}, denied.Permissions)
	assert.Equal(t, "discord_user", denied.ActorType)
	assert.NotContains(t, err.Error(), "32", "raw bitfields stay out of messages")
}

func TestRequirePermissionFallsBackToCarriedSet(t *testing.T) {
	guard := NewGuard(nil, nil)
	ctx := WithActor(context.Background(), WebUser{UserID: "1", SelectedGuildID: "g1", Permissions: permissions.TicketView})

	assert.NoError(t, guard.RequirePermission(ctx, permissions.TicketView))
	assert.ErrorIs(t, guard.RequirePermission(ctx, permissions.TicketClaim), shared.ErrPermissionDenied)
}

func TestSystemBypassesChecks(t *testing.T) {
	res := &stubResolver{}
	guard := NewGuard(res, nil)
	ctx := WithActor(context.Background(), System{Identifier: "worker"})

	assert.NoError(t, guard.RequirePermission(ctx, permissions.All))
	assert.NoError(t, guard.RequirePermissionIn(ctx, "any-guild", permissions.RoleManage))
	assert.True(t, guard.HasAll(ctx, permissions.RoleManage, permissions.TicketDelete))
	assert.Empty(t, res.calls)
}

func TestWebUserWithoutGuildCannotResolve(t *testing.T) {
	guard := NewGuard(&stubResolver{}, nil)
	ctx := WithActor(context.Background(), WebUser{UserID: "1"})

	err := guard.RequirePermission(ctx, permissions.TicketView)
	assert.ErrorIs(t, err, shared.ErrActorValidation)
	assert.False(t, guard.HasPermission(ctx, permissions.TicketView))
}

func TestRequirePermissionInRejectsForeignGuild(t *testing.T) {
	res := &stubResolver{perms: map[string]permissions.Set{"g2/1": permissions.All}}
	guard := NewGuard(res, nil)
	ctx := WithActor(context.Background(), DiscordUser{UserID: "1", GuildID: "g1"})

	err := guard.RequirePermissionIn(ctx, "g2", permissions.TicketView)
	assert.ErrorIs(t, err, shared.ErrActorValidation)
	assert.Empty(t, res.calls)
}

func TestBooleanChecks(t *testing.T) {
	res := &stubResolver{perms: map[string]permissions.Set{"g1/1": permissions.TicketView | permissions.TicketClaim}}
	guard := NewGuard(res, nil)
	ctx := WithActor(context.Background(), DiscordUser{UserID: "1", GuildID: "g1"})

	assert.True(t, guard.HasPermission(ctx, permissions.TicketClaim))
	assert.True(t, guard.HasAny(ctx, permissions.RoleManage, permissions.TicketView))
	assert.False(t, guard.HasAll(ctx, permissions.RoleManage, permissions.TicketView))

	assert.False(t, guard.HasPermission(context.Background(), permissions.TicketView), "no actor bound")

	res.err = errors.New("db down")
	assert.False(t, guard.HasPermission(ctx, permissions.TicketView))
}
