package permissions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildticket/guildticket/internal/shared"
)

type fakeSource struct {
	mu     sync.Mutex
	owners map[string]string
	roles  map[string][]Set
	grants map[string]Set
	calls  atomic.Int64
	delay  time.Duration
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		owners: map[string]string{},
		roles:  map[string][]Set{},
		grants: map[string]Set{},
	}
}

func memberKey(guildID, userID string) string { return guildID + "/" + userID }

func (f *fakeSource) GuildOwner(ctx context.Context, guildID string) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.owners[guildID]
	if !ok {
		return "", shared.NewNotFound("guild", guildID)
	}
	return owner, nil
}

func (f *fakeSource) ActiveRolePermissions(ctx context.Context, guildID, userID string) ([]Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Set(nil), f.roles[memberKey(guildID, userID)]...), nil
}

func (f *fakeSource) AdditionalPermissions(ctx context.Context, guildID, userID string) (Set, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grants[memberKey(guildID, userID)], nil
}

func (f *fakeSource) setRoles(guildID, userID string, sets ...Set) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[memberKey(guildID, userID)] = sets
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client), mr
}

func TestResolveOwnerAndStranger(t *testing.T) {
	src := newFakeSource()
	src.owners["g1"] = "100"
	r := NewResolver(src, ResolverConfig{})
	ctx := context.Background()

	bits, err := r.Resolve(ctx, "g1", "100")
	require.NoError(t, err)
	assert.Equal(t, All, bits)

	bits, err = r.Resolve(ctx, "g1", "200")
	require.NoError(t, err)
	assert.Equal(t, None, bits)
}

func TestResolveIsCumulativeUnion(t *testing.T) {
	src := newFakeSource()
	src.owners["g1"] = "100"
	r1 := Union(TicketView, TicketClaim)
	r2 := Union(TicketCloseAny, RoleView)
	grant := AuditView
	src.setRoles("g1", "u", r1, r2)
	src.grants[memberKey("g1", "u")] = grant

	bits, err := NewResolver(src, ResolverConfig{}).Resolve(context.Background(), "g1", "u")
	require.NoError(t, err)
	assert.Equal(t, r1|r2|grant, bits)
}

func TestResolveOwnerIgnoresRolesAndGrants(t *testing.T) {
	src := newFakeSource()
	src.owners["g1"] = "100"
	src.setRoles("g1", "100", TicketView)
	src.grants[memberKey("g1", "100")] = RoleView

	bits, err := NewResolver(src, ResolverConfig{}).Resolve(context.Background(), "g1", "100")
	require.NoError(t, err)
	assert.Equal(t, All, bits)
}

func TestResolveMissingGuildIsNotFound(t *testing.T) {
	r := NewResolver(newFakeSource(), ResolverConfig{})
	_, err := r.Resolve(context.Background(), "nope", "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestResolveValidatesInput(t *testing.T) {
	r := NewResolver(newFakeSource(), ResolverConfig{})
	_, err := r.Resolve(context.Background(), " ", "1")
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = r.Resolve(context.Background(), "g1", "")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestResolveServesFromCache(t *testing.T) {
	src := newFakeSource()
	src.owners["g1"] = "100"
	src.setRoles("g1", "u", TicketView)
	cache, _ := newRedisCache(t)
	r := NewResolver(src, ResolverConfig{Cache: cache})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		bits, err := r.Resolve(ctx, "g1", "u")
		require.NoError(t, err)
		assert.Equal(t, TicketView, bits)
	}
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestResolveNeverServesPastTTL(t *testing.T) {
	src := newFakeSource()
	src.owners["g1"] = "100"
	src.setRoles("g1", "u", TicketView)
	cache, mr := newRedisCache(t)
	r := NewResolver(src, ResolverConfig{Cache: cache, TTL: time.Minute})
	ctx := context.Background()

	_, err := r.Resolve(ctx, "g1", "u")
	require.NoError(t, err)

	src.setRoles("g1", "u", TicketView, TicketClaim)
	mr.FastForward(61 * time.Second)

	bits, err := r.Resolve(ctx, "g1", "u")
	require.NoError(t, err)
	assert.Equal(t, TicketView|TicketClaim, bits)
}

func TestGuildInvalidationReflectsNewRoleBits(t *testing.T) {
	src := newFakeSource()
	src.owners["g1"] = "100"
	src.setRoles("g1", "a", TicketView)
	src.setRoles("g1", "b", TicketView)
	cache, _ := newRedisCache(t)
	r := NewResolver(src, ResolverConfig{Cache: cache, TTL: time.Hour})
	ctx := context.Background()

	for _, u := range []string{"a", "b"} {
		_, err := r.Resolve(ctx, "g1", u)
		require.NoError(t, err)
	}

	src.setRoles("g1", "a", TicketView|TicketCloseAny)
	src.setRoles("g1", "b", TicketView|TicketCloseAny)
	require.NoError(t, r.InvalidateGuild(ctx, "g1"))

	for _, u := range []string{"a", "b"} {
		bits, err := r.Resolve(ctx, "g1", u)
		require.NoError(t, err)
		assert.Equal(t, TicketView|TicketCloseAny, bits, u)
	}
}

func TestUserInvalidationLeavesOtherMembersCached(t *testing.T) {
	src := newFakeSource()
	src.owners["g1"] = "100"
	src.setRoles("g1", "a", TicketView)
	src.setRoles("g1", "b", TicketView)
	cache, _ := newRedisCache(t)
	r := NewResolver(src, ResolverConfig{Cache: cache, TTL: time.Hour})
	ctx := context.Background()

	for _, u := range []string{"a", "b"} {
		_, err := r.Resolve(ctx, "g1", u)
		require.NoError(t, err)
	}
	src.grants[memberKey("g1", "a")] = AuditView
	src.grants[memberKey("g1", "b")] = AuditView
	require.NoError(t, r.InvalidateUser(ctx, "g1", "a"))

	bits, err := r.Resolve(ctx, "g1", "a")
	require.NoError(t, err)
	assert.Equal(t, TicketView|AuditView, bits)

	bits, err = r.Resolve(ctx, "g1", "b")
	require.NoError(t, err)
	assert.Equal(t, TicketView, bits, "b stays cached until its own invalidation or TTL")
}

func TestResolveDegradesWhenCacheUnavailable(t *testing.T) {
	src := newFakeSource()
	src.owners["g1"] = "100"
	src.setRoles("g1", "u", TicketClaim)
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	r := NewResolver(src, ResolverConfig{Cache: NewRedisCache(client)})

	bits, err := r.Resolve(context.Background(), "g1", "u")
	require.NoError(t, err)
	assert.Equal(t, TicketClaim, bits)
}

func TestOverrideBypassesSourceAndCache(t *testing.T) {
	src := newFakeSource()
	r := NewResolver(src, ResolverConfig{Override: StaticOverride(TicketView)})

	bits, err := r.Resolve(context.Background(), "missing-guild", "u")
	require.NoError(t, err)
	assert.Equal(t, TicketView, bits)
	assert.Zero(t, src.calls.Load())
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("PERMISSIONS_DEV_OVERRIDE", "0x8")

	o, err := OverrideFromEnv(false)
	require.NoError(t, err)
	require.NotNil(t, o)
	bits, ok := o.bits()
	require.True(t, ok)
	assert.Equal(t, TicketClaim, bits)

	o, err = OverrideFromEnv(true)
	require.NoError(t, err)
	assert.Nil(t, o)

	t.Setenv("PERMISSIONS_DEV_OVERRIDE", "garbage")
	_, err = OverrideFromEnv(false)
	assert.Error(t, err)
}

func TestConcurrentMissesShareOneComputation(t *testing.T) {
	src := newFakeSource()
	src.owners["g1"] = "100"
	src.delay = 50 * time.Millisecond
	r := NewResolver(src, ResolverConfig{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), "g1", "u")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Less(t, src.calls.Load(), int64(8))
}

func TestResolveHonoursCallerCancellation(t *testing.T) {
	src := newFakeSource()
	src.owners["g1"] = "100"
	src.delay = 200 * time.Millisecond
	r := NewResolver(src, ResolverConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Resolve(ctx, "g1", "u")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
