package permissions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores resolved permission sets.
//
// Load returns a slot naming where a freshly computed value must be stored.
// Slots embed invalidation epochs, so a value computed before an
// invalidation can never be read back after it.
type Cache interface {
	Load(ctx context.Context, guildID, userID string) (bits Set, slot string, found bool, err error)
	Store(ctx context.Context, slot string, bits Set, ttl time.Duration) error
	InvalidateUser(ctx context.Context, guildID, userID string) error
	InvalidateGuild(ctx context.Context, guildID string) error
}

const (
	keyPrefix   = "perms"
	scanBatch   = 256
	maxEpochLen = 20
)

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps a Redis client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func guildEpochKey(guildID string) string {
	return fmt.Sprintf("%s:epoch:%s", keyPrefix, guildID)
}

func userEpochKey(guildID, userID string) string {
	return fmt.Sprintf("%s:epoch:%s:%s", keyPrefix, guildID, userID)
}

func valueKey(guildID string, guildEpoch int64, userID string, userEpoch int64) string {
	return fmt.Sprintf("%s:val:%s:%d:%s:%d", keyPrefix, guildID, guildEpoch, userID, userEpoch)
}

// Load reads the epochs for (guild, user) then the value stored under them.
func (c *RedisCache) Load(ctx context.Context, guildID, userID string) (Set, string, bool, error) {
	if c == nil || c.client == nil {
		return None, "", false, errors.New("permissions: cache not initialised")
	}
	epochs, err := c.client.MGet(ctx, guildEpochKey(guildID), userEpochKey(guildID, userID)).Result()
	if err != nil {
		return None, "", false, fmt.Errorf("permissions: load epochs: %w", err)
	}
	slot := valueKey(guildID, parseEpoch(epochs[0]), userID, parseEpoch(epochs[1]))
	raw, err := c.client.Get(ctx, slot).Result()
	if errors.Is(err, redis.Nil) {
		return None, slot, false, nil
	}
	if err != nil {
		return None, slot, false, fmt.Errorf("permissions: load value: %w", err)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		// A corrupt entry is treated as a miss and overwritten.
		return None, slot, false, nil
	}
	return Set(v), slot, true, nil
}

// Store writes bits into slot with the given TTL.
func (c *RedisCache) Store(ctx context.Context, slot string, bits Set, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return errors.New("permissions: cache not initialised")
	}
	if slot == "" {
		return errors.New("permissions: empty cache slot")
	}
	return c.client.Set(ctx, slot, strconv.FormatUint(uint64(bits), 10), ttl).Err()
}

// InvalidateUser bumps the user's epoch and drops their stored values.
func (c *RedisCache) InvalidateUser(ctx context.Context, guildID, userID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, userEpochKey(guildID, userID)).Err(); err != nil {
		return fmt.Errorf("permissions: bump user epoch: %w", err)
	}
	return c.deletePattern(ctx, fmt.Sprintf("%s:val:%s:*:%s:*", keyPrefix, guildID, userID))
}

// InvalidateGuild bumps the guild epoch and drops every stored value for the guild.
func (c *RedisCache) InvalidateGuild(ctx context.Context, guildID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, guildEpochKey(guildID)).Err(); err != nil {
		return fmt.Errorf("permissions: bump guild epoch: %w", err)
	}
	return c.deletePattern(ctx, fmt.Sprintf("%s:val:%s:*", keyPrefix, guildID))
}

// deletePattern removes matching keys. The epoch bump already made them
// unreachable; this only reclaims memory ahead of their TTL.
func (c *RedisCache) deletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("permissions: scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("permissions: delete keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func parseEpoch(v any) int64 {
	s, ok := v.(string)
	if !ok || s == "" || len(s) > maxEpochLen {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
