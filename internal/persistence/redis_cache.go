package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vimsent/chessd/internal/logging"
)

// ttl bounds how long a cached position survives without being
// refreshed; it exists only to bound memory for abandoned games, the
// Session's in-memory state is the real authority.
const ttl = 24 * time.Hour

// RedisCache is the Cache implementation backed by Redis, keyed per
// spec.md section 6: game:<id>:fen and game:<id>:turn.
type RedisCache struct {
	client *redis.Client
}

func OpenRedis(addr string) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) PutPosition(ctx context.Context, gameID, fen string) error {
	err := c.client.Set(ctx, fenKey(gameID), fen, ttl).Err()
	if err != nil {
		logging.Warn("cache write failed", "key", fenKey(gameID), "error", err)
	}
	return err
}

func (c *RedisCache) PutTurn(ctx context.Context, gameID, turn string) error {
	err := c.client.Set(ctx, turnKey(gameID), turn, ttl).Err()
	if err != nil {
		logging.Warn("cache write failed", "key", turnKey(gameID), "error", err)
	}
	return err
}

func (c *RedisCache) GetPosition(ctx context.Context, gameID string) (string, bool) {
	val, err := c.client.Get(ctx, fenKey(gameID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Warn("cache read failed", "key", fenKey(gameID), "error", err)
		}
		return "", false
	}
	return val, true
}

func fenKey(gameID string) string  { return "game:" + gameID + ":fen" }
func turnKey(gameID string) string { return "game:" + gameID + ":turn" }
