package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects and pings so a bad REDIS_URL fails at startup, not
// on the first cache read.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// GroupCache caches resolved same-group user sets in redis with a TTL.
// Membership changes land within one TTL; the hygiene sweep tolerates that
// staleness.
type GroupCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewGroupCache(client *redis.Client, ttl time.Duration, log *slog.Logger) *GroupCache {
	return &GroupCache{client: client, ttl: ttl, log: log}
}

func groupCacheKey(userID uint) string {
	return fmt.Sprintf("group:same:%d", userID)
}

func (c *GroupCache) GetSameGroupUsers(ctx context.Context, userID uint) ([]uint, bool) {
	raw, err := c.client.Get(ctx, groupCacheKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warn("group cache read failed", "userId", userID, "error", err)
		return nil, false
	}
	var ids []uint
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		c.log.Warn("group cache entry corrupt, dropping", "userId", userID, "error", err)
		c.client.Del(ctx, groupCacheKey(userID))
		return nil, false
	}
	return ids, true
}

func (c *GroupCache) SetSameGroupUsers(ctx context.Context, userID uint, userIDs []uint) {
	payload, err := json.Marshal(userIDs)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, groupCacheKey(userID), payload, c.ttl).Err(); err != nil {
		c.log.Warn("group cache write failed", "userId", userID, "error", err)
	}
}
