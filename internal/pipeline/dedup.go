package pipeline

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper marks compressed sessions with SETNX keys so redelivered
// envelopes are dropped instead of re-inserted.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

// FirstSighting claims the key. Redis errors count as first sightings: a
// duplicate insert beats a dropped session.
func (d *RedisDeduper) FirstSighting(ctx context.Context, key string) bool {
	ok, err := d.client.SetNX(ctx, "compressed:"+key, 1, d.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}
