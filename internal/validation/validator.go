package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sessionsieve/sessionsieve/internal/config"
)

// ErrInvalidAPIKey is returned for malformed, unknown, revoked or expired keys.
var ErrInvalidAPIKey = errors.New("invalid API key")

const keyCacheTTL = 5 * time.Minute

// Validator resolves project API keys and applies per-project request
// budgets. Postgres is the source of truth; Redis fronts it on the hot path.
type Validator struct {
	db    *pgxpool.Pool
	redis *redis.Client
	limit config.RateLimitConfig
}

func NewValidator(db *pgxpool.Pool, rdb *redis.Client, limit config.RateLimitConfig) *Validator {
	return &Validator{db: db, redis: rdb, limit: limit}
}

// ProjectForKey resolves an API key to its project id. Only the SHA-256 hash
// of the key is stored, queried, or cached.
func (v *Validator) ProjectForKey(ctx context.Context, apiKey string) (string, error) {
	if len(apiKey) < 12 {
		return "", ErrInvalidAPIKey
	}

	hash := sha256.Sum256([]byte(apiKey))
	keyHash := hex.EncodeToString(hash[:])

	cacheKey := "apikey:" + keyHash[:16]
	if projectID, err := v.redis.Get(ctx, cacheKey).Result(); err == nil {
		return projectID, nil
	}

	var id string
	err := v.db.QueryRow(ctx, `
		SELECT project_id::text FROM api_keys
		WHERE key_hash = $1 AND is_active = true
		AND (expires_at IS NULL OR expires_at > NOW())
	`, keyHash).Scan(&id)
	if err != nil {
		return "", ErrInvalidAPIKey
	}

	v.redis.Set(ctx, cacheKey, id, keyCacheTTL)

	// Usage bookkeeping stays off the request path.
	go v.db.Exec(context.Background(), `
		UPDATE api_keys
		SET last_used_at = NOW(), request_count = request_count + 1
		WHERE key_hash = $1
	`, keyHash)

	return id, nil
}

// AllowProject checks the per-project request budget: one Redis counter per
// project and second.
func (v *Validator) AllowProject(ctx context.Context, projectID string) bool {
	key := "ratelimit:" + projectID

	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return true // allow on Redis error
	}
	if count == 1 {
		v.redis.Expire(ctx, key, time.Second)
	}

	return count <= int64(v.limit.RequestsPerSecond)
}
