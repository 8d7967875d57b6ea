package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	UserKeyPrefix = "chat:user:"
	UserTTL       = 5 * time.Minute
)

// UserKey is the cache key for a user profile.
func UserKey(userID string) string {
	return UserKeyPrefix + userID
}

// SetClient replaces the shared client. Intended for tests and bootstrap code.
func SetClient(c *redis.Client) {
	client = c
}

// Aside implements cache-aside: a hit decodes into dest, a miss runs load
// (which must fill dest) and stores the result for ttl. Cache failures never
// fail the call.
func Aside(ctx context.Context, key string, dest interface{}, ttl time.Duration, load func() error) error {
	if client == nil {
		return load()
	}

	raw, err := client.Get(ctx, key).Bytes()
	if err == nil {
		if jsonErr := json.Unmarshal(raw, dest); jsonErr == nil {
			return nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return load()
	}

	if err := load(); err != nil {
		return err
	}

	if encoded, err := json.Marshal(dest); err == nil {
		_ = client.Set(ctx, key, encoded, ttl).Err()
	}
	return nil
}

// Invalidate removes key from the cache.
func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

// InvalidateUser drops the cached profile of userID.
func InvalidateUser(ctx context.Context, userID string) {
	Invalidate(ctx, UserKey(userID))
}
