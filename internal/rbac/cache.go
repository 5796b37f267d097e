package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheStore marks a subject that was loaded but could not be cached.
var ErrCacheStore = errors.New("rbac cache: store subject")

const (
	cacheVersionKey = "rbac:version"
	bumpChannel     = "rbac.bump"
)

// Cache stores resolved subjects in Redis with a TTL. Entries are keyed by a
// global version so that any role mutation can invalidate every session at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// SubjectKey composes the versioned cache key for a user in a school.
func (c *Cache) SubjectKey(ctx context.Context, userID int64, schoolID *int64) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", keySubject(userID, schoolID), ver), nil
}

// FetchSubject loads a cached subject or populates it using the loader. When
// only the write back fails the loaded subject is returned with ErrCacheStore.
func (c *Cache) FetchSubject(ctx context.Context, key string, loader func(context.Context) (Subject, error)) (Subject, error) {
	if loader == nil {
		return Subject{}, errors.New("rbac cache: loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var subject Subject
		if err := json.Unmarshal(payload, &subject); err == nil {
			return subject, nil
		}
		// corrupt or stale schema: fall through and overwrite
	} else if !errors.Is(err, redis.Nil) {
		return Subject{}, err
	}
	subject, err := loader(ctx)
	if err != nil {
		return Subject{}, err
	}
	raw, err := json.Marshal(subject)
	if err != nil {
		return Subject{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return subject, fmt.Errorf("%w: %w", ErrCacheStore, err)
	}
	return subject, nil
}

// Bump invalidates every cached subject by incrementing the version and publishing it.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}

func keySubject(userID int64, schoolID *int64) string {
	school := "none"
	if schoolID != nil {
		school = strconv.FormatInt(*schoolID, 10)
	}
	return strings.Join([]string{"rbac", "subject", strconv.FormatInt(userID, 10), school}, ":")
}
