package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"helpdesk/internal/permission"
)

// Cache holds the granted codes of a role keyed by its normalized name.
// A miss is (nil, false, nil). An empty grant set is a hit.
//
// Every Invalidate bumps the role's generation. A reader takes Version before
// loading grants and passes it to Fill, which stores nothing when the role was
// invalidated in between, so a load that raced a mutation never gets cached.
type Cache interface {
	Get(ctx context.Context, role string) ([]permission.Code, bool, error)
	Version(ctx context.Context, role string) (uint64, error)
	Fill(ctx context.Context, role string, version uint64, codes []permission.Code) (bool, error)
	Invalidate(ctx context.Context, roles ...string) error
}

// NopCache never hits.
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]permission.Code, bool, error) { return nil, false, nil }
func (NopCache) Version(context.Context, string) (uint64, error)              { return 0, nil }
func (NopCache) Invalidate(context.Context, ...string) error                  { return nil }

func (NopCache) Fill(context.Context, string, uint64, []permission.Code) (bool, error) {
	return true, nil
}

const redisKeyPrefix = "rbac:role:"

// RedisCache stores grant sets as comma-joined strings so an empty set can be
// told apart from a miss.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache returns a cache backed by client. ttl bounds staleness across
// instances that did not perform the mutation.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(role string) string {
	return redisKeyPrefix + role + ":perms"
}

// versionKey never expires: a reset to zero could let a stale fill through.
func versionKey(role string) string {
	return redisKeyPrefix + role + ":ver"
}

func (c *RedisCache) Get(ctx context.Context, role string) ([]permission.Code, bool, error) {
	raw, err := c.client.Get(ctx, redisKey(role)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rbac cache get: %w", err)
	}
	return decodeCodes(raw), true, nil
}

func (c *RedisCache) Version(ctx context.Context, role string) (uint64, error) {
	v, err := c.client.Get(ctx, versionKey(role)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rbac cache version: %w", err)
	}
	return v, nil
}

// Fill writes codes in a WATCH transaction on the version key, so an
// Invalidate landing between the check and the write aborts it.
func (c *RedisCache) Fill(ctx context.Context, role string, version uint64, codes []permission.Code) (bool, error) {
	vk := versionKey(role)
	stored := false
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vk).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey(role), encodeCodes(codes), c.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, vk)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("rbac cache fill: %w", err)
	}
	return stored, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, roles ...string) error {
	if len(roles) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range roles {
			pipe.Incr(ctx, versionKey(r))
			pipe.Del(ctx, redisKey(r))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rbac cache invalidate: %w", err)
	}
	return nil
}

func encodeCodes(codes []permission.Code) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func decodeCodes(raw string) []permission.Code {
	if raw == "" {
		return []permission.Code{}
	}
	parts := strings.Split(raw, ",")
	codes := make([]permission.Code, len(parts))
	for i, p := range parts {
		codes[i] = permission.Code(p)
	}
	return codes
}

// LocalCache is a per-process TTL cache, used when no redis is configured.
type LocalCache struct {
	entries sync.Map // role -> localEntry
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex // serializes Fill against Invalidate
	versions map[string]uint64
}

type localEntry struct {
	codes     []permission.Code
	expiresAt time.Time
}

// NewLocalCache returns an in-process cache.
func NewLocalCache(ttl time.Duration) *LocalCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LocalCache{ttl: ttl, now: time.Now, versions: make(map[string]uint64)}
}

func (c *LocalCache) Get(_ context.Context, role string) ([]permission.Code, bool, error) {
	v, ok := c.entries.Load(role)
	if !ok {
		return nil, false, nil
	}
	entry := v.(localEntry)
	if !c.now().Before(entry.expiresAt) {
		c.entries.CompareAndDelete(role, v)
		return nil, false, nil
	}
	out := make([]permission.Code, len(entry.codes))
	copy(out, entry.codes)
	return out, true, nil
}

func (c *LocalCache) Version(_ context.Context, role string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[role], nil
}

func (c *LocalCache) Fill(_ context.Context, role string, version uint64, codes []permission.Code) (bool, error) {
	stored := make([]permission.Code, len(codes))
	copy(stored, codes)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[role] != version {
		return false, nil
	}
	c.entries.Store(role, localEntry{codes: stored, expiresAt: c.now().Add(c.ttl)})
	return true, nil
}

func (c *LocalCache) Invalidate(_ context.Context, roles ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range roles {
		c.versions[r]++
		c.entries.Delete(r)
	}
	return nil
}
