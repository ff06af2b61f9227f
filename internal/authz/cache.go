package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "authz:version"

// Cache memoizes per-principal resolution inputs: the active role list and
// the four grant/deny permission lists. Entries are evicted per principal on
// every grant mutation; a version counter handles mutations that touch an
// unbounded set of principals (allow-all roles, identity changes).
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client degrades to pass-through.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) key(ctx context.Context, parts ...string) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", fmt.Errorf("authz: cache version: %w", err)
	}
	key := "authz"
	for _, part := range parts {
		key += ":" + part
	}
	return fmt.Sprintf("%s:%d", key, ver), nil
}

// Fetch loads a cached JSON value or populates it using the loader.
// Concurrent misses for the same key collapse into a single loader call;
// recomputation is pure so duplicate population is harmless either way.
func (c *Cache) Fetch(ctx context.Context, parts []string, dest any, loader func(context.Context) (any, error)) error {
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dest)
	}
	key, err := c.key(ctx, parts...)
	if err != nil {
		return err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("authz: cache get: %w", err)
	}
	raw, err, _ := c.group.Do(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			return nil, fmt.Errorf("authz: cache set: %w", err)
		}
		return encoded, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

// Invalidate evicts every cached entry for the principal. It runs inside the
// same mutation unit as the grant-store write; a failure fails the mutation.
func (c *Cache) Invalidate(ctx context.Context, principal string) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.version(ctx)
	if err != nil {
		return fmt.Errorf("authz: cache version: %w", err)
	}
	keys := []string{
		fmt.Sprintf("authz:roles:%s:%d", principal, ver),
		fmt.Sprintf("authz:assigned:%s:%s:%d", principal, AccessGrant, ver),
		fmt.Sprintf("authz:assigned:%s:%s:%d", principal, AccessDeny, ver),
		fmt.Sprintf("authz:inherited:%s:%s:%d", principal, AccessGrant, ver),
		fmt.Sprintf("authz:inherited:%s:%s:%d", principal, AccessDeny, ver),
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("authz: cache invalidate: %w", err)
	}
	return nil
}

// Bump invalidates all cached entries at once by advancing the version.
// Used for mutations whose blast radius is not a bounded principal set.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, cacheVersionKey).Err(); err != nil {
		return fmt.Errorf("authz: cache bump: %w", err)
	}
	return nil
}

func rolesKey(principal string) []string {
	return []string{"roles", principal}
}

func assignedKey(principal string, access Access) []string {
	return []string{"assigned", principal, string(access)}
}

func inheritedKey(principal string, access Access) []string {
	return []string{"inherited", principal, string(access)}
}
