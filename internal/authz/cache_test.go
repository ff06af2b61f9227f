package authz

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCache(client, time.Minute)
}

func TestCacheFetchPopulatesOnMiss(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(ctx context.Context) (any, error) {
		loads++
		return []string{"a.b.c"}, nil
	}

	var first []string
	require.NoError(t, cache.Fetch(ctx, assignedKey("p-1", AccessGrant), &first, loader))
	assert.Equal(t, []string{"a.b.c"}, first)
	assert.Equal(t, 1, loads)

	var second []string
	require.NoError(t, cache.Fetch(ctx, assignedKey("p-1", AccessGrant), &second, loader))
	assert.Equal(t, []string{"a.b.c"}, second)
	assert.Equal(t, 1, loads, "hit must not call the loader")
}

func TestCacheInvalidateEvictsOnlyThatPrincipal(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	loads := map[string]int{}
	loaderFor := func(principal string) func(context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			loads[principal]++
			return []string{principal}, nil
		}
	}

	var out []string
	require.NoError(t, cache.Fetch(ctx, rolesKey("p-1"), &out, loaderFor("p-1")))
	require.NoError(t, cache.Fetch(ctx, rolesKey("p-2"), &out, loaderFor("p-2")))

	require.NoError(t, cache.Invalidate(ctx, "p-1"))

	require.NoError(t, cache.Fetch(ctx, rolesKey("p-1"), &out, loaderFor("p-1")))
	require.NoError(t, cache.Fetch(ctx, rolesKey("p-2"), &out, loaderFor("p-2")))
	assert.Equal(t, 2, loads["p-1"])
	assert.Equal(t, 1, loads["p-2"])
}

func TestCacheBumpEvictsEverything(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	loads := 0
	loader := func(ctx context.Context) (any, error) {
		loads++
		return []string{"x"}, nil
	}

	var out []string
	require.NoError(t, cache.Fetch(ctx, inheritedKey("p-1", AccessDeny), &out, loader))
	require.NoError(t, cache.Bump(ctx))
	require.NoError(t, cache.Fetch(ctx, inheritedKey("p-1", AccessDeny), &out, loader))
	assert.Equal(t, 2, loads)
}

func TestNilCachePassesThrough(t *testing.T) {
	var cache *Cache
	var out []string
	err := cache.Fetch(context.Background(), rolesKey("p"), &out, func(ctx context.Context) (any, error) {
		return []string{"v"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"v"}, out)
	require.NoError(t, cache.Invalidate(context.Background(), "p"))
	require.NoError(t, cache.Bump(context.Background()))
}
