package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSet(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v1"), time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))

	// Returned slices are copies.
	v[0] = 'x'
	v, _ = c.Get(ctx, "k")
	require.Equal(t, "v1", string(v))

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Delete(ctx, "k"))
	ok, _ = c.Exists(ctx, "k")
	require.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))
	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCacheMiss)

	c.removeExpired()
	require.Equal(t, 0, c.Len())
}

func TestMemoryCache_GetOrSet(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	calls := 0
	fn := func() ([]byte, error) {
		calls++
		return []byte("computed"), nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrSet(ctx, "k", time.Minute, fn)
		require.NoError(t, err)
		require.Equal(t, "computed", string(v))
	}
	require.Equal(t, 1, calls)

	_, err := c.GetOrSet(ctx, "other", time.Minute, func() ([]byte, error) {
		return nil, errors.New("store down")
	})
	require.Error(t, err)
	ok, _ := c.Exists(ctx, "other")
	require.False(t, ok)
}

func TestMemoryCache_Lock(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	defer c.Close()
	ctx := context.Background()

	ok, err := c.TryLock(ctx, "lock", "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _ = c.TryLock(ctx, "lock", "b", time.Minute)
	require.False(t, ok)

	// Only the owner can release.
	require.NoError(t, c.Unlock(ctx, "lock", "b"))
	ok, _ = c.TryLock(ctx, "lock", "b", time.Minute)
	require.False(t, ok)

	require.NoError(t, c.Unlock(ctx, "lock", "a"))
	ok, _ = c.TryLock(ctx, "lock", "b", time.Minute)
	require.True(t, ok)
}

func TestMemoryCache_CloseTwice(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
