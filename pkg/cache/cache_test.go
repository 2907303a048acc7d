package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	State string `json:"state"`
	Days  int    `json:"days"`
}

func TestMemoryCacheRoundTripAndExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	now := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "current", payload{State: "ON", Days: 3}, time.Minute))
	var got payload
	require.NoError(t, mc.Get(ctx, "current", &got))
	assert.Equal(t, payload{State: "ON", Days: 3}, got)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, mc.Get(ctx, "current", &got), ErrCacheMiss)
}

func TestMemoryCacheDeleteAndLock(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, 0))
	require.NoError(t, mc.Delete(ctx, "a"))
	var v int
	assert.ErrorIs(t, mc.Get(ctx, "a", &v), ErrCacheMiss)

	ok, err := mc.TryLock(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "lock", time.Minute)
	assert.False(t, ok)
	require.NoError(t, mc.Unlock(ctx, "lock"))
	ok, _ = mc.TryLock(ctx, "lock", time.Minute)
	assert.True(t, ok)
}

func TestMemoryCacheEvictsWhenFull(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()
	ctx := context.Background()

	require.NoError(t, mc.Set(ctx, "a", 1, time.Minute))
	require.NoError(t, mc.Set(ctx, "b", 2, time.Hour))
	require.NoError(t, mc.Set(ctx, "c", 3, time.Hour))

	var v int
	assert.ErrorIs(t, mc.Get(ctx, "a", &v), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "c", &v))
	assert.Equal(t, 3, v)
}

func TestRedisCacheMissAndLock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db, "regime")
	ctx := context.Background()

	mock.ExpectGet("regime:current").RedisNil()
	var got payload
	assert.ErrorIs(t, c.Get(ctx, "current", &got), ErrCacheMiss)

	mock.ExpectGet("regime:stats").SetVal(`{"state":"OFF","days":9}`)
	require.NoError(t, c.Get(ctx, "stats", &got))
	assert.Equal(t, "OFF", got.State)

	mock.ExpectSetNX("regime:backfill:lock", "locked", time.Minute).SetVal(true)
	ok, err := c.TryLock(ctx, "backfill:lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
