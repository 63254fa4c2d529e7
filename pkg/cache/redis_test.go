package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adhiba.xyz/iot-climate-service/pkg/models"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(addr, "", 0)
	assert.Error(t, err)
}

func TestRedisCooldownWindow(t *testing.T) {
	mr, c := newTestRedis(t)
	ctx := context.Background()
	key := "alert:battery:device:7"

	ok, err := c.SetIfAbsent(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(30 * time.Minute)

	ok, err = c.SetIfAbsent(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, found, err := c.TTLRemaining(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 30*time.Minute, remaining)

	mr.FastForward(31 * time.Minute)

	_, found, err = c.TTLRemaining(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	ok, err = c.SetIfAbsent(ctx, key, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLatest(t *testing.T) {
	mr, c := newTestRedis(t)
	ctx := context.Background()

	_, found, err := c.GetLatest(ctx, 3)
	require.NoError(t, err)
	assert.False(t, found)

	battery := 3.4
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, c.SetLatest(ctx, &models.Reading{ID: 4, DeviceID: 3, Temperature: 20.5, Humidity: 40, Battery: &battery, Timestamp: ts}))

	assert.True(t, mr.Exists("device:3:latest"))

	got, found, err := c.GetLatest(ctx, 3)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 20.5, got.Temperature)
	require.NotNil(t, got.Battery)
	assert.Equal(t, 3.4, *got.Battery)
	assert.True(t, ts.Equal(got.Timestamp))
}

func TestRedisGetLatestCorrupt(t *testing.T) {
	mr, c := newTestRedis(t)
	require.NoError(t, mr.Set("device:5:latest", "not json"))

	_, _, err := c.GetLatest(context.Background(), 5)
	assert.Error(t, err)
}
