package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"adhiba.xyz/iot-climate-service/pkg/metrics"
	"adhiba.xyz/iot-climate-service/pkg/models"
)

const backendMemory = "memory"

// MemoryCache is the in-process cooldown store and latest-reading cache.
type MemoryCache struct {
	cooldowns *gocache.Cache
	latest    *gocache.Cache
}

func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		cooldowns: gocache.New(gocache.NoExpiration, cleanupInterval),
		latest:    gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

// SetIfAbsent relies on go-cache's Add, which checks and sets under one lock.
func (m *MemoryCache) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if err := m.cooldowns.Add(key, true, ttl); err != nil {
		metrics.CacheOperations.WithLabelValues(backendMemory, "set_if_absent", "exists").Inc()
		return false, nil
	}
	metrics.CacheOperations.WithLabelValues(backendMemory, "set_if_absent", "set").Inc()
	return true, nil
}

func (m *MemoryCache) TTLRemaining(_ context.Context, key string) (time.Duration, bool, error) {
	_, expiresAt, found := m.cooldowns.GetWithExpiration(key)
	if !found {
		return 0, false, nil
	}
	if expiresAt.IsZero() {
		return -1, true, nil
	}
	return time.Until(expiresAt), true, nil
}

func (m *MemoryCache) SetLatest(_ context.Context, reading *models.Reading) error {
	copied := *reading
	m.latest.Set(latestKey(reading.DeviceID), &copied, gocache.NoExpiration)
	metrics.CacheOperations.WithLabelValues(backendMemory, "set_latest", "ok").Inc()
	return nil
}

func (m *MemoryCache) GetLatest(_ context.Context, deviceID int) (*models.Reading, bool, error) {
	v, found := m.latest.Get(latestKey(deviceID))
	if !found {
		metrics.CacheOperations.WithLabelValues(backendMemory, "get_latest", "miss").Inc()
		return nil, false, nil
	}
	metrics.CacheOperations.WithLabelValues(backendMemory, "get_latest", "hit").Inc()
	copied := *v.(*models.Reading)
	return &copied, true, nil
}
