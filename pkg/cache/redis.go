package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"adhiba.xyz/iot-climate-service/pkg/metrics"
	"adhiba.xyz/iot-climate-service/pkg/models"
)

const backendRedis = "redis"

// RedisCache shares cooldowns and latest readings between service instances.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func record(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.CacheOperations.WithLabelValues(backendRedis, operation, status).Inc()
}

// SetIfAbsent is SET key 1 NX PX ttl: exactly one caller wins per window.
func (r *RedisCache) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, ttl).Result()
	record("set_if_absent", err)
	if err != nil {
		return false, fmt.Errorf("failed to set %s: %w", key, err)
	}
	return ok, nil
}

func (r *RedisCache) TTLRemaining(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := r.client.TTL(ctx, key).Result()
	record("ttl", err)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read TTL of %s: %w", key, err)
	}
	// -2: no such key, -1: no expiry
	if ttl == -2 {
		return 0, false, nil
	}
	return ttl, true, nil
}

func (r *RedisCache) SetLatest(ctx context.Context, reading *models.Reading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	err = r.client.Set(ctx, latestKey(reading.DeviceID), data, 0).Err()
	record("set_latest", err)
	return err
}

func (r *RedisCache) GetLatest(ctx context.Context, deviceID int) (*models.Reading, bool, error) {
	data, err := r.client.Get(ctx, latestKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		record("get_latest", nil)
		return nil, false, nil
	}
	record("get_latest", err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get latest reading of device %d: %w", deviceID, err)
	}

	var reading models.Reading
	if err := json.Unmarshal(data, &reading); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal latest reading of device %d: %w", deviceID, err)
	}
	return &reading, true, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
