package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"satisledger/backend/internal/domain"
)

const settingsKey = "satisledger:settings:v1"

type RedisSettingsCache struct {
	client *redis.Client
}

func NewRedisSettingsCache(addr string, password string, db int) *RedisSettingsCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSettingsCache{client: client}
}

func (c *RedisSettingsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSettingsCache) Close() error {
	return c.client.Close()
}

func (c *RedisSettingsCache) Get(ctx context.Context) (*domain.AppSettings, bool, error) {
	val, err := c.client.Get(ctx, settingsKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var settings domain.AppSettings
	if err := json.Unmarshal([]byte(val), &settings); err != nil {
		return nil, false, err
	}
	return &settings, true, nil
}

func (c *RedisSettingsCache) Set(ctx context.Context, value *domain.AppSettings, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, settingsKey, payload, ttl).Err()
}

func (c *RedisSettingsCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, settingsKey).Err()
}
