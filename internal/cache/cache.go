package cache

import (
	"context"
	"time"

	"satisledger/backend/internal/domain"
)

type SettingsCache interface {
	Get(ctx context.Context) (*domain.AppSettings, bool, error)
	Set(ctx context.Context, value *domain.AppSettings, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopSettingsCache struct{}

func (NoopSettingsCache) Get(_ context.Context) (*domain.AppSettings, bool, error) {
	return nil, false, nil
}

func (NoopSettingsCache) Set(_ context.Context, _ *domain.AppSettings, _ time.Duration) error {
	return nil
}

func (NoopSettingsCache) Invalidate(_ context.Context) error {
	return nil
}
