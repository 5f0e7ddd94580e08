package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"satisledger/backend/internal/domain"
)

// GetSettings reads the lookup lists through the settings cache. Cache
// failures fall back to the repository.
func (s *Service) GetSettings(ctx context.Context) (domain.AppSettings, error) {
	if _, err := s.actor(ctx); err != nil {
		return domain.AppSettings{}, err
	}
	cached, ok, err := s.settingsCache.Get(ctx)
	if err != nil {
		s.log.Warn("settings cache read failed", zap.Error(err))
	}
	if ok && cached != nil {
		return *cached, nil
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return domain.AppSettings{}, err
	}
	if err := s.settingsCache.Set(ctx, &settings, s.settingsTTL); err != nil {
		s.log.Warn("settings cache write failed", zap.Error(err))
	}
	return settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, settings domain.AppSettings) (domain.AppSettings, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return domain.AppSettings{}, err
	}
	settings = domain.AppSettings{
		ProductCategories: normalizeList(settings.ProductCategories),
		VariantOptions:    normalizeList(settings.VariantOptions),
		CustomerTypes:     normalizeList(settings.CustomerTypes),
		SalesChannels:     normalizeList(settings.SalesChannels),
		DeliveryTypes:     normalizeList(settings.DeliveryTypes),
		ShippingCompanies: normalizeList(settings.ShippingCompanies),
	}
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return domain.AppSettings{}, err
	}
	if err := s.settingsCache.Invalidate(ctx); err != nil {
		s.log.Warn("settings cache invalidate failed", zap.Error(err))
	}
	s.logAudit(ctx, domain.ActionUpdate, domain.EntitySettings, "settings", "settings updated",
		map[string]any{
			"delivery_types":     len(settings.DeliveryTypes),
			"shipping_companies": len(settings.ShippingCompanies),
		})
	return settings, nil
}

// normalizeList trims entries and drops blanks and case-insensitive duplicates.
func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// RecordLogin writes the LOGIN audit entry for a successful sign-in.
func (s *Service) RecordLogin(ctx context.Context, actor domain.Actor) {
	ctx = WithActor(ctx, actor)
	s.logAudit(ctx, domain.ActionLogin, domain.EntitySettings, actor.Username,
		fmt.Sprintf("%s signed in", displayName(actor)), map[string]any{"role": actor.Role})
}

// ListActivityLogs returns audit entries, newest first. Personnel only see
// their own entries.
func (s *Service) ListActivityLogs(ctx context.Context, filter domain.ActivityFilter) ([]domain.ActivityLog, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if scope := visibilityScope(actor); scope != "" {
		filter.ActorUsername = scope
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListActivityLogs(ctx, filter)
}
