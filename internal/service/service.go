package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"satisledger/backend/internal/cache"
	"satisledger/backend/internal/domain"
	"satisledger/backend/internal/store"
	"satisledger/backend/internal/xid"
)

var (
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = domain.ErrInvalidTransition
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo          store.Repository
	settingsCache cache.SettingsCache
	settingsTTL   time.Duration
	log           *zap.Logger
	validate      *validator.Validate
	now           func() time.Time
}

func New(repo store.Repository, settingsCache cache.SettingsCache, settingsTTL time.Duration, log *zap.Logger) *Service {
	if settingsCache == nil {
		settingsCache = cache.NoopSettingsCache{}
	}
	if settingsTTL <= 0 {
		settingsTTL = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Service{
		repo:          repo,
		settingsCache: settingsCache,
		settingsTTL:   settingsTTL,
		log:           log.Named("service"),
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) actor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", ErrForbidden)
	}
	return actor, nil
}

func (s *Service) requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.IsAdmin() {
		return domain.Actor{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return actor, nil
}

func (s *Service) validateRequest(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, err.Error())
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, fmt.Sprintf(format, args...))
}

// visibilityScope returns the username that personnel reads are restricted
// to, or "" for admins.
func visibilityScope(actor domain.Actor) string {
	if actor.IsAdmin() {
		return ""
	}
	return actor.Username
}

func displayName(actor domain.Actor) string {
	if strings.TrimSpace(actor.Name) != "" {
		return actor.Name
	}
	return actor.Username
}

// visibleSale loads a sale the actor may see. Sales owned by other personnel
// are reported as not found.
func (s *Service) visibleSale(ctx context.Context, actor domain.Actor, id string) (*domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid("sale id required")
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && sale.PersonnelUsername != actor.Username {
		return nil, store.ErrNotFound
	}
	return sale, nil
}

func (s *Service) logAudit(ctx context.Context, action domain.ActivityAction, entity domain.ActivityEntity, entityID string, description string, metadata map[string]any) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Name: "system", Role: "system"}
	}

	if err := s.repo.CreateActivityLog(ctx, domain.ActivityLog{
		ID:            xid.New("log"),
		At:            s.now(),
		ActorUsername: actor.Username,
		ActorName:     displayName(actor),
		ActorRole:     actor.Role,
		Action:        action,
		Entity:        entity,
		EntityID:      entityID,
		Description:   description,
		Metadata:      metadata,
	}); err != nil {
		s.log.Warn("failed to write activity log",
			zap.String("action", string(action)),
			zap.String("entity", string(entity)),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}
