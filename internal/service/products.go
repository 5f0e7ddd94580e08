package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"satisledger/backend/internal/domain"
	"satisledger/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context, includeArchived bool) ([]domain.Product, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, includeArchived)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	req.BaseName = strings.TrimSpace(req.BaseName)
	req.VariantName = strings.TrimSpace(req.VariantName)
	if err := s.validateRequest(req); err != nil {
		return domain.Product{}, err
	}
	if req.UnitPrice.IsNegative() {
		return domain.Product{}, invalid("unit price must not be negative")
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		BaseName:          req.BaseName,
		VariantName:       req.VariantName,
		Description:       strings.TrimSpace(req.Description),
		UnitPrice:         domain.RoundMoney(req.UnitPrice),
		Stock:             req.Stock,
		LowStockThreshold: req.LowStockThreshold,
		Status:            domain.ProductActive,
		CreatedBy:         actor.Username,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Product{}, fmt.Errorf("%w: product %q already exists", store.ErrConflict, domain.Product{BaseName: req.BaseName, VariantName: req.VariantName}.DisplayName())
		}
		return domain.Product{}, err
	}

	s.logAudit(ctx, domain.ActionCreate, domain.EntityProduct, created.ID,
		fmt.Sprintf("product %s created", created.DisplayName()),
		map[string]any{"unit_price": created.UnitPrice.String(), "stock": created.Stock})
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	if existing.Status == domain.ProductArchived && !actor.IsAdmin() {
		return domain.Product{}, fmt.Errorf("%w: archived products can only be restored by an admin", ErrForbidden)
	}

	updated := *existing
	if req.BaseName != nil {
		name := strings.TrimSpace(*req.BaseName)
		if name == "" {
			return domain.Product{}, invalid("base name required")
		}
		updated.BaseName = name
	}
	if req.VariantName != nil {
		updated.VariantName = strings.TrimSpace(*req.VariantName)
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.UnitPrice != nil {
		if req.UnitPrice.IsNegative() {
			return domain.Product{}, invalid("unit price must not be negative")
		}
		updated.UnitPrice = domain.RoundMoney(*req.UnitPrice)
	}
	if req.Stock != nil {
		updated.Stock = *req.Stock
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return domain.Product{}, invalid("low stock threshold must not be negative")
		}
		updated.LowStockThreshold = *req.LowStockThreshold
	}
	if req.Status != nil {
		switch *req.Status {
		case domain.ProductActive, domain.ProductInactive:
			updated.Status = *req.Status
		case domain.ProductArchived:
			return domain.Product{}, invalid("use the archive operation to archive a product")
		default:
			return domain.Product{}, invalid("unknown product status %q", *req.Status)
		}
	} else if existing.Status == domain.ProductArchived {
		return domain.Product{}, invalid("archived products must be restored with an explicit status")
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	metadata := map[string]any{"status": string(saved.Status)}
	if !existing.UnitPrice.Equal(saved.UnitPrice) {
		metadata["old_price"] = existing.UnitPrice.String()
		metadata["new_price"] = saved.UnitPrice.String()
	}
	if existing.Stock != saved.Stock {
		metadata["old_stock"] = existing.Stock
		metadata["new_stock"] = saved.Stock
	}
	s.logAudit(ctx, domain.ActionUpdate, domain.EntityProduct, saved.ID,
		fmt.Sprintf("product %s updated", saved.DisplayName()), metadata)
	return *saved, nil
}

// ArchiveProduct soft-deletes a product. Archived products stay on historical
// sales but can no longer be sold.
func (s *Service) ArchiveProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	if existing.Status == domain.ProductArchived {
		return *existing, nil
	}

	updated := *existing
	updated.Status = domain.ProductArchived
	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, domain.ActionDelete, domain.EntityProduct, saved.ID,
		fmt.Sprintf("product %s archived", saved.DisplayName()), nil)
	return *saved, nil
}
