package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"satisledger/backend/internal/domain"
	"satisledger/backend/internal/xid"
)

var hundred = decimal.NewFromInt(100)

// SaveProductCost stores a product's cost sheet and returns it with the
// resulting profit and margin at the current unit price.
func (s *Service) SaveProductCost(ctx context.Context, productID string, req domain.ProductCostRequest) (domain.ProductCostResponse, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return domain.ProductCostResponse{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.ProductCostResponse{}, err
	}
	if req.ProductNetWeight.IsNegative() {
		return domain.ProductCostResponse{}, invalid("net weight must not be negative")
	}
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.ProductCostResponse{}, err
	}

	cost := domain.ProductCost{
		ProductID:        product.ID,
		ProductNetWeight: req.ProductNetWeight,
		RawMaterials:     make([]domain.RawMaterial, 0, len(req.RawMaterials)),
		OtherCosts:       make([]domain.OtherCost, 0, len(req.OtherCosts)),
		LastUpdated:      s.now(),
	}
	for _, m := range req.RawMaterials {
		if m.UnitPrice.IsNegative() || m.UsagePercent.IsNegative() || m.UsagePercent.GreaterThan(hundred) {
			return domain.ProductCostResponse{}, invalid("raw material %q has an invalid price or usage", m.Name)
		}
		if m.ID == "" {
			m.ID = xid.New("mat")
		}
		m.Name = strings.TrimSpace(m.Name)
		cost.RawMaterials = append(cost.RawMaterials, m)
	}
	for _, c := range req.OtherCosts {
		if c.UnitCost.IsNegative() {
			return domain.ProductCostResponse{}, invalid("cost %q must not be negative", c.Name)
		}
		if c.ID == "" {
			c.ID = xid.New("oc")
		}
		c.Name = strings.TrimSpace(c.Name)
		cost.OtherCosts = append(cost.OtherCosts, c)
	}
	cost.TotalCost = TotalCost(cost)

	if err := s.repo.UpsertProductCost(ctx, cost); err != nil {
		return domain.ProductCostResponse{}, err
	}
	s.logAudit(ctx, domain.ActionUpdate, domain.EntityProduct, product.ID,
		fmt.Sprintf("cost sheet for %s saved", product.DisplayName()),
		map[string]any{"total_cost": cost.TotalCost.String()})
	return costResponse(*product, cost), nil
}

func (s *Service) GetProductCost(ctx context.Context, productID string) (domain.ProductCostResponse, error) {
	if _, err := s.actor(ctx); err != nil {
		return domain.ProductCostResponse{}, err
	}
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.ProductCostResponse{}, err
	}
	cost, err := s.repo.GetProductCost(ctx, product.ID)
	if err != nil {
		return domain.ProductCostResponse{}, err
	}
	return costResponse(*product, *cost), nil
}

func (s *Service) ListProductCosts(ctx context.Context) ([]domain.ProductCostResponse, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	costs, err := s.repo.ListProductCosts(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(costs))
	for _, c := range costs {
		ids = append(ids, c.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductCostResponse, 0, len(costs))
	for _, c := range costs {
		if product, ok := products[c.ProductID]; ok {
			out = append(out, costResponse(product, c))
		}
	}
	return out, nil
}

// TotalCost sums raw material usage (net weight x usage% x unit price) and the
// fixed per-unit costs.
func TotalCost(cost domain.ProductCost) decimal.Decimal {
	total := decimal.Zero
	for _, m := range cost.RawMaterials {
		total = total.Add(cost.ProductNetWeight.Mul(m.UsagePercent).Div(hundred).Mul(m.UnitPrice))
	}
	for _, c := range cost.OtherCosts {
		total = total.Add(c.UnitCost)
	}
	return domain.RoundMoney(total)
}

func costResponse(product domain.Product, cost domain.ProductCost) domain.ProductCostResponse {
	profit := product.UnitPrice.Sub(cost.TotalCost)
	margin := decimal.Zero
	if product.UnitPrice.IsPositive() {
		margin = profit.Div(product.UnitPrice).Mul(hundred).Round(2)
	}
	return domain.ProductCostResponse{
		Cost:          cost,
		SellPrice:     product.UnitPrice,
		Profit:        domain.RoundMoney(profit),
		MarginPercent: margin,
	}
}
