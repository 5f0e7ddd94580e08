package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"satisledger/backend/internal/domain"
	"satisledger/backend/internal/store"
	"satisledger/backend/internal/xid"
)

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if scope := visibilityScope(actor); scope != "" {
		filter.PersonnelUsername = scope
	}
	return s.repo.ListSales(ctx, filter)
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.visibleSale(ctx, actor, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	draft, products, err := s.draftSale(ctx, req, nil)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	now := s.now()
	draft.ID = xid.New("sale")
	draft.Status = domain.SaleActive
	draft.DeliveryStatus = domain.DeliveryPending
	draft.PersonnelUsername = actor.Username
	draft.PersonnelName = displayName(actor)
	draft.CreatedAt = now
	draft.UpdatedAt = now

	total := draft.GrandTotal()
	if draft.PaymentStatus == domain.PaymentPaid {
		draft.PaidAmount = total
	} else {
		draft.PaidAmount = decimal.Zero
	}

	posting := domain.Posting{Sale: &draft, Actor: actor.Username, At: now}
	for productID, qty := range draft.SoldQuantities() {
		posting.AddStock(productID, -qty)
	}
	if !draft.IsGuest() && draft.PaymentStatus != domain.PaymentPaid {
		posting.AddBalance(domain.BalanceAdjustment{
			CustomerID: draft.CustomerID,
			Delta:      total.Neg(),
			Reason:     domain.BalanceSaleDebt,
			SaleID:     draft.ID,
		})
	}

	stored, err := s.repo.ApplyPosting(ctx, posting)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, domain.ActionCreate, domain.EntitySale, stored.ID,
		fmt.Sprintf("sale to %s for %s", stored.CustomerName, total.StringFixed(2)),
		map[string]any{
			"grand_total":    total.String(),
			"payment_status": string(stored.PaymentStatus),
			"sale_type":      string(stored.SaleType),
		})
	return domain.SaleResponse{
		Sale:          *stored,
		GrandTotal:    total,
		StockWarnings: stockWarnings(products, posting.NetStock()),
	}, nil
}

// EditSale replaces an active sale's content. The old effects are reversed
// and the new ones applied in the same posting.
func (s *Service) EditSale(ctx context.Context, id string, req domain.SaleRequest) (domain.SaleResponse, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	old, err := s.visibleSale(ctx, actor, id)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if old.Status != domain.SaleActive {
		return domain.SaleResponse{}, invalid("only active sales can be edited")
	}

	draft, products, err := s.draftSale(ctx, req, old)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	updated := old.Clone()
	updated.CustomerID = draft.CustomerID
	updated.CustomerName = draft.CustomerName
	updated.Items = draft.Items
	updated.Subtotal = draft.Subtotal
	updated.ShippingCost = draft.ShippingCost
	updated.ShippingPayer = draft.ShippingPayer
	updated.SaleType = draft.SaleType
	updated.PaymentStatus = draft.PaymentStatus
	updated.DueDate = draft.DueDate
	if draft.DeliveryType != "" {
		updated.DeliveryType = draft.DeliveryType
	}

	oldTotal := old.GrandTotal()
	newTotal := updated.GrandTotal()
	if updated.PaymentStatus == domain.PaymentPaid {
		updated.PaidAmount = newTotal
	}

	now := s.now()
	posting := domain.Posting{Sale: &updated, ExpectedVersion: old.Version, Actor: actor.Username, At: now}
	for productID, qty := range old.SoldQuantities() {
		posting.AddStock(productID, qty)
	}
	if !old.IsGuest() && old.PaymentStatus != domain.PaymentPaid {
		posting.AddBalance(domain.BalanceAdjustment{
			CustomerID: old.CustomerID,
			Delta:      oldTotal,
			Reason:     domain.BalanceSaleDebtReversal,
			SaleID:     old.ID,
		})
	}
	for productID, qty := range updated.SoldQuantities() {
		posting.AddStock(productID, -qty)
	}
	if !updated.IsGuest() && updated.PaymentStatus != domain.PaymentPaid {
		posting.AddBalance(domain.BalanceAdjustment{
			CustomerID: updated.CustomerID,
			Delta:      newTotal.Neg(),
			Reason:     domain.BalanceSaleDebt,
			SaleID:     updated.ID,
		})
	}

	stored, err := s.repo.ApplyPosting(ctx, posting)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	s.logAudit(ctx, domain.ActionUpdate, domain.EntitySale, stored.ID,
		fmt.Sprintf("sale %s edited", stored.ID),
		map[string]any{
			"old_total":  oldTotal.String(),
			"new_total":  newTotal.String(),
			"old_status": string(old.PaymentStatus),
			"new_status": string(stored.PaymentStatus),
		})
	return domain.SaleResponse{
		Sale:          *stored,
		GrandTotal:    newTotal,
		StockWarnings: stockWarnings(products, posting.NetStock()),
	}, nil
}

func (s *Service) UpdatePaymentStatus(ctx context.Context, id string, req domain.PaymentStatusRequest) (domain.Sale, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Sale{}, err
	}
	old, err := s.visibleSale(ctx, actor, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if old.Status != domain.SaleActive {
		return domain.Sale{}, invalid("payment status can only change on active sales")
	}
	if old.PaymentStatus == req.Status {
		return *old, nil
	}
	if req.Status != domain.PaymentPaid && old.IsGuest() {
		return domain.Sale{}, invalid("guest sales must stay paid")
	}

	total := old.GrandTotal()
	updated := old.Clone()
	updated.PaymentStatus = req.Status
	switch req.Status {
	case domain.PaymentPaid:
		updated.PaidAmount = total
	case domain.PaymentUnpaid:
		updated.PaidAmount = decimal.Zero
	}

	posting := domain.Posting{Sale: &updated, ExpectedVersion: old.Version, Actor: actor.Username, At: s.now()}
	var delta decimal.Decimal
	switch {
	case old.PaymentStatus == domain.PaymentUnpaid && req.Status == domain.PaymentPaid:
		delta = total
	case old.PaymentStatus == domain.PaymentPaid && req.Status == domain.PaymentUnpaid:
		delta = total.Neg()
	}
	if !old.IsGuest() {
		posting.AddBalance(domain.BalanceAdjustment{
			CustomerID: old.CustomerID,
			Delta:      delta,
			Reason:     domain.BalanceStatusChange,
			SaleID:     old.ID,
		})
	}

	stored, err := s.repo.ApplyPosting(ctx, posting)
	if err != nil {
		return domain.Sale{}, err
	}
	s.logAudit(ctx, domain.ActionStatusChange, domain.EntitySale, stored.ID,
		fmt.Sprintf("payment status %s -> %s", old.PaymentStatus, stored.PaymentStatus),
		map[string]any{"balance_delta": delta.String()})
	return *stored, nil
}

func (s *Service) UpdateDelivery(ctx context.Context, id string, req domain.DeliveryUpdateRequest) (domain.Sale, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Sale{}, err
	}
	old, err := s.visibleSale(ctx, actor, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if old.Status == domain.SaleCancelled {
		return domain.Sale{}, invalid("cancelled sales cannot be shipped")
	}

	updated := old.Clone()
	if v := strings.TrimSpace(req.DeliveryType); v != "" {
		updated.DeliveryType = v
	}
	updated.ShippingCompany = strings.TrimSpace(req.ShippingCompany)
	updated.TrackingNumber = strings.TrimSpace(req.TrackingNumber)
	updated.DeliveryStatus = req.Status
	if updated.DeliveryStatus == "" {
		updated.DeliveryStatus = domain.DeliveryDelivered
	}
	updated.ShippingUpdatedBy = displayName(actor)

	stored, err := s.repo.ApplyPosting(ctx, domain.Posting{Sale: &updated, ExpectedVersion: old.Version, Actor: actor.Username, At: s.now()})
	if err != nil {
		return domain.Sale{}, err
	}
	s.logAudit(ctx, domain.ActionUpdate, domain.EntitySale, stored.ID,
		fmt.Sprintf("delivery %s via %s", stored.DeliveryStatus, stored.ShippingCompany),
		map[string]any{"tracking_number": stored.TrackingNumber})
	return *stored, nil
}

// CancelSale voids an active sale: stock comes back and any debt recorded at
// creation is reversed. Collections already taken stay on the ledger.
func (s *Service) CancelSale(ctx context.Context, id string) (domain.Sale, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	old, err := s.visibleSale(ctx, actor, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if old.Status != domain.SaleActive {
		return domain.Sale{}, invalid("only active sales can be cancelled")
	}

	updated := old.Clone()
	updated.Status = domain.SaleCancelled
	posting := domain.Posting{Sale: &updated, ExpectedVersion: old.Version, Actor: actor.Username, At: s.now()}
	for productID, qty := range old.SoldQuantities() {
		posting.AddStock(productID, qty)
	}
	total := old.GrandTotal()
	if !old.IsGuest() && old.PaymentStatus != domain.PaymentPaid {
		posting.AddBalance(domain.BalanceAdjustment{
			CustomerID: old.CustomerID,
			Delta:      total,
			Reason:     domain.BalanceSaleDebtReversal,
			SaleID:     old.ID,
		})
	}

	stored, err := s.repo.ApplyPosting(ctx, posting)
	if err != nil {
		return domain.Sale{}, err
	}
	s.logAudit(ctx, domain.ActionStatusChange, domain.EntitySale, stored.ID,
		fmt.Sprintf("sale %s cancelled", stored.ID),
		map[string]any{"grand_total": total.String()})
	return *stored, nil
}

// draftSale validates a sale request, prices its lines and applies the
// guest and gift normalisation rules. When old is set, products already on
// the sale keep their recorded price and may be sold even if inactive.
func (s *Service) draftSale(ctx context.Context, req domain.SaleRequest, old *domain.Sale) (domain.Sale, map[string]domain.Product, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if err := s.validateRequest(req); err != nil {
		return domain.Sale{}, nil, err
	}
	if req.ShippingCost.IsNegative() {
		return domain.Sale{}, nil, invalid("shipping cost must not be negative")
	}
	if req.SaleType == "" {
		req.SaleType = domain.SaleTypeSale
	}
	if req.ShippingPayer == "" {
		req.ShippingPayer = domain.PayerNone
	}

	draft := domain.Sale{
		ShippingCost:  domain.RoundMoney(req.ShippingCost),
		ShippingPayer: req.ShippingPayer,
		SaleType:      req.SaleType,
		PaymentStatus: req.PaymentStatus,
		DeliveryType:  strings.TrimSpace(req.DeliveryType),
		CustomerName:  "Guest",
	}
	if req.CustomerID != "" {
		customer, err := s.repo.GetCustomer(ctx, req.CustomerID)
		if err != nil {
			return domain.Sale{}, nil, fmt.Errorf("customer %s: %w", req.CustomerID, err)
		}
		draft.CustomerID = customer.ID
		draft.CustomerName = customer.Name
	}

	ids := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, strings.TrimSpace(item.ProductID))
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.Sale{}, nil, err
	}

	oldPrices := map[string]decimal.Decimal{}
	if old != nil {
		for _, item := range old.Items {
			oldPrices[item.ProductID] = item.OriginalPrice
		}
	}

	subtotal := decimal.Zero
	draft.Items = make([]domain.SaleItem, 0, len(req.Items))
	for _, item := range req.Items {
		productID := strings.TrimSpace(item.ProductID)
		product, ok := products[productID]
		if !ok {
			return domain.Sale{}, nil, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
		}
		price, onOldSale := oldPrices[productID]
		if !onOldSale {
			if product.Status != domain.ProductActive {
				return domain.Sale{}, nil, invalid("product %s is not available for sale", product.DisplayName())
			}
			price = product.UnitPrice
		}
		unit := price
		if draft.SaleType == domain.SaleTypeGift {
			unit = decimal.Zero
		}
		line := domain.RoundMoney(unit.Mul(decimal.NewFromInt(int64(item.Quantity))))
		subtotal = subtotal.Add(line)
		draft.Items = append(draft.Items, domain.SaleItem{
			ProductID:     productID,
			ProductName:   product.DisplayName(),
			Quantity:      item.Quantity,
			UnitPrice:     unit,
			OriginalPrice: price,
			LineTotal:     line,
		})
	}
	draft.Subtotal = subtotal

	switch {
	case draft.IsGuest():
		draft.PaymentStatus = domain.PaymentPaid
	case draft.SaleType == domain.SaleTypeGift && !(draft.ShippingPayer == domain.PayerCustomer && draft.ShippingCost.IsPositive()):
		draft.PaymentStatus = domain.PaymentPaid
	}

	if draft.PaymentStatus != domain.PaymentPaid {
		if req.DueDate == nil || req.DueDate.IsZero() {
			return domain.Sale{}, nil, invalid("due date required for %s sales", draft.PaymentStatus)
		}
		due := req.DueDate.UTC()
		draft.DueDate = &due
	}
	return draft, products, nil
}

func stockWarnings(products map[string]domain.Product, net map[string]int) []domain.StockWarning {
	var warnings []domain.StockWarning
	for productID, delta := range net {
		product, ok := products[productID]
		if !ok || delta >= 0 {
			continue
		}
		after := product.Stock + delta
		if after < 0 {
			warnings = append(warnings, domain.StockWarning{
				ProductID:   productID,
				ProductName: product.DisplayName(),
				Stock:       after,
			})
		}
	}
	slices.SortFunc(warnings, func(a, b domain.StockWarning) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return warnings
}
