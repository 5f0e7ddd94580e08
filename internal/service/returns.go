package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"satisledger/backend/internal/domain"
)

// ProcessReturn marks an active sale as returned. Resellable items go back
// on the shelf; a completed wallet refund is credited to the customer at once.
func (s *Service) ProcessReturn(ctx context.Context, saleID string, req domain.ReturnRequest) (domain.Sale, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validateRequest(req); err != nil {
		return domain.Sale{}, err
	}
	old, err := s.visibleSale(ctx, actor, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if old.Status != domain.SaleActive {
		return domain.Sale{}, invalid("sale %s is %s and cannot be returned", old.ID, old.Status)
	}
	if req.RefundMethod == domain.RefundWallet && old.IsGuest() {
		return domain.Sale{}, invalid("wallet refunds require a registered customer")
	}

	sold := old.SoldQuantities()
	returned := make(map[string]int, len(req.Items))
	for _, item := range req.Items {
		returned[item.ProductID] += item.Quantity
	}
	for productID, qty := range returned {
		if qty > sold[productID] {
			return domain.Sale{}, invalid("cannot return %d of product %s; %d sold", qty, productID, sold[productID])
		}
	}

	refund := defaultRefund(*old, req.Items)
	if req.RefundAmount != nil {
		if req.RefundAmount.IsNegative() {
			return domain.Sale{}, invalid("refund amount must not be negative")
		}
		refund = domain.RoundMoney(*req.RefundAmount)
	}

	now := s.now()
	details := domain.ReturnDetails{
		Date:                  now,
		Reason:                req.Reason,
		ReturnShippingCompany: strings.TrimSpace(req.ReturnShippingCompany),
		ReturnTrackingNumber:  strings.TrimSpace(req.ReturnTrackingNumber),
		RefundAmount:          refund,
		RefundStatus:          req.RefundStatus,
		RefundMethod:          req.RefundMethod,
		RefundDescription:     strings.TrimSpace(req.RefundDescription),
		ProcessedBy:           displayName(actor),
		Items:                 append([]domain.ReturnItem(nil), req.Items...),
	}
	if details.RefundStatus == domain.RefundCompleted {
		details.RefundDate = &now
	}

	updated := old.Clone()
	updated.Status = domain.SaleReturned
	posting := domain.Posting{Sale: &updated, ExpectedVersion: old.Version, Actor: actor.Username, At: now}
	for _, item := range req.Items {
		if item.Condition == domain.ConditionResellable {
			posting.AddStock(item.ProductID, item.Quantity)
		}
	}
	if details.RefundStatus == domain.RefundCompleted && details.RefundMethod == domain.RefundWallet {
		posting.AddBalance(domain.BalanceAdjustment{
			CustomerID: old.CustomerID,
			Delta:      refund,
			Reason:     domain.BalanceRefundWallet,
			SaleID:     old.ID,
		})
		details.WalletCredited = true
	}
	updated.Return = &details

	stored, err := s.repo.ApplyPosting(ctx, posting)
	if err != nil {
		return domain.Sale{}, err
	}
	s.logAudit(ctx, domain.ActionCreate, domain.EntityReturn, stored.ID,
		fmt.Sprintf("return processed for sale %s: %s", stored.ID, details.Reason),
		map[string]any{
			"refund_amount":   refund.String(),
			"refund_method":   string(details.RefundMethod),
			"refund_status":   string(details.RefundStatus),
			"wallet_credited": details.WalletCredited,
		})
	return *stored, nil
}

// UpdateReturnPayment merges refund fields into a return. A wallet refund is
// credited the first time it reaches COMPLETED and never again.
func (s *Service) UpdateReturnPayment(ctx context.Context, saleID string, req domain.ReturnPaymentRequest) (domain.Sale, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Sale{}, err
	}
	old, err := s.visibleSale(ctx, actor, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if old.Status != domain.SaleReturned || old.Return == nil {
		return domain.Sale{}, invalid("sale %s has no return to update", old.ID)
	}

	updated := old.Clone()
	details := updated.Return
	prevStatus := details.RefundStatus

	details.RefundStatus = req.RefundStatus
	if req.RefundMethod != "" {
		details.RefundMethod = req.RefundMethod
	}
	if req.RefundDescription != nil {
		details.RefundDescription = strings.TrimSpace(*req.RefundDescription)
	}
	now := s.now()
	switch {
	case req.RefundDate != nil:
		at := req.RefundDate.UTC()
		details.RefundDate = &at
	case details.RefundStatus == domain.RefundCompleted && details.RefundDate == nil:
		details.RefundDate = &now
	}
	if details.RefundMethod == domain.RefundWallet && updated.IsGuest() {
		return domain.Sale{}, invalid("wallet refunds require a registered customer")
	}

	posting := domain.Posting{Sale: &updated, ExpectedVersion: old.Version, Actor: actor.Username, At: now}
	credit := prevStatus != domain.RefundCompleted &&
		details.RefundStatus == domain.RefundCompleted &&
		details.RefundMethod == domain.RefundWallet &&
		!details.WalletCredited
	if credit {
		posting.AddBalance(domain.BalanceAdjustment{
			CustomerID: updated.CustomerID,
			Delta:      details.RefundAmount,
			Reason:     domain.BalanceRefundWallet,
			SaleID:     updated.ID,
		})
		details.WalletCredited = true
	}

	stored, err := s.repo.ApplyPosting(ctx, posting)
	if err != nil {
		return domain.Sale{}, err
	}
	s.logAudit(ctx, domain.ActionUpdate, domain.EntityReturn, stored.ID,
		fmt.Sprintf("refund %s -> %s", prevStatus, details.RefundStatus),
		map[string]any{"refund_method": string(details.RefundMethod)})
	if credit {
		s.logAudit(ctx, domain.ActionFinancial, domain.EntityCustomer, stored.CustomerID,
			fmt.Sprintf("wallet credited %s for return of sale %s", details.RefundAmount.StringFixed(2), stored.ID),
			map[string]any{"amount": details.RefundAmount.String(), "sale_id": stored.ID})
	}
	return *stored, nil
}

// defaultRefund prices returned items at their tax-inclusive sale price,
// drawing quantities from the sale's lines for each product in order so
// repeated lines keep their own prices. Shipping and gift adjustments are not
// part of the default.
func defaultRefund(sale domain.Sale, items []domain.ReturnItem) decimal.Decimal {
	remaining := make(map[string]int, len(items))
	for _, item := range items {
		remaining[item.ProductID] += item.Quantity
	}
	total := decimal.Zero
	for _, line := range sale.Items {
		qty := min(remaining[line.ProductID], line.Quantity)
		if qty <= 0 {
			continue
		}
		remaining[line.ProductID] -= qty
		gross := domain.GrossPrice(line.UnitPrice)
		total = total.Add(gross.Mul(decimal.NewFromInt(int64(qty))))
	}
	return domain.RoundMoney(total)
}
