package service

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"satisledger/backend/internal/domain"
)

// SalesSummary aggregates sales in [from, to). Zero bounds default to the
// last 30 days.
func (s *Service) SalesSummary(ctx context.Context, from, to time.Time) (domain.SalesSummary, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	if !from.Before(to) {
		return domain.SalesSummary{}, invalid("from must be before to")
	}

	scope := visibilityScope(actor)
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{PersonnelUsername: scope, From: from, To: to})
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary := domain.SalesSummary{
		From:                  from,
		To:                    to,
		RevenueExclTax:        decimal.Zero,
		RevenueInclTax:        decimal.Zero,
		RefundTotal:           decimal.Zero,
		CollectionsTotal:      decimal.Zero,
		OutstandingReceivable: decimal.Zero,
		LowStock:              []domain.Product{},
		PendingShipments:      []domain.PendingShipment{},
	}
	for _, sale := range sales {
		switch sale.Status {
		case domain.SaleActive:
			if sale.SaleType == domain.SaleTypeGift {
				summary.GiftCount++
			} else {
				summary.SaleCount++
				summary.RevenueExclTax = summary.RevenueExclTax.Add(sale.Subtotal)
				summary.RevenueInclTax = summary.RevenueInclTax.Add(sale.GrandTotal())
			}
			if sale.DeliveryStatus == domain.DeliveryPending {
				summary.PendingShipments = append(summary.PendingShipments, domain.PendingShipment{
					SaleID:       sale.ID,
					CustomerName: sale.CustomerName,
					DeliveryType: sale.DeliveryType,
					CreatedAt:    sale.CreatedAt,
				})
			}
		case domain.SaleReturned:
			summary.ReturnedCount++
			if sale.Return != nil {
				summary.RefundTotal = summary.RefundTotal.Add(sale.Return.RefundAmount)
			}
		}
	}

	txs, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{PersonnelUsername: scope})
	if err != nil {
		return domain.SalesSummary{}, err
	}
	for _, tx := range txs {
		if tx.Type == domain.TxCollection && tx.Amount.IsPositive() && !tx.Date.Before(from) && tx.Date.Before(to) {
			summary.CollectionsTotal = summary.CollectionsTotal.Add(tx.Amount)
		}
	}

	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	for _, c := range customers {
		if c.Balance.IsNegative() {
			summary.OutstandingReceivable = summary.OutstandingReceivable.Add(c.Balance.Neg())
		}
	}

	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	for _, p := range products {
		if p.IsLowStock() {
			summary.LowStock = append(summary.LowStock, p)
		}
	}
	slices.SortFunc(summary.LowStock, func(a, b domain.Product) int { return a.Stock - b.Stock })
	slices.SortFunc(summary.PendingShipments, func(a, b domain.PendingShipment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return summary, nil
}
