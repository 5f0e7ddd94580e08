package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"satisledger/backend/internal/domain"
)

// ReconcileBalances compares every customer's cached balance with the sum of
// their journal entries. With repair set, drifted balances are reset to the
// journal sum, recomputed by the store in the same write so postings that
// commit after the scan are not lost.
func (s *Service) ReconcileBalances(ctx context.Context, repair bool) (domain.ReconciliationReport, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return domain.ReconciliationReport{}, err
	}
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	sums, err := s.repo.SumBalanceJournal(ctx)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	report := domain.ReconciliationReport{
		CheckedAt: s.now(),
		Customers: len(customers),
		Drifts:    []domain.BalanceDrift{},
	}
	for _, c := range customers {
		journal, ok := sums[c.ID]
		if !ok {
			journal = decimal.Zero
		}
		if c.Balance.Equal(journal) {
			continue
		}
		drift := domain.BalanceDrift{
			CustomerID:   c.ID,
			CustomerName: c.Name,
			Cached:       c.Balance,
			Journal:      journal,
			Difference:   c.Balance.Sub(journal),
		}
		if repair {
			repaired, err := s.repo.RepairCustomerBalance(ctx, c.ID)
			if err != nil {
				return domain.ReconciliationReport{}, fmt.Errorf("repair %s: %w", c.ID, err)
			}
			drift.Repaired = true
			drift.RepairedBalance = &repaired
			s.logAudit(ctx, domain.ActionFinancial, domain.EntityCustomer, c.ID,
				fmt.Sprintf("balance of %s reset to journal sum %s", c.Name, repaired.StringFixed(2)),
				map[string]any{"cached": c.Balance.String(), "journal": repaired.String()})
		}
		report.Drifts = append(report.Drifts, drift)
	}
	if len(report.Drifts) > 0 {
		s.log.Warn("balance drift detected",
			zap.Int("customers", len(report.Drifts)),
			zap.Bool("repaired", repair),
		)
	}
	return report, nil
}
