package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"satisledger/backend/internal/domain"
	"satisledger/backend/internal/xid"
)

// CollectForSale records a payment received against a credit sale.
// Collections beyond the remaining debt are accepted and reported as
// overpaid.
func (s *Service) CollectForSale(ctx context.Context, req domain.CollectionRequest) (domain.CollectionResponse, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.CollectionResponse{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.CollectionResponse{}, invalid("collection amount must be positive")
	}
	old, err := s.visibleSale(ctx, actor, req.SaleID)
	if err != nil {
		return domain.CollectionResponse{}, err
	}
	if old.IsGuest() {
		return domain.CollectionResponse{}, invalid("guest sales cannot take collections")
	}
	if old.Status != domain.SaleActive {
		return domain.CollectionResponse{}, invalid("sale %s is %s", old.ID, old.Status)
	}

	amount := domain.RoundMoney(req.Amount)
	total := old.GrandTotal()
	updated := old.Clone()
	updated.PaidAmount = old.PaidAmount.Add(amount)
	if domain.SettlesDebt(updated.PaidAmount, total) {
		updated.PaymentStatus = domain.PaymentPaid
	} else {
		updated.PaymentStatus = domain.PaymentPartial
	}
	overpaid := decimal.Max(updated.PaidAmount.Sub(total), decimal.Zero)

	now := s.now()
	tx := s.collectionTx(actor, old.CustomerID, amount, req, now)
	tx.SaleID = old.ID
	posting := domain.Posting{
		Sale:            &updated,
		ExpectedVersion: old.Version,
		Transactions:    []domain.Transaction{tx},
		Actor:           actor.Username,
		At:              now,
	}
	posting.AddBalance(domain.BalanceAdjustment{
		CustomerID:    old.CustomerID,
		Delta:         amount,
		Reason:        domain.BalanceCollection,
		SaleID:        old.ID,
		TransactionID: tx.ID,
	})

	stored, err := s.repo.ApplyPosting(ctx, posting)
	if err != nil {
		return domain.CollectionResponse{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, old.CustomerID)
	if err != nil {
		return domain.CollectionResponse{}, err
	}

	s.logAudit(ctx, domain.ActionCreate, domain.EntityCollection, tx.ID,
		fmt.Sprintf("collected %s for sale %s", amount.StringFixed(2), stored.ID),
		map[string]any{
			"sale_id":        stored.ID,
			"payment_status": string(stored.PaymentStatus),
			"overpaid":       overpaid.String(),
		})
	return domain.CollectionResponse{
		Transaction: tx,
		Sale:        stored,
		Balance:     customer.Balance,
		OverpaidBy:  overpaid,
	}, nil
}

// CollectGeneral records a payment on account, not tied to any sale.
func (s *Service) CollectGeneral(ctx context.Context, req domain.CollectionRequest) (domain.CollectionResponse, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.CollectionResponse{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.CollectionResponse{}, invalid("collection amount must be positive")
	}
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return domain.CollectionResponse{}, invalid("customer id required")
	}
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return domain.CollectionResponse{}, err
	}

	amount := domain.RoundMoney(req.Amount)
	now := s.now()
	tx := s.collectionTx(actor, customerID, amount, req, now)
	posting := domain.Posting{Transactions: []domain.Transaction{tx}, Actor: actor.Username, At: now}
	posting.AddBalance(domain.BalanceAdjustment{
		CustomerID:    customerID,
		Delta:         amount,
		Reason:        domain.BalanceCollection,
		TransactionID: tx.ID,
	})
	if _, err := s.repo.ApplyPosting(ctx, posting); err != nil {
		return domain.CollectionResponse{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.CollectionResponse{}, err
	}

	s.logAudit(ctx, domain.ActionCreate, domain.EntityCollection, tx.ID,
		fmt.Sprintf("collected %s from %s", amount.StringFixed(2), customer.Name),
		map[string]any{"customer_id": customerID})
	return domain.CollectionResponse{Transaction: tx, Balance: customer.Balance, OverpaidBy: decimal.Zero}, nil
}

// AdjustCustomerBalance books a manual debit or credit on a customer account.
func (s *Service) AdjustCustomerBalance(ctx context.Context, customerID string, req domain.BalanceAdjustRequest) (domain.Customer, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	if err := s.validateRequest(req); err != nil {
		return domain.Customer{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.Customer{}, invalid("adjustment amount must be positive")
	}
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return domain.Customer{}, err
	}

	amount := domain.RoundMoney(req.Amount)
	delta := amount
	txType := domain.TxCollection
	if req.Kind == domain.AdjustDebt {
		delta = amount.Neg()
		txType = domain.TxPayment
	}
	description := "manual adjustment"
	if d := strings.TrimSpace(req.Description); d != "" {
		description += ": " + d
	}

	now := s.now()
	tx := domain.Transaction{
		ID:                xid.New("txn"),
		CustomerID:        customer.ID,
		Amount:            delta,
		Type:              txType,
		Method:            "MANUAL",
		Date:              now,
		Description:       description,
		PersonnelUsername: actor.Username,
		PersonnelName:     displayName(actor),
	}
	posting := domain.Posting{Transactions: []domain.Transaction{tx}, Actor: actor.Username, At: now}
	posting.AddBalance(domain.BalanceAdjustment{
		CustomerID:    customer.ID,
		Delta:         delta,
		Reason:        domain.BalanceManualAdjustment,
		TransactionID: tx.ID,
	})
	if _, err := s.repo.ApplyPosting(ctx, posting); err != nil {
		return domain.Customer{}, err
	}
	updated, err := s.repo.GetCustomer(ctx, customer.ID)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, domain.ActionFinancial, domain.EntityCustomer, customer.ID,
		fmt.Sprintf("%s of %s on %s", strings.ToLower(string(req.Kind)), amount.StringFixed(2), customer.Name),
		map[string]any{"delta": delta.String(), "old_balance": customer.Balance.String(), "new_balance": updated.Balance.String()})
	return *updated, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if scope := visibilityScope(actor); scope != "" {
		filter.PersonnelUsername = scope
	}
	return s.repo.ListTransactions(ctx, filter)
}

func (s *Service) collectionTx(actor domain.Actor, customerID string, amount decimal.Decimal, req domain.CollectionRequest, now time.Time) domain.Transaction {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = "CASH"
	}
	return domain.Transaction{
		ID:                xid.New("txn"),
		CustomerID:        customerID,
		Amount:            amount,
		Type:              domain.TxCollection,
		Method:            method,
		Date:              now,
		Description:       strings.TrimSpace(req.Description),
		PersonnelUsername: actor.Username,
		PersonnelName:     displayName(actor),
	}
}
