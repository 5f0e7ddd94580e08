package service

import (
	"context"
	"fmt"
	"strings"

	"satisledger/backend/internal/domain"
)

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	if _, err := s.actor(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListCustomers(ctx)
}

// GetCustomerDetail returns the customer with the sales and transactions the
// actor may see. Admins also get the balance journal.
func (s *Service) GetCustomerDetail(ctx context.Context, id string) (domain.CustomerDetail, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.CustomerDetail{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.CustomerDetail{}, err
	}

	scope := visibilityScope(actor)
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{CustomerID: customer.ID, PersonnelUsername: scope})
	if err != nil {
		return domain.CustomerDetail{}, err
	}
	txs, err := s.repo.ListTransactions(ctx, domain.TransactionFilter{CustomerID: customer.ID, PersonnelUsername: scope})
	if err != nil {
		return domain.CustomerDetail{}, err
	}

	detail := domain.CustomerDetail{Customer: *customer, Sales: sales, Transactions: txs}
	if actor.IsAdmin() {
		journal, err := s.repo.ListBalanceEntries(ctx, customer.ID)
		if err != nil {
			return domain.CustomerDetail{}, err
		}
		detail.Journal = journal
	}
	return detail, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	req = trimCustomerRequest(req)
	if err := s.validateRequest(req); err != nil {
		return domain.Customer{}, err
	}

	customer := customerFromRequest(req)
	customer.Balance = domain.RoundMoney(req.OpeningBalance)
	customer.CreatedBy = actor.Username

	created, err := s.repo.CreateCustomer(ctx, customer, actor.Username)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, domain.ActionCreate, domain.EntityCustomer, created.ID,
		fmt.Sprintf("customer %s created", created.Name),
		map[string]any{"opening_balance": created.Balance.String()})
	return *created, nil
}

// UpdateCustomer changes contact fields. The balance only moves through
// ledger operations.
func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerRequest) (domain.Customer, error) {
	if _, err := s.actor(ctx); err != nil {
		return domain.Customer{}, err
	}
	req = trimCustomerRequest(req)
	if err := s.validateRequest(req); err != nil {
		return domain.Customer{}, err
	}
	if !req.OpeningBalance.IsZero() {
		return domain.Customer{}, invalid("balance cannot be edited directly; use a balance adjustment")
	}
	existing, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}

	customer := customerFromRequest(req)
	customer.ID = existing.ID
	updated, err := s.repo.UpdateCustomer(ctx, customer)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, domain.ActionUpdate, domain.EntityCustomer, updated.ID,
		fmt.Sprintf("customer %s updated", updated.Name), nil)
	return *updated, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := s.requireAdmin(ctx); err != nil {
		return err
	}
	existing, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, existing.ID); err != nil {
		return err
	}
	s.logAudit(ctx, domain.ActionDelete, domain.EntityCustomer, existing.ID,
		fmt.Sprintf("customer %s deleted", existing.Name),
		map[string]any{"balance": existing.Balance.String()})
	return nil
}

func trimCustomerRequest(req domain.CustomerRequest) domain.CustomerRequest {
	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.TrimSpace(req.Type)
	req.SalesChannel = strings.TrimSpace(req.SalesChannel)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.City = strings.TrimSpace(req.City)
	req.District = strings.TrimSpace(req.District)
	req.Address = strings.TrimSpace(req.Address)
	req.Description = strings.TrimSpace(req.Description)
	return req
}

func customerFromRequest(req domain.CustomerRequest) domain.Customer {
	return domain.Customer{
		Name:         req.Name,
		Type:         req.Type,
		SalesChannel: req.SalesChannel,
		Email:        req.Email,
		Phone:        req.Phone,
		City:         req.City,
		District:     req.District,
		Address:      req.Address,
		Description:  req.Description,
	}
}
