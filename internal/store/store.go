package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"satisledger/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrConflict reports a stale version or a duplicate key.
	ErrConflict = errors.New("conflict")
)

type Repository interface {
	ListProducts(ctx context.Context, includeArchived bool) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	// CreateCustomer stores the customer and journals its starting balance as OPENING.
	CreateCustomer(ctx context.Context, customer domain.Customer, actor string) (*domain.Customer, error)
	// UpdateCustomer writes contact fields only; the balance is never touched.
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	// DeleteCustomer refuses with ErrConflict while the customer carries a
	// balance or has an active sale that is not fully paid.
	DeleteCustomer(ctx context.Context, id string) error

	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	// ApplyPosting commits every write of a ledger operation in one unit and
	// returns the stored sale (nil when the posting carries none).
	ApplyPosting(ctx context.Context, posting domain.Posting) (*domain.Sale, error)

	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	ListBalanceEntries(ctx context.Context, customerID string) ([]domain.BalanceEntry, error)
	SumBalanceJournal(ctx context.Context) (map[string]decimal.Decimal, error)
	// RepairCustomerBalance sets the cached balance to the journal sum read in
	// the same write and returns it.
	RepairCustomerBalance(ctx context.Context, customerID string) (decimal.Decimal, error)

	CreateTask(ctx context.Context, task domain.Task) (*domain.Task, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	UpdateTask(ctx context.Context, task domain.Task) (*domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context) ([]domain.Task, error)

	CreateActivityLog(ctx context.Context, entry domain.ActivityLog) error
	ListActivityLogs(ctx context.Context, filter domain.ActivityFilter) ([]domain.ActivityLog, error)

	GetSettings(ctx context.Context) (domain.AppSettings, error)
	SaveSettings(ctx context.Context, settings domain.AppSettings) error

	GetProductCost(ctx context.Context, productID string) (*domain.ProductCost, error)
	ListProductCosts(ctx context.Context) ([]domain.ProductCost, error)
	UpsertProductCost(ctx context.Context, cost domain.ProductCost) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	DeleteUser(ctx context.Context, username string) error
}
