package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"satisledger/backend/internal/domain"
	"satisledger/backend/internal/store"
	"satisledger/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	customers       map[string]domain.Customer
	sales           map[string]domain.Sale
	transactions    []domain.Transaction
	journal         []domain.BalanceEntry
	tasks           map[string]domain.Task
	activityLogs    []domain.ActivityLog
	settings        domain.AppSettings
	productCosts    map[string]domain.ProductCost
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        map[string]domain.Product{},
		customers:       map[string]domain.Customer{},
		sales:           map[string]domain.Sale{},
		tasks:           map[string]domain.Task{},
		settings:        domain.DefaultSettings(),
		productCosts:    map[string]domain.ProductCost{},
		usersByUsername: map[string]domain.UserAccount{},
	}
}

// NewSeeded returns a store with demo users and catalog for dev mode.
// Passwords come from SEED_ADMIN_PASSWORD and SEED_PERSONNEL_PASSWORD; the
// hardcoded fallbacks are only meant for local runs.
func NewSeeded(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := New()
	s.usersByUsername = seedUsers(log)

	now := time.Now().UTC()
	for _, p := range []domain.Product{
		{ID: "prd-olive-oil-1l", BaseName: "Olive Oil", VariantName: "1L", UnitPrice: decimal.NewFromInt(250), Stock: 40, LowStockThreshold: 5},
		{ID: "prd-olive-oil-5l", BaseName: "Olive Oil", VariantName: "5L", UnitPrice: decimal.NewFromInt(1000), Stock: 12, LowStockThreshold: 3},
		{ID: "prd-olive-soap", BaseName: "Olive Soap", UnitPrice: decimal.NewFromInt(40), Stock: 100, LowStockThreshold: 20},
	} {
		p.Status = domain.ProductActive
		p.CreatedBy = "admin"
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
	}
	s.customers["cus-walk-in-demo"] = domain.Customer{
		ID:        "cus-walk-in-demo",
		Name:      "Demo Customer",
		Type:      "Individual",
		Balance:   decimal.Zero,
		CreatedBy: "admin",
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s
}

func seedUsers(log *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	personnelPwd := envOr("SEED_PERSONNEL_PASSWORD", "personnel123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_PERSONNEL_PASSWORD") == "" {
		log.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_PERSONNEL_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
	}{
		{"admin", "Administrator", adminPwd, domain.RoleAdmin},
		{"personnel", "Sales Personnel", personnelPwd, domain.RolePersonnel},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			ID:        "usr-" + u.username,
			Username:  u.username,
			Password:  string(hash),
			Name:      u.name,
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context, includeArchived bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Status == domain.ProductArchived && !includeArchived {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(a.BaseName, b.BaseName); c != 0 {
			return c
		}
		return strings.Compare(a.VariantName, b.VariantName)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	for _, existing := range s.products {
		if existing.Status != domain.ProductArchived && existing.SameName(product) {
			return nil, store.ErrConflict
		}
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if product.Status != domain.ProductArchived {
		for id, other := range s.products {
			if id != product.ID && other.Status != domain.ProductArchived && other.SameName(product) {
				return nil, store.ErrConflict
			}
		}
	}
	product.CreatedAt = existing.CreatedAt
	product.CreatedBy = existing.CreatedBy
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer, actor string) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now
	customer.Balance = domain.RoundMoney(customer.Balance)
	s.customers[customer.ID] = customer
	if !customer.Balance.IsZero() {
		s.journal = append(s.journal, domain.BalanceEntry{
			ID:         xid.New("bal"),
			CustomerID: customer.ID,
			Delta:      customer.Balance,
			Reason:     domain.BalanceOpening,
			Actor:      actor,
			At:         now,
		})
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.customers[customer.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer.Balance = existing.Balance
	customer.CreatedAt = existing.CreatedAt
	customer.CreatedBy = existing.CreatedBy
	customer.UpdatedAt = time.Now().UTC()
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[id]
	if !ok {
		return store.ErrNotFound
	}
	if !c.Balance.IsZero() {
		return store.ErrConflict
	}
	for _, sale := range s.sales {
		if sale.CustomerID == id && sale.Status == domain.SaleActive && sale.PaymentStatus != domain.PaymentPaid {
			return store.ErrConflict
		}
	}
	delete(s.customers, id)
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := sale.Clone()
	return &out, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.PersonnelUsername != "" && sale.PersonnelUsername != filter.PersonnelUsername {
			continue
		}
		if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
			continue
		}
		if !filter.From.IsZero() && sale.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, sale.Clone())
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return result, nil
}

// ApplyPosting validates every reference before the first mutation, so a
// rejected posting leaves the store untouched.
func (s *Store) ApplyPosting(_ context.Context, posting domain.Posting) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if posting.Sale != nil {
		if posting.Sale.ID == "" {
			return nil, store.ErrInvalidTransaction
		}
		current, exists := s.sales[posting.Sale.ID]
		switch {
		case posting.ExpectedVersion == 0 && exists:
			return nil, store.ErrConflict
		case posting.ExpectedVersion > 0 && !exists:
			return nil, store.ErrNotFound
		case posting.ExpectedVersion > 0 && current.Version != posting.ExpectedVersion:
			return nil, store.ErrConflict
		}
	}
	for productID := range posting.NetStock() {
		if _, ok := s.products[productID]; !ok {
			return nil, fmt.Errorf("product %s: %w", productID, store.ErrNotFound)
		}
	}
	for _, adj := range posting.Balances {
		if _, ok := s.customers[adj.CustomerID]; !ok {
			return nil, fmt.Errorf("customer %s: %w", adj.CustomerID, store.ErrNotFound)
		}
	}
	for _, tx := range posting.Transactions {
		if tx.ID == "" {
			return nil, store.ErrInvalidTransaction
		}
		if _, ok := s.customers[tx.CustomerID]; !ok {
			return nil, fmt.Errorf("customer %s: %w", tx.CustomerID, store.ErrNotFound)
		}
	}

	at := posting.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var stored *domain.Sale
	if posting.Sale != nil {
		sale := posting.Sale.Clone()
		sale.Version = posting.ExpectedVersion + 1
		if sale.CreatedAt.IsZero() {
			sale.CreatedAt = at
		}
		sale.UpdatedAt = at
		s.sales[sale.ID] = sale
		out := sale.Clone()
		stored = &out
	}
	for _, adj := range posting.Stock {
		p := s.products[adj.ProductID]
		p.Stock += adj.Delta
		p.UpdatedAt = at
		s.products[adj.ProductID] = p
	}
	s.transactions = append(s.transactions, posting.Transactions...)
	for _, adj := range posting.Balances {
		c := s.customers[adj.CustomerID]
		c.Balance = c.Balance.Add(adj.Delta)
		c.UpdatedAt = at
		s.customers[adj.CustomerID] = c
		s.journal = append(s.journal, domain.BalanceEntry{
			ID:            xid.New("bal"),
			CustomerID:    adj.CustomerID,
			Delta:         adj.Delta,
			Reason:        adj.Reason,
			SaleID:        adj.SaleID,
			TransactionID: adj.TransactionID,
			Actor:         posting.Actor,
			At:            at,
		})
	}
	return stored, nil
}

func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, len(s.transactions))
	for _, tx := range s.transactions {
		if filter.PersonnelUsername != "" && tx.PersonnelUsername != filter.PersonnelUsername {
			continue
		}
		if filter.CustomerID != "" && tx.CustomerID != filter.CustomerID {
			continue
		}
		if filter.SaleID != "" && tx.SaleID != filter.SaleID {
			continue
		}
		result = append(result, tx)
	}
	slices.SortStableFunc(result, func(a, b domain.Transaction) int {
		return b.Date.Compare(a.Date)
	})
	return result, nil
}

func (s *Store) ListBalanceEntries(_ context.Context, customerID string) ([]domain.BalanceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.BalanceEntry, 0, 16)
	for _, entry := range s.journal {
		if customerID == "" || entry.CustomerID == customerID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (s *Store) SumBalanceJournal(_ context.Context) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[string]decimal.Decimal, len(s.customers))
	for _, entry := range s.journal {
		sums[entry.CustomerID] = sums[entry.CustomerID].Add(entry.Delta)
	}
	return sums, nil
}

func (s *Store) RepairCustomerBalance(_ context.Context, customerID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[customerID]
	if !ok {
		return decimal.Zero, store.ErrNotFound
	}
	sum := decimal.Zero
	for _, entry := range s.journal {
		if entry.CustomerID == customerID {
			sum = sum.Add(entry.Delta)
		}
	}
	c.Balance = sum
	c.UpdatedAt = time.Now().UTC()
	s.customers[customerID] = c
	return sum, nil
}

func (s *Store) CreateTask(_ context.Context, task domain.Task) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = xid.New("task")
	}
	if _, exists := s.tasks[task.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	s.tasks[task.ID] = task
	return &task, nil
}

func (s *Store) GetTask(_ context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &task, nil
}

func (s *Store) UpdateTask(_ context.Context, task domain.Task) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[task.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	task.CreatedAt = existing.CreatedAt
	task.UpdatedAt = time.Now().UTC()
	s.tasks[task.ID] = task
	return &task, nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *Store) ListTasks(_ context.Context) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	slices.SortFunc(tasks, func(a, b domain.Task) int {
		return strings.Compare(a.ID, b.ID)
	})
	return tasks, nil
}

func (s *Store) CreateActivityLog(_ context.Context, entry domain.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	s.activityLogs = append(s.activityLogs, entry)
	return nil
}

func (s *Store) ListActivityLogs(_ context.Context, filter domain.ActivityFilter) ([]domain.ActivityLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ActivityLog, 0, 64)
	for i := len(s.activityLogs) - 1; i >= 0; i-- {
		entry := s.activityLogs[i]
		if filter.ActorUsername != "" && entry.ActorUsername != filter.ActorUsername {
			continue
		}
		if filter.Entity != "" && entry.Entity != filter.Entity {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetSettings(_ context.Context) (domain.AppSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) SaveSettings(_ context.Context, settings domain.AppSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

func (s *Store) GetProductCost(_ context.Context, productID string) (*domain.ProductCost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cost, ok := s.productCosts[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cost, nil
}

func (s *Store) ListProductCosts(_ context.Context) ([]domain.ProductCost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	costs := make([]domain.ProductCost, 0, len(s.productCosts))
	for _, cost := range s.productCosts {
		costs = append(costs, cost)
	}
	slices.SortFunc(costs, func(a, b domain.ProductCost) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return costs, nil
}

func (s *Store) UpsertProductCost(_ context.Context, cost domain.ProductCost) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[cost.ProductID]; !ok {
		return store.ErrNotFound
	}
	s.productCosts[cost.ProductID] = cost
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.Role == "" {
		user.Role = domain.RolePersonnel
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if _, exists := s.usersByUsername[username]; !exists {
		return store.ErrNotFound
	}
	delete(s.usersByUsername, username)
	return nil
}
