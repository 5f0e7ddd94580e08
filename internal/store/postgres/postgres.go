package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"satisledger/backend/internal/domain"
	"satisledger/backend/internal/store"
	"satisledger/backend/internal/xid"
)

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

func New(ctx context.Context, databaseURL string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewWithDB(db, log), nil
}

// NewWithDB wraps an existing pool.
func NewWithDB(db *sql.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log.Named("postgres")}
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const productColumns = `id, base_name, variant_name, description, unit_price, stock, low_stock_threshold, status, created_by, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.BaseName, &p.VariantName, &p.Description, &p.UnitPrice, &p.Stock,
		&p.LowStockThreshold, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, includeArchived bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE $1 OR status <> 'ARCHIVED'
		ORDER BY base_name, variant_name
	`, includeArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
	`, uniqueStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.BaseName) == "" || product.UnitPrice.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.Status == "" {
		product.Status = domain.ProductActive
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, product.ID, product.BaseName, product.VariantName, product.Description, product.UnitPrice, product.Stock,
		product.LowStockThreshold, product.Status, product.CreatedBy, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.BaseName) == "" || product.UnitPrice.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}
	product.UpdatedAt = time.Now().UTC()

	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET base_name = $2, variant_name = $3, description = $4, unit_price = $5, stock = $6,
			low_stock_threshold = $7, status = $8, updated_at = $9
		WHERE id = $1
		RETURNING created_by, created_at
	`, product.ID, product.BaseName, product.VariantName, product.Description, product.UnitPrice, product.Stock,
		product.LowStockThreshold, product.Status, product.UpdatedAt).Scan(&product.CreatedBy, &product.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	product.CreatedAt = product.CreatedAt.UTC()
	return &product, nil
}

const customerColumns = `id, name, type, sales_channel, email, phone, city, district, address, description, balance, created_by, created_at, updated_at`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.SalesChannel, &c.Email, &c.Phone, &c.City, &c.District,
		&c.Address, &c.Description, &c.Balance, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, err
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		ORDER BY lower(name), id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer, actor string) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	now := time.Now().UTC()
	customer.CreatedAt = now
	customer.UpdatedAt = now
	customer.Balance = domain.RoundMoney(customer.Balance)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, customer.ID, customer.Name, customer.Type, customer.SalesChannel, customer.Email, customer.Phone,
		customer.City, customer.District, customer.Address, customer.Description, customer.Balance,
		customer.CreatedBy, customer.CreatedAt, customer.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	if !customer.Balance.IsZero() {
		if err := insertBalanceEntry(ctx, tx, domain.BalanceEntry{
			ID:         xid.New("bal"),
			CustomerID: customer.ID,
			Delta:      customer.Balance,
			Reason:     domain.BalanceOpening,
			Actor:      actor,
			At:         now,
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	customer.UpdatedAt = time.Now().UTC()

	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET name = $2, type = $3, sales_channel = $4, email = $5, phone = $6, city = $7,
			district = $8, address = $9, description = $10, updated_at = $11
		WHERE id = $1
		RETURNING balance, created_by, created_at
	`, customer.ID, customer.Name, customer.Type, customer.SalesChannel, customer.Email, customer.Phone,
		customer.City, customer.District, customer.Address, customer.Description, customer.UpdatedAt,
	).Scan(&customer.Balance, &customer.CreatedBy, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM customers c
		WHERE c.id = $1
		  AND c.balance = 0
		  AND NOT EXISTS (
			SELECT 1 FROM sales
			WHERE customer_id = c.id AND status = $2 AND payment_status <> $3
		  )
	`, id, domain.SaleActive, domain.PaymentPaid)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return store.ErrConflict
	}
	return store.ErrNotFound
}

const saleColumns = `id, customer_id, customer_name, subtotal, shipping_cost, shipping_payer, sale_type,
	payment_status, paid_amount, status, due_date, return_details, delivery_status, delivery_type,
	shipping_company, tracking_number, shipping_updated_by, personnel_username, personnel_name,
	created_at, updated_at, version`

func scanSale(row rowScanner) (domain.Sale, error) {
	var (
		sale       domain.Sale
		customerID sql.NullString
		dueDate    sql.NullTime
		returnJSON []byte
	)
	if err := row.Scan(&sale.ID, &customerID, &sale.CustomerName, &sale.Subtotal, &sale.ShippingCost,
		&sale.ShippingPayer, &sale.SaleType, &sale.PaymentStatus, &sale.PaidAmount, &sale.Status, &dueDate,
		&returnJSON, &sale.DeliveryStatus, &sale.DeliveryType, &sale.ShippingCompany, &sale.TrackingNumber,
		&sale.ShippingUpdatedBy, &sale.PersonnelUsername, &sale.PersonnelName, &sale.CreatedAt,
		&sale.UpdatedAt, &sale.Version); err != nil {
		return domain.Sale{}, err
	}
	sale.CustomerID = customerID.String
	if dueDate.Valid {
		due := dueDate.Time.UTC()
		sale.DueDate = &due
	}
	if len(returnJSON) > 0 {
		var details domain.ReturnDetails
		if err := json.Unmarshal(returnJSON, &details); err != nil {
			return domain.Sale{}, fmt.Errorf("decode return details of sale %s: %w", sale.ID, err)
		}
		sale.Return = &details
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return sale, nil
}

func loadSaleItems(ctx context.Context, q querier, saleIDs []string) (map[string][]domain.SaleItem, error) {
	items := make(map[string][]domain.SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return items, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, product_id, product_name, quantity, unit_price, original_price, line_total
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			saleID string
			item   domain.SaleItem
		)
		if err := rows.Scan(&saleID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice,
			&item.OriginalPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		items[saleID] = append(items[saleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := loadSaleItems(ctx, s.db, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.PersonnelUsername != "" {
		add("personnel_username = $%d", filter.PersonnelUsername)
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := loadSaleItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

// ApplyPosting runs every write of a ledger operation in one serializable
// transaction. The sale row is locked and its version compared before any
// other write; serialization failures surface as store.ErrConflict.
func (s *Store) ApplyPosting(ctx context.Context, posting domain.Posting) (*domain.Sale, error) {
	at := posting.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	var stored *domain.Sale
	if posting.Sale != nil {
		sale := posting.Sale.Clone()
		if sale.ID == "" {
			return nil, store.ErrInvalidTransaction
		}
		if sale.CreatedAt.IsZero() {
			sale.CreatedAt = at
		}
		sale.UpdatedAt = at
		sale.Version = posting.ExpectedVersion + 1

		if posting.ExpectedVersion == 0 {
			err = insertSale(ctx, pgTx, sale)
		} else {
			err = updateSale(ctx, pgTx, sale, posting.ExpectedVersion)
		}
		if err != nil {
			return nil, mapTxError(err)
		}
		if err := replaceSaleItems(ctx, pgTx, sale); err != nil {
			return nil, mapTxError(err)
		}
		stored = &sale
	}

	net := posting.NetStock()
	productIDs := make([]string, 0, len(net))
	for id := range net {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)
	for _, id := range productIDs {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $2, updated_at = $3
			WHERE id = $1
		`, id, net[id], at)
		if err != nil {
			return nil, mapTxError(err)
		}
		if err := expectAffected(res); err != nil {
			return nil, fmt.Errorf("product %s: %w", id, err)
		}
	}

	for _, t := range posting.Transactions {
		if t.ID == "" {
			return nil, store.ErrInvalidTransaction
		}
		res, err := pgTx.ExecContext(ctx, `
			INSERT INTO transactions (id, customer_id, amount, type, method, date, description, sale_id, personnel_username, personnel_name)
			SELECT $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
			WHERE EXISTS (SELECT 1 FROM customers WHERE id = $2)
		`, t.ID, t.CustomerID, t.Amount, t.Type, t.Method, t.Date, t.Description, nullIfEmpty(t.SaleID),
			t.PersonnelUsername, t.PersonnelName)
		if err != nil {
			return nil, mapTxError(err)
		}
		if err := expectAffected(res); err != nil {
			return nil, fmt.Errorf("customer %s: %w", t.CustomerID, err)
		}
	}

	for _, adj := range posting.Balances {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE customers
			SET balance = balance + $2, updated_at = $3
			WHERE id = $1
		`, adj.CustomerID, adj.Delta, at)
		if err != nil {
			return nil, mapTxError(err)
		}
		if err := expectAffected(res); err != nil {
			return nil, fmt.Errorf("customer %s: %w", adj.CustomerID, err)
		}
		if err := insertBalanceEntry(ctx, pgTx, domain.BalanceEntry{
			ID:            xid.New("bal"),
			CustomerID:    adj.CustomerID,
			Delta:         adj.Delta,
			Reason:        adj.Reason,
			SaleID:        adj.SaleID,
			TransactionID: adj.TransactionID,
			Actor:         posting.Actor,
			At:            at,
		}); err != nil {
			return nil, mapTxError(err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	return stored, nil
}

func insertSale(ctx context.Context, tx *sql.Tx, sale domain.Sale) error {
	returnJSON, err := marshalReturn(sale.Return)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`, sale.ID, nullIfEmpty(sale.CustomerID), sale.CustomerName, sale.Subtotal, sale.ShippingCost,
		sale.ShippingPayer, sale.SaleType, sale.PaymentStatus, sale.PaidAmount, sale.Status, nullTime(sale.DueDate),
		returnJSON, sale.DeliveryStatus, sale.DeliveryType, sale.ShippingCompany, sale.TrackingNumber,
		sale.ShippingUpdatedBy, sale.PersonnelUsername, sale.PersonnelName, sale.CreatedAt, sale.UpdatedAt,
		sale.Version)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func updateSale(ctx context.Context, tx *sql.Tx, sale domain.Sale, expectedVersion int) error {
	var current int
	err := tx.QueryRowContext(ctx, `SELECT version FROM sales WHERE id = $1 FOR UPDATE`, sale.ID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if current != expectedVersion {
		return store.ErrConflict
	}

	returnJSON, err := marshalReturn(sale.Return)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET customer_id = $2, customer_name = $3, subtotal = $4, shipping_cost = $5, shipping_payer = $6,
			sale_type = $7, payment_status = $8, paid_amount = $9, status = $10, due_date = $11,
			return_details = $12, delivery_status = $13, delivery_type = $14, shipping_company = $15,
			tracking_number = $16, shipping_updated_by = $17, updated_at = $18, version = $19
		WHERE id = $1
	`, sale.ID, nullIfEmpty(sale.CustomerID), sale.CustomerName, sale.Subtotal, sale.ShippingCost,
		sale.ShippingPayer, sale.SaleType, sale.PaymentStatus, sale.PaidAmount, sale.Status, nullTime(sale.DueDate),
		returnJSON, sale.DeliveryStatus, sale.DeliveryType, sale.ShippingCompany, sale.TrackingNumber,
		sale.ShippingUpdatedBy, sale.UpdatedAt, sale.Version)
	return err
}

func replaceSaleItems(ctx context.Context, tx *sql.Tx, sale domain.Sale) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.ID); err != nil {
		return err
	}
	for i, item := range sale.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, product_name, quantity, unit_price, original_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, i+1, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.OriginalPrice,
			item.LineTotal); err != nil {
			return err
		}
	}
	return nil
}

func marshalReturn(details *domain.ReturnDetails) (any, error) {
	if details == nil {
		return nil, nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertBalanceEntry(ctx context.Context, db execer, entry domain.BalanceEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO balance_entries (id, customer_id, delta, reason, sale_id, transaction_id, actor, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.CustomerID, entry.Delta, entry.Reason, nullIfEmpty(entry.SaleID),
		nullIfEmpty(entry.TransactionID), entry.Actor, entry.At)
	return err
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.PersonnelUsername != "" {
		add("personnel_username = $%d", filter.PersonnelUsername)
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if filter.SaleID != "" {
		add("sale_id = $%d", filter.SaleID)
	}
	query := `
		SELECT id, customer_id, amount, type, method, date, description, sale_id, personnel_username, personnel_name
		FROM transactions`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY date DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 64)
	for rows.Next() {
		var (
			t      domain.Transaction
			saleID sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.CustomerID, &t.Amount, &t.Type, &t.Method, &t.Date, &t.Description,
			&saleID, &t.PersonnelUsername, &t.PersonnelName); err != nil {
			return nil, err
		}
		t.SaleID = saleID.String
		t.Date = t.Date.UTC()
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *Store) ListBalanceEntries(ctx context.Context, customerID string) ([]domain.BalanceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, delta, reason, sale_id, transaction_id, actor, at
		FROM balance_entries
		WHERE $1 = '' OR customer_id = $1
		ORDER BY at, id
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.BalanceEntry, 0, 32)
	for rows.Next() {
		var (
			e             domain.BalanceEntry
			saleID, txnID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.Delta, &e.Reason, &saleID, &txnID, &e.Actor, &e.At); err != nil {
			return nil, err
		}
		e.SaleID = saleID.String
		e.TransactionID = txnID.String
		e.At = e.At.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) SumBalanceJournal(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT customer_id, COALESCE(SUM(delta), 0)
		FROM balance_entries
		GROUP BY customer_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]decimal.Decimal, 64)
	for rows.Next() {
		var (
			customerID string
			sum        decimal.Decimal
		)
		if err := rows.Scan(&customerID, &sum); err != nil {
			return nil, err
		}
		sums[customerID] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sums, nil
}

func (s *Store) RepairCustomerBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		UPDATE customers
		SET balance = (SELECT COALESCE(SUM(delta), 0) FROM balance_entries WHERE customer_id = $1),
		    updated_at = now()
		WHERE id = $1
		RETURNING balance
	`, customerID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, store.ErrNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

const taskColumns = `id, title, description, assigned_to, assigned_to_name, created_by, due_date, priority, status, admin_note, created_at, updated_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.AssignedTo, &t.AssignedToName, &t.CreatedBy, &t.DueDate,
		&t.Priority, &t.Status, &t.AdminNote, &t.CreatedAt, &t.UpdatedAt)
	t.DueDate = t.DueDate.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, err
}

func (s *Store) CreateTask(ctx context.Context, task domain.Task) (*domain.Task, error) {
	if task.ID == "" {
		task.ID = xid.New("task")
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, task.ID, task.Title, task.Description, task.AssignedTo, task.AssignedToName, task.CreatedBy, task.DueDate,
		task.Priority, task.Status, task.AdminNote, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &task, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) UpdateTask(ctx context.Context, task domain.Task) (*domain.Task, error) {
	task.UpdatedAt = time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET title = $2, description = $3, assigned_to = $4, assigned_to_name = $5, due_date = $6,
			priority = $7, status = $8, admin_note = $9, updated_at = $10
		WHERE id = $1
		RETURNING created_by, created_at
	`, task.ID, task.Title, task.Description, task.AssignedTo, task.AssignedToName, task.DueDate, task.Priority,
		task.Status, task.AdminNote, task.UpdatedAt).Scan(&task.CreatedBy, &task.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	task.CreatedAt = task.CreatedAt.UTC()
	return &task, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0, 32)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) CreateActivityLog(ctx context.Context, entry domain.ActivityLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("log")
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	var metadata any
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadata = raw
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (id, at, actor_username, actor_name, actor_role, action, entity, entity_id, description, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.At, entry.ActorUsername, entry.ActorName, entry.ActorRole, entry.Action, entry.Entity,
		entry.EntityID, entry.Description, metadata)
	return err
}

func (s *Store) ListActivityLogs(ctx context.Context, filter domain.ActivityFilter) ([]domain.ActivityLog, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, actor_username, actor_name, actor_role, action, entity, entity_id, description, metadata
		FROM activity_logs
		WHERE ($1 = '' OR actor_username = $1) AND ($2 = '' OR entity = $2)
		ORDER BY at DESC, id DESC
		LIMIT $3
	`, filter.ActorUsername, string(filter.Entity), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.ActivityLog, 0, limit)
	for rows.Next() {
		var (
			entry    domain.ActivityLog
			metadata []byte
		)
		if err := rows.Scan(&entry.ID, &entry.At, &entry.ActorUsername, &entry.ActorName, &entry.ActorRole,
			&entry.Action, &entry.Entity, &entry.EntityID, &entry.Description, &metadata); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				s.log.Warn("skipping unreadable activity metadata", zap.String("id", entry.ID), zap.Error(err))
			}
		}
		entry.At = entry.At.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.AppSettings, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM app_settings WHERE id = 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultSettings(), nil
		}
		return domain.AppSettings{}, err
	}
	var settings domain.AppSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return domain.AppSettings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings domain.AppSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_settings (id, data, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, raw)
	return err
}

func scanProductCost(row rowScanner) (domain.ProductCost, error) {
	var (
		cost                 domain.ProductCost
		materials, otherCost []byte
	)
	if err := row.Scan(&cost.ProductID, &cost.ProductNetWeight, &materials, &otherCost, &cost.TotalCost,
		&cost.LastUpdated); err != nil {
		return domain.ProductCost{}, err
	}
	if err := json.Unmarshal(materials, &cost.RawMaterials); err != nil {
		return domain.ProductCost{}, fmt.Errorf("decode raw materials of %s: %w", cost.ProductID, err)
	}
	if err := json.Unmarshal(otherCost, &cost.OtherCosts); err != nil {
		return domain.ProductCost{}, fmt.Errorf("decode other costs of %s: %w", cost.ProductID, err)
	}
	cost.LastUpdated = cost.LastUpdated.UTC()
	return cost, nil
}

func (s *Store) GetProductCost(ctx context.Context, productID string) (*domain.ProductCost, error) {
	cost, err := scanProductCost(s.db.QueryRowContext(ctx, `
		SELECT product_id, product_net_weight, raw_materials, other_costs, total_cost, last_updated
		FROM product_costs
		WHERE product_id = $1
	`, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &cost, nil
}

func (s *Store) ListProductCosts(ctx context.Context) ([]domain.ProductCost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_net_weight, raw_materials, other_costs, total_cost, last_updated
		FROM product_costs
		ORDER BY product_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	costs := make([]domain.ProductCost, 0, 32)
	for rows.Next() {
		cost, err := scanProductCost(rows)
		if err != nil {
			return nil, err
		}
		costs = append(costs, cost)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return costs, nil
}

func (s *Store) UpsertProductCost(ctx context.Context, cost domain.ProductCost) error {
	materials, err := json.Marshal(nonNil(cost.RawMaterials))
	if err != nil {
		return err
	}
	others, err := json.Marshal(nonNil(cost.OtherCosts))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO product_costs (product_id, product_net_weight, raw_materials, other_costs, total_cost, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (product_id)
		DO UPDATE SET product_net_weight = EXCLUDED.product_net_weight, raw_materials = EXCLUDED.raw_materials,
			other_costs = EXCLUDED.other_costs, total_cost = EXCLUDED.total_cost, last_updated = EXCLUDED.last_updated
	`, cost.ProductID, cost.ProductNetWeight, materials, others, cost.TotalCost, cost.LastUpdated)
	if isForeignKeyViolation(err) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RolePersonnel
	}
	if user.ID == "" {
		user.ID = "usr-" + user.Username
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, username, password, name, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, user.ID, user.Username, user.Password, user.Name, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, name, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.Name, &user.Role, &user.Active,
			&user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM app_users WHERE username = $1`,
		strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// mapTxError turns serialization and duplicate-key failures into
// store.ErrConflict so callers can retry on a fresh snapshot.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func uniqueStrings(values []string) []string {
	set := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
