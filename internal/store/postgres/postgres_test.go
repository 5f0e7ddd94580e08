package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"satisledger/backend/internal/domain"
	"satisledger/backend/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db, zap.NewNop()), mock
}

func TestGetProductScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "base_name", "variant_name", "description", "unit_price", "stock",
		"low_stock_threshold", "status", "created_by", "created_at", "updated_at"}).
		AddRow("prd-1", "Olive Oil", "5L", "", "1000.00", int64(12), int64(3), "ACTIVE", "admin", at, at)
	mock.ExpectQuery("FROM products").WithArgs("prd-1").WillReturnRows(rows)

	p, err := s.GetProduct(context.Background(), "prd-1")
	require.NoError(t, err)
	assert.Equal(t, "Olive Oil - 5L", p.DisplayName())
	assert.True(t, p.UnitPrice.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 12, p.Stock)
	assert.Equal(t, domain.ProductActive, p.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM products").WithArgs("prd-x").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetProduct(context.Background(), "prd-x")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProductDuplicateNameIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO products").WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := s.CreateProduct(context.Background(), domain.Product{BaseName: "Soap", UnitPrice: decimal.NewFromInt(40)})
	assert.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCustomerJournalsOpeningBalance(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO customers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO balance_entries").
		WithArgs(sqlmock.AnyArg(), "cus-1", sqlmock.AnyArg(), domain.BalanceOpening, nil, nil, "admin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, err := s.CreateCustomer(context.Background(), domain.Customer{ID: "cus-1", Name: "Mehmet", Balance: decimal.NewFromInt(-150)}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "-150", c.Balance.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPostingStaleVersion(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM sales").WithArgs("sale-1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(3)))
	mock.ExpectRollback()

	_, err := s.ApplyPosting(context.Background(), domain.Posting{
		Sale:            &domain.Sale{ID: "sale-1", Status: domain.SaleActive},
		ExpectedVersion: 2,
	})
	assert.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPostingDuplicateSaleIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO sales").WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := s.ApplyPosting(context.Background(), domain.Posting{
		Sale: &domain.Sale{ID: "sale-1", Status: domain.SaleActive},
	})
	assert.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPostingMissingProductRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE products").WithArgs("prd-1", -2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	posting := domain.Posting{}
	posting.AddStock("prd-1", -2)
	_, err := s.ApplyPosting(context.Background(), posting)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPostingWritesInOrder(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE products").WithArgs("prd-1", 3, at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE products").WithArgs("prd-2", -1, at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE customers").WithArgs("cus-1", sqlmock.AnyArg(), at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO balance_entries").
		WithArgs(sqlmock.AnyArg(), "cus-1", sqlmock.AnyArg(), domain.BalanceCollection, nil, "txn-1", "admin", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	posting := domain.Posting{Actor: "admin", At: at}
	posting.AddStock("prd-2", -1)
	posting.AddStock("prd-1", 1)
	posting.AddStock("prd-1", 2)
	posting.Transactions = []domain.Transaction{{
		ID: "txn-1", CustomerID: "cus-1", Amount: decimal.NewFromInt(500), Type: domain.TxCollection, Date: at,
	}}
	posting.AddBalance(domain.BalanceAdjustment{
		CustomerID: "cus-1", Delta: decimal.NewFromInt(500), Reason: domain.BalanceCollection, TransactionID: "txn-1",
	})

	sale, err := s.ApplyPosting(context.Background(), posting)
	require.NoError(t, err)
	assert.Nil(t, sale)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyPostingSerializationFailureIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE products").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})

	posting := domain.Posting{}
	posting.AddStock("prd-1", -1)
	_, err := s.ApplyPosting(context.Background(), posting)
	assert.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSettingsDefaultsWhenEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT data FROM app_settings").WillReturnRows(sqlmock.NewRows([]string{"data"}))

	settings, err := s.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), settings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProductCostUnknownProduct(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO product_costs").WillReturnError(&pgconn.PgError{Code: "23503"})

	err := s.UpsertProductCost(context.Background(), domain.ProductCost{ProductID: "prd-x", LastUpdated: time.Now()})
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM app_users").WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.DeleteUser(context.Background(), " Ghost "), store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepairCustomerBalanceRecomputesInUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE customers\s+SET balance = \(SELECT COALESCE\(SUM\(delta\), 0\) FROM balance_entries WHERE customer_id = \$1\)`).
		WithArgs("cus-1").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("-700.00"))

	balance, err := s.RepairCustomerBalance(context.Background(), "cus-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(-700)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepairCustomerBalanceMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE customers").WithArgs("cus-x").WillReturnRows(sqlmock.NewRows([]string{"balance"}))

	_, err := s.RepairCustomerBalance(context.Background(), "cus-x")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCustomerWithOpenDebtIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM customers").
		WithArgs("cus-1", domain.SaleActive, domain.PaymentPaid).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("cus-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	assert.ErrorIs(t, s.DeleteCustomer(context.Background(), "cus-1"), store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCustomerMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM customers").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("cus-x").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	assert.ErrorIs(t, s.DeleteCustomer(context.Background(), "cus-x"), store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
