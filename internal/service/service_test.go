package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"satisledger/backend/internal/domain"
	"satisledger/backend/internal/store"
	"satisledger/backend/internal/store/memory"
)

var (
	testNow   = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	adminUser = domain.Actor{Username: "admin", Name: "Administrator", Role: domain.RoleAdmin}
	staffUser = domain.Actor{Username: "personnel", Name: "Sales Personnel", Role: domain.RolePersonnel}
	otherUser = domain.Actor{Username: "ayse", Name: "Ayse", Role: domain.RolePersonnel}
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	ctx := context.Background()
	for _, p := range []domain.Product{
		{ID: "oil-5l", BaseName: "Olive Oil", VariantName: "5L", UnitPrice: dec("1000"), Stock: 12, LowStockThreshold: 3, Status: domain.ProductActive},
		{ID: "soap", BaseName: "Olive Soap", UnitPrice: dec("40"), Stock: 100, LowStockThreshold: 20, Status: domain.ProductActive},
	} {
		_, err := repo.CreateProduct(ctx, p)
		require.NoError(t, err)
	}
	_, err := repo.CreateCustomer(ctx, domain.Customer{ID: "cus-1", Name: "Mehmet"}, "admin")
	require.NoError(t, err)
	_, err = repo.CreateCustomer(ctx, domain.Customer{ID: "cus-2", Name: "Zeynep"}, "admin")
	require.NoError(t, err)
	for _, u := range []domain.Actor{adminUser, staffUser, otherUser} {
		require.NoError(t, repo.CreateUser(ctx, domain.UserAccount{Username: u.Username, Name: u.Name, Role: u.Role, Password: "hash"}))
	}

	svc := New(repo, nil, 0, nil)
	svc.now = func() time.Time { return testNow }
	return svc, repo
}

func as(actor domain.Actor) context.Context {
	return WithActor(context.Background(), actor)
}

func due() *time.Time {
	d := testNow.AddDate(0, 0, 30)
	return &d
}

func balanceOf(t *testing.T, repo *memory.Store, customerID string) decimal.Decimal {
	t.Helper()
	c, err := repo.GetCustomer(context.Background(), customerID)
	require.NoError(t, err)
	return c.Balance
}

func stockOf(t *testing.T, repo *memory.Store, productID string) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func assertJournalMatches(t *testing.T, repo *memory.Store) {
	t.Helper()
	sums, err := repo.SumBalanceJournal(context.Background())
	require.NoError(t, err)
	customers, err := repo.ListCustomers(context.Background())
	require.NoError(t, err)
	for _, c := range customers {
		assert.True(t, c.Balance.Equal(sums[c.ID]), "customer %s balance %s journal %s", c.ID, c.Balance, sums[c.ID])
	}
}

func creditSale(t *testing.T, svc *Service, actor domain.Actor, qty int) domain.Sale {
	t.Helper()
	resp, err := svc.CreateSale(as(actor), domain.SaleRequest{
		CustomerID:    "cus-1",
		Items:         []domain.SaleItemRequest{{ProductID: "oil-5l", Quantity: qty}},
		PaymentStatus: domain.PaymentUnpaid,
		DueDate:       due(),
	})
	require.NoError(t, err)
	return resp.Sale
}

func TestBalanceConservationThroughCollections(t *testing.T) {
	svc, repo := newTestService(t)

	sale := creditSale(t, svc, staffUser, 1)
	assert.True(t, sale.GrandTotal().Equal(dec("1200")))
	assert.True(t, balanceOf(t, repo, "cus-1").Equal(dec("-1200")))
	assert.Equal(t, 11, stockOf(t, repo, "oil-5l"))

	resp, err := svc.CollectForSale(as(staffUser), domain.CollectionRequest{SaleID: sale.ID, Amount: dec("500"), Method: "cash"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPartial, resp.Sale.PaymentStatus)
	assert.True(t, resp.Balance.Equal(dec("-700")))
	assert.True(t, resp.OverpaidBy.IsZero())
	assert.Equal(t, "CASH", resp.Transaction.Method)

	resp, err = svc.CollectForSale(as(staffUser), domain.CollectionRequest{SaleID: sale.ID, Amount: dec("700")})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, resp.Sale.PaymentStatus)
	assert.True(t, resp.Sale.PaidAmount.Equal(dec("1200")))
	assert.True(t, resp.Balance.IsZero())

	assertJournalMatches(t, repo)
}

func TestCollectionWithinToleranceSettlesAndReportsOverpayment(t *testing.T) {
	svc, _ := newTestService(t)
	sale := creditSale(t, svc, staffUser, 1)

	resp, err := svc.CollectForSale(as(staffUser), domain.CollectionRequest{SaleID: sale.ID, Amount: dec("1199.50")})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, resp.Sale.PaymentStatus)

	resp, err = svc.CollectForSale(as(staffUser), domain.CollectionRequest{SaleID: sale.ID, Amount: dec("100")})
	require.NoError(t, err)
	assert.True(t, resp.OverpaidBy.Equal(dec("99.5")))

	_, err = svc.CollectForSale(as(staffUser), domain.CollectionRequest{SaleID: sale.ID, Amount: dec("0")})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestGrandTotalIsSharedByEveryPath(t *testing.T) {
	svc, repo := newTestService(t)

	resp, err := svc.CreateSale(as(adminUser), domain.SaleRequest{
		CustomerID:    "cus-1",
		Items:         []domain.SaleItemRequest{{ProductID: "soap", Quantity: 3}},
		ShippingCost:  dec("15.55"),
		ShippingPayer: domain.PayerCustomer,
		PaymentStatus: domain.PaymentUnpaid,
		DueDate:       due(),
	})
	require.NoError(t, err)
	want := domain.GrandTotal(dec("120"), dec("15.55"), domain.SaleTypeSale, domain.PayerCustomer)
	assert.True(t, resp.GrandTotal.Equal(want))
	assert.True(t, balanceOf(t, repo, "cus-1").Equal(want.Neg()))

	paid, err := svc.UpdatePaymentStatus(as(adminUser), resp.Sale.ID, domain.PaymentStatusRequest{Status: domain.PaymentPaid})
	require.NoError(t, err)
	assert.True(t, paid.PaidAmount.Equal(want))
	assert.True(t, balanceOf(t, repo, "cus-1").IsZero())

	unpaid, err := svc.UpdatePaymentStatus(as(adminUser), resp.Sale.ID, domain.PaymentStatusRequest{Status: domain.PaymentUnpaid})
	require.NoError(t, err)
	assert.True(t, unpaid.PaidAmount.IsZero())

	col, err := svc.CollectForSale(as(adminUser), domain.CollectionRequest{SaleID: resp.Sale.ID, Amount: want})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, col.Sale.PaymentStatus)
	assert.True(t, col.Balance.IsZero())

	edited, err := svc.EditSale(as(adminUser), resp.Sale.ID, domain.SaleRequest{
		CustomerID:    "cus-1",
		Items:         []domain.SaleItemRequest{{ProductID: "soap", Quantity: 3}},
		ShippingCost:  dec("15.55"),
		ShippingPayer: domain.PayerCustomer,
		PaymentStatus: domain.PaymentPaid,
	})
	require.NoError(t, err)
	assert.True(t, edited.GrandTotal.Equal(want))
	assertJournalMatches(t, repo)
}

func TestPaymentStatusSameStatusIsNoop(t *testing.T) {
	svc, repo := newTestService(t)
	sale := creditSale(t, svc, staffUser, 1)

	got, err := svc.UpdatePaymentStatus(as(staffUser), sale.ID, domain.PaymentStatusRequest{Status: domain.PaymentUnpaid})
	require.NoError(t, err)
	assert.Equal(t, sale.Version, got.Version)

	partial, err := svc.UpdatePaymentStatus(as(staffUser), sale.ID, domain.PaymentStatusRequest{Status: domain.PaymentPartial})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPartial, partial.PaymentStatus)
	assert.True(t, balanceOf(t, repo, "cus-1").Equal(dec("-1200")))
}

func TestCreateSaleNormalisation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := as(staffUser)

	guest, err := svc.CreateSale(ctx, domain.SaleRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "soap", Quantity: 1}},
		PaymentStatus: domain.PaymentUnpaid,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, guest.Sale.PaymentStatus)
	assert.Equal(t, "Guest", guest.Sale.CustomerName)
	assert.True(t, guest.Sale.PaidAmount.Equal(dec("48")))

	gift, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID:    "cus-1",
		Items:         []domain.SaleItemRequest{{ProductID: "soap", Quantity: 2}},
		SaleType:      domain.SaleTypeGift,
		ShippingPayer: domain.PayerCompany,
		ShippingCost:  dec("30"),
		PaymentStatus: domain.PaymentUnpaid,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, gift.Sale.PaymentStatus)
	assert.True(t, gift.GrandTotal.IsZero())
	assert.True(t, gift.Sale.Items[0].UnitPrice.IsZero())
	assert.True(t, gift.Sale.Items[0].OriginalPrice.Equal(dec("40")))

	giftShipping, err := svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID:    "cus-1",
		Items:         []domain.SaleItemRequest{{ProductID: "soap", Quantity: 1}},
		SaleType:      domain.SaleTypeGift,
		ShippingPayer: domain.PayerCustomer,
		ShippingCost:  dec("30"),
		PaymentStatus: domain.PaymentUnpaid,
		DueDate:       due(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentUnpaid, giftShipping.Sale.PaymentStatus)
	assert.True(t, giftShipping.GrandTotal.Equal(dec("30")))
	assert.True(t, balanceOf(t, repo, "cus-1").Equal(dec("-30")))

	_, err = svc.CreateSale(ctx, domain.SaleRequest{
		CustomerID:    "cus-1",
		Items:         []domain.SaleItemRequest{{ProductID: "soap", Quantity: 1}},
		PaymentStatus: domain.PaymentPartial,
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestCreateSaleValidationLeavesNoWrites(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := as(staffUser)

	cases := map[string]domain.SaleRequest{
		"no items":         {CustomerID: "cus-1", PaymentStatus: domain.PaymentPaid},
		"zero quantity":    {Items: []domain.SaleItemRequest{{ProductID: "soap", Quantity: 0}}, PaymentStatus: domain.PaymentPaid},
		"negative ship":    {Items: []domain.SaleItemRequest{{ProductID: "soap", Quantity: 1}}, ShippingCost: dec("-1"), PaymentStatus: domain.PaymentPaid},
		"missing product":  {Items: []domain.SaleItemRequest{{ProductID: "nope", Quantity: 1}}, PaymentStatus: domain.PaymentPaid},
		"missing customer": {CustomerID: "cus-x", Items: []domain.SaleItemRequest{{ProductID: "soap", Quantity: 1}}, PaymentStatus: domain.PaymentPaid},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateSale(ctx, req)
			assert.Error(t, err)
		})
	}

	sales, err := repo.ListSales(context.Background(), domain.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.Equal(t, 100, stockOf(t, repo, "soap"))
}

func TestCreateSaleRejectsInactiveProduct(t *testing.T) {
	svc, _ := newTestService(t)
	inactive := domain.ProductInactive
	_, err := svc.UpdateProduct(as(staffUser), "soap", domain.ProductUpdateRequest{Status: &inactive})
	require.NoError(t, err)

	_, err = svc.CreateSale(as(staffUser), domain.SaleRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "soap", Quantity: 1}},
		PaymentStatus: domain.PaymentPaid,
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestCreateSaleAllowsNegativeStockWithWarning(t *testing.T) {
	svc, repo := newTestService(t)

	resp, err := svc.CreateSale(as(staffUser), domain.SaleRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "oil-5l", Quantity: 10}, {ProductID: "oil-5l", Quantity: 5}},
		PaymentStatus: domain.PaymentPaid,
	})
	require.NoError(t, err)
	require.Len(t, resp.StockWarnings, 1)
	assert.Equal(t, -3, resp.StockWarnings[0].Stock)
	assert.Equal(t, -3, stockOf(t, repo, "oil-5l"))
}

func TestEditSaleWithIdenticalContentNetsToZero(t *testing.T) {
	svc, repo := newTestService(t)
	sale := creditSale(t, svc, staffUser, 2)
	require.Equal(t, 10, stockOf(t, repo, "oil-5l"))
	require.True(t, balanceOf(t, repo, "cus-1").Equal(dec("-2400")))

	req := domain.SaleRequest{
		CustomerID:    "cus-1",
		Items:         []domain.SaleItemRequest{{ProductID: "oil-5l", Quantity: 2}},
		PaymentStatus: domain.PaymentUnpaid,
		DueDate:       due(),
	}
	resp, err := svc.EditSale(as(adminUser), sale.ID, req)
	require.NoError(t, err)
	assert.Equal(t, sale.Version+1, resp.Sale.Version)
	assert.Equal(t, 10, stockOf(t, repo, "oil-5l"))
	assert.True(t, balanceOf(t, repo, "cus-1").Equal(dec("-2400")))

	resp, err = svc.EditSale(as(adminUser), sale.ID, domain.SaleRequest{
		CustomerID:    "cus-2",
		Items:         []domain.SaleItemRequest{{ProductID: "oil-5l", Quantity: 1}},
		PaymentStatus: domain.PaymentUnpaid,
		DueDate:       due(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Zeynep", resp.Sale.CustomerName)
	assert.Equal(t, 11, stockOf(t, repo, "oil-5l"))
	assert.True(t, balanceOf(t, repo, "cus-1").IsZero())
	assert.True(t, balanceOf(t, repo, "cus-2").Equal(dec("-1200")))

	resp, err = svc.EditSale(as(adminUser), sale.ID, domain.SaleRequest{
		CustomerID:    "cus-2",
		Items:         []domain.SaleItemRequest{{ProductID: "oil-5l", Quantity: 1}},
		PaymentStatus: domain.PaymentPaid,
	})
	require.NoError(t, err)
	assert.True(t, resp.Sale.PaidAmount.Equal(dec("1200")))
	assert.Nil(t, resp.Sale.DueDate)
	assert.True(t, balanceOf(t, repo, "cus-2").IsZero())
	assertJournalMatches(t, repo)
}

func TestEditSaleKeepsRecordedPrice(t *testing.T) {
	svc, _ := newTestService(t)
	sale := creditSale(t, svc, staffUser, 1)

	price := dec("1500")
	_, err := svc.UpdateProduct(as(adminUser), "oil-5l", domain.ProductUpdateRequest{UnitPrice: &price})
	require.NoError(t, err)

	resp, err := svc.EditSale(as(adminUser), sale.ID, domain.SaleRequest{
		CustomerID:    "cus-1",
		Items:         []domain.SaleItemRequest{{ProductID: "oil-5l", Quantity: 2}},
		PaymentStatus: domain.PaymentUnpaid,
		DueDate:       due(),
	})
	require.NoError(t, err)
	assert.True(t, resp.GrandTotal.Equal(dec("2400")))
}

func TestReturnRestocksResellableOnly(t *testing.T) {
	svc, repo := newTestService(t)
	resp, err := svc.CreateSale(as(staffUser), domain.SaleRequest{
		CustomerID:    "cus-1",
		Items:         []domain.SaleItemRequest{{ProductID: "soap", Quantity: 5}},
		PaymentStatus: domain.PaymentPaid,
	})
	require.NoError(t, err)
	require.Equal(t, 95, stockOf(t, repo, "soap"))

	returned, err := svc.ProcessReturn(as(staffUser), resp.Sale.ID, domain.ReturnRequest{
		Reason:       "damaged in transit",
		RefundStatus: domain.RefundPending,
		RefundMethod: domain.RefundCash,
		Items: []domain.ReturnItem{
			{ProductID: "soap", Quantity: 3, Condition: domain.ConditionResellable},
			{ProductID: "soap", Quantity: 2, Condition: domain.ConditionDefective},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleReturned, returned.Status)
	assert.Equal(t, 98, stockOf(t, repo, "soap"))
	require.NotNil(t, returned.Return)
	assert.True(t, returned.Return.RefundAmount.Equal(dec("240")))
	assert.Equal(t, "Sales Personnel", returned.Return.ProcessedBy)

	_, err = svc.ProcessReturn(as(staffUser), resp.Sale.ID, domain.ReturnRequest{
		Reason:       "again",
		RefundStatus: domain.RefundPending,
		RefundMethod: domain.RefundCash,
		Items:        []domain.ReturnItem{{ProductID: "soap", Quantity: 1, Condition: domain.ConditionResellable}},
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestReturnValidation(t *testing.T) {
	svc, _ := newTestService(t)
	guest, err := svc.CreateSale(as(staffUser), domain.SaleRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "soap", Quantity: 2}},
		PaymentStatus: domain.PaymentPaid,
	})
	require.NoError(t, err)

	_, err = svc.ProcessReturn(as(staffUser), guest.Sale.ID, domain.ReturnRequest{
		Reason:       "changed mind",
		RefundStatus: domain.RefundCompleted,
		RefundMethod: domain.RefundWallet,
		Items:        []domain.ReturnItem{{ProductID: "soap", Quantity: 1, Condition: domain.ConditionResellable}},
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.ProcessReturn(as(staffUser), guest.Sale.ID, domain.ReturnRequest{
		Reason:       "too many",
		RefundStatus: domain.RefundPending,
		RefundMethod: domain.RefundCash,
		Items:        []domain.ReturnItem{{ProductID: "soap", Quantity: 3, Condition: domain.ConditionResellable}},
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	custom := dec("50")
	got, err := svc.ProcessReturn(as(staffUser), guest.Sale.ID, domain.ReturnRequest{
		Reason:       "partial",
		RefundAmount: &custom,
		RefundStatus: domain.RefundCompleted,
		RefundMethod: domain.RefundCash,
		Items:        []domain.ReturnItem{{ProductID: "soap", Quantity: 1, Condition: domain.ConditionResellable}},
	})
	require.NoError(t, err)
	assert.True(t, got.Return.RefundAmount.Equal(custom))
	assert.NotNil(t, got.Return.RefundDate)
}

func TestWalletRefundIsCreditedOnce(t *testing.T) {
	svc, repo := newTestService(t)
	resp, err := svc.CreateSale(as(staffUser), domain.SaleRequest{
		CustomerID:    "cus-1",
		Items:         []domain.SaleItemRequest{{ProductID: "soap", Quantity: 5}},
		PaymentStatus: domain.PaymentPaid,
	})
	require.NoError(t, err)

	_, err = svc.ProcessReturn(as(staffUser), resp.Sale.ID, domain.ReturnRequest{
		Reason:       "wrong scent",
		RefundStatus: domain.RefundPending,
		RefundMethod: domain.RefundWallet,
		Items:        []domain.ReturnItem{{ProductID: "soap", Quantity: 5, Condition: domain.ConditionResellable}},
	})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, repo, "cus-1").IsZero())

	for _, status := range []domain.RefundStatus{domain.RefundCompleted, domain.RefundPending, domain.RefundCompleted} {
		sale, err := svc.UpdateReturnPayment(as(staffUser), resp.Sale.ID, domain.ReturnPaymentRequest{RefundStatus: status})
		require.NoError(t, err)
		assert.True(t, sale.Return.WalletCredited)
		assert.True(t, balanceOf(t, repo, "cus-1").Equal(dec("240")))
	}
	assertJournalMatches(t, repo)
}

func TestCompletedWalletReturnCreditsImmediately(t *testing.T) {
	svc, repo := newTestService(t)
	sale := creditSale(t, svc, staffUser, 1)

	_, err := svc.ProcessReturn(as(staffUser), sale.ID, domain.ReturnRequest{
		Reason:       "leaking",
		RefundStatus: domain.RefundCompleted,
		RefundMethod: domain.RefundWallet,
		Items:        []domain.ReturnItem{{ProductID: "oil-5l", Quantity: 1, Condition: domain.ConditionDefective}},
	})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, repo, "cus-1").IsZero())
	assert.Equal(t, 11, stockOf(t, repo, "oil-5l"))

	_, err = svc.UpdateReturnPayment(as(staffUser), sale.ID, domain.ReturnPaymentRequest{RefundStatus: domain.RefundCompleted})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, repo, "cus-1").IsZero())
}

func TestCancelSaleRestoresStockAndDebt(t *testing.T) {
	svc, repo := newTestService(t)
	sale := creditSale(t, svc, staffUser, 2)
	_, err := svc.CollectForSale(as(staffUser), domain.CollectionRequest{SaleID: sale.ID, Amount: dec("400")})
	require.NoError(t, err)

	_, err = svc.CancelSale(as(staffUser), sale.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	cancelled, err := svc.CancelSale(as(adminUser), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCancelled, cancelled.Status)
	assert.Equal(t, 12, stockOf(t, repo, "oil-5l"))
	assert.True(t, balanceOf(t, repo, "cus-1").Equal(dec("400")))

	_, err = svc.CancelSale(as(adminUser), sale.ID)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
	assertJournalMatches(t, repo)
}

func TestDeliveryUpdate(t *testing.T) {
	svc, _ := newTestService(t)
	sale := creditSale(t, svc, staffUser, 1)

	got, err := svc.UpdateDelivery(as(staffUser), sale.ID, domain.DeliveryUpdateRequest{
		DeliveryType:    "Cargo",
		ShippingCompany: "Aras",
		TrackingNumber:  " TRK-1 ",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDelivered, got.DeliveryStatus)
	assert.Equal(t, "TRK-1", got.TrackingNumber)
	assert.Equal(t, "Sales Personnel", got.ShippingUpdatedBy)
}

func TestRoleGating(t *testing.T) {
	svc, _ := newTestService(t)
	sale := creditSale(t, svc, staffUser, 1)
	ctx := as(staffUser)

	_, err := svc.ArchiveProduct(ctx, "soap")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, svc.DeleteCustomer(ctx, "cus-2"), ErrForbidden)
	_, err = svc.EditSale(ctx, sale.ID, domain.SaleRequest{
		CustomerID:    "cus-1",
		Items:         []domain.SaleItemRequest{{ProductID: "soap", Quantity: 1}},
		PaymentStatus: domain.PaymentPaid,
	})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.AdjustCustomerBalance(ctx, "cus-1", domain.BalanceAdjustRequest{Kind: domain.AdjustCredit, Amount: dec("10")})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.ReconcileBalances(ctx, false)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.UpdateSettings(ctx, domain.DefaultSettings())
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.ListProducts(context.Background(), false)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.ArchiveProduct(as(adminUser), "soap")
	require.NoError(t, err)
	active := domain.ProductActive
	_, err = svc.UpdateProduct(ctx, "soap", domain.ProductUpdateRequest{Status: &active})
	assert.ErrorIs(t, err, ErrForbidden)
	restored, err := svc.UpdateProduct(as(adminUser), "soap", domain.ProductUpdateRequest{Status: &active})
	require.NoError(t, err)
	assert.Equal(t, domain.ProductActive, restored.Status)
}

func TestPersonnelVisibility(t *testing.T) {
	svc, _ := newTestService(t)
	mine := creditSale(t, svc, staffUser, 1)
	theirs := creditSale(t, svc, otherUser, 1)
	_, err := svc.CollectForSale(as(otherUser), domain.CollectionRequest{SaleID: theirs.ID, Amount: dec("100")})
	require.NoError(t, err)

	sales, err := svc.ListSales(as(staffUser), domain.SaleFilter{PersonnelUsername: "ayse"})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, mine.ID, sales[0].ID)

	_, err = svc.GetSale(as(staffUser), theirs.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.CollectForSale(as(staffUser), domain.CollectionRequest{SaleID: theirs.ID, Amount: dec("1")})
	assert.ErrorIs(t, err, store.ErrNotFound)

	txs, err := svc.ListTransactions(as(staffUser), domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)

	logs, err := svc.ListActivityLogs(as(staffUser), domain.ActivityFilter{})
	require.NoError(t, err)
	for _, entry := range logs {
		assert.Equal(t, "personnel", entry.ActorUsername)
	}

	all, err := svc.ListSales(as(adminUser), domain.SaleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	detail, err := svc.GetCustomerDetail(as(staffUser), "cus-1")
	require.NoError(t, err)
	assert.Len(t, detail.Sales, 1)
	assert.Empty(t, detail.Journal)

	detail, err = svc.GetCustomerDetail(as(adminUser), "cus-1")
	require.NoError(t, err)
	assert.Len(t, detail.Sales, 2)
	assert.NotEmpty(t, detail.Journal)
}

func TestManualAdjustment(t *testing.T) {
	svc, repo := newTestService(t)

	c, err := svc.AdjustCustomerBalance(as(adminUser), "cus-1", domain.BalanceAdjustRequest{Kind: domain.AdjustDebt, Amount: dec("75"), Description: "old invoice"})
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(dec("-75")))

	c, err = svc.AdjustCustomerBalance(as(adminUser), "cus-1", domain.BalanceAdjustRequest{Kind: domain.AdjustCredit, Amount: dec("25")})
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(dec("-50")))

	txs, err := svc.ListTransactions(as(adminUser), domain.TransactionFilter{CustomerID: "cus-1"})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	types := []domain.TransactionType{txs[0].Type, txs[1].Type}
	assert.ElementsMatch(t, []domain.TransactionType{domain.TxPayment, domain.TxCollection}, types)
	assertJournalMatches(t, repo)
}

func TestGeneralCollection(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.CollectGeneral(as(staffUser), domain.CollectionRequest{CustomerID: "cus-2", Amount: dec("300"), Method: "iban"})
	require.NoError(t, err)
	assert.Empty(t, resp.Transaction.SaleID)
	assert.True(t, resp.Balance.Equal(dec("300")))

	_, err = svc.CollectGeneral(as(staffUser), domain.CollectionRequest{CustomerID: "cus-x", Amount: dec("1")})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// staleBalanceRepo reports the cached balance of one customer shifted by
// offset until that customer is repaired. afterSum runs once, right after the
// journal has been summed.
type staleBalanceRepo struct {
	*memory.Store
	customerID string
	offset     decimal.Decimal
	afterSum   func()
}

func (r *staleBalanceRepo) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	customers, err := r.Store.ListCustomers(ctx)
	for i := range customers {
		if customers[i].ID == r.customerID {
			customers[i].Balance = customers[i].Balance.Add(r.offset)
		}
	}
	return customers, err
}

func (r *staleBalanceRepo) SumBalanceJournal(ctx context.Context) (map[string]decimal.Decimal, error) {
	sums, err := r.Store.SumBalanceJournal(ctx)
	if hook := r.afterSum; hook != nil {
		r.afterSum = nil
		hook()
	}
	return sums, err
}

func (r *staleBalanceRepo) RepairCustomerBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	if customerID == r.customerID {
		r.offset = decimal.Zero
	}
	return r.Store.RepairCustomerBalance(ctx, customerID)
}

func newStaleBalanceService(t *testing.T) (*Service, *memory.Store, *staleBalanceRepo) {
	t.Helper()
	_, repo := newTestService(t)
	stale := &staleBalanceRepo{Store: repo, customerID: "cus-1"}
	svc := New(stale, nil, 0, nil)
	svc.now = func() time.Time { return testNow }
	return svc, repo, stale
}

func TestReconcileDetectsAndRepairsDrift(t *testing.T) {
	svc, repo, stale := newStaleBalanceService(t)
	creditSale(t, svc, staffUser, 1)
	stale.offset = dec("200")

	report, err := svc.ReconcileBalances(as(adminUser), false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Customers)
	require.Len(t, report.Drifts, 1)
	assert.True(t, report.Drifts[0].Difference.Equal(dec("200")))
	assert.False(t, report.Drifts[0].Repaired)
	assert.Nil(t, report.Drifts[0].RepairedBalance)

	report, err = svc.ReconcileBalances(as(adminUser), true)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.True(t, report.Drifts[0].Repaired)
	require.NotNil(t, report.Drifts[0].RepairedBalance)
	assert.True(t, report.Drifts[0].RepairedBalance.Equal(dec("-1200")))
	assert.True(t, balanceOf(t, repo, "cus-1").Equal(dec("-1200")))

	report, err = svc.ReconcileBalances(as(adminUser), false)
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
}

func TestReconcileRepairKeepsCollectionPostedAfterScan(t *testing.T) {
	svc, repo, stale := newStaleBalanceService(t)
	creditSale(t, svc, staffUser, 1)
	stale.offset = dec("200")
	stale.afterSum = func() {
		_, err := svc.CollectGeneral(as(staffUser), domain.CollectionRequest{CustomerID: "cus-1", Amount: dec("500"), Method: "cash"})
		require.NoError(t, err)
	}

	report, err := svc.ReconcileBalances(as(adminUser), true)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.True(t, report.Drifts[0].Journal.Equal(dec("-1200")))
	require.NotNil(t, report.Drifts[0].RepairedBalance)
	assert.True(t, report.Drifts[0].RepairedBalance.Equal(dec("-700")))

	assert.True(t, balanceOf(t, repo, "cus-1").Equal(dec("-700")))
	assertJournalMatches(t, repo)
}

func TestDeleteCustomerWithOpenDebtIsRefused(t *testing.T) {
	svc, repo := newTestService(t)
	sale := creditSale(t, svc, staffUser, 1)

	assert.ErrorIs(t, svc.DeleteCustomer(as(adminUser), "cus-1"), store.ErrConflict)

	cancelled, err := svc.CancelSale(as(adminUser), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleCancelled, cancelled.Status)
	assert.True(t, balanceOf(t, repo, "cus-1").IsZero())

	require.NoError(t, svc.DeleteCustomer(as(adminUser), "cus-1"))
	_, err = repo.GetCustomer(context.Background(), "cus-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteCustomerWithCreditIsRefused(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CollectGeneral(as(staffUser), domain.CollectionRequest{CustomerID: "cus-2", Amount: dec("300"), Method: "cash"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteCustomer(as(adminUser), "cus-2"), store.ErrConflict)
	assert.ErrorIs(t, svc.DeleteCustomer(as(adminUser), "cus-x"), store.ErrNotFound)
}

func TestTaskWorkflow(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateTask(as(staffUser), domain.TaskCreateRequest{Title: "Call", AssignedTo: "ayse", DueDate: testNow, Priority: domain.PriorityLow})
	assert.ErrorIs(t, err, ErrForbidden)

	task, err := svc.CreateTask(as(adminUser), domain.TaskCreateRequest{Title: "Visit dealer", AssignedTo: "personnel", DueDate: testNow, Priority: domain.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, "Sales Personnel", task.AssignedToName)

	_, err = svc.TransitionTask(as(staffUser), task.ID, domain.TaskTransitionRequest{Event: domain.TaskApprove})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.TransitionTask(as(otherUser), task.ID, domain.TaskTransitionRequest{Event: domain.TaskRequestApproval})
	assert.ErrorIs(t, err, store.ErrNotFound)

	task, err = svc.TransitionTask(as(staffUser), task.ID, domain.TaskTransitionRequest{Event: domain.TaskRequestApproval})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskWaitingApproval, task.Status)

	_, err = svc.TransitionTask(as(adminUser), task.ID, domain.TaskTransitionRequest{Event: domain.TaskReject})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
	task, err = svc.TransitionTask(as(adminUser), task.ID, domain.TaskTransitionRequest{Event: domain.TaskReject, Note: "add photos"})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, task.Status)
	assert.Equal(t, "add photos", task.AdminNote)

	_, err = svc.TransitionTask(as(adminUser), task.ID, domain.TaskTransitionRequest{Event: domain.TaskReopen})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	task, err = svc.TransitionTask(as(adminUser), task.ID, domain.TaskTransitionRequest{Event: domain.TaskComplete})
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, task.Status)

	own, err := svc.CreateTask(as(otherUser), domain.TaskCreateRequest{Title: "Restock shelf", DueDate: testNow, Priority: domain.PriorityMedium})
	require.NoError(t, err)
	assert.Equal(t, "ayse", own.AssignedTo)

	mine, err := svc.ListTasks(as(staffUser))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	all, err := svc.ListTasks(as(adminUser))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, own.ID, all[0].ID)
}

type countingCache struct {
	stored      *domain.AppSettings
	gets, sets  int
	invalidated int
}

func (c *countingCache) Get(context.Context) (*domain.AppSettings, bool, error) {
	c.gets++
	return c.stored, c.stored != nil, nil
}

func (c *countingCache) Set(_ context.Context, settings *domain.AppSettings, _ time.Duration) error {
	c.sets++
	copied := *settings
	c.stored = &copied
	return nil
}

func (c *countingCache) Invalidate(context.Context) error {
	c.invalidated++
	c.stored = nil
	return nil
}

func TestSettingsReadThroughCache(t *testing.T) {
	repo := memory.New()
	c := &countingCache{}
	svc := New(repo, c, time.Minute, nil)

	_, err := svc.GetSettings(as(staffUser))
	require.NoError(t, err)
	_, err = svc.GetSettings(as(staffUser))
	require.NoError(t, err)
	assert.Equal(t, 1, c.sets)

	updated, err := svc.UpdateSettings(as(adminUser), domain.AppSettings{ShippingCompanies: []string{" Aras ", "aras", "", "PTT"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Aras", "PTT"}, updated.ShippingCompanies)
	assert.Equal(t, 1, c.invalidated)

	got, err := svc.GetSettings(as(staffUser))
	require.NoError(t, err)
	assert.Equal(t, []string{"Aras", "PTT"}, got.ShippingCompanies)
	assert.Equal(t, 2, c.sets)
}

func TestProductCostSheet(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.SaveProductCost(as(adminUser), "oil-5l", domain.ProductCostRequest{
		ProductNetWeight: dec("5"),
		RawMaterials: []domain.RawMaterial{
			{Name: "olives", UnitPrice: dec("120"), UsagePercent: dec("100")},
		},
		OtherCosts: []domain.OtherCost{{Name: "tin", UnitCost: dec("50")}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Cost.TotalCost.Equal(dec("650")))
	assert.True(t, resp.Profit.Equal(dec("350")))
	assert.True(t, resp.MarginPercent.Equal(dec("35")))
	assert.NotEmpty(t, resp.Cost.RawMaterials[0].ID)

	list, err := svc.ListProductCosts(as(staffUser))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.SaveProductCost(as(staffUser), "oil-5l", domain.ProductCostRequest{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestProductLifecycle(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.CreateProduct(as(staffUser), domain.ProductCreateRequest{BaseName: " Olive Oil ", VariantName: "1L", UnitPrice: dec("250"), Stock: 4})
	require.NoError(t, err)
	assert.Equal(t, "Olive Oil - 1L", p.DisplayName())

	_, err = svc.CreateProduct(as(staffUser), domain.ProductCreateRequest{BaseName: "olive oil", VariantName: "1l", UnitPrice: dec("1")})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = svc.CreateProduct(as(staffUser), domain.ProductCreateRequest{BaseName: "Vinegar", UnitPrice: dec("-1")})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestCustomerUpdateRejectsBalanceEdit(t *testing.T) {
	svc, repo := newTestService(t)

	c, err := svc.CreateCustomer(as(staffUser), domain.CustomerRequest{Name: "Deniz", OpeningBalance: dec("-120")})
	require.NoError(t, err)
	assert.True(t, c.Balance.Equal(dec("-120")))

	_, err = svc.UpdateCustomer(as(staffUser), c.ID, domain.CustomerRequest{Name: "Deniz", OpeningBalance: dec("5")})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.CreateCustomer(as(staffUser), domain.CustomerRequest{Name: "Bad", Email: "not-an-email"})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
	assertJournalMatches(t, repo)
}

func TestSalesSummary(t *testing.T) {
	svc, _ := newTestService(t)
	creditSale(t, svc, staffUser, 1)
	_, err := svc.CreateSale(as(otherUser), domain.SaleRequest{
		Items:         []domain.SaleItemRequest{{ProductID: "soap", Quantity: 85}},
		PaymentStatus: domain.PaymentPaid,
	})
	require.NoError(t, err)

	from, to := testNow.Add(-time.Hour), testNow.Add(time.Hour)
	summary, err := svc.SalesSummary(as(adminUser), from, to)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.SaleCount)
	assert.True(t, summary.RevenueExclTax.Equal(dec("4400")))
	assert.True(t, summary.RevenueInclTax.Equal(dec("5280")))
	assert.True(t, summary.OutstandingReceivable.Equal(dec("1200")))
	assert.Len(t, summary.PendingShipments, 2)
	require.Len(t, summary.LowStock, 1)
	assert.Equal(t, "soap", summary.LowStock[0].ID)

	mine, err := svc.SalesSummary(as(staffUser), from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, mine.SaleCount)

	_, err = svc.SalesSummary(as(adminUser), to, from)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestDefaultRefundPricesEachLine(t *testing.T) {
	sale := domain.Sale{Items: []domain.SaleItem{
		{ProductID: "soap", Quantity: 2, UnitPrice: dec("40")},
		{ProductID: "oil-5l", Quantity: 1, UnitPrice: dec("1000")},
		{ProductID: "soap", Quantity: 3, UnitPrice: dec("50")},
	}}

	refund := defaultRefund(sale, []domain.ReturnItem{
		{ProductID: "soap", Quantity: 2, Condition: domain.ConditionResellable},
		{ProductID: "soap", Quantity: 1, Condition: domain.ConditionDefective},
	})
	assert.True(t, refund.Equal(dec("156")), "got %s", refund)
}
