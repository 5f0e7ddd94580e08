package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	// VATRate is applied to the tax-exclusive subtotal of every sale.
	VATRate = decimal.NewFromFloat(0.20)
	// PaidTolerance absorbs rounding when a collection settles a sale.
	PaidTolerance = decimal.NewFromInt(1)

	vatMultiplier = decimal.NewFromInt(1).Add(VATRate)
)

// GrandTotal is the customer-facing total of a sale. Every ledger path uses
// it; there is no other implementation of the formula.
//
//	SALE:                      subtotal*1.20 + shipping
//	GIFT, payer COMPANY/NONE:  0
//	GIFT, payer CUSTOMER:      shipping
func GrandTotal(subtotal, shipping decimal.Decimal, saleType SaleType, payer ShippingPayer) decimal.Decimal {
	if saleType == SaleTypeGift {
		if payer == PayerCustomer {
			return RoundMoney(shipping)
		}
		return decimal.Zero
	}
	return RoundMoney(subtotal.Mul(vatMultiplier).Add(shipping))
}

// GrossPrice returns a tax-inclusive unit price.
func GrossPrice(net decimal.Decimal) decimal.Decimal {
	return net.Mul(vatMultiplier)
}

func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// SettlesDebt reports whether paid covers total within PaidTolerance.
func SettlesDebt(paid, total decimal.Decimal) bool {
	return paid.GreaterThanOrEqual(total.Sub(PaidTolerance))
}

type StockAdjustment struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

type BalanceAdjustment struct {
	CustomerID    string
	Delta         decimal.Decimal
	Reason        BalanceReason
	SaleID        string
	TransactionID string
}

// Posting is the full set of writes produced by one ledger operation. A
// repository applies it atomically or not at all.
type Posting struct {
	// Sale, when set, is inserted (ExpectedVersion 0) or replaced if the stored
	// version still equals ExpectedVersion.
	Sale            *Sale
	ExpectedVersion int
	Stock           []StockAdjustment
	Balances        []BalanceAdjustment
	Transactions    []Transaction
	Actor           string
	At              time.Time
}

func (p *Posting) AddStock(productID string, delta int) {
	if delta == 0 {
		return
	}
	p.Stock = append(p.Stock, StockAdjustment{ProductID: productID, Delta: delta})
}

func (p *Posting) AddBalance(adj BalanceAdjustment) {
	if adj.CustomerID == "" || adj.Delta.IsZero() {
		return
	}
	p.Balances = append(p.Balances, adj)
}

// NetStock folds the posting's stock adjustments per product.
func (p Posting) NetStock() map[string]int {
	net := make(map[string]int, len(p.Stock))
	for _, adj := range p.Stock {
		net[adj.ProductID] += adj.Delta
	}
	return net
}

// NetBalance folds the posting's balance adjustments per customer.
func (p Posting) NetBalance() map[string]decimal.Decimal {
	net := make(map[string]decimal.Decimal, len(p.Balances))
	for _, adj := range p.Balances {
		net[adj.CustomerID] = net[adj.CustomerID].Add(adj.Delta)
	}
	return net
}
