package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=admin personnel"`
}

type ProductCreateRequest struct {
	BaseName          string          `json:"base_name" validate:"required,max=200"`
	VariantName       string          `json:"variant_name" validate:"max=200"`
	Description       string          `json:"description"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Stock             int             `json:"stock"`
	LowStockThreshold int             `json:"low_stock_threshold" validate:"min=0"`
}

type ProductUpdateRequest struct {
	BaseName          *string          `json:"base_name,omitempty"`
	VariantName       *string          `json:"variant_name,omitempty"`
	Description       *string          `json:"description,omitempty"`
	UnitPrice         *decimal.Decimal `json:"unit_price,omitempty"`
	Stock             *int             `json:"stock,omitempty"`
	LowStockThreshold *int             `json:"low_stock_threshold,omitempty"`
	Status            *ProductStatus   `json:"status,omitempty"`
}

type CustomerRequest struct {
	Name           string          `json:"name" validate:"required,max=200"`
	Type           string          `json:"type"`
	SalesChannel   string          `json:"sales_channel"`
	Email          string          `json:"email" validate:"omitempty,email"`
	Phone          string          `json:"phone"`
	City           string          `json:"city"`
	District       string          `json:"district"`
	Address        string          `json:"address"`
	Description    string          `json:"description"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type CustomerDetail struct {
	Customer     Customer       `json:"customer"`
	Sales        []Sale         `json:"sales"`
	Transactions []Transaction  `json:"transactions"`
	Journal      []BalanceEntry `json:"journal,omitempty"`
}

type AdjustmentKind string

const (
	AdjustDebt   AdjustmentKind = "DEBT"
	AdjustCredit AdjustmentKind = "CREDIT"
)

type BalanceAdjustRequest struct {
	Kind        AdjustmentKind  `json:"kind" validate:"required,oneof=DEBT CREDIT"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type SaleItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
}

type SaleRequest struct {
	CustomerID    string            `json:"customer_id,omitempty"`
	Items         []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingCost  decimal.Decimal   `json:"shipping_cost"`
	SaleType      SaleType          `json:"sale_type" validate:"omitempty,oneof=SALE GIFT"`
	ShippingPayer ShippingPayer     `json:"shipping_payer,omitempty" validate:"omitempty,oneof=CUSTOMER COMPANY NONE"`
	PaymentStatus PaymentStatus     `json:"payment_status" validate:"required,oneof=PAID PARTIAL UNPAID"`
	DueDate       *time.Time        `json:"due_date,omitempty"`
	DeliveryType  string            `json:"delivery_type,omitempty"`
}

type StockWarning struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Stock       int    `json:"stock_after"`
}

type SaleResponse struct {
	Sale          Sale            `json:"sale"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	StockWarnings []StockWarning  `json:"stock_warnings,omitempty"`
}

type PaymentStatusRequest struct {
	Status PaymentStatus `json:"status" validate:"required,oneof=PAID PARTIAL UNPAID"`
}

type DeliveryUpdateRequest struct {
	DeliveryType    string         `json:"delivery_type"`
	ShippingCompany string         `json:"shipping_company"`
	TrackingNumber  string         `json:"tracking_number"`
	Status          DeliveryStatus `json:"status" validate:"omitempty,oneof=PENDING DELIVERED"`
}

type CollectionRequest struct {
	SaleID      string          `json:"sale_id,omitempty"`
	CustomerID  string          `json:"customer_id,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Description string          `json:"description"`
}

type CollectionResponse struct {
	Transaction Transaction     `json:"transaction"`
	Sale        *Sale           `json:"sale,omitempty"`
	Balance     decimal.Decimal `json:"customer_balance"`
	OverpaidBy  decimal.Decimal `json:"overpaid_amount"`
}

type ReturnRequest struct {
	Reason                string           `json:"reason" validate:"required"`
	ReturnShippingCompany string           `json:"return_shipping_company"`
	ReturnTrackingNumber  string           `json:"return_tracking_number"`
	RefundAmount          *decimal.Decimal `json:"refund_amount,omitempty"`
	RefundStatus          RefundStatus     `json:"refund_status" validate:"required,oneof=PENDING COMPLETED"`
	RefundMethod          RefundMethod     `json:"refund_method" validate:"required,oneof=CASH CARD IBAN WALLET"`
	RefundDescription     string           `json:"refund_description"`
	Items                 []ReturnItem     `json:"returned_items" validate:"required,min=1,dive"`
}

type ReturnPaymentRequest struct {
	RefundStatus      RefundStatus `json:"refund_status" validate:"required,oneof=PENDING COMPLETED"`
	RefundMethod      RefundMethod `json:"refund_method" validate:"omitempty,oneof=CASH CARD IBAN WALLET"`
	RefundDescription *string      `json:"refund_description,omitempty"`
	RefundDate        *time.Time   `json:"refund_date,omitempty"`
}

type TaskCreateRequest struct {
	Title       string       `json:"title" validate:"required,max=200"`
	Description string       `json:"description"`
	AssignedTo  string       `json:"assigned_to"`
	DueDate     time.Time    `json:"due_date" validate:"required"`
	Priority    TaskPriority `json:"priority" validate:"required,oneof=VERY_HIGH HIGH MEDIUM LOW VERY_LOW"`
}

type TaskTransitionRequest struct {
	Event TaskEvent `json:"event" validate:"required,oneof=REQUEST_APPROVAL APPROVE REJECT COMPLETE REOPEN"`
	Note  string    `json:"note"`
}

type ProductCostRequest struct {
	ProductNetWeight decimal.Decimal `json:"product_net_weight"`
	RawMaterials     []RawMaterial   `json:"raw_materials" validate:"dive"`
	OtherCosts       []OtherCost     `json:"other_costs" validate:"dive"`
}

type ProductCostResponse struct {
	Cost          ProductCost     `json:"cost"`
	SellPrice     decimal.Decimal `json:"sell_price"`
	Profit        decimal.Decimal `json:"profit"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
}

type BalanceDrift struct {
	CustomerID   string          `json:"customer_id"`
	CustomerName string          `json:"customer_name"`
	Cached       decimal.Decimal `json:"cached_balance"`
	Journal      decimal.Decimal `json:"journal_balance"`
	Difference   decimal.Decimal `json:"difference"`
	Repaired     bool            `json:"repaired"`
	// RepairedBalance is the journal sum written by the repair, which can
	// differ from Journal when postings landed after the scan.
	RepairedBalance *decimal.Decimal `json:"repaired_balance,omitempty"`
}

type ReconciliationReport struct {
	CheckedAt time.Time      `json:"checked_at"`
	Customers int            `json:"customers_checked"`
	Drifts    []BalanceDrift `json:"drifts"`
}

type PendingShipment struct {
	SaleID       string    `json:"sale_id"`
	CustomerName string    `json:"customer_name"`
	DeliveryType string    `json:"delivery_type,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type SalesSummary struct {
	From                  time.Time         `json:"from"`
	To                    time.Time         `json:"to"`
	SaleCount             int               `json:"sale_count"`
	GiftCount             int               `json:"gift_count"`
	RevenueExclTax        decimal.Decimal   `json:"revenue_excl_tax"`
	RevenueInclTax        decimal.Decimal   `json:"revenue_incl_tax"`
	ReturnedCount         int               `json:"returned_count"`
	RefundTotal           decimal.Decimal   `json:"refund_total"`
	CollectionsTotal      decimal.Decimal   `json:"collections_total"`
	OutstandingReceivable decimal.Decimal   `json:"outstanding_receivable"`
	LowStock              []Product         `json:"low_stock"`
	PendingShipments      []PendingShipment `json:"pending_shipments"`
}
