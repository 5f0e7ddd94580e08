package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin     = "admin"
	RolePersonnel = "personnel"
)

type Actor struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type ProductStatus string

const (
	ProductActive   ProductStatus = "ACTIVE"
	ProductInactive ProductStatus = "INACTIVE"
	ProductArchived ProductStatus = "ARCHIVED"
)

type Product struct {
	ID                string          `json:"id"`
	BaseName          string          `json:"base_name"`
	VariantName       string          `json:"variant_name,omitempty"`
	Description       string          `json:"description,omitempty"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Stock             int             `json:"stock"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	Status            ProductStatus   `json:"status"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (p Product) DisplayName() string {
	if p.VariantName == "" {
		return p.BaseName
	}
	return p.BaseName + " - " + p.VariantName
}

// SameName reports whether two products share base and variant name, ignoring case.
func (p Product) SameName(other Product) bool {
	return strings.EqualFold(strings.TrimSpace(p.BaseName), strings.TrimSpace(other.BaseName)) &&
		strings.EqualFold(strings.TrimSpace(p.VariantName), strings.TrimSpace(other.VariantName))
}

func (p Product) IsLowStock() bool {
	return p.Status != ProductArchived && p.Stock <= p.LowStockThreshold
}

type Customer struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type,omitempty"`
	SalesChannel string          `json:"sales_channel,omitempty"`
	Email        string          `json:"email,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	City         string          `json:"city,omitempty"`
	District     string          `json:"district,omitempty"`
	Address      string          `json:"address,omitempty"`
	Description  string          `json:"description,omitempty"`
	Balance      decimal.Decimal `json:"current_balance"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type SaleType string

const (
	SaleTypeSale SaleType = "SALE"
	SaleTypeGift SaleType = "GIFT"
)

type ShippingPayer string

const (
	PayerCustomer ShippingPayer = "CUSTOMER"
	PayerCompany  ShippingPayer = "COMPANY"
	PayerNone     ShippingPayer = "NONE"
)

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "PAID"
	PaymentPartial PaymentStatus = "PARTIAL"
	PaymentUnpaid  PaymentStatus = "UNPAID"
)

type SaleStatus string

const (
	SaleActive    SaleStatus = "ACTIVE"
	SaleReturned  SaleStatus = "RETURNED"
	SaleCancelled SaleStatus = "CANCELLED"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
)

type SaleItem struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	LineTotal     decimal.Decimal `json:"line_total"`
}

type Sale struct {
	ID                string          `json:"id"`
	CustomerID        string          `json:"customer_id,omitempty"`
	CustomerName      string          `json:"customer_name"`
	Items             []SaleItem      `json:"items"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	ShippingCost      decimal.Decimal `json:"shipping_cost"`
	ShippingPayer     ShippingPayer   `json:"shipping_payer,omitempty"`
	SaleType          SaleType        `json:"sale_type"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	Status            SaleStatus      `json:"status"`
	DueDate           *time.Time      `json:"due_date,omitempty"`
	Return            *ReturnDetails  `json:"return_details,omitempty"`
	DeliveryStatus    DeliveryStatus  `json:"delivery_status"`
	DeliveryType      string          `json:"delivery_type,omitempty"`
	ShippingCompany   string          `json:"shipping_company,omitempty"`
	TrackingNumber    string          `json:"tracking_number,omitempty"`
	ShippingUpdatedBy string          `json:"shipping_updated_by,omitempty"`
	PersonnelUsername string          `json:"personnel_username"`
	PersonnelName     string          `json:"personnel_name"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Version           int             `json:"version"`
}

func (s Sale) GrandTotal() decimal.Decimal {
	return GrandTotal(s.Subtotal, s.ShippingCost, s.SaleType, s.ShippingPayer)
}

func (s Sale) IsGuest() bool {
	return s.CustomerID == ""
}

// SoldQuantities sums line quantities per product.
func (s Sale) SoldQuantities() map[string]int {
	qty := make(map[string]int, len(s.Items))
	for _, item := range s.Items {
		qty[item.ProductID] += item.Quantity
	}
	return qty
}

func (s Sale) Clone() Sale {
	out := s
	out.Items = append([]SaleItem(nil), s.Items...)
	if s.DueDate != nil {
		due := *s.DueDate
		out.DueDate = &due
	}
	if s.Return != nil {
		ret := s.Return.Clone()
		out.Return = &ret
	}
	return out
}

type ItemCondition string

const (
	ConditionResellable ItemCondition = "RESELLABLE"
	ConditionDefective  ItemCondition = "DEFECTIVE"
)

type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundCompleted RefundStatus = "COMPLETED"
)

type RefundMethod string

const (
	RefundCash   RefundMethod = "CASH"
	RefundCard   RefundMethod = "CARD"
	RefundIBAN   RefundMethod = "IBAN"
	RefundWallet RefundMethod = "WALLET"
)

type ReturnItem struct {
	ProductID string        `json:"product_id" validate:"required"`
	Quantity  int           `json:"quantity" validate:"min=1"`
	Condition ItemCondition `json:"condition" validate:"required,oneof=RESELLABLE DEFECTIVE"`
}

type ReturnDetails struct {
	Date                  time.Time       `json:"date"`
	Reason                string          `json:"reason"`
	ReturnShippingCompany string          `json:"return_shipping_company,omitempty"`
	ReturnTrackingNumber  string          `json:"return_tracking_number,omitempty"`
	RefundAmount          decimal.Decimal `json:"refund_amount"`
	RefundStatus          RefundStatus    `json:"refund_status"`
	RefundMethod          RefundMethod    `json:"refund_method"`
	RefundDescription     string          `json:"refund_description,omitempty"`
	RefundDate            *time.Time      `json:"refund_date,omitempty"`
	ProcessedBy           string          `json:"processed_by"`
	Items                 []ReturnItem    `json:"returned_items"`
	WalletCredited        bool            `json:"wallet_credited"`
}

func (r ReturnDetails) Clone() ReturnDetails {
	out := r
	out.Items = append([]ReturnItem(nil), r.Items...)
	if r.RefundDate != nil {
		at := *r.RefundDate
		out.RefundDate = &at
	}
	return out
}

type TransactionType string

const (
	TxCollection TransactionType = "COLLECTION"
	TxPayment    TransactionType = "PAYMENT"
)

type Transaction struct {
	ID                string          `json:"id"`
	CustomerID        string          `json:"customer_id"`
	Amount            decimal.Decimal `json:"amount"`
	Type              TransactionType `json:"type"`
	Method            string          `json:"method,omitempty"`
	Date              time.Time       `json:"date"`
	Description       string          `json:"description,omitempty"`
	SaleID            string          `json:"sale_id,omitempty"`
	PersonnelUsername string          `json:"personnel_username"`
	PersonnelName     string          `json:"personnel_name"`
}

type BalanceReason string

const (
	BalanceOpening          BalanceReason = "OPENING"
	BalanceSaleDebt         BalanceReason = "SALE_DEBT"
	BalanceSaleDebtReversal BalanceReason = "SALE_DEBT_REVERSAL"
	BalanceStatusChange     BalanceReason = "STATUS_CHANGE"
	BalanceCollection       BalanceReason = "COLLECTION"
	BalanceRefundWallet     BalanceReason = "REFUND_WALLET"
	BalanceManualAdjustment BalanceReason = "MANUAL_ADJUSTMENT"
)

// BalanceEntry is one row of the append-only balance journal. The sum of a
// customer's entries equals their current balance.
type BalanceEntry struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	Delta         decimal.Decimal `json:"delta"`
	Reason        BalanceReason   `json:"reason"`
	SaleID        string          `json:"sale_id,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Actor         string          `json:"actor"`
	At            time.Time       `json:"at"`
}

type TaskPriority string

const (
	PriorityVeryHigh TaskPriority = "VERY_HIGH"
	PriorityHigh     TaskPriority = "HIGH"
	PriorityMedium   TaskPriority = "MEDIUM"
	PriorityLow      TaskPriority = "LOW"
	PriorityVeryLow  TaskPriority = "VERY_LOW"
)

type TaskStatus string

const (
	TaskPending         TaskStatus = "PENDING"
	TaskWaitingApproval TaskStatus = "WAITING_APPROVAL"
	TaskCompleted       TaskStatus = "COMPLETED"
)

type Task struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Description    string       `json:"description,omitempty"`
	AssignedTo     string       `json:"assigned_to"`
	AssignedToName string       `json:"assigned_to_name"`
	CreatedBy      string       `json:"created_by"`
	DueDate        time.Time    `json:"due_date"`
	Priority       TaskPriority `json:"priority"`
	Status         TaskStatus   `json:"status"`
	AdminNote      string       `json:"admin_note,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type ActivityAction string

const (
	ActionLogin        ActivityAction = "LOGIN"
	ActionCreate       ActivityAction = "CREATE"
	ActionUpdate       ActivityAction = "UPDATE"
	ActionDelete       ActivityAction = "DELETE"
	ActionStatusChange ActivityAction = "STATUS_CHANGE"
	ActionFinancial    ActivityAction = "FINANCIAL"
)

type ActivityEntity string

const (
	EntityProduct    ActivityEntity = "PRODUCT"
	EntityCustomer   ActivityEntity = "CUSTOMER"
	EntitySale       ActivityEntity = "SALE"
	EntityReturn     ActivityEntity = "RETURN"
	EntityCollection ActivityEntity = "COLLECTION"
	EntitySettings   ActivityEntity = "SETTINGS"
	EntityTask       ActivityEntity = "TASK"
)

type ActivityLog struct {
	ID            string         `json:"id"`
	At            time.Time      `json:"at"`
	ActorUsername string         `json:"actor_username"`
	ActorName     string         `json:"actor_name"`
	ActorRole     string         `json:"actor_role"`
	Action        ActivityAction `json:"action"`
	Entity        ActivityEntity `json:"entity"`
	EntityID      string         `json:"entity_id,omitempty"`
	Description   string         `json:"description"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type UserAccount struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AppSettings struct {
	ProductCategories []string `json:"product_categories"`
	VariantOptions    []string `json:"variant_options"`
	CustomerTypes     []string `json:"customer_types"`
	SalesChannels     []string `json:"sales_channels"`
	DeliveryTypes     []string `json:"delivery_types"`
	ShippingCompanies []string `json:"shipping_companies"`
}

func DefaultSettings() AppSettings {
	return AppSettings{
		ProductCategories: []string{"General"},
		VariantOptions:    []string{"Standard"},
		CustomerTypes:     []string{"Individual", "Corporate", "Dealer"},
		SalesChannels:     []string{"Store", "Phone", "Online", "Marketplace"},
		DeliveryTypes:     []string{"Cargo", "Courier", "Pickup"},
		ShippingCompanies: []string{"Aras", "Yurtici", "MNG", "PTT"},
	}
}

type RawMaterial struct {
	ID           string          `json:"id"`
	Name         string          `json:"name" validate:"required"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	UsagePercent decimal.Decimal `json:"usage_percent"`
}

type OtherCost struct {
	ID       string          `json:"id"`
	Name     string          `json:"name" validate:"required"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type ProductCost struct {
	ProductID        string          `json:"product_id"`
	ProductNetWeight decimal.Decimal `json:"product_net_weight"`
	RawMaterials     []RawMaterial   `json:"raw_materials"`
	OtherCosts       []OtherCost     `json:"other_costs"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	LastUpdated      time.Time       `json:"last_updated"`
}

type SaleFilter struct {
	PersonnelUsername string
	CustomerID        string
	From              time.Time
	To                time.Time
}

type TransactionFilter struct {
	PersonnelUsername string
	CustomerID        string
	SaleID            string
}

type ActivityFilter struct {
	ActorUsername string
	Entity        ActivityEntity
	Limit         int
}
