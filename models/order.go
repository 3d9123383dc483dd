package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Order is one marketplace order, keyed by the external order id.
type Order struct {
	ID                  string              `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SellerID            int64               `gorm:"not null;index" json:"seller_id"`
	BuyerID             *int64              `json:"buyer_id"`
	BuyerNickname       *string             `json:"buyer_nickname"`
	Status              string              `gorm:"not null;index" json:"status"`
	StatusDetail        *string             `json:"status_detail"`
	DateCreated         time.Time           `gorm:"not null" json:"date_created"`
	DateClosed          *time.Time          `json:"date_closed"`
	DateLastUpdated     *time.Time          `json:"date_last_updated"`
	ExpirationDate      *time.Time          `json:"expiration_date"`
	TotalAmount         decimal.Decimal     `gorm:"type:numeric(10,2);not null" json:"total_amount"`
	PaidAmount          decimal.Decimal     `gorm:"type:numeric(10,2);not null" json:"paid_amount"`
	CurrencyID          string              `gorm:"not null" json:"currency_id"`
	ShippingCost        decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"shipping_cost"`
	PackID              *string             `json:"pack_id"`
	Fulfilled           *bool               `json:"fulfilled"`
	Comment             *string             `gorm:"type:text" json:"comment"`
	Tags                datatypes.JSON      `json:"tags"`
	FeedbackData        datatypes.JSON      `json:"feedback_data"`
	ContextData         datatypes.JSON      `json:"context_data"`
	ProcessingTimeHours decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"processing_time_hours"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderItem is one line item of an order. Rows are replaced as a set whenever
// the parent order is loaded again.
type OrderItem struct {
	ID                  uint                `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID             string              `gorm:"not null;index;type:varchar(64)" json:"order_id"`
	ElementID           *int64              `json:"element_id"`
	ItemID              *string             `json:"item_id"`
	Title               *string             `json:"title"`
	CategoryID          *string             `json:"category_id"`
	VariationID         *string             `json:"variation_id"`
	SellerSKU           *string             `gorm:"column:seller_sku" json:"seller_sku"`
	Quantity            *int64              `json:"quantity"`
	UnitPrice           decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"unit_price"`
	FullUnitPrice       decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"full_unit_price"`
	SaleFee             decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"sale_fee"`
	ListingTypeID       *string             `json:"listing_type_id"`
	Condition           *string             `json:"condition"`
	Warranty            *string             `json:"warranty"`
	VariationAttributes datatypes.JSON      `json:"variation_attributes"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// Payment is keyed by the external payment id and replaced together with the
// other payments of its order.
type Payment struct {
	ID                        string              `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OrderID                   string              `gorm:"not null;index;type:varchar(64)" json:"order_id"`
	PayerID                   *int64              `json:"payer_id"`
	CollectorID               *int64              `json:"collector_id"`
	Status                    string              `gorm:"not null" json:"status"`
	StatusDetail              *string             `json:"status_detail"`
	PaymentMethodID           string              `gorm:"not null" json:"payment_method_id"`
	PaymentType               string              `gorm:"not null" json:"payment_type"`
	OperationType             string              `gorm:"not null" json:"operation_type"`
	TransactionAmount         decimal.Decimal     `gorm:"type:numeric(10,2);not null" json:"transaction_amount"`
	TotalPaidAmount           decimal.Decimal     `gorm:"type:numeric(10,2);not null" json:"total_paid_amount"`
	TransactionAmountRefunded decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"transaction_amount_refunded"`
	DateCreated               time.Time           `gorm:"not null" json:"date_created"`
	DateApproved              *time.Time          `json:"date_approved"`
	DateLastModified          *time.Time          `json:"date_last_modified"`
	Installments              *int64              `json:"installments"`
	InstallmentAmount         decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"installment_amount"`
	IssuerID                  *string             `json:"issuer_id"`
	Reason                    *string             `json:"reason"`
	ShippingCost              decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"shipping_cost"`
	TaxesAmount               decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"taxes_amount"`
	CouponAmount              decimal.NullDecimal `gorm:"type:numeric(10,2)" json:"coupon_amount"`
}

func (Payment) TableName() string {
	return "payments"
}

// RunStatus is the lifecycle state stored on an ETLState row.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusPaused    RunStatus = "paused"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusError     RunStatus = "error"
)

// ETLState is the resumption checkpoint of one seller. LastOffset is kept for
// schema compatibility and is always written as 0.
type ETLState struct {
	ID                uint       `gorm:"primaryKey"`
	SellerID          int64      `gorm:"not null;index"`
	LastProcessedDate *time.Time
	LastOffset        int       `gorm:"not null;default:0"`
	TotalProcessed    int       `gorm:"not null;default:0"`
	LastRunDate       time.Time `gorm:"not null"`
	Status            RunStatus `gorm:"type:varchar(16);not null"`
	LastOrderID       *string
}

func (ETLState) TableName() string {
	return "etl_state"
}

// All lists the persistence models in migration order.
func All() []any {
	return []any{&Order{}, &OrderItem{}, &Payment{}, &ETLState{}}
}
