package models

import "github.com/shopspring/decimal"

// SellerOrderEvent is the message payload published to RabbitMQ after an order
// batch is committed.
type SellerOrderEvent struct {
	Event        string          `json:"event"`    // created | updated
	OrderID      string          `json:"order_id"` // external order id
	SellerID     int64           `json:"seller_id"`
	Status       string          `json:"status"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	CurrencyID   string          `json:"currency_id"`
	ItemCount    int             `json:"item_count"`
	PaymentCount int             `json:"payment_count"`
}

const (
	EventCreated = "created"
	EventUpdated = "updated"
)
