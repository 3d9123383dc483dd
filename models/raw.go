package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// FlexID is an identifier the API sends either as a JSON number or a string.
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid identifier %s: %w", data, err)
	}
	*id = FlexID(n.String())
	return nil
}

func (id FlexID) String() string {
	return string(id)
}

// Int64 parses the identifier as a number.
func (id FlexID) Int64() (int64, error) {
	return strconv.ParseInt(string(id), 10, 64)
}

// RawOrder is an order document as returned by /orders/search.
type RawOrder struct {
	ID              *FlexID          `json:"id"`
	Seller          *RawParty        `json:"seller"`
	Buyer           *RawParty        `json:"buyer"`
	Status          *string          `json:"status"`
	StatusDetail    *string          `json:"status_detail"`
	DateCreated     *string          `json:"date_created"`
	DateClosed      *string          `json:"date_closed"`
	DateLastUpdated *string          `json:"date_last_updated"`
	ExpirationDate  *string          `json:"expiration_date"`
	TotalAmount     *decimal.Decimal `json:"total_amount"`
	PaidAmount      *decimal.Decimal `json:"paid_amount"`
	CurrencyID      *string          `json:"currency_id"`
	ShippingCost    *decimal.Decimal `json:"shipping_cost"`
	PackID          *FlexID          `json:"pack_id"`
	Fulfilled       *bool            `json:"fulfilled"`
	Comment         *string          `json:"comment"`
	Tags            json.RawMessage  `json:"tags"`
	Feedback        json.RawMessage  `json:"feedback"`
	Context         json.RawMessage  `json:"context"`
	OrderItems      []RawOrderItem   `json:"order_items"`
	Payments        []RawPayment     `json:"payments"`
}

type RawParty struct {
	ID       *int64  `json:"id"`
	Nickname *string `json:"nickname"`
}

type RawOrderItem struct {
	Item          RawItem          `json:"item"`
	ElementID     *int64           `json:"element_id"`
	Quantity      *int64           `json:"quantity"`
	UnitPrice     *decimal.Decimal `json:"unit_price"`
	FullUnitPrice *decimal.Decimal `json:"full_unit_price"`
	SaleFee       *decimal.Decimal `json:"sale_fee"`
	ListingTypeID *string          `json:"listing_type_id"`
}

type RawItem struct {
	ID                  *string         `json:"id"`
	Title               *string         `json:"title"`
	CategoryID          *string         `json:"category_id"`
	VariationID         *FlexID         `json:"variation_id"`
	SellerSKU           *string         `json:"seller_sku"`
	Condition           *string         `json:"condition"`
	Warranty            *string         `json:"warranty"`
	VariationAttributes json.RawMessage `json:"variation_attributes"`
}

type RawPayment struct {
	ID                        *FlexID          `json:"id"`
	PayerID                   *int64           `json:"payer_id"`
	Collector                 *RawParty        `json:"collector"`
	Status                    *string          `json:"status"`
	StatusDetail              *string          `json:"status_detail"`
	PaymentMethodID           *string          `json:"payment_method_id"`
	PaymentType               *string          `json:"payment_type"`
	OperationType             *string          `json:"operation_type"`
	TransactionAmount         *decimal.Decimal `json:"transaction_amount"`
	TotalPaidAmount           *decimal.Decimal `json:"total_paid_amount"`
	TransactionAmountRefunded *decimal.Decimal `json:"transaction_amount_refunded"`
	DateCreated               *string          `json:"date_created"`
	DateApproved              *string          `json:"date_approved"`
	DateLastModified          *string          `json:"date_last_modified"`
	Installments              *int64           `json:"installments"`
	InstallmentAmount         *decimal.Decimal `json:"installment_amount"`
	IssuerID                  *FlexID          `json:"issuer_id"`
	Reason                    *string          `json:"reason"`
	ShippingCost              *decimal.Decimal `json:"shipping_cost"`
	TaxesAmount               *decimal.Decimal `json:"taxes_amount"`
	CouponAmount              *decimal.Decimal `json:"coupon_amount"`
}
