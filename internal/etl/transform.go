package etl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"sellerorders/models"
)

// Record is one order flattened into its three tables.
type Record struct {
	Order    models.Order       `json:"order"`
	Items    []models.OrderItem `json:"items"`
	Payments []models.Payment   `json:"payments"`
}

// Transform maps a raw order document to a Record. Optional fields that are
// absent or unparseable become NULL; missing identity fields are an error.
func Transform(raw json.RawMessage) (Record, error) {
	var src models.RawOrder
	if err := json.Unmarshal(raw, &src); err != nil {
		return Record{}, &TransformationError{Err: fmt.Errorf("decode: %w", err)}
	}

	orderID := ""
	if src.ID != nil {
		orderID = src.ID.String()
	}
	fail := func(err error) (Record, error) {
		return Record{}, &TransformationError{OrderID: orderID, Err: err}
	}

	switch {
	case orderID == "":
		return fail(missing("id"))
	case src.Seller == nil || src.Seller.ID == nil:
		return fail(missing("seller.id"))
	case src.Status == nil:
		return fail(missing("status"))
	case src.TotalAmount == nil:
		return fail(missing("total_amount"))
	case src.PaidAmount == nil:
		return fail(missing("paid_amount"))
	case src.CurrencyID == nil:
		return fail(missing("currency_id"))
	case src.DateCreated == nil:
		return fail(missing("date_created"))
	}

	created, ok := parseAPITime(*src.DateCreated)
	if !ok {
		return fail(fmt.Errorf("unparseable date_created %q", *src.DateCreated))
	}
	closed := parseAPITimePtr(src.DateClosed)

	order := models.Order{
		ID:                  orderID,
		SellerID:            *src.Seller.ID,
		Status:              *src.Status,
		StatusDetail:        src.StatusDetail,
		DateCreated:         created,
		DateClosed:          closed,
		DateLastUpdated:     parseAPITimePtr(src.DateLastUpdated),
		ExpirationDate:      parseAPITimePtr(src.ExpirationDate),
		TotalAmount:         *src.TotalAmount,
		PaidAmount:          *src.PaidAmount,
		CurrencyID:          *src.CurrencyID,
		ShippingCost:        nullDecimal(src.ShippingCost),
		PackID:              flexString(src.PackID),
		Fulfilled:           src.Fulfilled,
		Comment:             src.Comment,
		Tags:                jsonBlob(src.Tags),
		FeedbackData:        jsonBlob(src.Feedback),
		ContextData:         jsonBlob(src.Context),
		ProcessingTimeHours: processingHours(&created, closed),
	}
	if src.Buyer != nil {
		order.BuyerID = src.Buyer.ID
		order.BuyerNickname = src.Buyer.Nickname
	}

	items := make([]models.OrderItem, 0, len(src.OrderItems))
	for _, it := range src.OrderItems {
		items = append(items, models.OrderItem{
			OrderID:             orderID,
			ElementID:           it.ElementID,
			ItemID:              it.Item.ID,
			Title:               it.Item.Title,
			CategoryID:          it.Item.CategoryID,
			VariationID:         flexString(it.Item.VariationID),
			SellerSKU:           it.Item.SellerSKU,
			Quantity:            it.Quantity,
			UnitPrice:           nullDecimal(it.UnitPrice),
			FullUnitPrice:       nullDecimal(it.FullUnitPrice),
			SaleFee:             nullDecimal(it.SaleFee),
			ListingTypeID:       it.ListingTypeID,
			Condition:           it.Item.Condition,
			Warranty:            it.Item.Warranty,
			VariationAttributes: jsonBlob(it.Item.VariationAttributes),
		})
	}

	payments := make([]models.Payment, 0, len(src.Payments))
	for i, p := range src.Payments {
		payment, err := transformPayment(orderID, p)
		if err != nil {
			return fail(fmt.Errorf("payment %d: %w", i, err))
		}
		payments = append(payments, payment)
	}

	return Record{Order: order, Items: items, Payments: payments}, nil
}

func transformPayment(orderID string, p models.RawPayment) (models.Payment, error) {
	switch {
	case p.ID == nil || p.ID.String() == "":
		return models.Payment{}, missing("id")
	case p.Status == nil:
		return models.Payment{}, missing("status")
	case p.PaymentMethodID == nil:
		return models.Payment{}, missing("payment_method_id")
	case p.PaymentType == nil:
		return models.Payment{}, missing("payment_type")
	case p.OperationType == nil:
		return models.Payment{}, missing("operation_type")
	case p.TransactionAmount == nil:
		return models.Payment{}, missing("transaction_amount")
	case p.TotalPaidAmount == nil:
		return models.Payment{}, missing("total_paid_amount")
	case p.DateCreated == nil:
		return models.Payment{}, missing("date_created")
	}

	created, ok := parseAPITime(*p.DateCreated)
	if !ok {
		return models.Payment{}, fmt.Errorf("unparseable date_created %q", *p.DateCreated)
	}

	payment := models.Payment{
		ID:                        p.ID.String(),
		OrderID:                   orderID,
		PayerID:                   p.PayerID,
		Status:                    *p.Status,
		StatusDetail:              p.StatusDetail,
		PaymentMethodID:           *p.PaymentMethodID,
		PaymentType:               *p.PaymentType,
		OperationType:             *p.OperationType,
		TransactionAmount:         *p.TransactionAmount,
		TotalPaidAmount:           *p.TotalPaidAmount,
		TransactionAmountRefunded: nullDecimal(p.TransactionAmountRefunded),
		DateCreated:               created,
		DateApproved:              parseAPITimePtr(p.DateApproved),
		DateLastModified:          parseAPITimePtr(p.DateLastModified),
		Installments:              p.Installments,
		InstallmentAmount:         nullDecimal(p.InstallmentAmount),
		IssuerID:                  flexString(p.IssuerID),
		Reason:                    p.Reason,
		ShippingCost:              nullDecimal(p.ShippingCost),
		TaxesAmount:               nullDecimal(p.TaxesAmount),
		CouponAmount:              nullDecimal(p.CouponAmount),
	}
	if p.Collector != nil {
		payment.CollectorID = p.Collector.ID
	}
	return payment, nil
}

func missing(field string) error {
	return errors.New("missing required field " + field)
}

// processingHours is closed minus created in fractional hours, or NULL unless
// both timestamps are known.
func processingHours(created, closed *time.Time) decimal.NullDecimal {
	if created == nil || closed == nil {
		return decimal.NullDecimal{}
	}
	hours := closed.Sub(*created).Hours()
	return decimal.NewNullDecimal(decimal.NewFromFloat(hours))
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func flexString(id *models.FlexID) *string {
	if id == nil || *id == "" {
		return nil
	}
	s := id.String()
	return &s
}

func jsonBlob(raw json.RawMessage) datatypes.JSON {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return datatypes.JSON(raw)
}
