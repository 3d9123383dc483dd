package etl

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioOrder = `{
	"id": "A1",
	"seller": {"id": 354140329, "nickname": "STORE"},
	"buyer": {"id": 987, "nickname": "BUYER"},
	"status": "paid",
	"status_detail": null,
	"date_created": "2024-01-01T00:00:00Z",
	"date_closed": "2024-01-01T03:30:00Z",
	"total_amount": "99.90",
	"paid_amount": 99.90,
	"currency_id": "BRL",
	"shipping_cost": null,
	"pack_id": 2000004567890123,
	"fulfilled": true,
	"tags": ["paid", "not_delivered"],
	"feedback": {"buyer": null, "seller": null},
	"context": null,
	"order_items": [{
		"item": {
			"id": "MLB123",
			"title": "Conjunto",
			"category_id": "MLB1234",
			"variation_id": 175000000001,
			"seller_sku": "SKU-1",
			"condition": "new",
			"warranty": null,
			"variation_attributes": [{"name": "Cor", "value_name": "Preto"}]
		},
		"quantity": 2,
		"unit_price": 49.95,
		"full_unit_price": 59.9,
		"sale_fee": 6.5,
		"listing_type_id": "gold_special"
	}],
	"payments": [{
		"id": 71000000001,
		"payer_id": 987,
		"collector": {"id": 354140329},
		"status": "approved",
		"payment_method_id": "pix",
		"payment_type": "bank_transfer",
		"operation_type": "regular_payment",
		"transaction_amount": 99.9,
		"total_paid_amount": 99.9,
		"transaction_amount_refunded": 0,
		"date_created": "2024-01-01T00:00:05.000-04:00",
		"date_approved": "2024-01-01T00:00:06.000-04:00",
		"installments": 1,
		"issuer_id": "12501",
		"taxes_amount": 0
	}]
}`

func TestTransform_Scenario(t *testing.T) {
	rec, err := Transform(json.RawMessage(scenarioOrder))
	require.NoError(t, err)

	o := rec.Order
	assert.Equal(t, "A1", o.ID)
	assert.Equal(t, int64(354140329), o.SellerID)
	require.NotNil(t, o.BuyerID)
	assert.Equal(t, int64(987), *o.BuyerID)
	assert.Equal(t, "paid", o.Status)
	assert.Nil(t, o.StatusDetail)
	assert.True(t, decimal.RequireFromString("99.90").Equal(o.TotalAmount))
	assert.True(t, decimal.RequireFromString("99.9").Equal(o.PaidAmount))
	assert.False(t, o.ShippingCost.Valid)
	require.True(t, o.ProcessingTimeHours.Valid)
	assert.True(t, decimal.RequireFromString("3.5").Equal(o.ProcessingTimeHours.Decimal), o.ProcessingTimeHours.Decimal.String())
	require.NotNil(t, o.PackID)
	assert.Equal(t, "2000004567890123", *o.PackID)
	assert.JSONEq(t, `["paid","not_delivered"]`, string(o.Tags))
	assert.JSONEq(t, `{"buyer":null,"seller":null}`, string(o.FeedbackData))
	assert.Nil(t, o.ContextData)

	require.Len(t, rec.Items, 1)
	item := rec.Items[0]
	assert.Equal(t, "A1", item.OrderID)
	assert.Equal(t, "MLB123", *item.ItemID)
	assert.Equal(t, "175000000001", *item.VariationID)
	assert.Equal(t, "SKU-1", *item.SellerSKU)
	assert.Equal(t, int64(2), *item.Quantity)
	assert.True(t, decimal.RequireFromString("49.95").Equal(item.UnitPrice.Decimal))
	assert.Nil(t, item.Warranty)
	assert.Nil(t, item.ElementID)
	assert.JSONEq(t, `[{"name":"Cor","value_name":"Preto"}]`, string(item.VariationAttributes))

	require.Len(t, rec.Payments, 1)
	p := rec.Payments[0]
	assert.Equal(t, "71000000001", p.ID)
	assert.Equal(t, "A1", p.OrderID)
	require.NotNil(t, p.CollectorID)
	assert.Equal(t, int64(354140329), *p.CollectorID)
	assert.Equal(t, "12501", *p.IssuerID)
	assert.True(t, p.TransactionAmountRefunded.Valid)
	assert.False(t, p.CouponAmount.Valid)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC), p.DateCreated)
	require.NotNil(t, p.DateApproved)
	assert.Nil(t, p.DateLastModified)
}

func TestTransform_ProcessingTime(t *testing.T) {
	tests := []struct {
		name    string
		created string
		closed  string
		want    string // empty means NULL
	}{
		{"utc", `"2024-01-01T00:00:00Z"`, `"2024-01-01T03:30:00Z"`, "3.5"},
		{"stripped offsets", `"2024-01-01T10:00:00.000-04:00"`, `"2024-01-02T10:15:00.000-04:00"`, "24.25"},
		{"kept offsets", `"2024-01-01T10:00:00+02:00"`, `"2024-01-01T10:00:00Z"`, "2"},
		{"not closed", `"2024-01-01T00:00:00Z"`, `null`, ""},
		{"closed malformed", `"2024-01-01T00:00:00Z"`, `"yesterday"`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := `{"id":1,"seller":{"id":2},"status":"paid","total_amount":1,"paid_amount":1,"currency_id":"BRL",` +
				`"date_created":` + tt.created + `,"date_closed":` + tt.closed + `}`
			rec, err := Transform(json.RawMessage(doc))
			require.NoError(t, err)

			got := rec.Order.ProcessingTimeHours
			if tt.want == "" {
				assert.False(t, got.Valid)
				return
			}
			require.True(t, got.Valid)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got.Decimal), got.Decimal.String())
		})
	}
}

func TestTransform_OptionalFieldsMayBeAbsent(t *testing.T) {
	rec, err := Transform(json.RawMessage(
		`{"id":5,"seller":{"id":2},"status":"cancelled","date_created":"2024-03-01T12:00:00.000-03:00",` +
			`"total_amount":10,"paid_amount":0,"currency_id":"BRL"}`))
	require.NoError(t, err)

	assert.Equal(t, "5", rec.Order.ID)
	assert.Nil(t, rec.Order.BuyerID)
	assert.Nil(t, rec.Order.BuyerNickname)
	assert.Nil(t, rec.Order.DateClosed)
	assert.Nil(t, rec.Order.Tags)
	assert.Nil(t, rec.Order.PackID)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), rec.Order.DateCreated)
	assert.Empty(t, rec.Items)
	assert.Empty(t, rec.Payments)
}

func TestTransform_RequiredFields(t *testing.T) {
	base := map[string]any{
		"id":           "A1",
		"seller":       map[string]any{"id": 2},
		"status":       "paid",
		"date_created": "2024-01-01T00:00:00Z",
		"total_amount": 1,
		"paid_amount":  1,
		"currency_id":  "BRL",
	}

	for _, field := range []string{"id", "seller", "status", "date_created", "total_amount", "paid_amount", "currency_id"} {
		t.Run(field, func(t *testing.T) {
			doc := make(map[string]any, len(base))
			for k, v := range base {
				if k != field {
					doc[k] = v
				}
			}
			raw, err := json.Marshal(doc)
			require.NoError(t, err)

			_, err = Transform(raw)
			var terr *TransformationError
			require.True(t, errors.As(err, &terr), "got %v", err)
			assert.Contains(t, terr.Error(), "missing required field")
		})
	}
}

func TestTransform_PaymentRequiredFields(t *testing.T) {
	_, err := Transform(json.RawMessage(
		`{"id":"A9","seller":{"id":2},"status":"paid","date_created":"2024-01-01T00:00:00Z",` +
			`"total_amount":1,"paid_amount":1,"currency_id":"BRL",` +
			`"payments":[{"id":1,"status":"approved","payment_type":"pix"}]}`))

	var terr *TransformationError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "A9", terr.OrderID)
	assert.Contains(t, err.Error(), "payment 0: missing required field payment_method_id")
}

func TestTransform_InvalidDocument(t *testing.T) {
	_, err := Transform(json.RawMessage(`{"id": [1,2]}`))
	var terr *TransformationError
	require.True(t, errors.As(err, &terr))
	assert.Empty(t, terr.OrderID)
}

func TestParseAPITime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-05-01T10:20:30.000-04:00", time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC), true},
		{"2024-05-01T10:20:30-03:00", time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC), true},
		{"2024-05-01T10:20:30Z", time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC), true},
		{"2024-05-01T10:20:30", time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC), true},
		{"2024-05-01T10:20:30+05:00", time.Date(2024, 5, 1, 5, 20, 30, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"01/05/2024", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseAPITime(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestDateRange(t *testing.T) {
	r, err := newDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)

	ptr := func(s string) *string { return &s }
	assert.True(t, r.contains(ptr("2024-01-01T00:00:00.000-04:00")))
	assert.True(t, r.contains(ptr("2024-01-31T00:00:00Z")))
	assert.False(t, r.contains(ptr("2024-01-31T00:00:01Z")))
	assert.False(t, r.contains(ptr("2023-12-31T23:59:59-03:00")))
	// wall clock is compared, not the instant
	assert.True(t, r.contains(ptr("2024-01-01T01:00:00+05:00")))
	assert.False(t, r.contains(nil))
	assert.False(t, r.contains(ptr("not a date")))

	open, err := newDateRange("", "")
	require.NoError(t, err)
	assert.True(t, open.contains(nil))

	_, err = newDateRange("", "31-01-2024")
	assert.ErrorContains(t, err, "invalid end date")
}
