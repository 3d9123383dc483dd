package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sellerorders/config"
	"sellerorders/internal/database"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	c, err := database.NewClient(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "orders.db"),
	}, zap.NewNop(), "error")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c.DB()
}

// fakeOrdersAPI serves pages in order and empty pages once they run out.
type fakeOrdersAPI struct {
	pages  [][]json.RawMessage
	repeat bool // keep serving the last page instead of empty ones
	failAt int  // 1-based call that fails; 0 never
	err    error
	calls  int
	limits []int
}

func (f *fakeOrdersAPI) GetOrders(_ context.Context, _ int64, limit int) ([]json.RawMessage, error) {
	f.calls++
	f.limits = append(f.limits, limit)
	if f.failAt > 0 && f.calls >= f.failAt {
		return nil, f.err
	}
	if f.calls <= len(f.pages) {
		return f.pages[f.calls-1], nil
	}
	if f.repeat && len(f.pages) > 0 {
		return f.pages[len(f.pages)-1], nil
	}
	return nil, nil
}

func page(docs ...json.RawMessage) []json.RawMessage {
	return docs
}

// rawOrder builds a complete order document with one item and one payment.
func rawOrder(id any, dateCreated string) json.RawMessage {
	doc := map[string]any{
		"id":                id,
		"seller":            map[string]any{"id": 354140329},
		"buyer":             map[string]any{"id": 11, "nickname": "BUYER11"},
		"status":            "paid",
		"date_created":      dateCreated,
		"date_closed":       nil,
		"total_amount":      "99.90",
		"paid_amount":       99.9,
		"currency_id":       "BRL",
		"tags":              []string{"paid", "delivered"},
		"order_items": []map[string]any{{
			"item":       map[string]any{"id": "MLB1", "title": "Body", "variation_id": 1234},
			"quantity":   1,
			"unit_price": 99.9,
		}},
		"payments": []map[string]any{{
			"id":                 fmt.Sprintf("p-%v", id),
			"collector":          map[string]any{"id": 354140329},
			"status":             "approved",
			"payment_method_id":  "pix",
			"payment_type":       "bank_transfer",
			"operation_type":     "regular_payment",
			"transaction_amount": 99.9,
			"total_paid_amount":  99.9,
			"date_created":       dateCreated,
		}},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

func idsOf(t *testing.T, docs []json.RawMessage) []string {
	t.Helper()
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		var h orderHeader
		require.NoError(t, json.Unmarshal(d, &h))
		out = append(out, h.ID.String())
	}
	return out
}
