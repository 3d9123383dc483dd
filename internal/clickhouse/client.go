package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sellerorders/config"
	"sellerorders/internal/etl"
)

// Client mirrors committed orders into ReplacingMergeTree fact tables. The
// newest _version of an order wins at merge time.
type Client struct {
	conn     driver.Conn
	database string
	now      func() time.Time
	logger   *zap.Logger
}

func NewClient(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		DialTimeout:  30 * time.Second,
	}

	// 8443 is the TLS port; the native port 9000 is plain.
	if cfg.Port == 8443 {
		opts.TLS = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Client{
		conn:     conn,
		database: cfg.Database,
		now:      time.Now,
		logger:   logger.Named("clickhouse"),
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Name() string {
	return "clickhouse"
}

// EnsureSchema creates the fact tables when they do not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.Fact_Seller_Order (
			order_id String,
			seller_id Int64,
			date_key String,
			status LowCardinality(String),
			currency_id LowCardinality(String),
			total_amount Decimal(18, 2),
			paid_amount Decimal(18, 2),
			shipping_cost Decimal(18, 2),
			item_count UInt32,
			payment_count UInt32,
			processing_time_hours Nullable(Float64),
			event_type LowCardinality(String),
			_version UInt64,
			_updated_at DateTime
		) ENGINE = ReplacingMergeTree(_version)
		ORDER BY (seller_id, order_id)`, c.database),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.Fact_Seller_Order_Item (
			order_id String,
			line_no UInt32,
			seller_id Int64,
			date_key String,
			item_id String,
			variation_id String,
			seller_sku String,
			quantity Int64,
			unit_price Decimal(18, 2),
			sale_fee Decimal(18, 2),
			revenue Decimal(18, 2),
			_version UInt64,
			_updated_at DateTime
		) ENGINE = ReplacingMergeTree(_version)
		ORDER BY (seller_id, order_id, line_no)`, c.database),
	}
	for _, stmt := range statements {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create ClickHouse table: %w", err)
		}
	}
	return nil
}

// OrdersLoaded appends the batch to both fact tables.
func (c *Client) OrdersLoaded(ctx context.Context, orders []etl.LoadedOrder) error {
	if len(orders) == 0 {
		return nil
	}
	ts := c.now()
	version := uint64(ts.UnixNano()) / 1000

	orderBatch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.Fact_Seller_Order", c.database))
	if err != nil {
		return fmt.Errorf("failed to prepare order batch: %w", err)
	}
	for _, lo := range orders {
		if err := orderBatch.Append(orderRow(lo, version, ts)...); err != nil {
			_ = orderBatch.Abort()
			return fmt.Errorf("failed to append order %s: %w", lo.Order.ID, err)
		}
	}
	if err := orderBatch.Send(); err != nil {
		return fmt.Errorf("failed to insert orders: %w", err)
	}

	itemBatch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.Fact_Seller_Order_Item", c.database))
	if err != nil {
		return fmt.Errorf("failed to prepare item batch: %w", err)
	}
	items := 0
	for _, lo := range orders {
		for _, row := range itemRows(lo, version, ts) {
			if err := itemBatch.Append(row...); err != nil {
				_ = itemBatch.Abort()
				return fmt.Errorf("failed to append items of order %s: %w", lo.Order.ID, err)
			}
			items++
		}
	}
	if items == 0 {
		return itemBatch.Abort()
	}
	if err := itemBatch.Send(); err != nil {
		return fmt.Errorf("failed to insert order items: %w", err)
	}

	c.logger.Debug("Mirrored orders", zap.Int("orders", len(orders)), zap.Int("items", items))
	return nil
}

func dateKey(t time.Time) string {
	return t.Format("02012006") // ddMMyyyy
}

func orderRow(lo etl.LoadedOrder, version uint64, ts time.Time) []any {
	o := lo.Order
	event := "update"
	if lo.Created {
		event = "create"
	}

	var hours *float64
	if o.ProcessingTimeHours.Valid {
		h := o.ProcessingTimeHours.Decimal.InexactFloat64()
		hours = &h
	}

	return []any{
		o.ID,
		o.SellerID,
		dateKey(o.DateCreated),
		o.Status,
		o.CurrencyID,
		o.TotalAmount,
		o.PaidAmount,
		o.ShippingCost.Decimal,
		uint32(len(lo.Items)),
		uint32(len(lo.Payments)),
		hours,
		event,
		version,
		ts,
	}
}

func itemRows(lo etl.LoadedOrder, version uint64, ts time.Time) [][]any {
	rows := make([][]any, 0, len(lo.Items))
	for i, it := range lo.Items {
		var qty int64
		if it.Quantity != nil {
			qty = *it.Quantity
		}
		rows = append(rows, []any{
			lo.Order.ID,
			uint32(i + 1),
			lo.Order.SellerID,
			dateKey(lo.Order.DateCreated),
			deref(it.ItemID),
			deref(it.VariationID),
			deref(it.SellerSKU),
			qty,
			it.UnitPrice.Decimal,
			it.SaleFee.Decimal,
			it.UnitPrice.Decimal.Mul(decimal.NewFromInt(qty)),
			version,
			ts,
		})
	}
	return rows
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
