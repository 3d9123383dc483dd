package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"sellerorders/config"
	"sellerorders/internal/metrics"
	"sellerorders/models"
)

// OrdersAPI returns one page of a seller's orders.
type OrdersAPI interface {
	GetOrders(ctx context.Context, sellerID int64, limit int) ([]json.RawMessage, error)
}

type FetchRequest struct {
	SellerID  int64
	StartDate string // YYYY-MM-DD, inclusive
	EndDate   string // YYYY-MM-DD, inclusive of midnight only
}

// BatchHandler receives each batch of new orders. A returned error stops the fetch.
type BatchHandler func(ctx context.Context, orders []json.RawMessage) error

// FetchResult describes a finished or aborted fetch.
type FetchResult struct {
	// Total counts emitted orders, including those of the run being resumed.
	Total   int
	Resumed bool
	Batches int
}

type Fetcher struct {
	api     OrdersAPI
	db      *gorm.DB
	state   *StateTracker
	cfg     config.ETLConfig
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewFetcher(api OrdersAPI, db *gorm.DB, state *StateTracker, cfg config.ETLConfig, m *metrics.Metrics, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		api:     api,
		db:      db,
		state:   state,
		cfg:     cfg,
		sleep:   sleepContext,
		metrics: m,
		logger:  logger.Named("fetcher"),
	}
}

// orderHeader is the part of an order the fetcher looks at.
type orderHeader struct {
	ID          models.FlexID `json:"id"`
	DateCreated *string       `json:"date_created"`
}

// Fetch pages through the seller's orders until MaxEmptyPages consecutive
// pages bring nothing new. Each id is emitted at most once per run. After
// every handled batch the checkpoint is written as running; a failed page
// fetch writes error and returns an error wrapping ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest, handle BatchHandler) (FetchResult, error) {
	var res FetchResult

	dates, err := newDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return res, err
	}

	seen := make(map[string]struct{})
	if err := f.resume(ctx, req.SellerID, &res, seen); err != nil {
		return res, err
	}

	sellerLabel := strconv.FormatInt(req.SellerID, 10)
	log := f.logger.With(zap.Int64("seller_id", req.SellerID))

	empty := 0
	for page := 0; empty < f.cfg.MaxEmptyPages; page++ {
		if page > 0 {
			if err := f.sleep(ctx, f.cfg.PageDelay); err != nil {
				return res, err
			}
		}

		raw, err := f.api.GetOrders(ctx, req.SellerID, f.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			return res, f.fail(ctx, req.SellerID, res.Total, fmt.Errorf("page %d: %w", page+1, err))
		}

		if len(raw) == 0 {
			empty++
			f.metrics.PageFetched(sellerLabel, "empty")
			log.Info("No orders returned", zap.Int("attempt", empty), zap.Int("max", f.cfg.MaxEmptyPages))
			continue
		}

		fresh := make([]json.RawMessage, 0, len(raw))
		headers := make([]orderHeader, 0, len(raw))
		for i, doc := range raw {
			var h orderHeader
			if err := json.Unmarshal(doc, &h); err != nil || h.ID == "" {
				return res, f.fail(ctx, req.SellerID, res.Total, fmt.Errorf("page %d: order %d has no readable id", page+1, i))
			}
			if _, ok := seen[h.ID.String()]; ok {
				continue
			}
			// ids are marked even when the date filter drops the order
			seen[h.ID.String()] = struct{}{}
			fresh = append(fresh, doc)
			headers = append(headers, h)
		}

		if len(fresh) == 0 {
			empty++
			f.metrics.PageFetched(sellerLabel, "no_new")
			log.Info("No new orders in page", zap.Int("attempt", empty), zap.Int("max", f.cfg.MaxEmptyPages))
			continue
		}
		empty = 0

		batch := make([]json.RawMessage, 0, len(fresh))
		var lastID string
		var lastDate *time.Time
		for i, doc := range fresh {
			if !dates.contains(headers[i].DateCreated) {
				continue
			}
			batch = append(batch, doc)
			lastID = headers[i].ID.String()
			if headers[i].DateCreated != nil {
				if t, ok := parseAPITime(*headers[i].DateCreated); ok && (lastDate == nil || t.After(*lastDate)) {
					lastDate = &t
				}
			}
		}

		if len(batch) == 0 {
			f.metrics.PageFetched(sellerLabel, "filtered")
			log.Info("No orders in the requested date range", zap.Int("new", len(fresh)))
			continue
		}
		f.metrics.PageFetched(sellerLabel, "new")

		if err := handle(ctx, batch); err != nil {
			return res, err
		}
		res.Batches++
		res.Total += len(batch)
		f.metrics.OrdersEmitted(sellerLabel, len(batch))

		f.state.Upsert(ctx, StateUpdate{
			SellerID:          req.SellerID,
			Total:             res.Total,
			Status:            models.StatusRunning,
			LastOrderID:       lastID,
			LastProcessedDate: lastDate,
		})
		log.Info("Fetched new orders", zap.Int("orders", len(batch)), zap.Int("total", res.Total))
	}

	log.Info("Finished fetching orders, no more new orders found", zap.Int("total", res.Total))
	return res, nil
}

// resume seeds the total and the seen set when the last run was paused.
func (f *Fetcher) resume(ctx context.Context, sellerID int64, res *FetchResult, seen map[string]struct{}) error {
	st, err := f.state.Load(ctx, sellerID)
	if err != nil {
		f.logger.Warn("Could not read ETL state, starting fresh", zap.Int64("seller_id", sellerID), zap.Error(err))
		return nil
	}
	if st == nil || st.Status != models.StatusPaused {
		return nil
	}

	var ids []string
	if err := f.db.WithContext(ctx).Model(&models.Order{}).Where("seller_id = ?", sellerID).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("%w: load known order ids: %w", ErrFetch, err)
	}
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	res.Total = st.TotalProcessed
	res.Resumed = true

	f.logger.Info("Resuming paused run",
		zap.Int64("seller_id", sellerID),
		zap.Int("total_processed", res.Total),
		zap.Int("known_orders", len(ids)),
	)
	return nil
}

func (f *Fetcher) fail(ctx context.Context, sellerID int64, total int, err error) error {
	f.metrics.PageFetched(strconv.FormatInt(sellerID, 10), "error")
	f.logger.Error("Error fetching orders", zap.Int64("seller_id", sellerID), zap.Error(err))
	f.state.Upsert(context.WithoutCancel(ctx), StateUpdate{
		SellerID: sellerID,
		Total:    total,
		Status:   models.StatusError,
	})
	return fmt.Errorf("%w: seller %d: %w", ErrFetch, sellerID, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
