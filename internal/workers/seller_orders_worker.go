package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"sellerorders/internal/etl"
	"sellerorders/internal/metrics"
	"sellerorders/models"
)

var runStatuses = []string{
	string(models.StatusRunning),
	string(models.StatusPaused),
	string(models.StatusCompleted),
	string(models.StatusFailed),
	string(models.StatusError),
}

// AuthFunc prepares API credentials before the first fetch.
type AuthFunc func(ctx context.Context) error

type RunParams struct {
	SellerID  int64
	StartDate string
	EndDate   string
}

type RunSummary struct {
	SellerID          int64            `json:"seller_id"`
	Status            models.RunStatus `json:"status"`
	Resumed           bool             `json:"resumed"`
	Batches           int              `json:"batches"`
	OrdersCreated     int              `json:"orders_created"`
	OrdersUpdated     int              `json:"orders_updated"`
	TransformFailures int              `json:"transform_failures"`
	Total             int              `json:"total_processed"`
	Duration          time.Duration    `json:"duration"`
}

func (s RunSummary) OrdersLoaded() int {
	return s.OrdersCreated + s.OrdersUpdated
}

// SellerOrdersWorker runs the fetch, transform and load loop for one seller
// and records how the run ended.
type SellerOrdersWorker struct {
	authenticate AuthFunc
	fetcher      *etl.Fetcher
	loader       *etl.Loader
	state        *etl.StateTracker
	sinks        []etl.Sink
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

func NewSellerOrdersWorker(
	authenticate AuthFunc,
	fetcher *etl.Fetcher,
	loader *etl.Loader,
	state *etl.StateTracker,
	sinks []etl.Sink,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SellerOrdersWorker {
	return &SellerOrdersWorker{
		authenticate: authenticate,
		fetcher:      fetcher,
		loader:       loader,
		state:        state,
		sinks:        sinks,
		metrics:      m,
		logger:       logger.Named("seller_orders"),
	}
}

// Run ends in completed when the fetch finishes, paused when ctx is
// cancelled, error when the fetch loop fails and failed for anything else.
// The terminal state is written even after cancellation.
func (w *SellerOrdersWorker) Run(ctx context.Context, p RunParams) (RunSummary, error) {
	start := time.Now()
	sum := RunSummary{SellerID: p.SellerID, Status: models.StatusRunning}
	sellerLabel := strconv.FormatInt(p.SellerID, 10)
	log := w.logger.With(zap.Int64("seller_id", p.SellerID))

	w.metrics.SetRunStatus(sellerLabel, string(models.StatusRunning), runStatuses)
	log.Info("Starting ETL pipeline",
		zap.String("from", orDefault(p.StartDate, "earliest")),
		zap.String("to", orDefault(p.EndDate, "latest")),
	)

	err := w.authenticate(ctx)
	if err != nil {
		err = fmt.Errorf("failed to initialize API client: %w", err)
	} else {
		var res etl.FetchResult
		res, err = w.fetcher.Fetch(ctx, etl.FetchRequest{
			SellerID:  p.SellerID,
			StartDate: p.StartDate,
			EndDate:   p.EndDate,
		}, func(ctx context.Context, orders []json.RawMessage) error {
			return w.processBatch(ctx, sellerLabel, orders, &sum)
		})
		sum.Total = res.Total
		sum.Resumed = res.Resumed
		sum.Batches = res.Batches
	}

	sum.Status = terminalStatus(ctx, err)
	sum.Duration = time.Since(start)
	w.state.Upsert(context.WithoutCancel(ctx), etl.StateUpdate{
		SellerID: p.SellerID,
		Total:    sum.Total,
		Status:   sum.Status,
	})
	w.metrics.SetRunStatus(sellerLabel, string(sum.Status), runStatuses)

	fields := []zap.Field{
		zap.String("status", string(sum.Status)),
		zap.Int("orders_loaded", sum.OrdersLoaded()),
		zap.Int("total_processed", sum.Total),
		zap.Duration("duration", sum.Duration),
	}
	switch sum.Status {
	case models.StatusCompleted:
		log.Info("Pipeline completed successfully", fields...)
		return sum, nil
	case models.StatusPaused:
		log.Warn("Pipeline interrupted, state saved as paused", fields...)
	default:
		log.Error("Pipeline failed", append(fields, zap.Error(err))...)
	}
	return sum, fmt.Errorf("seller %d run %s: %w", p.SellerID, sum.Status, err)
}

func (w *SellerOrdersWorker) processBatch(ctx context.Context, sellerLabel string, orders []json.RawMessage, sum *RunSummary) error {
	records := make([]etl.Record, 0, len(orders))
	for _, raw := range orders {
		rec, err := etl.Transform(raw)
		if err != nil {
			sum.TransformFailures++
			w.metrics.TransformFailed(sellerLabel)
			w.logger.Error("Failed to transform order", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil
	}

	loaded, err := w.loader.UpsertBatch(ctx, records)
	if err != nil {
		return err
	}

	for _, lo := range loaded {
		if lo.Created {
			sum.OrdersCreated++
			w.metrics.OrderLoaded(sellerLabel, models.EventCreated)
		} else {
			sum.OrdersUpdated++
			w.metrics.OrderLoaded(sellerLabel, models.EventUpdated)
		}
	}

	for _, sink := range w.sinks {
		if err := sink.OrdersLoaded(ctx, loaded); err != nil {
			w.logger.Warn("Sink failed, continuing",
				zap.String("sink", sink.Name()),
				zap.Int("orders", len(loaded)),
				zap.Error(err),
			)
		}
	}

	w.logger.Info("Processed orders",
		zap.Int("batch", len(loaded)),
		zap.Int("loaded", sum.OrdersLoaded()),
	)
	return nil
}

func terminalStatus(ctx context.Context, err error) models.RunStatus {
	switch {
	case err == nil:
		return models.StatusCompleted
	case ctx.Err() != nil:
		return models.StatusPaused
	case errors.Is(err, etl.ErrFetch):
		return models.StatusError
	default:
		return models.StatusFailed
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
