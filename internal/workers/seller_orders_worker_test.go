package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sellerorders/config"
	"sellerorders/internal/database"
	"sellerorders/internal/etl"
	"sellerorders/internal/metrics"
	"sellerorders/models"
)

const seller int64 = 354140329

type pagedAPI struct {
	pages  [][]json.RawMessage
	failAt int
	calls  int
}

func (a *pagedAPI) GetOrders(context.Context, int64, int) ([]json.RawMessage, error) {
	a.calls++
	if a.failAt > 0 && a.calls >= a.failAt {
		return nil, errors.New("GET /orders/search: server error")
	}
	if a.calls <= len(a.pages) {
		return a.pages[a.calls-1], nil
	}
	return nil, nil
}

type recordingSink struct {
	loaded []etl.LoadedOrder
	err    error
	onLoad func()
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) OrdersLoaded(_ context.Context, orders []etl.LoadedOrder) error {
	s.loaded = append(s.loaded, orders...)
	if s.onLoad != nil {
		s.onLoad()
	}
	return s.err
}

type harness struct {
	db      *gorm.DB
	state   *etl.StateTracker
	metrics *metrics.Metrics
	dumpDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c, err := database.NewClient(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "orders.db"),
	}, zap.NewNop(), "error")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	m := metrics.New()
	return &harness{
		db:      c.DB(),
		state:   etl.NewStateTracker(c.DB(), m, zap.NewNop()),
		metrics: m,
		dumpDir: t.TempDir(),
	}
}

func (h *harness) worker(api etl.OrdersAPI, auth AuthFunc, sinks ...etl.Sink) *SellerOrdersWorker {
	cfg := config.ETLConfig{BatchSize: 100, MaxEmptyPages: 3, FailedDumpDir: h.dumpDir}
	fetcher := etl.NewFetcher(api, h.db, h.state, cfg, h.metrics, zap.NewNop())
	loader := etl.NewLoader(h.db, cfg.FailedDumpDir, h.metrics, zap.NewNop())
	if auth == nil {
		auth = func(context.Context) error { return nil }
	}
	return NewSellerOrdersWorker(auth, fetcher, loader, h.state, sinks, h.metrics, zap.NewNop())
}

func (h *harness) loadState(t *testing.T) *models.ETLState {
	t.Helper()
	st, err := h.state.Load(context.Background(), seller)
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func order(id string, paymentID string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"id": %q,
		"seller": {"id": %d},
		"status": "paid",
		"date_created": "2024-01-01T10:00:00.000-04:00",
		"date_closed": "2024-01-01T12:00:00.000-04:00",
		"total_amount": 50,
		"paid_amount": 50,
		"currency_id": "BRL",
		"order_items": [{"item": {"id": "MLB1", "title": "Top"}, "quantity": 1, "unit_price": 50}],
		"payments": [{
			"id": %q, "status": "approved", "payment_method_id": "pix", "payment_type": "bank_transfer",
			"operation_type": "regular_payment", "transaction_amount": 50, "total_paid_amount": 50,
			"date_created": "2024-01-01T10:00:05.000-04:00"
		}]
	}`, id, seller, paymentID))
}

func TestRun_Completed(t *testing.T) {
	h := newHarness(t)
	sink := &recordingSink{}
	api := &pagedAPI{pages: [][]json.RawMessage{{order("A1", "P1"), order("A2", "P2")}, {order("A1", "P1")}}}

	sum, err := h.worker(api, nil, sink).Run(context.Background(), RunParams{SellerID: seller})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, sum.Status)
	assert.Equal(t, 2, sum.OrdersCreated)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Batches)
	assert.Len(t, sink.loaded, 2)

	st := h.loadState(t)
	assert.Equal(t, models.StatusCompleted, st.Status)
	assert.Equal(t, 2, st.TotalProcessed)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RunStatus.WithLabelValues("354140329", "completed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.RunStatus.WithLabelValues("354140329", "running")))
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.OrdersLoadedTotal.WithLabelValues("354140329", "created")))
}

func TestRun_SkipsOrdersThatFailToTransform(t *testing.T) {
	h := newHarness(t)
	broken := json.RawMessage(`{"id": "BAD", "seller": {"id": 354140329}, "status": "paid"}`)
	api := &pagedAPI{pages: [][]json.RawMessage{{broken, order("A1", "P1")}}}

	sum, err := h.worker(api, nil).Run(context.Background(), RunParams{SellerID: seller})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.TransformFailures)
	assert.Equal(t, 1, sum.OrdersLoaded())

	var count int64
	require.NoError(t, h.db.Model(&models.Order{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRun_ReloadCountsUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.worker(&pagedAPI{pages: [][]json.RawMessage{{order("A1", "P1")}}}, nil).Run(ctx, RunParams{SellerID: seller})
	require.NoError(t, err)

	sum, err := h.worker(&pagedAPI{pages: [][]json.RawMessage{{order("A1", "P9")}}}, nil).Run(ctx, RunParams{SellerID: seller})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OrdersUpdated)

	var payments []models.Payment
	require.NoError(t, h.db.Find(&payments).Error)
	require.Len(t, payments, 1)
	assert.Equal(t, "P9", payments[0].ID)
}

func TestRun_FetchFailureEndsInError(t *testing.T) {
	h := newHarness(t)
	api := &pagedAPI{pages: [][]json.RawMessage{{order("A1", "P1")}}, failAt: 2}

	sum, err := h.worker(api, nil).Run(context.Background(), RunParams{SellerID: seller})
	require.Error(t, err)
	assert.ErrorIs(t, err, etl.ErrFetch)

	assert.Equal(t, models.StatusError, sum.Status)
	st := h.loadState(t)
	assert.Equal(t, models.StatusError, st.Status)
	assert.Equal(t, 1, st.TotalProcessed)
}

func TestRun_LoadFailureEndsInFailed(t *testing.T) {
	h := newHarness(t)
	// both orders carry payment P1
	api := &pagedAPI{pages: [][]json.RawMessage{{order("A1", "P1"), order("A2", "P1")}}}

	sum, err := h.worker(api, nil).Run(context.Background(), RunParams{SellerID: seller})
	require.Error(t, err)

	var perr *etl.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.NotErrorIs(t, err, etl.ErrFetch)
	assert.Equal(t, models.StatusFailed, sum.Status)
	assert.Equal(t, models.StatusFailed, h.loadState(t).Status)

	_, statErr := os.Stat(perr.DumpPath)
	assert.NoError(t, statErr)
	assert.Equal(t, h.dumpDir, filepath.Dir(perr.DumpPath))
}

func TestRun_AuthenticationFailure(t *testing.T) {
	h := newHarness(t)
	api := &pagedAPI{}

	sum, err := h.worker(api, func(context.Context) error { return errors.New("token file unreadable") }).
		Run(context.Background(), RunParams{SellerID: seller})
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to initialize API client")

	assert.Equal(t, models.StatusFailed, sum.Status)
	assert.Zero(t, api.calls)
	assert.Equal(t, models.StatusFailed, h.loadState(t).Status)
}

func TestRun_SinkErrorsDoNotFailTheRun(t *testing.T) {
	h := newHarness(t)
	sink := &recordingSink{err: errors.New("broker unavailable")}
	api := &pagedAPI{pages: [][]json.RawMessage{{order("A1", "P1")}}}

	sum, err := h.worker(api, nil, sink).Run(context.Background(), RunParams{SellerID: seller})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, sum.Status)
	assert.Len(t, sink.loaded, 1)
}

func TestRun_InterruptPausesAndResumes(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recordingSink{onLoad: cancel}
	first := &pagedAPI{pages: [][]json.RawMessage{{order("A1", "P1")}, {order("A2", "P2")}}}

	sum, err := h.worker(first, nil, sink).Run(ctx, RunParams{SellerID: seller})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.StatusPaused, sum.Status)

	st := h.loadState(t)
	assert.Equal(t, models.StatusPaused, st.Status)
	assert.Equal(t, 1, st.TotalProcessed)

	// the next run skips A1 and continues the count
	second := &pagedAPI{pages: [][]json.RawMessage{{order("A1", "P1"), order("A2", "P2")}}}
	resumeSink := &recordingSink{}
	sum, err = h.worker(second, nil, resumeSink).Run(context.Background(), RunParams{SellerID: seller})
	require.NoError(t, err)

	assert.True(t, sum.Resumed)
	assert.Equal(t, 2, sum.Total)
	require.Len(t, resumeSink.loaded, 1)
	assert.Equal(t, "A2", resumeSink.loaded[0].Order.ID)
	assert.Equal(t, models.StatusCompleted, h.loadState(t).Status)
}

func TestTerminalStatus(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, models.StatusCompleted, terminalStatus(context.Background(), nil))
	assert.Equal(t, models.StatusPaused, terminalStatus(cancelled, context.Canceled))
	assert.Equal(t, models.StatusError, terminalStatus(context.Background(), fmt.Errorf("%w: boom", etl.ErrFetch)))
	assert.Equal(t, models.StatusFailed, terminalStatus(context.Background(), errors.New("boom")))
}
