package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "seller_orders"

// Metrics holds the collectors of one pipeline process. All methods are safe
// to call on a nil *Metrics, which disables instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	APIRequestsTotal     *prometheus.CounterVec
	APIRetriesTotal      *prometheus.CounterVec
	PagesFetchedTotal    *prometheus.CounterVec
	OrdersEmittedTotal   *prometheus.CounterVec
	OrdersLoadedTotal    *prometheus.CounterVec
	TransformErrorsTotal *prometheus.CounterVec
	StateWriteErrors     prometheus.Counter
	BatchLoadDuration    prometheus.Histogram
	RunStatus            *prometheus.GaugeVec
}

// New registers the pipeline collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Marketplace API calls by resource and outcome.",
			},
			[]string{"resource", "outcome"},
		),
		APIRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_retries_total",
				Help:      "Marketplace API retries by reason.",
			},
			[]string{"reason"},
		),
		PagesFetchedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pages_fetched_total",
				Help:      "Order pages fetched, split by whether they contained new orders.",
			},
			[]string{"seller_id", "result"},
		),
		OrdersEmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_emitted_total",
				Help:      "New orders handed from the fetcher to the load stage.",
			},
			[]string{"seller_id"},
		),
		OrdersLoadedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_loaded_total",
				Help:      "Orders committed to the relational store.",
			},
			[]string{"seller_id", "event"},
		),
		TransformErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transform_errors_total",
				Help:      "Orders skipped because they could not be transformed.",
			},
			[]string{"seller_id"},
		),
		StateWriteErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_write_errors_total",
				Help:      "ETL state writes that failed and were skipped.",
			},
		),
		BatchLoadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_load_duration_seconds",
				Help:      "Time spent committing one order batch.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
			},
		),
		RunStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_status",
				Help:      "1 for the current run status of a seller, 0 for the others.",
			},
			[]string{"seller_id", "status"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) APIRequest(resource, outcome string) {
	if m == nil {
		return
	}
	m.APIRequestsTotal.WithLabelValues(resource, outcome).Inc()
}

func (m *Metrics) APIRetry(reason string) {
	if m == nil {
		return
	}
	m.APIRetriesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) PageFetched(sellerID, result string) {
	if m == nil {
		return
	}
	m.PagesFetchedTotal.WithLabelValues(sellerID, result).Inc()
}

func (m *Metrics) OrdersEmitted(sellerID string, n int) {
	if m == nil {
		return
	}
	m.OrdersEmittedTotal.WithLabelValues(sellerID).Add(float64(n))
}

func (m *Metrics) OrderLoaded(sellerID, event string) {
	if m == nil {
		return
	}
	m.OrdersLoadedTotal.WithLabelValues(sellerID, event).Inc()
}

func (m *Metrics) TransformFailed(sellerID string) {
	if m == nil {
		return
	}
	m.TransformErrorsTotal.WithLabelValues(sellerID).Inc()
}

func (m *Metrics) StateWriteFailed() {
	if m == nil {
		return
	}
	m.StateWriteErrors.Inc()
}

func (m *Metrics) ObserveBatchLoad(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchLoadDuration.Observe(d.Seconds())
}

// SetRunStatus marks status as the only active status of the seller.
func (m *Metrics) SetRunStatus(sellerID string, status string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		m.RunStatus.WithLabelValues(sellerID, s).Set(v)
	}
}

// Serve exposes the registry on addr under /metrics until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
