package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"sellerorders/config"
	"sellerorders/internal/clickhouse"
	"sellerorders/internal/database"
	"sellerorders/internal/etl"
	"sellerorders/internal/mercadolibre"
	"sellerorders/internal/metrics"
	"sellerorders/internal/rabbitmq"
	"sellerorders/internal/workers"
	"sellerorders/pkg/logger"
)

type options struct {
	sellerID  int64
	startDate string
	endDate   string
	batchSize int
	dbPath    string
	stats     bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := pflag.NewFlagSet("seller-orders", pflag.ContinueOnError)
	fs.Int64Var(&o.sellerID, "seller", 0, "seller id to extract (required)")
	fs.StringVar(&o.startDate, "start-date", "", "first order date to load, YYYY-MM-DD")
	fs.StringVar(&o.endDate, "end-date", "", "last order date to load, YYYY-MM-DD")
	fs.IntVar(&o.batchSize, "batch-size", 0, "orders requested per page (overrides ETL_BATCH_SIZE)")
	fs.StringVar(&o.dbPath, "db-path", "", "sqlite database file (overrides DB_PATH)")
	fs.BoolVar(&o.stats, "stats", false, "print pipeline statistics and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.sellerID <= 0 {
		return o, errors.New("--seller is required")
	}
	return o, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	applyOverrides(cfg, opts)

	log := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewClient(cfg.Database, log, cfg.Log.Level)
	if err != nil {
		log.Error("Failed to open database", zap.Error(err))
		return 1
	}
	defer db.Close()

	if opts.stats {
		stats, err := etl.Stats(ctx, db.DB(), opts.sellerID)
		if err != nil {
			log.Error("Failed to read pipeline stats", zap.Error(err))
			return 1
		}
		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(out))
		return 0
	}

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	apiClient, err := mercadolibre.NewClient(cfg.API,
		mercadolibre.WithLogger(log),
		mercadolibre.WithMetrics(m),
	)
	if err != nil {
		log.Error("Failed to create API client", zap.Error(err))
		return 1
	}
	tokens := mercadolibre.NewTokenStore(cfg.Token, apiClient, log)
	auth := func(ctx context.Context) error {
		return apiClient.Authenticate(ctx, tokens)
	}

	sinks, closeSinks := connectSinks(ctx, cfg, log)
	defer closeSinks()

	state := etl.NewStateTracker(db.DB(), m, log)
	fetcher := etl.NewFetcher(apiClient, db.DB(), state, cfg.ETL, m, log)
	loader := etl.NewLoader(db.DB(), cfg.ETL.FailedDumpDir, m, log)
	worker := workers.NewSellerOrdersWorker(auth, fetcher, loader, state, sinks, m, log)

	sum, err := worker.Run(ctx, workers.RunParams{
		SellerID:  opts.sellerID,
		StartDate: opts.startDate,
		EndDate:   opts.endDate,
	})
	if err != nil {
		return 1
	}
	log.Info("Run summary",
		zap.Int("orders_created", sum.OrdersCreated),
		zap.Int("orders_updated", sum.OrdersUpdated),
		zap.Int("transform_failures", sum.TransformFailures),
		zap.Bool("resumed", sum.Resumed),
	)
	return 0
}

func applyOverrides(cfg *config.Config, o options) {
	if o.batchSize > 0 {
		cfg.ETL.BatchSize = o.batchSize
	}
	if o.dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = o.dbPath
	}
}

// connectSinks opens the optional downstream mirrors. A sink that cannot be
// reached is skipped.
func connectSinks(ctx context.Context, cfg *config.Config, log *zap.Logger) ([]etl.Sink, func()) {
	var (
		sinks   []etl.Sink
		closers []func()
	)

	if cfg.RabbitMQ.URL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitMQ, log)
		if err != nil {
			log.Warn("RabbitMQ unavailable, events disabled", zap.Error(err))
		} else {
			sinks = append(sinks, pub)
			closers = append(closers, pub.Close)
		}
	}

	if cfg.ClickHouse.Host != "" {
		ch, err := clickhouse.NewClient(ctx, cfg.ClickHouse, log)
		if err == nil {
			err = ch.EnsureSchema(ctx)
			if err != nil {
				_ = ch.Close()
			}
		}
		if err != nil {
			log.Warn("ClickHouse unavailable, mirror disabled", zap.Error(err))
		} else {
			sinks = append(sinks, ch)
			closers = append(closers, func() { _ = ch.Close() })
		}
	}

	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}
