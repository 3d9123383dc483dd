package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"sellerorders/internal/metrics"
	"sellerorders/models"
)

// LoadedOrder is a committed record; Created is false when an existing order
// was overwritten.
type LoadedOrder struct {
	Record
	Created bool
}

// Loader upserts transformed orders. Each batch commits in one transaction.
type Loader struct {
	db      *gorm.DB
	dumpDir string
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewLoader(db *gorm.DB, dumpDir string, m *metrics.Metrics, logger *zap.Logger) *Loader {
	return &Loader{
		db:      db,
		dumpDir: dumpDir,
		now:     time.Now,
		metrics: m,
		logger:  logger.Named("loader"),
	}
}

// UpsertBatch writes every record: a new order is inserted, an existing one is
// overwritten field by field and loses its items and payments; the record's
// items and payments are then inserted. On failure nothing is committed, the
// batch is dumped to failed_orders_<unix>.json and a *PersistenceError is returned.
func (l *Loader) UpsertBatch(ctx context.Context, records []Record) ([]LoadedOrder, error) {
	if len(records) == 0 {
		return nil, nil
	}
	start := time.Now()

	loaded := make([]LoadedOrder, 0, len(records))
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			created, err := upsertRecord(tx, rec)
			if err != nil {
				return fmt.Errorf("order %s: %w", rec.Order.ID, err)
			}
			loaded = append(loaded, LoadedOrder{Record: rec, Created: created})
		}
		return nil
	})
	l.metrics.ObserveBatchLoad(time.Since(start))

	if err != nil {
		l.logger.Error("Database error during batch load", zap.Int("orders", len(records)), zap.Error(err))
		path, dumpErr := l.dump(records)
		if dumpErr != nil {
			l.logger.Error("Failed to save failed batch", zap.Error(dumpErr))
			return nil, &PersistenceError{Err: errors.Join(err, dumpErr)}
		}
		l.logger.Error("Failed batch saved", zap.String("path", path))
		return nil, &PersistenceError{DumpPath: path, Err: err}
	}

	l.logger.Info("Batch loaded", zap.Int("orders", len(loaded)))
	return loaded, nil
}

func upsertRecord(tx *gorm.DB, rec Record) (bool, error) {
	var existing models.Order
	err := tx.Select("id").Where("id = ?", rec.Order.ID).Take(&existing).Error
	created := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !created {
		return false, err
	}

	order := rec.Order
	if created {
		if err := tx.Create(&order).Error; err != nil {
			return false, err
		}
	} else {
		// Save writes every column, NULLs included.
		if err := tx.Save(&order).Error; err != nil {
			return false, err
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderItem{}).Error; err != nil {
			return false, err
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&models.Payment{}).Error; err != nil {
			return false, err
		}
	}

	if len(rec.Items) > 0 {
		items := make([]models.OrderItem, len(rec.Items))
		copy(items, rec.Items)
		for i := range items {
			items[i].ID = 0
			items[i].OrderID = order.ID
		}
		if err := tx.Create(&items).Error; err != nil {
			return false, err
		}
	}
	if len(rec.Payments) > 0 {
		payments := make([]models.Payment, len(rec.Payments))
		copy(payments, rec.Payments)
		for i := range payments {
			payments[i].OrderID = order.ID
		}
		if err := tx.Create(&payments).Error; err != nil {
			return false, err
		}
	}
	return created, nil
}

func (l *Loader) dump(records []Record) (string, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.dumpDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(l.dumpDir, fmt.Sprintf("failed_orders_%d.json", l.now().Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
