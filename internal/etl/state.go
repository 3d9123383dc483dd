package etl

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"sellerorders/internal/metrics"
	"sellerorders/models"
)

// StateUpdate is one checkpoint write for a seller.
type StateUpdate struct {
	SellerID          int64
	Total             int
	Status            models.RunStatus
	LastOrderID       string
	LastProcessedDate *time.Time
}

// StateTracker persists the per-seller ETL checkpoint. Writes are
// best-effort: failures are logged and counted, never returned.
type StateTracker struct {
	db      *gorm.DB
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewStateTracker(db *gorm.DB, m *metrics.Metrics, logger *zap.Logger) *StateTracker {
	return &StateTracker{
		db:      db,
		now:     time.Now,
		metrics: m,
		logger:  logger.Named("etl_state"),
	}
}

// Load returns the seller's state row, or nil when none exists yet.
func (s *StateTracker) Load(ctx context.Context, sellerID int64) (*models.ETLState, error) {
	var st models.ETLState
	err := s.db.WithContext(ctx).Where("seller_id = ?", sellerID).Order("id").First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Upsert loads or creates the seller's row and overwrites its mutable fields.
// last_offset is always written as 0. An empty LastOrderID keeps the stored one.
func (s *StateTracker) Upsert(ctx context.Context, u StateUpdate) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var st models.ETLState
		err := tx.Where("seller_id = ?", u.SellerID).Order("id").First(&st).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			st = models.ETLState{SellerID: u.SellerID}
		} else if err != nil {
			return err
		}

		st.LastOffset = 0
		st.TotalProcessed = u.Total
		st.LastRunDate = s.now().UTC()
		st.Status = u.Status
		if u.LastOrderID != "" {
			id := u.LastOrderID
			st.LastOrderID = &id
		}
		if u.LastProcessedDate != nil {
			d := *u.LastProcessedDate
			st.LastProcessedDate = &d
		}
		return tx.Save(&st).Error
	})
	if err != nil {
		s.metrics.StateWriteFailed()
		s.logger.Error("Failed to update ETL state",
			zap.Int64("seller_id", u.SellerID),
			zap.String("status", string(u.Status)),
			zap.Error(err),
		)
	}
}
