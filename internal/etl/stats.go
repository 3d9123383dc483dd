package etl

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"sellerorders/models"
)

type StateSummary struct {
	Status         models.RunStatus `json:"status"`
	TotalProcessed int              `json:"total_processed"`
	LastRun        *time.Time       `json:"last_run"`
	LastOrderID    *string          `json:"last_order_id"`
}

type DateRange struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
}

// PipelineStats is what the stats mode prints for a seller.
type PipelineStats struct {
	ETLState    *StateSummary  `json:"etl_state,omitempty"`
	OrderCounts map[string]int `json:"order_counts"`
	DateRange   *DateRange     `json:"date_range,omitempty"`
}

// Stats summarises the stored checkpoint and orders of a seller.
func Stats(ctx context.Context, db *gorm.DB, sellerID int64) (PipelineStats, error) {
	db = db.WithContext(ctx)
	stats := PipelineStats{OrderCounts: map[string]int{}}

	var states []models.ETLState
	if err := db.Where("seller_id = ?", sellerID).Order("id").Limit(1).Find(&states).Error; err != nil {
		return stats, fmt.Errorf("failed to read etl state: %w", err)
	}
	if len(states) > 0 {
		st := states[0]
		lastRun := st.LastRunDate
		stats.ETLState = &StateSummary{
			Status:         st.Status,
			TotalProcessed: st.TotalProcessed,
			LastRun:        &lastRun,
			LastOrderID:    st.LastOrderID,
		}
	}

	var counts []struct {
		Status string
		Count  int
	}
	err := db.Model(&models.Order{}).
		Select("status, COUNT(id) AS count").
		Where("seller_id = ?", sellerID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return stats, fmt.Errorf("failed to count orders: %w", err)
	}
	for _, c := range counts {
		stats.OrderCounts[c.Status] = c.Count
	}

	// MIN/MAX come back as text on sqlite, so the bounds are read as rows.
	var earliest, latest []models.Order
	if err := db.Select("date_created").Where("seller_id = ?", sellerID).Order("date_created ASC").Limit(1).Find(&earliest).Error; err != nil {
		return stats, fmt.Errorf("failed to read date range: %w", err)
	}
	if err := db.Select("date_created").Where("seller_id = ?", sellerID).Order("date_created DESC").Limit(1).Find(&latest).Error; err != nil {
		return stats, fmt.Errorf("failed to read date range: %w", err)
	}
	if len(earliest) > 0 && len(latest) > 0 {
		stats.DateRange = &DateRange{Earliest: earliest[0].DateCreated, Latest: latest[0].DateCreated}
	}
	return stats, nil
}
