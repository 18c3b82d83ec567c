package processor

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

// Compile-time check to ensure GormSink implements RecordStore
var _ RecordStore = (*GormSink)(nil)

// GormSink writes folded bars to the price_records table.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

// Migrate creates the price_records table if missing. The processor owns the
// schema; streamers only read it.
func (s *GormSink) Migrate() error {
	if err := s.db.AutoMigrate(&models.PriceRecord{}); err != nil {
		return fmt.Errorf("migrating price_records: %w", err)
	}
	return nil
}

func (s *GormSink) SaveRecords(ctx context.Context, records []models.PriceRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(records, 500).Error; err != nil {
		return fmt.Errorf("inserting %d records: %w", len(records), err)
	}
	return nil
}
