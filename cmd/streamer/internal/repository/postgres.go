package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

// Compile-time check to ensure PostgresStore implements SnapshotStore
var _ SnapshotStore = (*PostgresStore)(nil)

// PostgresStore reads the price_records table the processor writes.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Latest returns each symbol's most recent record for the dataset.
func (s *PostgresStore) Latest(ctx context.Context, dataset string, limit int) ([]models.Snapshot, error) {
	newest := s.db.WithContext(ctx).
		Model(&models.PriceRecord{}).
		Select("symbol, MAX(event_time) AS max_time").
		Where("dataset = ?", dataset).
		Group("symbol")

	var rows []models.PriceRecord
	err := s.db.WithContext(ctx).
		Model(&models.PriceRecord{}).
		Joins("JOIN (?) newest ON price_records.symbol = newest.symbol AND price_records.event_time = newest.max_time", newest).
		Where("price_records.dataset = ?", dataset).
		Order("price_records.symbol").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying latest %q records: %w: %v", dataset, ErrSourceUnavailable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dataset %q: %w", dataset, ErrNotFound)
	}

	snapshots := make([]models.Snapshot, len(rows))
	for i, row := range rows {
		snapshots[i] = row.ToSnapshot()
	}
	return snapshots, nil
}

// PreviousCloses returns the last price within [from, to) per symbol. Rows
// are scanned in event-time order so the final write per symbol wins.
func (s *PostgresStore) PreviousCloses(ctx context.Context, dataset string, symbols []string, from, to time.Time) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	var rows []models.PriceRecord
	err := s.db.WithContext(ctx).
		Where("dataset = ? AND symbol IN ? AND event_time >= ? AND event_time < ?",
			dataset, symbols, from, to).
		Order("event_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("querying closes for %d symbols: %w: %v", len(symbols), ErrSourceUnavailable, err)
	}

	closes := make(map[string]float64, len(rows))
	for _, row := range rows {
		closes[row.Symbol] = row.Price
	}
	return closes, nil
}
