package models

import "time"

// PriceRecord is the persistent-store row for one symbol sample. The
// processor inserts one record per folded bucket; the streamer reads them
// back as latest-per-symbol batches and previous-close windows.
type PriceRecord struct {
	ID        uint64    `gorm:"primaryKey"`
	Dataset   string    `gorm:"size:32;not null;index:idx_price_records_lookup,priority:1"`
	Symbol    string    `gorm:"size:24;not null;index:idx_price_records_lookup,priority:2"`
	Price     float64   `gorm:"not null"`
	Volume    float64   `gorm:"not null"`
	EventTime time.Time `gorm:"not null;index:idx_price_records_lookup,priority:3"`
	CreatedAt time.Time
}

// TableName pins the table shared by the processor and the streamer.
func (PriceRecord) TableName() string { return "price_records" }

// ToSnapshot converts a stored row into the wire snapshot shape.
func (r PriceRecord) ToSnapshot() Snapshot {
	return Snapshot{
		Symbol:    r.Symbol,
		Price:     r.Price,
		Volume:    r.Volume,
		EventTime: r.EventTime,
		Source:    SourceStore,
	}
}
