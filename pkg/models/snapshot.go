package models

import "time"

// Source tags recorded on snapshots so clients (and the status surface) can
// tell whether a batch came from the hot cache or the persistent store.
const (
	SourceCache = "cache"
	SourceStore = "store"
)

// Tick is a single raw market print as produced by the feed and carried over
// Kafka. SeqID is a monotonic counter per symbol used for deduplication.
type Tick struct {
	Channel   string  `json:"channel"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"` // unix micro
	SeqID     int64   `json:"seq_id"`
}

// Time returns the tick's event time.
func (t Tick) Time() time.Time {
	return time.UnixMicro(t.Timestamp).UTC()
}

// Snapshot is one symbol's most recent known price/volume state. A refresh
// cycle always produces a fresh batch of these; they are never mutated after
// construction.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	EventTime time.Time `json:"event_time"`
	Source    string    `json:"source,omitempty"`
}

// Change directions attached by the augmenter.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionFlat = "flat"
)

// EnrichedSnapshot is a Snapshot plus its change-versus-previous-close
// fields. All change fields are nil when no previous close could be resolved;
// ChangePercent is additionally nil when the previous close is zero.
type EnrichedSnapshot struct {
	Snapshot
	PreviousClose *float64 `json:"previous_close"`
	ChangeAmount  *float64 `json:"change_amount"`
	ChangePercent *float64 `json:"change_percentage"`
	Direction     string   `json:"direction,omitempty"`
}
