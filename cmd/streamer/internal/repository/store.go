package repository

import (
	"context"
	"errors"
	"time"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

var (
	// ErrSourceUnavailable wraps transport-level failures of a price source.
	ErrSourceUnavailable = errors.New("price source unavailable")

	// ErrNotFound means the source is reachable but holds no data for the
	// requested dataset.
	ErrNotFound = errors.New("no data for dataset")

	// ErrSignalSourceDown is returned after the signal subscriber exhausts
	// its reconnect budget.
	ErrSignalSourceDown = errors.New("signal source down")
)

// HotCache serves latest-price batches from the low-latency store.
type HotCache interface {
	Latest(ctx context.Context, dataset string, limit int) ([]models.Snapshot, error)
	Close() error
}

// SnapshotStore serves price batches and previous-close windows from the
// persistent store.
type SnapshotStore interface {
	Latest(ctx context.Context, dataset string, limit int) ([]models.Snapshot, error)

	// PreviousCloses returns the last recorded price within [from, to) for
	// each requested symbol. Symbols with no print in the window are absent
	// from the result.
	PreviousCloses(ctx context.Context, dataset string, symbols []string, from, to time.Time) (map[string]float64, error)
}

// SignalSource delivers upstream refresh signals. Run blocks until the
// context is cancelled or the reconnect budget is exhausted.
type SignalSource interface {
	Run(ctx context.Context, onSignal func(channel string)) error
	Close() error
}
