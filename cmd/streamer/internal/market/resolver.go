package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/repository"
)

type cachedClose struct {
	price     float64
	expiresAt time.Time
}

// PreviousCloseResolver maps symbols to their previous session's closing
// price. Resolutions are cached per symbol and reference day so a broadcast
// cycle costs at most one store round trip for the uncached remainder.
type PreviousCloseResolver struct {
	store    repository.SnapshotStore
	calendar *Calendar
	dataset  string
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedClose
}

// NewPreviousCloseResolver builds a resolver for one dataset. The now func is
// injectable for tests; pass nil for the wall clock.
func NewPreviousCloseResolver(store repository.SnapshotStore, cal *Calendar, dataset string, ttl time.Duration, logger *zap.Logger, now func() time.Time) *PreviousCloseResolver {
	if now == nil {
		now = time.Now
	}
	return &PreviousCloseResolver{
		store:    store,
		calendar: cal,
		dataset:  dataset,
		ttl:      ttl,
		logger:   logger,
		now:      now,
		cache:    make(map[string]cachedClose),
	}
}

// Resolve returns the previous close for each symbol that has one. Symbols
// with no resolvable close are absent from the result; callers render their
// change fields as null.
func (r *PreviousCloseResolver) Resolve(ctx context.Context, symbols []string, asOf time.Time) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	day := r.referenceDay(asOf)
	dayKey := day.Format("2006-01-02")

	result := make(map[string]float64, len(symbols))
	var misses []string

	r.mu.Lock()
	for _, sym := range symbols {
		entry, ok := r.cache[sym+"@"+dayKey]
		if ok && r.now().Before(entry.expiresAt) {
			result[sym] = entry.price
		} else {
			misses = append(misses, sym)
		}
	}
	r.mu.Unlock()

	if len(misses) == 0 {
		return result, nil
	}

	from, to := r.window(day, false)
	closes, err := r.store.PreviousCloses(ctx, r.dataset, misses, from, to)
	if err != nil {
		return nil, fmt.Errorf("resolving closes for %s: %w", dayKey, err)
	}

	// One widened retry for the symbols the primary window missed.
	if len(closes) < len(misses) && !r.calendar.AlwaysOpen() {
		var unresolved []string
		for _, sym := range misses {
			if _, ok := closes[sym]; !ok {
				unresolved = append(unresolved, sym)
			}
		}

		wideFrom, wideTo := r.window(day, true)
		widened, err := r.store.PreviousCloses(ctx, r.dataset, unresolved, wideFrom, wideTo)
		if err != nil {
			return nil, fmt.Errorf("widened close search for %s: %w", dayKey, err)
		}
		for sym, price := range widened {
			closes[sym] = price
		}
		if len(widened) < len(unresolved) {
			r.logger.Debug("Some symbols have no resolvable close",
				zap.String("day", dayKey),
				zap.Int("unresolved", len(unresolved)-len(widened)))
		}
	}

	expiry := r.now().Add(r.ttl)
	r.mu.Lock()
	for sym, price := range closes {
		r.cache[sym+"@"+dayKey] = cachedClose{price: price, expiresAt: expiry}
		result[sym] = price
	}
	r.mu.Unlock()

	return result, nil
}

// Purge drops expired cache entries. Wired to a scheduler in the server.
func (r *PreviousCloseResolver) Purge() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, entry := range r.cache {
		if !now.Before(entry.expiresAt) {
			delete(r.cache, key)
			removed++
		}
	}
	return removed
}

// referenceDay picks the session whose close the change math compares
// against. Calendar venues use the last trading day before asOf; always-open
// venues use the previous UTC day.
func (r *PreviousCloseResolver) referenceDay(asOf time.Time) time.Time {
	if r.calendar.AlwaysOpen() {
		u := asOf.UTC()
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	}
	return r.calendar.LastTradingDay(asOf)
}

func (r *PreviousCloseResolver) window(day time.Time, widen bool) (time.Time, time.Time) {
	if r.calendar.AlwaysOpen() {
		return day, day.AddDate(0, 0, 1)
	}
	return r.calendar.CloseWindow(day, widen)
}
