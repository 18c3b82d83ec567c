package market

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/testutils"
	"github.com/yih5025/investment-assistant-backend-sub000/pkg/config"
)

func newResolver(t *testing.T, store *testutils.MockStore, now time.Time) *PreviousCloseResolver {
	t.Helper()
	return NewPreviousCloseResolver(store, newUSCalendar(t), "equities", time.Hour, zap.NewNop(),
		func() time.Time { return now })
}

func TestResolver_ResolvesFromPrimaryWindow(t *testing.T) {
	ny := eastern(t)
	asOf := time.Date(2025, 6, 9, 10, 0, 0, 0, ny) // Monday

	store := &testutils.MockStore{
		ClosesByCall: []map[string]float64{{"AAPL": 180.5, "MSFT": 410.0}},
	}
	r := newResolver(t, store, asOf)

	closes, err := r.Resolve(context.Background(), []string{"AAPL", "MSFT"}, asOf)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if closes["AAPL"] != 180.5 || closes["MSFT"] != 410.0 {
		t.Errorf("unexpected closes: %v", closes)
	}

	if len(store.Requests) != 1 {
		t.Fatalf("expected 1 store call, got %d", len(store.Requests))
	}
	req := store.Requests[0]

	// Friday 2025-06-06 16:00 ET is the close the window starts at.
	wantFrom := time.Date(2025, 6, 6, 16, 0, 0, 0, ny)
	if !req.From.Equal(wantFrom) {
		t.Errorf("window start = %v, want %v", req.From, wantFrom)
	}
	if !req.To.Equal(wantFrom.Add(14 * time.Hour)) {
		t.Errorf("window end = %v, want close + grace", req.To)
	}
}

func TestResolver_SkipsHolidayWeekend(t *testing.T) {
	ny := eastern(t)
	// Monday 2025-07-07; Friday 07-04 was a holiday, so Thursday 07-03 closes.
	asOf := time.Date(2025, 7, 7, 9, 45, 0, 0, ny)

	store := &testutils.MockStore{
		ClosesByCall: []map[string]float64{{"AAPL": 179.0}},
	}
	r := newResolver(t, store, asOf)

	if _, err := r.Resolve(context.Background(), []string{"AAPL"}, asOf); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	wantFrom := time.Date(2025, 7, 3, 16, 0, 0, 0, ny)
	if !store.Requests[0].From.Equal(wantFrom) {
		t.Errorf("window start = %v, want Thursday close %v", store.Requests[0].From, wantFrom)
	}
}

func TestResolver_WidensOnceForMissingSymbols(t *testing.T) {
	ny := eastern(t)
	asOf := time.Date(2025, 6, 10, 10, 0, 0, 0, ny)

	store := &testutils.MockStore{
		ClosesByCall: []map[string]float64{
			{"AAPL": 180.5},  // primary window
			{"MSFT": 409.25}, // widened retry
		},
	}
	r := newResolver(t, store, asOf)

	closes, err := r.Resolve(context.Background(), []string{"AAPL", "MSFT"}, asOf)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if closes["AAPL"] != 180.5 || closes["MSFT"] != 409.25 {
		t.Errorf("unexpected closes: %v", closes)
	}

	if len(store.Requests) != 2 {
		t.Fatalf("expected 2 store calls, got %d", len(store.Requests))
	}

	retry := store.Requests[1]
	if len(retry.Symbols) != 1 || retry.Symbols[0] != "MSFT" {
		t.Errorf("retry should target only unresolved symbols, got %v", retry.Symbols)
	}
	if !retry.From.Equal(store.Requests[0].From.Add(-12 * time.Hour)) {
		t.Errorf("retry window should widen the lower bound by the extended search")
	}
}

func TestResolver_UnresolvedSymbolsAbsent(t *testing.T) {
	ny := eastern(t)
	asOf := time.Date(2025, 6, 10, 10, 0, 0, 0, ny)

	store := &testutils.MockStore{
		ClosesByCall: []map[string]float64{{}, {}},
	}
	r := newResolver(t, store, asOf)

	closes, err := r.Resolve(context.Background(), []string{"NEWIPO"}, asOf)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, ok := closes["NEWIPO"]; ok {
		t.Error("unresolvable symbol must be absent, not zero")
	}
	if len(store.Requests) != 2 {
		t.Errorf("expected exactly one widened retry, got %d calls", len(store.Requests))
	}
}

func TestResolver_CachesWithinDay(t *testing.T) {
	ny := eastern(t)
	asOf := time.Date(2025, 6, 10, 10, 0, 0, 0, ny)

	store := &testutils.MockStore{
		ClosesByCall: []map[string]float64{{"AAPL": 180.5}},
	}
	r := newResolver(t, store, asOf)

	for i := 0; i < 3; i++ {
		closes, err := r.Resolve(context.Background(), []string{"AAPL"}, asOf)
		if err != nil {
			t.Fatalf("resolve %d failed: %v", i, err)
		}
		if closes["AAPL"] != 180.5 {
			t.Errorf("resolve %d: unexpected closes %v", i, closes)
		}
	}

	if len(store.Requests) != 1 {
		t.Errorf("repeated resolves should hit the cache, got %d store calls", len(store.Requests))
	}
}

func TestResolver_Purge(t *testing.T) {
	ny := eastern(t)
	asOf := time.Date(2025, 6, 10, 10, 0, 0, 0, ny)

	store := &testutils.MockStore{
		ClosesByCall: []map[string]float64{{"AAPL": 180.5}},
	}

	current := asOf
	r := NewPreviousCloseResolver(store, newUSCalendar(t), "equities", time.Hour, zap.NewNop(),
		func() time.Time { return current })

	if _, err := r.Resolve(context.Background(), []string{"AAPL"}, asOf); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if removed := r.Purge(); removed != 0 {
		t.Errorf("nothing should expire yet, purged %d", removed)
	}

	current = asOf.Add(2 * time.Hour)
	if removed := r.Purge(); removed != 1 {
		t.Errorf("expected 1 expired entry, purged %d", removed)
	}
}

func TestResolver_AlwaysOpenUsesPreviousUTCDay(t *testing.T) {
	cal, err := NewCalendar("crypto", config.VenueConfig{AlwaysOpen: true})
	if err != nil {
		t.Fatalf("building calendar: %v", err)
	}

	asOf := time.Date(2025, 6, 10, 3, 30, 0, 0, time.UTC)
	store := &testutils.MockStore{
		ClosesByCall: []map[string]float64{{"BTC": 68000}},
	}
	r := NewPreviousCloseResolver(store, cal, "crypto", time.Hour, zap.NewNop(),
		func() time.Time { return asOf })

	if _, err := r.Resolve(context.Background(), []string{"BTC"}, asOf); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	req := store.Requests[0]
	wantFrom := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
	if !req.From.Equal(wantFrom) || !req.To.Equal(wantFrom.AddDate(0, 0, 1)) {
		t.Errorf("window = [%v, %v), want the full previous UTC day", req.From, req.To)
	}
}
