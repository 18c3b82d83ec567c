package stream

import (
	"testing"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

func enrichedBatch(prices map[string]float64) []models.EnrichedSnapshot {
	out := make([]models.EnrichedSnapshot, 0, len(prices))
	for sym, price := range prices {
		out = append(out, models.EnrichedSnapshot{Snapshot: models.Snapshot{Symbol: sym, Price: price}})
	}
	return out
}

func TestDetector_FirstBatchAlwaysChanged(t *testing.T) {
	d := NewChangeDetector()
	if !d.Changed("crypto", Digest(enrichedBatch(map[string]float64{"BTC": 50000}))) {
		t.Error("first batch must count as changed")
	}
}

func TestDetector_IdenticalBatchSuppressed(t *testing.T) {
	d := NewChangeDetector()
	fp := Digest(enrichedBatch(map[string]float64{"BTC": 50000, "ETH": 3000}))

	d.Record("crypto", fp)
	if d.Changed("crypto", fp) {
		t.Error("identical batch must be suppressed")
	}
	if !d.Changed("crypto", Digest(enrichedBatch(map[string]float64{"BTC": 50001, "ETH": 3000}))) {
		t.Error("price move must register as changed")
	}
}

func TestDetector_ChangedDoesNotRecord(t *testing.T) {
	d := NewChangeDetector()
	fp := Digest(enrichedBatch(map[string]float64{"BTC": 50000}))

	// A checked-but-never-broadcast batch must not suppress the next cycle.
	if !d.Changed("crypto", fp) {
		t.Fatal("first check must count as changed")
	}
	if !d.Changed("crypto", fp) {
		t.Error("check without a recorded broadcast must still count as changed")
	}

	d.Record("crypto", fp)
	if d.Changed("crypto", fp) {
		t.Error("recorded fingerprint must suppress the identical batch")
	}
}

func TestDigest_OrderInsensitive(t *testing.T) {
	a := Digest([]models.EnrichedSnapshot{
		{Snapshot: models.Snapshot{Symbol: "BTC", Price: 1}},
		{Snapshot: models.Snapshot{Symbol: "ETH", Price: 2}},
	})
	b := Digest([]models.EnrichedSnapshot{
		{Snapshot: models.Snapshot{Symbol: "ETH", Price: 2}},
		{Snapshot: models.Snapshot{Symbol: "BTC", Price: 1}},
	})
	if a != b {
		t.Error("reordered but identical batch must fingerprint the same")
	}
}

func TestDetector_ChannelsIndependent(t *testing.T) {
	d := NewChangeDetector()
	fp := Digest(enrichedBatch(map[string]float64{"AAPL": 180}))

	d.Record("equities", fp)
	if !d.Changed("etf", fp) {
		t.Error("one channel's fingerprint must not suppress another's")
	}
}
