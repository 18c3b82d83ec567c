package hub

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/protocol"
	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/testutils"
	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

func newTestRegistry(maxSessions int) *Registry {
	return NewRegistry([]string{"crypto", "equities"}, maxSessions, zap.NewNop())
}

func enriched(symbol string, price float64) models.EnrichedSnapshot {
	return models.EnrichedSnapshot{
		Snapshot: models.Snapshot{Symbol: symbol, Price: price, EventTime: time.Now()},
	}
}

func TestRegistry_RegisterAndCount(t *testing.T) {
	reg := newTestRegistry(0)

	if err := reg.Register("crypto", testutils.NewMockSession("s1")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register("crypto", testutils.NewMockSession("s2")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	testutils.AssertTrue(t, reg.Count("crypto") == 2, "crypto should have 2 sessions")
	testutils.AssertTrue(t, reg.Count("equities") == 0, "equities should be empty")
	testutils.AssertTrue(t, reg.HasSessions("crypto"), "crypto should report sessions")
}

func TestRegistry_UnknownChannel(t *testing.T) {
	reg := newTestRegistry(0)

	err := reg.Register("bonds", testutils.NewMockSession("s1"))
	if err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestRegistry_SessionLimit(t *testing.T) {
	reg := newTestRegistry(1)

	if err := reg.Register("crypto", testutils.NewMockSession("s1")); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := reg.Register("crypto", testutils.NewMockSession("s2")); err == nil {
		t.Fatal("expected error when channel is full")
	}
}

func TestRegistry_DeregisterIdempotent(t *testing.T) {
	reg := newTestRegistry(0)
	_ = reg.Register("crypto", testutils.NewMockSession("s1"))

	reg.Deregister("crypto", "s1")
	reg.Deregister("crypto", "s1") // second call must be a no-op
	reg.Deregister("bonds", "s1")

	testutils.AssertTrue(t, reg.Count("crypto") == 0, "session should be gone")
}

func TestBroadcaster_DeliversToAll(t *testing.T) {
	reg := newTestRegistry(0)
	s1 := testutils.NewMockSession("s1")
	s2 := testutils.NewMockSession("s2")
	_ = reg.Register("crypto", s1)
	_ = reg.Register("crypto", s2)

	b := NewBroadcaster(reg, zap.NewNop())
	sent, err := b.Broadcast("crypto", []models.EnrichedSnapshot{enriched("BTC", 50000)}, time.Now())
	if err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}
	if sent != 2 {
		t.Errorf("expected 2 deliveries, got %d", sent)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(s1.LastSent(), &env); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	testutils.AssertTrue(t, env.Type == protocol.TypePriceUpdate, "payload should be a price_update")
}

func TestBroadcaster_OneFailedSessionDoesNotBlockOthers(t *testing.T) {
	reg := newTestRegistry(0)
	ok1 := testutils.NewMockSession("ok1")
	bad := testutils.NewMockSession("bad")
	bad.RejectSend = true
	ok2 := testutils.NewMockSession("ok2")
	_ = reg.Register("equities", ok1)
	_ = reg.Register("equities", bad)
	_ = reg.Register("equities", ok2)

	b := NewBroadcaster(reg, zap.NewNop())
	sent, err := b.Broadcast("equities", []models.EnrichedSnapshot{enriched("AAPL", 180)}, time.Now())
	if err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	if sent != 2 {
		t.Errorf("expected 2 of 3 deliveries, got %d", sent)
	}
	testutils.AssertTrue(t, bad.Closed, "failed session should be closed")
	testutils.AssertTrue(t, reg.Count("equities") == 2, "failed session should be deregistered")
	testutils.AssertTrue(t, ok1.SentCount() == 1 && ok2.SentCount() == 1, "healthy sessions should receive the batch")
}

func TestBroadcaster_SymbolFocus(t *testing.T) {
	reg := newTestRegistry(0)
	all := testutils.NewMockSession("all")
	focused := testutils.NewMockSession("focused")
	focused.SymbolVal = "ETH"
	_ = reg.Register("crypto", all)
	_ = reg.Register("crypto", focused)

	b := NewBroadcaster(reg, zap.NewNop())
	batch := []models.EnrichedSnapshot{enriched("BTC", 50000), enriched("ETH", 3000)}
	if _, err := b.Broadcast("crypto", batch, time.Now()); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	var env struct {
		Data protocol.PriceUpdateData `json:"data"`
	}
	if err := json.Unmarshal(focused.LastSent(), &env); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if env.Data.Count != 1 || env.Data.Snapshots[0].Symbol != "ETH" {
		t.Errorf("focused session got wrong subset: %+v", env.Data)
	}

	if err := json.Unmarshal(all.LastSent(), &env); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if env.Data.Count != 2 {
		t.Errorf("unfocused session should get the full batch, got %d", env.Data.Count)
	}
}

func TestRegistry_StatusCounters(t *testing.T) {
	reg := newTestRegistry(0)
	_ = reg.Register("crypto", testutils.NewMockSession("s1"))

	at := time.Now()
	reg.RecordBroadcast("crypto", 3, at)
	reg.RecordBroadcast("crypto", 2, at.Add(time.Second))
	reg.RecordDelivery("crypto")

	status := reg.Status()
	cs := status["crypto"]
	if cs.Sessions != 1 || cs.Broadcasts != 2 {
		t.Errorf("unexpected status: %+v", cs)
	}
	if cs.MessagesSent != 6 {
		t.Errorf("expected 6 messages sent across passes and deliveries, got %d", cs.MessagesSent)
	}
	if !cs.LastBroadcast.Equal(at.Add(time.Second)) {
		t.Errorf("last broadcast not updated: %v", cs.LastBroadcast)
	}
}

func TestBroadcaster_DeliverTargetsOneSession(t *testing.T) {
	reg := newTestRegistry(0)
	target := testutils.NewMockSession("target")
	target.SymbolVal = "ETH"
	other := testutils.NewMockSession("other")
	_ = reg.Register("crypto", target)
	_ = reg.Register("crypto", other)

	b := NewBroadcaster(reg, zap.NewNop())
	batch := []models.EnrichedSnapshot{enriched("BTC", 50000), enriched("ETH", 3000)}
	if err := b.Deliver("crypto", batch, time.Now(), target); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	if other.SentCount() != 0 {
		t.Error("deliver must not touch other sessions")
	}

	var env struct {
		Data protocol.PriceUpdateData `json:"data"`
	}
	if err := json.Unmarshal(target.LastSent(), &env); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if env.Data.Count != 1 || env.Data.Snapshots[0].Symbol != "ETH" {
		t.Errorf("deliver must honor symbol focus: %+v", env.Data)
	}

	cs := reg.Status()["crypto"]
	if cs.MessagesSent != 1 || cs.Broadcasts != 0 {
		t.Errorf("deliver must count a message but not a broadcast pass: %+v", cs)
	}
}

func TestBroadcaster_DeliverReportsRefusedSend(t *testing.T) {
	reg := newTestRegistry(0)
	bad := testutils.NewMockSession("bad")
	bad.RejectSend = true
	_ = reg.Register("crypto", bad)

	b := NewBroadcaster(reg, zap.NewNop())
	err := b.Deliver("crypto", []models.EnrichedSnapshot{enriched("BTC", 50000)}, time.Now(), bad)
	if err == nil {
		t.Fatal("expected error when the session refuses the send")
	}
}
