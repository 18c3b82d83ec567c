package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisCache(client, zap.NewNop()), mr
}

func seedSnapshot(t *testing.T, mr *miniredis.Miniredis, dataset, symbol string, price float64) {
	t.Helper()
	b, err := json.Marshal(models.Snapshot{
		Symbol:    symbol,
		Price:     price,
		EventTime: time.Now().UTC().Truncate(time.Second),
	})
	if err != nil {
		t.Fatalf("marshaling snapshot: %v", err)
	}
	mr.Set("latest:"+dataset+":"+symbol, string(b))
}

func TestRedisCache_Latest(t *testing.T) {
	cache, mr := newTestCache(t)
	seedSnapshot(t, mr, "crypto", "BTC", 50000)
	seedSnapshot(t, mr, "crypto", "ETH", 3000)
	seedSnapshot(t, mr, "equities", "AAPL", 180)

	snaps, err := cache.Latest(context.Background(), "crypto", 100)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 crypto snapshots, got %d", len(snaps))
	}
	for _, s := range snaps {
		if s.Source != models.SourceCache {
			t.Errorf("snapshot %s should be tagged as cache, got %q", s.Symbol, s.Source)
		}
	}
}

func TestRedisCache_EmptyDatasetIsNotFound(t *testing.T) {
	cache, mr := newTestCache(t)
	seedSnapshot(t, mr, "equities", "AAPL", 180)

	_, err := cache.Latest(context.Background(), "crypto", 100)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty dataset, got %v", err)
	}
}

func TestRedisCache_SkipsCorruptEntries(t *testing.T) {
	cache, mr := newTestCache(t)
	seedSnapshot(t, mr, "crypto", "BTC", 50000)
	mr.Set("latest:crypto:BAD", "{not json")

	snaps, err := cache.Latest(context.Background(), "crypto", 100)
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Symbol != "BTC" {
		t.Errorf("corrupt entry should be skipped, got %+v", snaps)
	}
}

func TestRedisSignals_DeliversAndStripsPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	signals := NewRedisSignals(client, []string{"crypto", "equities"},
		10*time.Millisecond, 100*time.Millisecond, 3, zap.NewNop())

	received := make(chan string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- signals.Run(ctx, func(channel string) { received <- channel })
	}()

	// Give the subscription time to establish before publishing.
	time.Sleep(100 * time.Millisecond)
	mr.Publish("signals.crypto", "refresh")

	select {
	case got := <-received:
		if got != "crypto" {
			t.Errorf("expected channel crypto, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
	}

	cancel()
	<-done
}

func TestRedisSignals_GivesUpAfterMaxFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	signals := NewRedisSignals(client, []string{"crypto"},
		time.Millisecond, 10*time.Millisecond, 3, zap.NewNop())

	mr.Close() // signal source down from the start

	var calls atomic.Int32
	err := signals.Run(context.Background(), func(string) { calls.Add(1) })
	if !errors.Is(err, ErrSignalSourceDown) {
		t.Errorf("expected ErrSignalSourceDown, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("no signals should be delivered, got %d", calls.Load())
	}
}
