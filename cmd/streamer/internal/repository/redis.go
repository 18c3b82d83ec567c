package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

const (
	latestKeyPrefix = "latest:"
	signalPrefix    = "signals."
)

// Compile-time check to ensure RedisCache implements HotCache
var _ HotCache = (*RedisCache)(nil)

// RedisCache reads latest-price snapshots written by the processor under
// latest:<dataset>:<symbol> keys.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisCache(client *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

// Latest scans the dataset's key space and fetches the snapshots in one MGET.
// Returns ErrNotFound when the dataset has no keys at all.
func (r *RedisCache) Latest(ctx context.Context, dataset string, limit int) ([]models.Snapshot, error) {
	pattern := latestKeyPrefix + dataset + ":*"

	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, int64(limit)).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w: %v", pattern, ErrSourceUnavailable, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("dataset %q: %w", dataset, ErrNotFound)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching %d keys: %w: %v", len(keys), ErrSourceUnavailable, err)
	}

	snapshots := make([]models.Snapshot, 0, len(values))
	for i, val := range values {
		payload, ok := val.(string)
		if !ok || payload == "" {
			continue // key expired between SCAN and MGET
		}
		var snap models.Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			r.logger.Warn("Skipping corrupt cache entry",
				zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		snap.Source = models.SourceCache
		snapshots = append(snapshots, snap)
	}
	if len(snapshots) == 0 {
		return nil, fmt.Errorf("dataset %q: %w", dataset, ErrNotFound)
	}
	return snapshots, nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Compile-time check to ensure RedisSignals implements SignalSource
var _ SignalSource = (*RedisSignals)(nil)

// RedisSignals subscribes to the signals.<channel> topics and invokes the
// callback once per received message. Reconnects use exponential backoff and
// give up after a bounded number of consecutive failures.
type RedisSignals struct {
	client *redis.Client
	topics []string
	logger *zap.Logger

	backoffInitial time.Duration
	backoffMax     time.Duration
	maxFailures    int
}

func NewRedisSignals(client *redis.Client, channels []string, initial, max time.Duration, maxFailures int, logger *zap.Logger) *RedisSignals {
	topics := make([]string, len(channels))
	for i, ch := range channels {
		topics[i] = signalPrefix + ch
	}
	return &RedisSignals{
		client:         client,
		topics:         topics,
		logger:         logger,
		backoffInitial: initial,
		backoffMax:     max,
		maxFailures:    maxFailures,
	}
}

// Run blocks, dispatching one callback per signal. The payload is ignored;
// the topic name alone identifies which channel should refresh.
func (s *RedisSignals) Run(ctx context.Context, onSignal func(channel string)) error {
	backoff := s.backoffInitial
	failures := 0

	for {
		err := s.consume(ctx, onSignal, func() {
			failures = 0
			backoff = s.backoffInitial
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		if failures >= s.maxFailures {
			return fmt.Errorf("after %d consecutive failures: %w", failures, ErrSignalSourceDown)
		}

		s.logger.Warn("Signal subscription lost, reconnecting",
			zap.Int("failures", failures),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > s.backoffMax {
			backoff = s.backoffMax
		}
	}
}

func (s *RedisSignals) consume(ctx context.Context, onSignal func(channel string), onHealthy func()) error {
	pubsub := s.client.Subscribe(ctx, s.topics...)
	defer pubsub.Close()

	// Confirm the subscription before declaring the connection healthy.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %d topics: %w", len(s.topics), err)
	}
	onHealthy()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return fmt.Errorf("receiving signal: %w", err)
		}
		onSignal(strings.TrimPrefix(msg.Channel, signalPrefix))
	}
}

func (s *RedisSignals) Close() error {
	return s.client.Close()
}
