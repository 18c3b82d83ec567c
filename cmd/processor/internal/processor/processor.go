package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/config"
	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

// Processor consumes raw ticks from Kafka, refreshes the hot cache, signals
// the streamers, and periodically folds its buffer into OHLC records for the
// persistent store.
type Processor struct {
	cfg    *config.Config
	logger Logger
	rdb    RedisClient
	reader KafkaReader
	store  RecordStore

	numWorkers    int
	barInterval   time.Duration
	flushInterval time.Duration
	cacheTTL      time.Duration
}

func NewProcessor(cfg *config.Config, logger Logger, rdb RedisClient, reader KafkaReader, store RecordStore) *Processor {
	return &Processor{
		cfg:           cfg,
		logger:        logger,
		rdb:           rdb,
		reader:        reader,
		store:         store,
		numWorkers:    cfg.Processor.NumWorkers,
		barInterval:   cfg.Processor.BarInterval,
		flushInterval: cfg.Processor.FlushInterval,
		cacheTTL:      cfg.Processor.CacheTTL,
	}
}

func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	go func() {
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}

			// Deterministic Sharding: Same symbol always goes to same worker
			workerID := getWorkerID(m.Key, p.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				p.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")

	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background()

	// Local state works because sharding pins each symbol to one worker.
	lastSeq := make(map[string]int64)
	buffer := make(map[string][]models.Tick)

	flush := time.NewTicker(p.flushInterval)
	defer flush.Stop()

	for {
		select {
		case payload, ok := <-msgs:
			if !ok {
				p.flushBuffer(ctx, id, buffer)
				return
			}
			p.handleTick(ctx, id, payload, lastSeq, buffer)

		case <-flush.C:
			p.flushBuffer(ctx, id, buffer)
		}
	}
}

func (p *Processor) handleTick(ctx context.Context, id int, payload []byte, lastSeq map[string]int64, buffer map[string][]models.Tick) {
	var tick models.Tick
	if err := json.Unmarshal(payload, &tick); err != nil {
		p.logger.Error("JSON Unmarshal Error", zap.Error(err))
		return
	}

	if tick.SeqID <= lastSeq[tick.Symbol] {
		p.logger.Debug("Skipping duplicate tick", zap.String("symbol", tick.Symbol), zap.Int64("seq_id", tick.SeqID))
		return
	}

	snapshot, err := json.Marshal(models.Snapshot{
		Symbol:    tick.Symbol,
		Price:     tick.Price,
		Volume:    tick.Volume,
		EventTime: tick.Time(),
	})
	if err != nil {
		p.logger.Error("Snapshot Marshal Error", zap.Error(err))
		return
	}

	key := fmt.Sprintf("latest:%s:%s", tick.Channel, tick.Symbol)

	// Atomic cache refresh + refresh signal in a single pipeline
	pipe := p.rdb.Pipeline()
	pipe.Set(ctx, key, snapshot, p.cacheTTL)
	pipe.Publish(ctx, fmt.Sprintf("signals.%s", tick.Channel), tick.Symbol)

	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("symbol", tick.Symbol))
		return
	}

	lastSeq[tick.Symbol] = tick.SeqID
	buffer[tick.Channel] = append(buffer[tick.Channel], tick)
	p.logger.Debug("Processed", zap.String("symbol", tick.Symbol), zap.Int("worker_id", id))
}

// flushBuffer folds the buffered ticks into bars and persists them. The
// buffer is cleared even on failure; the cache already holds the prices and
// a retry would double-write earlier buckets.
func (p *Processor) flushBuffer(ctx context.Context, id int, buffer map[string][]models.Tick) {
	for channel, ticks := range buffer {
		if len(ticks) == 0 {
			continue
		}
		delete(buffer, channel)

		bars := models.FoldBars(ticks, p.barInterval)
		records := make([]models.PriceRecord, len(bars))
		for i, bar := range bars {
			// Stamp the bucket end so the session's last bar lands at the
			// close instant, inside the previous-close primary window.
			records[i] = models.PriceRecord{
				Dataset:   channel,
				Symbol:    bar.Symbol,
				Price:     bar.Close,
				Volume:    bar.Volume,
				EventTime: bar.BucketStart.Add(p.barInterval),
			}
		}

		if err := p.store.SaveRecords(ctx, records); err != nil {
			p.logger.Error("Persisting bars failed",
				zap.String("channel", channel),
				zap.Int("records", len(records)),
				zap.Error(err))
			continue
		}
		p.logger.Debug("Flushed bars",
			zap.String("channel", channel),
			zap.Int("records", len(records)),
			zap.Int("worker_id", id))
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32()) % numWorkers
}
