package simulator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

// Universe is one channel's symbol set and price anchors.
type Universe struct {
	Channel    string
	Symbols    []string
	BasePrices map[string]float64
}

// TickSimulator emits a synthetic feed across the configured universes,
// keyed by symbol so partition ordering matches the real feed's.
type TickSimulator struct {
	logger       *zap.Logger
	writer       KafkaWriter
	universes    []Universe
	rand         Rand
	clock        Clock
	tickInterval time.Duration
	seqCounters  map[string]int64
}

func NewTickSimulator(
	logger *zap.Logger,
	writer KafkaWriter,
	universes []Universe,
	rnd Rand,
	clock Clock,
	tickInterval time.Duration,
) *TickSimulator {
	return &TickSimulator{
		logger:       logger,
		writer:       writer,
		universes:    universes,
		rand:         rnd,
		clock:        clock,
		tickInterval: tickInterval,
		seqCounters:  make(map[string]int64),
	}
}

func (ts *TickSimulator) Run(ctx context.Context) {
	ts.logger.Info("Simulator Started", zap.Int("universes", len(ts.universes)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(ts.universes) == 0 {
				ts.clock.Sleep(1 * time.Second)
				continue
			}

			uni := ts.universes[ts.rand.Intn(len(ts.universes))]
			if len(uni.Symbols) == 0 {
				ts.clock.Sleep(ts.tickInterval)
				continue
			}

			symbol := uni.Symbols[ts.rand.Intn(len(uni.Symbols))]
			base := uni.BasePrices[symbol]

			// Walk within +/-0.5% of the anchor so magnitudes stay sane
			// across very different price scales.
			fluctuation := (ts.rand.Float64() - 0.5) * base * 0.01
			ts.seqCounters[symbol]++

			tick := models.Tick{
				Channel:   uni.Channel,
				Symbol:    symbol,
				Price:     base + fluctuation,
				Volume:    float64(1 + ts.rand.Intn(100)),
				Timestamp: ts.clock.Now().UnixMicro(),
				SeqID:     ts.seqCounters[symbol],
			}

			payload, _ := json.Marshal(tick) // Error ignored for simplicity in loop

			err := ts.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(symbol),
				Value: payload,
			})
			if err != nil {
				ts.logger.Error("Kafka Write Error", zap.Error(err))
			}

			ts.clock.Sleep(ts.tickInterval)
		}
	}
}
