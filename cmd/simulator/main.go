package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/yih5025/investment-assistant-backend-sub000/cmd/simulator/internal/simulator"
	"github.com/yih5025/investment-assistant-backend-sub000/pkg/config"
)

// Synthetic universes keyed by channel name. Channels without an entry here
// simply produce no ticks.
var universes = map[string]simulator.Universe{
	"crypto": {
		Channel: "crypto",
		Symbols: []string{"BTC", "ETH", "SOL", "XRP"},
		BasePrices: map[string]float64{
			"BTC": 50000.0, "ETH": 3000.0, "SOL": 150.0, "XRP": 0.55,
		},
	},
	"equities": {
		Channel: "equities",
		Symbols: []string{"AAPL", "MSFT", "GOOG", "TSLA", "AMZN"},
		BasePrices: map[string]float64{
			"AAPL": 180.0, "MSFT": 410.0, "GOOG": 170.0, "TSLA": 250.0, "AMZN": 185.0,
		},
	},
	"etf": {
		Channel: "etf",
		Symbols: []string{"SPY", "QQQ", "VTI"},
		BasePrices: map[string]float64{
			"SPY": 560.0, "QQQ": 480.0, "VTI": 275.0,
		},
	},
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	clock := simulator.RealClock{}
	dialer := &simulator.RealKafkaDialer{Dialer: kafka.DefaultDialer}
	simulator.NewTopicCreator(logger, dialer, clock).Create(cfg.Kafka.Brokers, cfg.Kafka.Topic)

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
		// Optimization: Send batches to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	var active []simulator.Universe
	for _, ch := range cfg.Channels {
		if uni, ok := universes[ch.Name]; ok {
			active = append(active, uni)
		}
	}

	rnd := simulator.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	sim := simulator.NewTickSimulator(logger, writer, active, rnd, clock, cfg.Simulator.TickInterval)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go sim.Run(ctx)

	<-sigChan
	logger.Info("Shutdown signal received")
	cancel()

	// Flush Kafka Buffer (CRITICAL)
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
