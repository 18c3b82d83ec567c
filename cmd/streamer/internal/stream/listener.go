package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/hub"
	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/market"
	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/repository"
)

// Pipeline runs one channel's refresh cycle: fetch, enrich, dedupe,
// broadcast. Cycles on the same channel never overlap; the listener
// serializes them.
type Pipeline struct {
	channel     string
	router      *SourceRouter
	resolver    *market.PreviousCloseResolver
	detector    *ChangeDetector
	registry    *hub.Registry
	broadcaster *hub.Broadcaster
	logger      *zap.Logger
	now         func() time.Time
}

func NewPipeline(channel string, router *SourceRouter, resolver *market.PreviousCloseResolver, detector *ChangeDetector, registry *hub.Registry, broadcaster *hub.Broadcaster, logger *zap.Logger, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		channel:     channel,
		router:      router,
		resolver:    resolver,
		detector:    detector,
		registry:    registry,
		broadcaster: broadcaster,
		logger:      logger,
		now:         now,
	}
}

// RunCycle executes one refresh and returns how many sessions received it.
// A cycle with no sessions, no source data, or an unchanged batch sends
// nothing. Source errors abandon the cycle; the next signal retries.
func (p *Pipeline) RunCycle(ctx context.Context) (int, error) {
	if !p.registry.HasSessions(p.channel) {
		return 0, nil
	}

	snapshots, source, err := p.router.Fetch(ctx)
	if err != nil {
		return 0, err
	}

	at := p.now()
	symbols := make([]string, len(snapshots))
	for i, snap := range snapshots {
		symbols[i] = snap.Symbol
	}

	closes, err := p.resolver.Resolve(ctx, symbols, at)
	if err != nil {
		// Change fields degrade to null rather than losing the batch.
		p.logger.Warn("Previous-close resolution failed",
			zap.String("channel", p.channel),
			zap.Error(err))
		closes = nil
	}

	batch := Augment(snapshots, closes)
	fp := Digest(batch)
	if !p.detector.Changed(p.channel, fp) {
		return 0, nil
	}

	sent, err := p.broadcaster.Broadcast(p.channel, batch, at)
	if err != nil {
		return sent, err
	}
	p.detector.Record(p.channel, fp)

	p.logger.Debug("Cycle broadcast",
		zap.String("channel", p.channel),
		zap.String("source", source),
		zap.Int("symbols", len(batch)),
		zap.Int("sessions", sent))
	return sent, nil
}

// Greet delivers the channel's current batch to one freshly registered
// session. Change suppression is per channel, so a batch that already went
// out would otherwise never reach a session that joined after it.
func (p *Pipeline) Greet(ctx context.Context, s hub.Sender) error {
	snapshots, _, err := p.router.Fetch(ctx)
	if err != nil {
		return err
	}

	at := p.now()
	symbols := make([]string, len(snapshots))
	for i, snap := range snapshots {
		symbols[i] = snap.Symbol
	}

	closes, err := p.resolver.Resolve(ctx, symbols, at)
	if err != nil {
		p.logger.Warn("Previous-close resolution failed",
			zap.String("channel", p.channel),
			zap.Error(err))
		closes = nil
	}

	return p.broadcaster.Deliver(p.channel, Augment(snapshots, closes), at, s)
}

// Router exposes the pipeline's source router for the status surface.
func (p *Pipeline) Router() *SourceRouter { return p.router }

// Listener turns upstream refresh signals into pipeline cycles. Signals for
// a channel whose cycle is already pending coalesce into one.
type Listener struct {
	pipelines map[string]*Pipeline
	signals   repository.SignalSource
	pending   map[string]chan struct{}
	logger    *zap.Logger
}

func NewListener(pipelines map[string]*Pipeline, signals repository.SignalSource, logger *zap.Logger) *Listener {
	pending := make(map[string]chan struct{}, len(pipelines))
	for name := range pipelines {
		pending[name] = make(chan struct{}, 1)
	}
	return &Listener{
		pipelines: pipelines,
		signals:   signals,
		pending:   pending,
		logger:    logger,
	}
}

// Run blocks until the context is cancelled or the signal source gives up.
func (l *Listener) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for name, p := range l.pipelines {
		wg.Add(1)
		go func(name string, p *Pipeline) {
			defer wg.Done()
			l.work(ctx, name, p)
		}(name, p)
	}

	err := l.signals.Run(ctx, l.Notify)
	wg.Wait()
	return err
}

// Notify requests a refresh cycle for a channel. Safe from any goroutine;
// duplicate requests while one is pending are dropped.
func (l *Listener) Notify(channel string) {
	ch, ok := l.pending[channel]
	if !ok {
		l.logger.Debug("Signal for unknown channel", zap.String("channel", channel))
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (l *Listener) work(ctx context.Context, name string, p *Pipeline) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.pending[name]:
			if _, err := p.RunCycle(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("Refresh cycle abandoned",
					zap.String("channel", name),
					zap.Error(err))
			}
		}
	}
}
