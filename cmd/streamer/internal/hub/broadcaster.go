package hub

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/protocol"
	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

// Broadcaster fans one enriched batch out to every session on a channel. The
// full payload is serialized once per cycle; symbol-focused sessions get a
// filtered payload encoded lazily per distinct symbol.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger
}

func NewBroadcaster(registry *Registry, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, logger: logger}
}

// Broadcast delivers the batch and returns how many sessions accepted it.
// Sessions that refuse the send are closed and removed; one bad session never
// affects delivery to the rest.
func (b *Broadcaster) Broadcast(channel string, batch []models.EnrichedSnapshot, at time.Time) (int, error) {
	sessions := b.registry.Sessions(channel)
	if len(sessions) == 0 {
		return 0, nil
	}

	full, err := protocol.EncodePriceUpdate(channel, batch, at)
	if err != nil {
		return 0, fmt.Errorf("broadcast on %q: %w", channel, err)
	}

	var bySymbol map[string][]byte
	var failed []Sender

	sent := 0
	for _, s := range sessions {
		msg := full
		if sym := s.Symbol(); sym != "" {
			if bySymbol == nil {
				bySymbol = make(map[string][]byte)
			}
			focused, ok := bySymbol[sym]
			if !ok {
				focused, err = encodeFocused(channel, batch, sym, at)
				if err != nil {
					return sent, fmt.Errorf("broadcast on %q: %w", channel, err)
				}
				bySymbol[sym] = focused
			}
			msg = focused
		}

		if s.TrySend(msg) {
			sent++
		} else {
			failed = append(failed, s)
		}
	}

	for _, s := range failed {
		b.registry.Deregister(channel, s.ID())
		s.Close()
		b.logger.Warn("Dropped slow session",
			zap.String("channel", channel),
			zap.String("session_id", s.ID()))
	}

	b.registry.RecordBroadcast(channel, sent, at)
	return sent, nil
}

// Deliver sends the batch to a single session, honoring its symbol focus.
// Used for targeted sends outside the fan-out path, so it never touches the
// channel's broadcast counters beyond the message total.
func (b *Broadcaster) Deliver(channel string, batch []models.EnrichedSnapshot, at time.Time, s Sender) error {
	var msg []byte
	var err error
	if sym := s.Symbol(); sym != "" {
		msg, err = encodeFocused(channel, batch, sym, at)
	} else {
		msg, err = protocol.EncodePriceUpdate(channel, batch, at)
	}
	if err != nil {
		return fmt.Errorf("deliver on %q: %w", channel, err)
	}

	if !s.TrySend(msg) {
		return fmt.Errorf("deliver on %q: session %s refused send", channel, s.ID())
	}
	b.registry.RecordDelivery(channel)
	return nil
}

func encodeFocused(channel string, batch []models.EnrichedSnapshot, symbol string, at time.Time) ([]byte, error) {
	var subset []models.EnrichedSnapshot
	for _, snap := range batch {
		if snap.Symbol == symbol {
			subset = append(subset, snap)
		}
	}
	return protocol.EncodePriceUpdate(channel, subset, at)
}
