package hub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrChannelUnknown is returned when a session targets a channel the
	// registry was not configured with.
	ErrChannelUnknown = errors.New("unknown channel")

	// ErrChannelFull is returned when a channel is at its session limit.
	ErrChannelFull = errors.New("channel at session limit")
)

// Sender is one connected session from the registry's point of view. TrySend
// must not block; it reports false when the session cannot absorb the
// message.
type Sender interface {
	ID() string
	Symbol() string
	TrySend(msg []byte) bool
	Close()
}

// ChannelStatus is the per-channel view served by the ops endpoint.
// Broadcasts counts fan-out passes; MessagesSent counts individual
// session deliveries, targeted sends included.
type ChannelStatus struct {
	Sessions      int       `json:"sessions"`
	Broadcasts    uint64    `json:"broadcasts"`
	MessagesSent  uint64    `json:"messages_sent"`
	LastBroadcast time.Time `json:"last_broadcast,omitempty"`
}

type channelState struct {
	sessions      map[string]Sender
	broadcasts    uint64
	messagesSent  uint64
	lastBroadcast time.Time
}

// Registry tracks connected sessions per channel. The channel set is fixed at
// construction; sessions come and go under one RWMutex.
type Registry struct {
	mu          sync.RWMutex
	channels    map[string]*channelState
	maxSessions int
	logger      *zap.Logger
}

// NewRegistry creates a registry for the given channel names. maxSessions
// caps each channel; zero means unlimited.
func NewRegistry(channels []string, maxSessions int, logger *zap.Logger) *Registry {
	states := make(map[string]*channelState, len(channels))
	for _, ch := range channels {
		states[ch] = &channelState{sessions: make(map[string]Sender)}
	}
	return &Registry{
		channels:    states,
		maxSessions: maxSessions,
		logger:      logger,
	}
}

// Register adds a session to a channel.
func (r *Registry) Register(channel string, s Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.channels[channel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrChannelUnknown, channel)
	}
	if r.maxSessions > 0 && len(state.sessions) >= r.maxSessions {
		return fmt.Errorf("channel %q: %w (%d)", channel, ErrChannelFull, r.maxSessions)
	}

	state.sessions[s.ID()] = s
	r.logger.Info("Session registered",
		zap.String("channel", channel),
		zap.String("session_id", s.ID()),
		zap.Int("sessions", len(state.sessions)))
	return nil
}

// Deregister removes a session. Removing an unknown session is a no-op, so
// the disconnect path and the failed-send path can race safely.
func (r *Registry) Deregister(channel, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.channels[channel]
	if !ok {
		return
	}
	if _, present := state.sessions[id]; !present {
		return
	}
	delete(state.sessions, id)
	r.logger.Info("Session deregistered",
		zap.String("channel", channel),
		zap.String("session_id", id),
		zap.Int("sessions", len(state.sessions)))
}

// Sessions returns a snapshot of the channel's sessions. Broadcast iterates
// the copy so slow sends never hold the registry lock.
func (r *Registry) Sessions(channel string) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.channels[channel]
	if !ok {
		return nil
	}
	out := make([]Sender, 0, len(state.sessions))
	for _, s := range state.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of sessions on a channel.
func (r *Registry) Count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.channels[channel]
	if !ok {
		return 0
	}
	return len(state.sessions)
}

// HasSessions reports whether any channel in the list has at least one
// session. The refresh loop skips cycles entirely when nobody is listening.
func (r *Registry) HasSessions(channel string) bool {
	return r.Count(channel) > 0
}

// RecordBroadcast updates the channel's counters after a fan-out pass that
// delivered to sent sessions.
func (r *Registry) RecordBroadcast(channel string, sent int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.channels[channel]
	if !ok {
		return
	}
	state.broadcasts++
	state.messagesSent += uint64(sent)
	state.lastBroadcast = at
}

// RecordDelivery counts one targeted send outside a fan-out pass.
func (r *Registry) RecordDelivery(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.channels[channel]
	if !ok {
		return
	}
	state.messagesSent++
}

// Status returns a copy of every channel's counters.
func (r *Registry) Status() map[string]ChannelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ChannelStatus, len(r.channels))
	for name, state := range r.channels {
		out[name] = ChannelStatus{
			Sessions:      len(state.sessions),
			Broadcasts:    state.broadcasts,
			MessagesSent:  state.messagesSent,
			LastBroadcast: state.lastBroadcast,
		}
	}
	return out
}
