package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

// Message types carried in the envelope's "type" field.
const (
	TypeStatus      = "status"
	TypePriceUpdate = "price_update"
	TypeHeartbeat   = "heartbeat_ack"
	TypeError       = "error"
)

// Client actions.
const (
	ActionHeartbeat   = "heartbeat"
	ActionUnsubscribe = "unsubscribe"
)

// Envelope is the wire frame for every server-to-client message:
// {"type": ..., "data": ..., "timestamp": ...}. Timestamp is RFC 3339 UTC.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// StatusData is sent once on connect and served by the ops status endpoint.
type StatusData struct {
	Channel     string `json:"channel"`
	Symbol      string `json:"symbol,omitempty"`
	MarketOpen  bool   `json:"market_open"`
	Source      string `json:"source"`
	Subscribers int    `json:"subscribers"`
}

// PriceUpdateData carries one refresh cycle's enriched batch.
type PriceUpdateData struct {
	Channel   string                    `json:"channel"`
	Snapshots []models.EnrichedSnapshot `json:"snapshots"`
	Count     int                       `json:"count"`
}

// HeartbeatData acknowledges a client heartbeat.
type HeartbeatData struct {
	Subscribers int `json:"subscribers"`
}

// ErrorData reports a client-visible failure.
type ErrorData struct {
	Message string `json:"message"`
}

// Command is a client-to-server frame.
type Command struct {
	Action string `json:"action"`
}

// ParseCommand decodes and validates a client frame.
func ParseCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("malformed command: %w", err)
	}
	switch cmd.Action {
	case ActionHeartbeat, ActionUnsubscribe:
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("unknown action %q", cmd.Action)
	}
}

// NewEnvelope wraps data in the wire frame, stamped at the given time.
func NewEnvelope(msgType string, data interface{}, at time.Time) Envelope {
	return Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

// Encode marshals an envelope for transmission.
func Encode(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", env.Type, err)
	}
	return b, nil
}

// EncodePriceUpdate builds and encodes a price_update envelope in one step,
// the hot path for every broadcast.
func EncodePriceUpdate(channel string, snapshots []models.EnrichedSnapshot, at time.Time) ([]byte, error) {
	return Encode(NewEnvelope(TypePriceUpdate, PriceUpdateData{
		Channel:   channel,
		Snapshots: snapshots,
		Count:     len(snapshots),
	}, at))
}
