package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/hub"
	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/protocol"
	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/stream"
	"github.com/yih5025/investment-assistant-backend-sub000/pkg/config"
)

const greetTimeout = 10 * time.Second

// Handler owns the HTTP surface: websocket upgrades under /ws/<channel> and
// the operational status endpoint.
type Handler struct {
	registry  *hub.Registry
	pipelines map[string]*stream.Pipeline
	streamCfg config.StreamConfig
	logger    *zap.Logger
}

// NewHandler wires the gateway. Each successful registration is greeted with
// the channel's current batch, so a fresh session gets data without waiting
// for the next upstream signal.
func NewHandler(registry *hub.Registry, pipelines map[string]*stream.Pipeline, streamCfg config.StreamConfig, logger *zap.Logger) *Handler {
	return &Handler{
		registry:  registry,
		pipelines: pipelines,
		streamCfg: streamCfg,
		logger:    logger,
	}
}

// Register installs the gateway's routes on a mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws/", h.serveWS)
	mux.HandleFunc("/status", h.serveStatus)
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimPrefix(r.URL.Path, "/ws/")
	pipeline, ok := h.pipelines[channel]
	if !ok {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, channel, symbol, h.registry, h.streamCfg, h.logger)
	if err := h.registry.Register(channel, client); err != nil {
		h.logger.Warn("Registration rejected",
			zap.String("channel", channel),
			zap.Error(err))
		conn.Close()
		return
	}
	client.Start()

	h.sendConnectStatus(client, channel, symbol, pipeline.Router())
	go h.greet(pipeline, client, channel)
}

// greet delivers the channel's current batch directly to the new session.
// Broadcast suppression is channel-wide, so an unchanged batch would never
// reach a session that joined after it went out.
func (h *Handler) greet(pipeline *stream.Pipeline, client *ClientAdapter, channel string) {
	ctx, cancel := context.WithTimeout(context.Background(), greetTimeout)
	defer cancel()

	if err := pipeline.Greet(ctx, client); err != nil {
		h.logger.Warn("Initial batch delivery failed",
			zap.String("channel", channel),
			zap.String("session_id", client.ID()),
			zap.Error(err))
	}
}

// sendConnectStatus greets the session with the channel's current state.
func (h *Handler) sendConnectStatus(client *ClientAdapter, channel, symbol string, router *stream.SourceRouter) {
	b, err := protocol.Encode(protocol.NewEnvelope(protocol.TypeStatus, protocol.StatusData{
		Channel:     channel,
		Symbol:      symbol,
		MarketOpen:  router.MarketOpen(),
		Source:      router.CurrentSource(),
		Subscribers: h.registry.Count(channel),
	}, time.Now()))
	if err != nil {
		return
	}
	client.TrySend(b)
}

type channelStatus struct {
	hub.ChannelStatus
	MarketOpen bool               `json:"market_open"`
	Source     string             `json:"source"`
	Router     stream.RouterStats `json:"router"`
}

type statusResponse struct {
	Channels    map[string]channelStatus `json:"channels"`
	EvaluatedAt time.Time                `json:"evaluated_at"`
}

func (h *Handler) serveStatus(w http.ResponseWriter, r *http.Request) {
	counters := h.registry.Status()

	out := statusResponse{
		Channels:    make(map[string]channelStatus, len(counters)),
		EvaluatedAt: time.Now().UTC(),
	}
	for name, cs := range counters {
		entry := channelStatus{ChannelStatus: cs}
		if pipeline, ok := h.pipelines[name]; ok {
			router := pipeline.Router()
			entry.MarketOpen = router.MarketOpen()
			entry.Source = router.CurrentSource()
			entry.Router = router.Stats()
		}
		out.Channels[name] = entry
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.logger.Warn("Writing status response", zap.Error(err))
	}
}
