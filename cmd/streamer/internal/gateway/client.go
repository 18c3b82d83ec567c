package gateway

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/hub"
	"github.com/yih5025/investment-assistant-backend-sub000/cmd/streamer/internal/protocol"
	"github.com/yih5025/investment-assistant-backend-sub000/pkg/config"
)

const (
	maxMessageSize = 4 * 1024
)

// ClientAdapter binds one websocket connection to the session registry. It
// satisfies hub.Sender; the broadcaster only ever sees that interface.
type ClientAdapter struct {
	id       string
	channel  string
	symbol   string
	conn     net.Conn
	registry *hub.Registry
	send     chan []byte
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool

	connectedAt  time.Time
	lastActivity atomic.Int64 // unix nano
	sentCount    atomic.Uint64

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, channel, symbol string, registry *hub.Registry, cfg config.StreamConfig, logger *zap.Logger) *ClientAdapter {
	c := &ClientAdapter{
		id:          uuid.NewString(),
		channel:     channel,
		symbol:      symbol,
		conn:        conn,
		registry:    registry,
		send:        make(chan []byte, cfg.SendBuffer),
		logger:      logger,
		connectedAt: time.Now(),
		writeWait:   cfg.WriteWait,
		pongWait:    cfg.PongWait,
		pingPeriod:  cfg.PingPeriod,
	}
	c.touch()
	return c
}

func (c *ClientAdapter) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string     { return c.id }
func (c *ClientAdapter) Symbol() string { return c.symbol }

// ConnectedAt returns when the session was established.
func (c *ClientAdapter) ConnectedAt() time.Time { return c.connectedAt }

// LastActivity returns the time of the session's last accepted send or
// client frame.
func (c *ClientAdapter) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// SentCount returns how many messages the session has accepted.
func (c *ClientAdapter) SentCount() uint64 { return c.sentCount.Load() }

func (c *ClientAdapter) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Close shuts the send channel once; writePump owns the connection close.
func (c *ClientAdapter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// TrySend hands a message to the write pump without blocking. False means
// the session is gone or cannot absorb the message.
func (c *ClientAdapter) TrySend(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		c.sentCount.Add(1)
		c.touch()
		return true
	default:
		return false
	}
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.registry.Deregister(c.channel, c.id)
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			break
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		if header.OpCode == ws.OpClose {
			break
		}
		if header.OpCode == ws.OpPong {
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			c.touch()
			continue
		}

		if header.OpCode == ws.OpText {
			cmd, err := protocol.ParseCommand(payload)
			if err != nil {
				c.sendEnvelope(protocol.TypeError, protocol.ErrorData{Message: err.Error()})
				continue
			}

			switch cmd.Action {
			case protocol.ActionHeartbeat:
				c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
				c.touch()
				c.sendEnvelope(protocol.TypeHeartbeat, protocol.HeartbeatData{
					Subscribers: c.registry.Count(c.channel),
				})
			case protocol.ActionUnsubscribe:
				return
			}
		}
	}
}

func (c *ClientAdapter) sendEnvelope(msgType string, data interface{}) {
	b, err := protocol.Encode(protocol.NewEnvelope(msgType, data, time.Now()))
	if err != nil {
		return
	}
	c.TrySend(b)
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
