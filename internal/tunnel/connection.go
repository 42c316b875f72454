package tunnel

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/types"
)

const (
	writeWait     = 10 * time.Second
	maxFrameBytes = 1 << 20 // 1 MiB, per §6.3
)

// Connection wraps one authenticated tunnel WebSocket, pumping outbound
// signal pushes and inbound acks. Shape follows the teacher's Client
// (go-server/pkg/websocket/client.go): a buffered send channel drained by a
// dedicated write goroutine, a read goroutine feeding a shared pong
// deadline, and a close-once guard.
type Connection struct {
	ws           *websocket.Conn
	registry     *Registry
	logger       zerolog.Logger
	onAck        func(deliveryID string, negErr string)
	onHeartbeat  func(subscriberID string)
	connectionID string
	subscriberID string

	send chan []byte

	heartbeat time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// newConnection constructs a Connection. queueCapacity bounds the outbound
// channel (§6.C6 resource limits: "bounded per-connection outbound message
// channel, capacity 64"). onHeartbeat is called on every ping tick so the
// caller can refresh any TTL-backed bookkeeping tied to this connection
// staying alive.
func newConnection(ws *websocket.Conn, registry *Registry, subscriberID, connectionID string, queueCapacity int, heartbeat time.Duration, logger zerolog.Logger, onAck func(string, string), onHeartbeat func(string)) *Connection {
	return &Connection{
		ws:           ws,
		registry:     registry,
		logger:       logger,
		onAck:        onAck,
		onHeartbeat:  onHeartbeat,
		connectionID: connectionID,
		subscriberID: subscriberID,
		send:         make(chan []byte, queueCapacity),
		heartbeat:    heartbeat,
		done:         make(chan struct{}),
	}
}

// Push enqueues a signal push for delivery, returning false if the outbound
// channel is saturated (the worker treats that as a failed attempt, per
// §4.C6: "channel saturation = slow consumer, retry later").
func (c *Connection) Push(msg types.TunnelSignalPush) bool {
	body, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal tunnel signal push")
		return false
	}
	select {
	case c.send <- body:
		return true
	default:
		return false
	}
}

// run drives the connection until it closes, blocking the caller. Intended
// to be invoked as `go conn.run()` by the HTTP handler that owns the upgrade.
func (c *Connection) run() {
	go c.writePump()
	c.readPump()
}

func (c *Connection) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxFrameBytes)
	c.ws.SetReadDeadline(time.Now().Add(c.heartbeat * 2))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.heartbeat * 2))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Info().Err(err).Str("subscriber_id", c.subscriberID).Msg("tunnel connection closed unexpectedly")
			}
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Connection) handleFrame(raw []byte) {
	var env types.TunnelEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn().Err(err).Msg("failed to parse tunnel frame")
		return
	}

	switch env.Type {
	case types.TunnelAck:
		var ack types.TunnelAckMsg
		if err := json.Unmarshal(raw, &ack); err != nil {
			c.logger.Warn().Err(err).Msg("failed to parse ack frame")
			return
		}
		if c.onAck != nil {
			c.onAck(ack.DeliveryID, ack.Error)
		}
	case types.TunnelPong:
		// read deadline already refreshed by SetPongHandler / frame arrival
	default:
		c.logger.Debug().Str("type", string(env.Type)).Msg("unhandled tunnel frame type")
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case body, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, body); err != nil {
				c.logger.Info().Err(err).Str("subscriber_id", c.subscriberID).Msg("tunnel write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if c.onHeartbeat != nil {
				c.onHeartbeat(c.subscriberID)
			}
		}
	}
}

func (c *Connection) closeWithReason(reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), time.Now().Add(writeWait))
	c.close()
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.registry.Unregister(c)
		_ = c.ws.Close()
	})
}
