// Package agentclient is the reusable library behind cmd/herald-agent: it
// dials a Herald server's tunnel endpoint, authenticates, and forwards each
// pushed signal to a local HTTP handler, acking the outcome back over the
// same connection (spec §4.C8).
//
// The dial/reconnect loop is grounded in the teacher's load-test dialer
// (loadtest/main.go Connection.Connect), generalized from a fire-and-forget
// benchmark connection into a client that reconnects with backoff and never
// exits on its own.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/types"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameBytes = 1 << 20

	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
)

// Config configures a Client.
type Config struct {
	// ServerURL is the tunnel endpoint, e.g. "wss://herald.example.com/v1/tunnel".
	ServerURL string
	// ApiKey is the raw (unhashed) subscriber API key sent in the auth frame.
	ApiKey string
	// ForwardURL is the local HTTP endpoint each pushed signal is POSTed to.
	ForwardURL string
	// ForwardToken, if set, is sent as a Bearer token to ForwardURL so the
	// local handler can distinguish genuine pushes from stray requests.
	ForwardToken string
	// ForwardTimeout bounds each local forward request.
	ForwardTimeout time.Duration
	// HandshakeTimeout bounds the initial dial and auth_ok wait.
	HandshakeTimeout time.Duration
}

// Client maintains a reconnecting tunnel session and forwards pushed signals
// to a local HTTP endpoint.
type Client struct {
	cfg    Config
	logger zerolog.Logger
	http   *http.Client

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = 10 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		http:   &http.Client{Timeout: cfg.ForwardTimeout},
	}
}

// Run dials, authenticates, and pumps frames until ctx is canceled,
// reconnecting with exponential backoff and jitter after any failure.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connectedAt := time.Now()
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A session that stayed up a while resets the backoff; a fast
		// failure (bad URL, rejected auth) keeps climbing the ladder.
		if time.Since(connectedAt) > pingPeriod {
			backoff = initialBackoff
		}

		c.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("tunnel session ended, reconnecting")

		wait := jitter(backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// jitter returns d adjusted by +/-20%, matching the spec's reconnect policy.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.2
	delta := (rand.Float64()*2 - 1) * spread
	return d + time.Duration(delta)
}

func (c *Client) runOnce(ctx context.Context) error {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return fmt.Errorf("agentclient: invalid server url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("agentclient: dial: %w", err)
	}
	defer conn.Close()

	if err := c.authenticate(conn); err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	c.logger.Info().Str("server_url", c.cfg.ServerURL).Msg("tunnel session established")

	done := make(chan struct{})
	go c.writePump(conn, done)
	defer close(done)

	return c.readPump(ctx, conn)
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	auth := types.TunnelAuthMsg{Type: types.TunnelAuth, Token: c.cfg.ApiKey}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("agentclient: write auth frame: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("agentclient: read auth response: %w", err)
	}

	var env types.TunnelEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("agentclient: malformed auth response: %w", err)
	}
	switch env.Type {
	case types.TunnelAuthOK:
		var ok types.TunnelAuthOKMsg
		_ = json.Unmarshal(raw, &ok)
		c.logger.Debug().Str("connection_id", ok.ConnectionID).Str("subscriber_id", ok.SubscriberID).Msg("tunnel authenticated")
		return nil
	case types.TunnelAuthError:
		var fail types.TunnelAuthErrorMsg
		_ = json.Unmarshal(raw, &fail)
		return fmt.Errorf("agentclient: auth rejected: %s", fail.Message)
	default:
		return fmt.Errorf("agentclient: unexpected frame %q during handshake", env.Type)
	}
}

func (c *Client) writePump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("agentclient: read: %w", err)
		}

		var env types.TunnelEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn().Err(err).Msg("agentclient: malformed frame, ignoring")
			continue
		}

		switch env.Type {
		case types.TunnelSignal:
			var push types.TunnelSignalPush
			if err := json.Unmarshal(raw, &push); err != nil {
				c.logger.Warn().Err(err).Msg("agentclient: malformed signal push, ignoring")
				continue
			}
			c.handlePush(ctx, conn, push)
		case types.TunnelPing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteJSON(types.TunnelPongMsg{Type: types.TunnelPong})
		default:
			c.logger.Debug().Str("type", string(env.Type)).Msg("agentclient: unhandled frame type")
		}
	}
}

func (c *Client) handlePush(ctx context.Context, conn *websocket.Conn, push types.TunnelSignalPush) {
	forwardErr := c.forward(ctx, push)

	ack := types.TunnelAckMsg{Type: types.TunnelAck, DeliveryID: push.DeliveryID}
	if forwardErr != nil {
		ack.Error = forwardErr.Error()
		c.logger.Warn().Err(forwardErr).Str("delivery_id", push.DeliveryID).Msg("agentclient: local forward failed")
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ack); err != nil {
		c.logger.Warn().Err(err).Str("delivery_id", push.DeliveryID).Msg("agentclient: failed to send ack")
	}
}

// forward POSTs the signal to the configured local URL. A non-2xx response
// or transport error becomes a negative ack.
func (c *Client) forward(ctx context.Context, push types.TunnelSignalPush) error {
	body, err := json.Marshal(push.Signal)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}

	fctx, cancel := context.WithTimeout(ctx, c.cfg.ForwardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fctx, http.MethodPost, c.cfg.ForwardURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Herald-Channel-Id", push.ChannelID)
	req.Header.Set("X-Herald-Channel-Slug", push.ChannelSlug)
	req.Header.Set("X-Herald-Delivery-Id", push.DeliveryID)
	if c.cfg.ForwardToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.ForwardToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("forward request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("local handler returned status %d", resp.StatusCode)
	}
	return nil
}
