package tunnel

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/identity"
	"github.com/heraldhq/herald/internal/ratelimit"
	"github.com/heraldhq/herald/internal/types"
)

// ConnTracker persists the lifecycle of a tunnel session for observability
// (§3 AgentConnection); failures here never block the connection itself.
type ConnTracker interface {
	InsertAgentConnection(ctx context.Context, c *types.AgentConnection) error
	CloseAgentConnection(ctx context.Context, id string, reason string) error
}

// Authenticator validates the raw key carried by a tunnel auth frame.
type Authenticator interface {
	ValidateRaw(ctx context.Context, raw string) (*identity.AuthResult, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades and supervises tunnel connections (§4.C6).
type Server struct {
	registry *Registry
	router   *Router
	guard    *ratelimit.ConnGuard
	auth     Authenticator
	tracker  ConnTracker
	store    RedeliveryStore
	queue    Requeuer
	logger   zerolog.Logger
	serverID string

	handshakeTimeout time.Duration
	heartbeat        time.Duration
	queueCapacity    int
}

func NewServer(serverID string, registry *Registry, router *Router, guard *ratelimit.ConnGuard, auth Authenticator, tracker ConnTracker, store RedeliveryStore, q Requeuer, handshakeTimeout, heartbeat time.Duration, queueCapacity int, logger zerolog.Logger) *Server {
	return &Server{
		registry:         registry,
		router:           router,
		guard:            guard,
		auth:             auth,
		tracker:          tracker,
		store:            store,
		queue:            q,
		logger:           logger,
		serverID:         serverID,
		handshakeTimeout: handshakeTimeout,
		heartbeat:        heartbeat,
		queueCapacity:    queueCapacity,
	}
}

// ServeHTTP handles GET /v1/tunnel: WebSocket upgrade followed by an
// explicit auth handshake before any signal can flow (§4.C6).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if s.guard != nil && !s.guard.Allow(ip) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info().Err(err).Str("remote", ip).Msg("tunnel upgrade failed")
		return
	}

	connectionID := types.NewID("conn")
	auth, ok := s.handshake(conn, connectionID)
	if !ok {
		_ = conn.Close()
		return
	}

	tunnelConn := newConnection(conn, s.registry, auth.OwnerID, connectionID, s.queueCapacity, s.heartbeat, s.logger, s.onAck, s.onHeartbeat)

	s.registry.Register(tunnelConn)
	s.router.MarkHome(context.Background(), auth.OwnerID, s.serverID)

	if s.tracker != nil {
		_ = s.tracker.InsertAgentConnection(context.Background(), &types.AgentConnection{
			ID:           connectionID,
			SubscriberID: auth.OwnerID,
			ServerID:     s.serverID,
			ConnectedAt:  time.Now().UTC(),
		})
	}

	s.logger.Info().Str("subscriber_id", auth.OwnerID).Str("connection_id", connectionID).Msg("tunnel connection established")

	tunnelConn.run()

	if s.tracker != nil {
		_ = s.tracker.CloseAgentConnection(context.Background(), connectionID, "connection closed")
	}
	s.router.ClearHome(context.Background(), auth.OwnerID)
}

// handshake reads exactly one frame within the handshake deadline and
// expects it to be a valid `auth` message; any other outcome fails the
// connection (§4.C6: "a handshake deadline of 10 seconds applies").
func (s *Server) handshake(conn *websocket.Conn, connectionID string) (*identity.AuthResult, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}

	var msg types.TunnelAuthMsg
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != types.TunnelAuth || msg.Token == "" {
		s.writeAuthError(conn, "expected an auth frame")
		return nil, false
	}

	result, err := s.auth.ValidateRaw(context.Background(), msg.Token)
	if err != nil {
		s.writeAuthError(conn, "invalid token")
		return nil, false
	}
	if result.OwnerType != types.OwnerSubscriber {
		s.writeAuthError(conn, "token is not a subscriber key")
		return nil, false
	}

	ok := types.TunnelAuthOKMsg{Type: types.TunnelAuthOK, ConnectionID: connectionID, SubscriberID: result.OwnerID}
	body, _ := json.Marshal(ok)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return nil, false
	}

	return result, true
}

func (s *Server) writeAuthError(conn *websocket.Conn, message string) {
	msg := types.TunnelAuthErrorMsg{Type: types.TunnelAuthError, Message: message}
	body, _ := json.Marshal(msg)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, body)
}

// onAck is invoked by a Connection when the agent acknowledges a delivery.
// A positive ack is purely informational; a negative one downgrades the
// delivery to failed and puts it back on the retry ladder (§4.C6: "a
// negative ack SHOULD cause the worker to mark that delivery as failed and
// enter the retry ladder"). Runs off the connection's read goroutine so a
// slow store call never stalls frame processing for that socket.
func (s *Server) onAck(deliveryID, negativeErr string) {
	if negativeErr == "" {
		s.logger.Debug().Str("delivery_id", deliveryID).Msg("received tunnel ack")
		return
	}
	s.logger.Info().Str("delivery_id", deliveryID).Str("error", negativeErr).Msg("received negative tunnel ack")
	go s.downgradeAndRetry(context.Background(), deliveryID, negativeErr)
}

// onHeartbeat is invoked every heartbeat interval by a live Connection's
// write pump, refreshing the cross-server home-routing record so it never
// expires out from under a socket that is still open (§4.C6, home-routing
// key TTL is refreshed on each heartbeat).
func (s *Server) onHeartbeat(subscriberID string) {
	s.router.MarkHome(context.Background(), subscriberID, s.serverID)
}

// Push attempts local-or-remote delivery to a subscriber's tunnel, choosing
// between the in-process registry and cross-server forwarding (§4.C6).
func (s *Server) Push(ctx context.Context, subscriberID string, msg types.TunnelSignalPush) (bool, error) {
	if conn, ok := s.registry.Get(subscriberID); ok {
		return conn.Push(msg), nil
	}
	return s.router.Forward(ctx, subscriberID, msg)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
