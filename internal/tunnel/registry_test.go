package tunnel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// dialServerConn spins up a single-shot upgrade server and returns the
// server-side *websocket.Conn for use as test fixtures, mirroring how
// newConnection is always built from an already-upgraded connection.
func dialServerConn(t *testing.T) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	connCh := make(chan *websocket.Conn, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		connCh <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = clientConn.Close() })

	select {
	case conn := <-connCh:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side upgrade")
		return nil
	}
}

func newTestConnection(t *testing.T, registry *Registry, subscriberID string) *Connection {
	t.Helper()
	ws := dialServerConn(t)
	return newConnection(ws, registry, subscriberID, "conn_"+subscriberID, 8, time.Second, zerolog.Nop(), nil, nil)
}

func TestRegistryRegisterGetCount(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	conn := newTestConnection(t, registry, "sub_1")

	registry.Register(conn)

	got, ok := registry.Get("sub_1")
	if !ok || got != conn {
		t.Fatalf("Get(sub_1) = (%v, %v), want (conn, true)", got, ok)
	}
	if registry.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", registry.Count())
	}
}

func TestRegistryUnregisterOnlyRemovesCurrentConnection(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	first := newTestConnection(t, registry, "sub_1")
	registry.Register(first)

	second := newTestConnection(t, registry, "sub_1")
	registry.Register(second)

	// first was displaced; unregistering it must not remove second.
	registry.Unregister(first)
	got, ok := registry.Get("sub_1")
	if !ok || got != second {
		t.Fatalf("Get(sub_1) after stale unregister = (%v, %v), want (second, true)", got, ok)
	}

	registry.Unregister(second)
	if _, ok := registry.Get("sub_1"); ok {
		t.Fatalf("expected sub_1 to be gone after unregistering current connection")
	}
}

func TestRegistryRegisterDisplacesExisting(t *testing.T) {
	registry := NewRegistry(zerolog.Nop())
	first := newTestConnection(t, registry, "sub_1")
	registry.Register(first)

	second := newTestConnection(t, registry, "sub_1")
	registry.Register(second)

	if registry.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 (second replaces first for the same subscriber)", registry.Count())
	}
	got, _ := registry.Get("sub_1")
	if got != second {
		t.Fatalf("Get(sub_1) = %v, want second connection to have won the slot", got)
	}
}
