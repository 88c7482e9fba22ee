package transport

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/protocol"
)

// wsServer is a minimal backend: upgrades on /ws, records tokens and
// connections, and forwards inbound frames to a channel.
type wsServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	tokens []string

	inbound chan []byte
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	ws := &wsServer{inbound: make(chan []byte, 16)}
	r := chi.NewRouter()
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := ws.upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		ws.conns = append(ws.conns, conn)
		ws.tokens = append(ws.tokens, req.URL.Query().Get("token"))
		ws.mu.Unlock()
		go func() {
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				ws.inbound <- msg
			}
		}()
	})
	ws.srv = httptest.NewServer(r)
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http") + "/ws"
}

func (ws *wsServer) connCount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.conns)
}

func (ws *wsServer) conn(i int) *websocket.Conn {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.conns[i]
}

func (ws *wsServer) token(i int) string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.tokens[i]
}

// deadURL returns a ws:// URL nothing listens on, so dials fail immediately.
func deadURL(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "ws://" + addr + "/ws"
}

func waitEvent(t *testing.T, s *Session, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event type %d", want)
		}
	}
}

func TestConnectSendReceive(t *testing.T) {
	ws := newWSServer(t)
	s := NewSession(ws.url(), time.Millisecond, 5)
	t.Cleanup(s.Close)

	require.NoError(t, s.Connect("tok-123"))
	waitEvent(t, s, EventConnected)
	require.Equal(t, StateConnected, s.State())
	require.Equal(t, "tok-123", ws.token(0))

	// Server push reaches the event stream as a raw frame.
	require.NoError(t, ws.conn(0).WriteMessage(websocket.TextMessage,
		[]byte(`{"action":"message:typing","conversationId":"c1","userId":"u1","isTyping":true}`)))
	ev := waitEvent(t, s, EventFrameReceived)
	require.Contains(t, string(ev.Frame), `"message:typing"`)

	// Outbound frames arrive JSON-encoded with the action envelope.
	require.NoError(t, s.Send(protocol.SendRead("c1")))
	select {
	case msg := <-ws.inbound:
		require.JSONEq(t, `{"action":"message:read","data":{"conversationId":"c1"}}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the server")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	ws := newWSServer(t)
	s := NewSession(ws.url(), time.Millisecond, 5)
	t.Cleanup(s.Close)

	require.NoError(t, s.Connect("tok"))
	waitEvent(t, s, EventConnected)
	require.NoError(t, s.Connect("tok"))

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, ws.connCount())
}

func TestSendWithoutConnection(t *testing.T) {
	s := NewSession("ws://127.0.0.1:0/ws", time.Millisecond, 5)
	t.Cleanup(s.Close)

	err := s.Send(protocol.SendRead("c1"))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestBackoffScheduleAndGiveUp(t *testing.T) {
	s := NewSession(deadURL(t), 10*time.Millisecond, 5)
	t.Cleanup(s.Close)

	var mu sync.Mutex
	var delays []time.Duration
	s.wait = func(d time.Duration, cancel <-chan struct{}) bool {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return true
	}

	require.Error(t, s.Connect("tok"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delays) == 5
	}, 2*time.Second, 2*time.Millisecond)

	// No sixth attempt after the cap.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	got := append([]time.Duration(nil), delays...)
	mu.Unlock()
	require.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		80 * time.Millisecond,
		160 * time.Millisecond,
	}, got)
	require.Equal(t, StateDisconnected, s.State())
}

func TestDisconnectCancelsPendingBackoff(t *testing.T) {
	s := NewSession(deadURL(t), time.Second, 5)
	t.Cleanup(s.Close)

	cancelled := make(chan struct{})
	s.wait = func(d time.Duration, cancel <-chan struct{}) bool {
		<-cancel
		close(cancelled)
		return false
	}

	require.Error(t, s.Connect("tok"))
	s.Disconnect()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("backoff wait was not cancelled")
	}
	require.Equal(t, StateDisconnected, s.State())
}

func TestReconnectAfterServerDrop(t *testing.T) {
	ws := newWSServer(t)
	s := NewSession(ws.url(), time.Millisecond, 5)
	t.Cleanup(s.Close)
	s.wait = func(d time.Duration, cancel <-chan struct{}) bool { return true }

	require.NoError(t, s.Connect("tok"))
	waitEvent(t, s, EventConnected)

	require.NoError(t, ws.conn(0).Close())
	waitEvent(t, s, EventDisconnected)
	waitEvent(t, s, EventConnected)

	require.Equal(t, 2, ws.connCount())

	// A successful reopen resets the attempt counter.
	s.mu.Lock()
	attempt := s.attempt
	s.mu.Unlock()
	require.Equal(t, 0, attempt)
}

func TestExplicitDisconnectSuppressesReconnect(t *testing.T) {
	ws := newWSServer(t)
	s := NewSession(ws.url(), time.Millisecond, 5)
	t.Cleanup(s.Close)

	var mu sync.Mutex
	waits := 0
	s.wait = func(d time.Duration, cancel <-chan struct{}) bool {
		mu.Lock()
		waits++
		mu.Unlock()
		return true
	}

	require.NoError(t, s.Connect("tok"))
	waitEvent(t, s, EventConnected)
	s.Disconnect()
	waitEvent(t, s, EventDisconnected)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, waits)
	require.Equal(t, 1, ws.connCount())
}
