// Package transport owns the WebSocket lifecycle: connect, receive loop,
// send, close, and reconnect with capped exponential backoff. All state
// transitions are observable on the event stream; no silent failures.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	eventBufSize   = 256
)

// ErrNotConnected is returned by Send when no socket is open. Callers decide
// whether to surface a retry; the core does not queue unsent commands.
var ErrNotConnected = errors.New("transport: not connected")

// State is the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// EventType tags events on the session's stream.
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventFrameReceived
)

// Event is a transport-level occurrence. Frame is set only for
// EventFrameReceived and carries the raw inbound payload.
type Event struct {
	Type  EventType
	Frame []byte
}

// Session is a single persistent connection to the messaging backend.
// Construct with NewSession, tear down with Close at logout.
type Session struct {
	wsURL       string
	dialer      *websocket.Dialer
	backoffBase time.Duration
	maxAttempts int

	mu          sync.Mutex
	conn        *websocket.Conn
	state       State
	token       string
	intentional bool
	attempt     int
	cancelWait  chan struct{}

	// writeMu serializes socket writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	// wait blocks for d or until cancel fires; returns false when cancelled.
	// Replaceable in tests to avoid real sleeps.
	wait func(d time.Duration, cancel <-chan struct{}) bool
}

// NewSession creates a session for the given wss:// URL. backoffBase <= 0
// defaults to 1s, maxAttempts <= 0 to 5.
func NewSession(wsURL string, backoffBase time.Duration, maxAttempts int) *Session {
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Session{
		wsURL:       wsURL,
		dialer:      websocket.DefaultDialer,
		backoffBase: backoffBase,
		maxAttempts: maxAttempts,
		state:       StateDisconnected,
		events:      make(chan Event, eventBufSize),
		done:        make(chan struct{}),
		wait:        defaultWait,
	}
}

// Events returns the session's event stream. Single consumer expected.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the backend as <ws-url>?token=<accessToken>. No-op when
// already connected or connecting. An explicit Connect during a pending
// backoff wait cancels the wait and dials immediately.
func (s *Session) Connect(token string) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	if s.cancelWait != nil {
		close(s.cancelWait)
		s.cancelWait = nil
	}
	s.state = StateConnecting
	s.intentional = false
	s.token = token
	s.mu.Unlock()

	return s.dial()
}

// Disconnect is explicit and user-initiated: it closes the socket, resets the
// attempt counter and suppresses the reconnect policy, including a pending
// backoff wait.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.intentional = true
	s.attempt = 0
	if s.cancelWait != nil {
		close(s.cancelWait)
		s.cancelWait = nil
	}
	conn := s.conn
	s.conn = nil
	wasConnected := s.state == StateConnected
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(writeWait)
		if err := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline); err != nil {
			logger.Debugf("transport: close frame: %v", err)
		}
		conn.Close()
	}
	if wasConnected {
		s.emit(Event{Type: EventDisconnected})
	}
}

// Close tears the session down for good; the event stream stops delivering.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Disconnect()
		close(s.done)
	})
}

// Send encodes the frame and writes it to the socket. Returns ErrNotConnected
// when no socket is open.
func (s *Session) Send(frame protocol.Frame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("ws set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}

func (s *Session) dial() error {
	s.mu.Lock()
	u := s.wsURL + "?token=" + url.QueryEscape(s.token)
	s.mu.Unlock()

	conn, resp, err := s.dialer.Dial(u, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		s.emit(Event{Type: EventDisconnected})
		s.scheduleReconnect()
		return fmt.Errorf("ws dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	s.mu.Lock()
	if s.intentional {
		// Disconnect raced the dial; drop the fresh socket.
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.state = StateConnected
	s.attempt = 0
	s.mu.Unlock()

	s.emit(Event{Type: EventConnected})
	go s.readPump(conn)
	return nil
}

// readPump is the single producer of inbound events. Runs until the socket
// errors; frames are delivered in the exact order the socket yields them.
func (s *Session) readPump(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			intentional := s.intentional
			if s.conn == conn {
				s.conn = nil
				s.state = StateDisconnected
			}
			s.mu.Unlock()

			if intentional {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("transport: read: %v", err)
			}
			s.emit(Event{Type: EventDisconnected})
			s.scheduleReconnect()
			return
		}
		s.emit(Event{Type: EventFrameReceived, Frame: raw})
	}
}

// scheduleReconnect applies the backoff policy: delay = base * 2^(attempt-1),
// attempts 1..maxAttempts; after the last failed attempt it stops and the
// caller must Connect explicitly. The counter resets only on a successful
// open (or an explicit Disconnect).
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.intentional {
		s.mu.Unlock()
		return
	}
	if s.attempt >= s.maxAttempts {
		logger.Errorf("transport: reconnect attempts exhausted (%d), waiting for explicit connect", s.maxAttempts)
		s.mu.Unlock()
		return
	}
	s.attempt++
	attempt := s.attempt
	delay := s.backoffBase << (attempt - 1)
	cancel := make(chan struct{})
	s.cancelWait = cancel
	s.state = StateReconnecting
	s.mu.Unlock()

	logger.Infof("transport: reconnect attempt %d/%d in %s", attempt, s.maxAttempts, delay)
	go func() {
		if !s.wait(delay, cancel) {
			return
		}
		s.mu.Lock()
		if s.intentional || s.state != StateReconnecting {
			s.mu.Unlock()
			return
		}
		s.cancelWait = nil
		s.state = StateConnecting
		s.mu.Unlock()
		s.dial() // a failed dial schedules the next attempt itself
	}()
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func defaultWait(d time.Duration, cancel <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-cancel:
		return false
	}
}
