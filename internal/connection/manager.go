// Package connection implements the lifecycle of the persistent channel to
// one auction room: dial, authenticate, join, reconnect with bounded backoff,
// and teardown. It owns the socket; everything it reads is handed to a Sink
// in receipt order.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Tj-Github30/live-flash-auction-sub000/internal/room/events"
)

// ErrAuthFailed marks a credential rejection at connect time. Auth failures
// are fatal for the manager; they are never retried.
var ErrAuthFailed = errors.New("authentication rejected")

// ErrNotJoined is returned for outbound sends while not joined to the room.
var ErrNotJoined = errors.New("not joined to the room")

// State is the connection manager's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateJoined
	StateLeaving
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sink receives everything the manager produces. Calls arrive from the
// manager's goroutines; implementations should enqueue, not block.
type Sink interface {
	// InboundEvent delivers one decoded envelope in receipt order.
	InboundEvent(env events.Envelope)
	// StateChange reports every lifecycle transition.
	StateChange(state State)
	// Rejoined fires after a successful re-join following a drop. Buffered
	// events are not replayed across a drop, so the subscriber should fetch
	// a fresh snapshot.
	Rejoined()
}

// Config holds connection parameters for one room.
type Config struct {
	URL        string // websocket endpoint
	AuctionID  string
	Credential string // short-lived bearer token

	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	JoinTimeout    time.Duration
	MaxMessageSize int64

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int
}

// DefaultConfig returns the standard connection parameters for a room.
func DefaultConfig(url, auctionID, credential string) Config {
	return Config{
		URL:            url,
		AuctionID:      auctionID,
		Credential:     credential,
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		JoinTimeout:    10 * time.Second,
		MaxMessageSize: 64 * 1024,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		MaxRetries:     6,
	}
}

// Manager drives the connection state machine for one room:
//
//	Idle -> Connecting -> Joined -> Leaving -> Idle
//	                      Joined -> Disconnected -> Connecting (retry)
//
// Transport drops are retried with doubling backoff up to MaxRetries, then
// surfaced once as Failed. A Manager is single-use; a new room session needs
// a new Manager.
type Manager struct {
	config Config
	sink   Sink
	clock  clockwork.Clock
	dialer *websocket.Dialer

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	started bool
	leaving bool

	writeMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(config Config, sink Sink, clock clockwork.Clock) *Manager {
	return &Manager{
		config: config,
		sink:   sink,
		clock:  clock,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start brings the connection up and keeps it alive until ctx is cancelled,
// Leave is called, or the retry budget is exhausted.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("connection manager already started")
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	backoff := m.config.InitialBackoff
	attempts := 0
	joinedOnce := false

	for {
		if ctx.Err() != nil {
			m.settle()
			return
		}
		m.setState(StateConnecting)

		conn, err := m.dialAndJoin(ctx)
		if err != nil {
			if errors.Is(err, ErrAuthFailed) {
				log.Error().Err(err).
					Str("auction_id", m.config.AuctionID).
					Msg("room authentication failed")
				m.setState(StateFailed)
				return
			}
			if ctx.Err() != nil {
				m.settle()
				return
			}

			attempts++
			if attempts > m.config.MaxRetries {
				log.Error().Err(err).
					Int("attempts", attempts-1).
					Str("auction_id", m.config.AuctionID).
					Msg("room connection retries exhausted")
				m.setState(StateFailed)
				return
			}
			log.Warn().Err(err).
				Int("attempt", attempts).
				Dur("retry_in", backoff).
				Msg("room connection attempt failed")

			select {
			case <-ctx.Done():
				m.settle()
				return
			case <-m.clock.After(backoff):
			}
			backoff *= 2
			if backoff > m.config.MaxBackoff {
				backoff = m.config.MaxBackoff
			}
			continue
		}

		attempts = 0
		backoff = m.config.InitialBackoff
		if joinedOnce {
			m.sink.Rejoined()
		}
		joinedOnce = true
		m.setState(StateJoined)

		pingCtx, stopPing := context.WithCancel(ctx)
		go m.pingLoop(pingCtx, conn)
		readErr := m.readLoop(conn)
		stopPing()
		conn.Close()

		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()

		if ctx.Err() != nil {
			m.settle()
			return
		}
		log.Warn().Err(readErr).
			Str("auction_id", m.config.AuctionID).
			Msg("room connection dropped")
		m.setState(StateDisconnected)
	}
}

// dialAndJoin opens the socket, authenticates, and performs the explicit
// room join. Join is never implied by a transport-level (re)connect.
func (m *Manager) dialAndJoin(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if m.config.Credential != "" {
		header.Set("Authorization", "Bearer "+m.config.Credential)
	}

	conn, resp, err := m.dialer.DialContext(ctx, m.config.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrAuthFailed, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", m.config.URL, err)
	}
	conn.SetReadLimit(m.config.MaxMessageSize)

	// Expose the socket early so Leave can unblock the join wait.
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	frame, err := events.EncodeClientMessage(events.TypeJoinRoom, events.JoinRoomPayload{
		AuctionID:  m.config.AuctionID,
		Credential: m.config.Credential,
	})
	if err != nil {
		m.dropConn(conn)
		return nil, fmt.Errorf("encode join_room: %w", err)
	}
	if err := m.writeFrame(conn, websocket.TextMessage, frame); err != nil {
		m.dropConn(conn)
		return nil, fmt.Errorf("send join_room: %w", err)
	}

	// Wait bounded for the joined_room acknowledgment. Everything read while
	// waiting is still forwarded in receipt order.
	conn.SetReadDeadline(time.Now().Add(m.config.JoinTimeout))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.dropConn(conn)
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
				return nil, fmt.Errorf("%w: %s", ErrAuthFailed, closeErr.Text)
			}
			return nil, fmt.Errorf("awaiting joined_room: %w", err)
		}

		var env events.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Warn().Err(err).Msg("dropping undecodable frame during join")
			continue
		}
		m.sink.InboundEvent(env)
		if env.Type == events.TypeJoinedRoom {
			return conn, nil
		}
	}
}

// readLoop decodes inbound envelopes until the connection errors. Within one
// connection instance, events reach the sink in receipt order.
func (m *Manager) readLoop(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(m.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.config.PongTimeout))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(m.config.PongTimeout))

		var env events.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Warn().Err(err).Msg("dropping undecodable room event")
			continue
		}
		m.sink.InboundEvent(env)
	}
}

// pingLoop keeps the connection alive while joined.
func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.writeFrame(conn, websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// SendChat sends a chat message over the room channel. Chat is the only
// payload a client pushes here; bids travel the REST path.
func (m *Manager) SendChat(text string) error {
	m.mu.Lock()
	conn := m.conn
	joined := m.state == StateJoined
	m.mu.Unlock()

	if !joined || conn == nil {
		return ErrNotJoined
	}

	frame, err := events.EncodeClientMessage(events.TypeSendChat, events.SendChatPayload{
		AuctionID: m.config.AuctionID,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("encode send_chat: %w", err)
	}
	if err := m.writeFrame(conn, websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send chat: %w", err)
	}
	return nil
}

// Leave notifies the server, best effort, then tears the connection down.
// Delivery of the leave_room message is not guaranteed.
func (m *Manager) Leave(ctx context.Context) error {
	m.mu.Lock()
	if !m.started || m.leaving {
		m.mu.Unlock()
		return nil
	}
	m.leaving = true
	conn := m.conn
	cancel := m.cancel
	m.mu.Unlock()

	m.setState(StateLeaving)

	if conn != nil {
		frame, err := events.EncodeClientMessage(events.TypeLeaveRoom, events.LeaveRoomPayload{
			AuctionID: m.config.AuctionID,
		})
		if err == nil {
			if err := m.writeFrame(conn, websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Msg("leave notification not delivered")
			}
		}
		m.writeFrame(conn, websocket.CloseMessage, []byte{})
	}

	cancel()
	if conn != nil {
		conn.Close()
	}

	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.setState(StateIdle)
	return nil
}

func (m *Manager) writeFrame(conn *websocket.Conn, messageType int, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
	return conn.WriteMessage(messageType, data)
}

func (m *Manager) dropConn(conn *websocket.Conn) {
	conn.Close()
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
}

// settle parks the state machine in Idle after a cancelled run, unless a
// fatal failure already stuck it in Failed.
func (m *Manager) settle() {
	if m.State() != StateFailed {
		m.setState(StateIdle)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	log.Debug().
		Str("conn_state", s.String()).
		Str("auction_id", m.config.AuctionID).
		Msg("connection state changed")
	m.sink.StateChange(s)
}
