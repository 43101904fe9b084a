package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Failure classes. ErrAuthFailed is terminal for the current credential:
// the manager stops reconnecting until Connect is called with a fresh token.
var (
	ErrAuthFailed   = errors.New("channel: authentication rejected")
	ErrNotConnected = errors.New("channel: not connected")
)

// Reconnect policy.
const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
	defaultHandshakeTimeout  = 10 * time.Second
	defaultAuthTimeout       = 10 * time.Second
)

// Handler receives the raw payload of one server frame.
type Handler func(data json.RawMessage)

// Config tunes a Manager. The zero value of every field selects a default.
type Config struct {
	Logger            *slog.Logger
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HandshakeTimeout  time.Duration
	AuthTimeout       time.Duration
}

type registration struct {
	id int
	fn Handler
}

// Manager owns one messaging connection. It is constructed once and shared:
// every screen and the background service talk through the same Manager, so
// room membership is tagged per holder and the wire join/leave fires only
// when a room's holder count crosses zero. Server frames fan out to handlers
// registered with On, in registration order.
type Manager struct {
	cfg Config

	wmu sync.Mutex // serializes writes to the websocket

	mu       sync.Mutex
	endpoint string
	token    string
	conn     *websocket.Conn
	gen      int // connection generation; stale readLoops see a mismatch
	authed   bool
	closed   bool // Disconnect was called; suppresses reconnect
	rooms    map[string]map[string]struct{}
	handlers map[string][]registration
	nextID   int
	authWait chan error
}

// NewManager creates a disconnected Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	return &Manager{
		cfg:      cfg,
		rooms:    make(map[string]map[string]struct{}),
		handlers: make(map[string][]registration),
	}
}

// Connect establishes the messaging connection and authenticates. When the
// transport is already open, only the authenticate frame is sent: a fresh
// credential does not need a new connection. Active rooms are re-joined
// after every successful authentication.
func (m *Manager) Connect(ctx context.Context, endpoint, token string) error {
	m.mu.Lock()
	m.endpoint = endpoint
	m.token = token
	m.closed = false
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		return m.authenticate(ctx, conn)
	}
	return m.dial(ctx)
}

// Disconnect tears down the transport and clears all room membership.
// Idempotent. No reconnect is attempted until the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.authed = false
	m.closed = true
	m.gen++
	m.rooms = make(map[string]map[string]struct{})
	wait := m.authWait
	m.authWait = nil
	m.mu.Unlock()

	if wait != nil {
		wait <- ErrNotConnected
	}
	if conn != nil {
		conn.Close()
	}
}

// IsConnected reports whether the transport is open and authenticated.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.authed
}

// JoinRoom records the holder's interest in a room. The wire join fires only
// for the first holder; later holders piggyback on the open membership.
// Membership is tracked even while disconnected and restored on reconnect.
func (m *Manager) JoinRoom(roomID, holder string) {
	m.mu.Lock()
	hs := m.rooms[roomID]
	if hs == nil {
		hs = make(map[string]struct{})
		m.rooms[roomID] = hs
	}
	_, had := hs[holder]
	hs[holder] = struct{}{}
	first := !had && len(hs) == 1
	conn, authed := m.conn, m.authed
	m.mu.Unlock()

	if !first {
		return
	}
	if conn == nil || !authed {
		m.cfg.Logger.Debug("room join deferred until connected", "room", roomID)
		return
	}
	if err := m.writeFrame(conn, roomFrame(EventJoinRoom, roomID)); err != nil {
		m.cfg.Logger.Warn("room join not sent", "room", roomID, "error", err)
	}
}

// LeaveRoom drops the holder's interest. The wire leave fires only when the
// last holder is gone: one scheduler's exit cannot cancel membership another
// scheduler still needs.
func (m *Manager) LeaveRoom(roomID, holder string) {
	m.mu.Lock()
	hs := m.rooms[roomID]
	if hs == nil {
		m.mu.Unlock()
		return
	}
	_, had := hs[holder]
	delete(hs, holder)
	last := had && len(hs) == 0
	if len(hs) == 0 {
		delete(m.rooms, roomID)
	}
	conn, authed := m.conn, m.authed
	m.mu.Unlock()

	if !last {
		return
	}
	if conn == nil || !authed {
		return
	}
	if err := m.writeFrame(conn, roomFrame(EventLeaveRoom, roomID)); err != nil {
		m.cfg.Logger.Warn("room leave not sent", "room", roomID, "error", err)
	}
}

// ActiveRooms returns the IDs of all rooms with at least one holder, sorted.
func (m *Manager) ActiveRooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// On registers a handler for a server event. Handlers for the same event run
// in registration order. The returned function deregisters the handler.
func (m *Manager) On(event string, fn Handler) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.handlers[event] = append(m.handlers[event], registration{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		regs := m.handlers[event]
		for i, reg := range regs {
			if reg.id == id {
				m.handlers[event] = append(regs[:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Send emits a client frame with the given event name and payload.
func (m *Manager) Send(event string, data any) error {
	m.mu.Lock()
	conn, authed := m.conn, m.authed
	m.mu.Unlock()
	if conn == nil || !authed {
		return ErrNotConnected
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("channel: encode %s payload: %w", event, err)
	}
	return m.writeFrame(conn, Frame{Event: event, Data: raw})
}

// SendMessage posts a chat message to a room.
func (m *Manager) SendMessage(roomID, body string) error {
	return m.Send(EventSendMessage, Message{RoomID: roomID, Body: body})
}

func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	endpoint := m.endpoint
	m.mu.Unlock()

	wsURL, err := websocketURL(endpoint)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("channel: dial %s: %w", wsURL, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	}
	m.conn = conn
	m.authed = false
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.readLoop(conn, gen)

	if err := m.authenticate(ctx, conn); err != nil {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
			m.authed = false
			m.gen++
		}
		m.mu.Unlock()
		conn.Close()
		return err
	}
	return nil
}

// authenticate sends the credential and waits for the server's verdict,
// then re-joins every active room.
func (m *Manager) authenticate(ctx context.Context, conn *websocket.Conn) error {
	wait := make(chan error, 1)
	m.mu.Lock()
	token := m.token
	m.authWait = wait
	m.mu.Unlock()

	payload, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return fmt.Errorf("channel: encode credential: %w", err)
	}
	if err := m.writeFrame(conn, Frame{Event: EventAuthenticate, Data: payload}); err != nil {
		return err
	}

	select {
	case err := <-wait:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.cfg.AuthTimeout):
		return errors.New("channel: authentication timed out")
	}

	for _, roomID := range m.ActiveRooms() {
		if err := m.writeFrame(conn, roomFrame(EventJoinRoom, roomID)); err != nil {
			m.cfg.Logger.Warn("room re-join not sent", "room", roomID, "error", err)
		}
	}
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			m.connectionLost(conn, gen, err)
			return
		}

		switch frame.Event {
		case EventAuthenticated:
			m.mu.Lock()
			if gen == m.gen {
				m.authed = true
			}
			wait := m.authWait
			m.authWait = nil
			m.mu.Unlock()
			if wait != nil {
				wait <- nil
			}

		case EventAuthFailed:
			var body struct {
				Message string `json:"message"`
			}
			json.Unmarshal(frame.Data, &body)
			failure := ErrAuthFailed
			if body.Message != "" {
				failure = fmt.Errorf("%w: %s", ErrAuthFailed, body.Message)
			}
			m.mu.Lock()
			if gen == m.gen {
				m.authed = false
			}
			wait := m.authWait
			m.authWait = nil
			m.mu.Unlock()
			if wait != nil {
				wait <- failure
			} else {
				m.cfg.Logger.Warn("channel authentication revoked", "error", failure)
			}
		}

		m.dispatch(frame)
	}
}

// connectionLost handles a read failure: unless the loss was deliberate or
// this loop was superseded by a newer connection, schedule a reconnect.
func (m *Manager) connectionLost(conn *websocket.Conn, gen int, cause error) {
	conn.Close()

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.authed = false
	wait := m.authWait
	m.authWait = nil
	m.mu.Unlock()

	if wait != nil {
		wait <- fmt.Errorf("channel: connection lost: %w", cause)
		return
	}

	m.cfg.Logger.Warn("channel connection lost", "error", cause)
	go m.reconnect()
}

func (m *Manager) reconnect() {
	for attempt := 1; attempt <= m.cfg.ReconnectAttempts; attempt++ {
		time.Sleep(m.cfg.ReconnectDelay)

		m.mu.Lock()
		stop := m.closed || m.conn != nil
		m.mu.Unlock()
		if stop {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
		err := m.dial(ctx)
		cancel()
		if err == nil {
			m.cfg.Logger.Info("channel reconnected", "attempt", attempt)
			return
		}
		if errors.Is(err, ErrAuthFailed) {
			m.cfg.Logger.Warn("channel reconnect stopped: credential rejected")
			return
		}
		m.cfg.Logger.Warn("channel reconnect failed", "attempt", attempt, "error", err)
	}
	m.cfg.Logger.Warn("channel reconnect abandoned", "attempts", m.cfg.ReconnectAttempts)
}

func (m *Manager) dispatch(frame Frame) {
	m.mu.Lock()
	regs := append([]registration(nil), m.handlers[frame.Event]...)
	m.mu.Unlock()
	for _, reg := range regs {
		reg.fn(frame.Data)
	}
}

func (m *Manager) writeFrame(conn *websocket.Conn, frame Frame) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return conn.WriteJSON(frame)
}

func roomFrame(event, roomID string) Frame {
	raw, _ := json.Marshal(map[string]string{"room_id": roomID})
	return Frame{Event: event, Data: raw}
}

// websocketURL converts a server endpoint to the websocket address: http
// becomes ws, https becomes wss, and a bare host gets the /ws path.
func websocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("channel: parse endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("channel: unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
