package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testServer is an in-process messaging server: it records every client
// frame and answers authenticate and join_room.
type testServer struct {
	srv        *httptest.Server
	validToken string

	mu     sync.Mutex
	frames []Frame
	conns  []*websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{validToken: "good-token"}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			var f Frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, f)
			s.mu.Unlock()

			switch f.Event {
			case EventAuthenticate:
				var p struct {
					Token string `json:"token"`
				}
				json.Unmarshal(f.Data, &p)
				if p.Token == s.validToken {
					conn.WriteJSON(Frame{Event: EventAuthenticated})
				} else {
					data, _ := json.Marshal(map[string]string{"message": "bad token"})
					conn.WriteJSON(Frame{Event: EventAuthFailed, Data: data})
				}
			case EventJoinRoom:
				conn.WriteJSON(Frame{Event: EventJoinedRoom, Data: f.Data})
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *testServer) snapshot() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func (s *testServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// push sends a server frame on the most recent connection.
func (s *testServer) push(t *testing.T, f Frame) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		t.Fatal("no connection to push on")
	}
	if err := s.conns[len(s.conns)-1].WriteJSON(f); err != nil {
		t.Fatal(err)
	}
}

// dropConnections severs every open connection server-side.
func (s *testServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *testServer) waitFor(t *testing.T, pred func([]Frame) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pred(s.snapshot()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for frames; got %+v", s.snapshot())
}

func countEvents(frames []Frame, event string) int {
	n := 0
	for _, f := range frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

func newTestManager() *Manager {
	return NewManager(Config{
		ReconnectDelay:   10 * time.Millisecond,
		HandshakeTimeout: 5 * time.Second,
		AuthTimeout:      5 * time.Second,
	})
}

func TestManagerConnect(t *testing.T) {
	srv := newTestServer(t)
	m := newTestManager()

	if err := m.Connect(context.Background(), srv.srv.URL, "good-token"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Disconnect)

	if !m.IsConnected() {
		t.Error("IsConnected = false after successful connect")
	}

	m.Disconnect()
	if m.IsConnected() {
		t.Error("IsConnected = true after disconnect")
	}
}

func TestManagerAuthRejected(t *testing.T) {
	srv := newTestServer(t)
	m := newTestManager()

	err := m.Connect(context.Background(), srv.srv.URL, "wrong-token")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("got %v, want ErrAuthFailed", err)
	}
	if m.IsConnected() {
		t.Error("IsConnected = true after rejected credential")
	}
}

func TestManagerReauthenticatesInPlace(t *testing.T) {
	srv := newTestServer(t)
	m := newTestManager()

	if err := m.Connect(context.Background(), srv.srv.URL, "good-token"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Disconnect)

	if err := m.Connect(context.Background(), srv.srv.URL, "good-token"); err != nil {
		t.Fatal(err)
	}

	srv.waitFor(t, func(frames []Frame) bool {
		return countEvents(frames, EventAuthenticate) == 2
	})
	if srv.connCount() != 1 {
		t.Errorf("connections = %d, want 1 (re-auth must reuse the transport)", srv.connCount())
	}
}

func TestManagerHolderEdges(t *testing.T) {
	srv := newTestServer(t)
	m := newTestManager()

	if err := m.Connect(context.Background(), srv.srv.URL, "good-token"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Disconnect)

	m.JoinRoom("r1", "service")
	m.JoinRoom("r1", "screen")  // second holder: no wire frame
	m.JoinRoom("r1", "service") // repeat: no wire frame
	m.LeaveRoom("r1", "screen") // one holder remains: no wire frame

	srv.waitFor(t, func(frames []Frame) bool {
		return countEvents(frames, EventJoinRoom) == 1
	})
	if got := m.ActiveRooms(); len(got) != 1 || got[0] != "r1" {
		t.Errorf("ActiveRooms = %v, want [r1]", got)
	}

	m.LeaveRoom("r1", "service") // last holder: wire leave
	srv.waitFor(t, func(frames []Frame) bool {
		return countEvents(frames, EventLeaveRoom) == 1
	})
	if countEvents(srv.snapshot(), EventJoinRoom) != 1 {
		t.Errorf("join frames = %d, want 1", countEvents(srv.snapshot(), EventJoinRoom))
	}
	if got := m.ActiveRooms(); len(got) != 0 {
		t.Errorf("ActiveRooms = %v, want empty", got)
	}
}

func TestManagerJoinBeforeConnect(t *testing.T) {
	srv := newTestServer(t)
	m := newTestManager()

	m.JoinRoom("r1", "service")
	if got := m.ActiveRooms(); len(got) != 1 {
		t.Fatalf("ActiveRooms = %v, want [r1]", got)
	}

	if err := m.Connect(context.Background(), srv.srv.URL, "good-token"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Disconnect)

	// The deferred membership goes out with the post-auth re-join.
	srv.waitFor(t, func(frames []Frame) bool {
		return countEvents(frames, EventJoinRoom) == 1
	})
}

func TestManagerOnHandler(t *testing.T) {
	srv := newTestServer(t)
	m := newTestManager()

	if err := m.Connect(context.Background(), srv.srv.URL, "good-token"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Disconnect)

	got := make(chan Message, 4)
	cancel := m.On(EventNewMessage, func(data json.RawMessage) {
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Error(err)
			return
		}
		got <- msg
	})

	payload, _ := json.Marshal(Message{RoomID: "r1", Sender: "ana", Body: "hello"})
	srv.push(t, Frame{Event: EventNewMessage, Data: payload})

	select {
	case msg := <-got:
		if msg.RoomID != "r1" || msg.Sender != "ana" || msg.Body != "hello" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	cancel()
	srv.push(t, Frame{Event: EventNewMessage, Data: payload})
	// Reuse another event to fence: once it arrives, the cancelled handler
	// would already have fired if it were still registered.
	fence := make(chan struct{}, 1)
	m.On(EventNewConversation, func(json.RawMessage) { fence <- struct{}{} })
	srv.push(t, Frame{Event: EventNewConversation})
	select {
	case <-fence:
	case <-time.After(5 * time.Second):
		t.Fatal("fence event never arrived")
	}
	select {
	case msg := <-got:
		t.Errorf("cancelled handler received %+v", msg)
	default:
	}
}

func TestManagerReconnectRestoresRooms(t *testing.T) {
	srv := newTestServer(t)
	m := newTestManager()

	if err := m.Connect(context.Background(), srv.srv.URL, "good-token"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Disconnect)
	m.JoinRoom("r1", "service")

	srv.waitFor(t, func(frames []Frame) bool {
		return countEvents(frames, EventJoinRoom) == 1
	})

	srv.dropConnections()

	// The manager reconnects on its own: fresh transport, fresh
	// authentication, and the active room joined again.
	srv.waitFor(t, func(frames []Frame) bool {
		return countEvents(frames, EventAuthenticate) == 2 &&
			countEvents(frames, EventJoinRoom) == 2
	})
	if srv.connCount() != 2 {
		t.Errorf("connections = %d, want 2", srv.connCount())
	}

	deadline := time.Now().Add(5 * time.Second)
	for !m.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !m.IsConnected() {
		t.Error("manager did not recover the connection")
	}
	if got := m.ActiveRooms(); len(got) != 1 || got[0] != "r1" {
		t.Errorf("ActiveRooms = %v, want [r1]", got)
	}
}

func TestManagerSendRequiresConnection(t *testing.T) {
	m := newTestManager()
	if err := m.SendMessage("r1", "hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("got %v, want ErrNotConnected", err)
	}
}

func TestWebsocketURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://example.com:3000", "ws://example.com:3000/ws"},
		{"https://example.com", "wss://example.com/ws"},
		{"ws://example.com/socket", "ws://example.com/socket"},
		{"http://example.com/", "ws://example.com/ws"},
	}
	for _, tc := range cases {
		got, err := websocketURL(tc.in)
		if err != nil {
			t.Errorf("%s: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.in, got, tc.want)
		}
	}
	if _, err := websocketURL("ftp://example.com"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}
