package lib

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type scriptedRead struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

// fakeConn scripts reads through a channel and records writes.
type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	closed   bool

	reads chan scriptedRead
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan scriptedRead, 16)}
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case r := <-f.reads:
		return r.typ, r.data, r.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

func (f *fakeConn) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) SetReadLimit(n int64) {}

func (f *fakeConn) writtenFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

func TestNewSessionSendsHandshakeFirst(t *testing.T) {
	conn := newFakeConn()
	s, err := newSession(conn, SessionConfig{Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.Close()

	frames := conn.writtenFrames()
	if len(frames) != 1 {
		t.Fatalf("writes = %d, want exactly the handshake", len(frames))
	}
	var hs HandshakeMessage
	if err := json.Unmarshal(frames[0], &hs); err != nil {
		t.Fatalf("handshake not json: %v", err)
	}
	if hs.Type != TypeMobileConnect {
		t.Errorf("handshake type = %q, want %q", hs.Type, TypeMobileConnect)
	}
	if hs.ClientID != s.ClientID() || !strings.HasPrefix(hs.ClientID, "mobile_") {
		t.Errorf("handshake client_id = %q, want session id with mobile_ prefix", hs.ClientID)
	}
}

func TestSessionForwardsFramesInOrder(t *testing.T) {
	conn := newFakeConn()
	conn.reads <- scriptedRead{typ: websocket.MessageText, data: []byte(`{"type":"heartbeat_ack"}`)}
	conn.reads <- scriptedRead{typ: websocket.MessageBinary, data: []byte{1, 2, 3}}

	s, err := newSession(conn, SessionConfig{Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.Close()

	first := <-s.Frames()
	if first.Err != nil || first.Binary {
		t.Fatalf("first frame = %+v, want text frame", first)
	}
	second := <-s.Frames()
	if second.Err != nil || !second.Binary || len(second.Data) != 3 {
		t.Fatalf("second frame = %+v, want 3-byte binary frame", second)
	}
}

func TestSessionDeliversTerminalError(t *testing.T) {
	conn := newFakeConn()
	boom := errors.New("stream reset")
	conn.reads <- scriptedRead{err: boom}

	s, err := newSession(conn, SessionConfig{Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.Close()

	fr := <-s.Frames()
	if !errors.Is(fr.Err, boom) {
		t.Fatalf("frame err = %v, want the read error", fr.Err)
	}
}

func TestSessionSendFailureSurfaces(t *testing.T) {
	conn := newFakeConn()
	s, err := newSession(conn, SessionConfig{Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer s.Close()

	conn.mu.Lock()
	conn.writeErr = errors.New("broken pipe")
	conn.mu.Unlock()

	if err := s.Send(context.Background(), []byte(`{"type":"heartbeat"}`)); err == nil {
		t.Fatal("expected send failure to surface")
	}
}

func TestSessionHandshakeWriteFailure(t *testing.T) {
	conn := newFakeConn()
	conn.writeErr = errors.New("refused")

	if _, err := newSession(conn, SessionConfig{Logger: testLogger(t)}); err == nil {
		t.Fatal("expected newSession to fail when the handshake cannot be sent")
	}
	if !conn.closed {
		t.Error("connection must be closed after a failed handshake")
	}
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	s, err := newSession(conn, SessionConfig{Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}

	s.Close()
	s.Close()
	if !conn.closed {
		t.Error("underlying connection not closed")
	}
}

func TestSessionURL(t *testing.T) {
	testCases := []struct {
		ip       string
		port     int
		path     string
		expected string
	}{
		{"192.168.1.50", 8000, "/ws", "ws://192.168.1.50:8000/ws"},
		{"192.168.137.1", 8000, "ws", "ws://192.168.137.1:8000/ws"},
		{"10.0.0.2", 9000, "/socket", "ws://10.0.0.2:9000/socket"},
	}
	for _, tc := range testCases {
		if got := SessionURL(tc.ip, tc.port, tc.path); got != tc.expected {
			t.Errorf("SessionURL(%q, %d, %q) = %q, want %q", tc.ip, tc.port, tc.path, got, tc.expected)
		}
	}
}

// TestDialSessionAgainstServer exercises the real dial path end to end:
// handshake arrives at the host, a reply frame reaches Frames().
func TestDialSessionAgainstServer(t *testing.T) {
	handshakes := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "done")

		_, data, err := c.Read(r.Context())
		if err != nil {
			return
		}
		handshakes <- data

		ack, _ := EncodeHeartbeatAck()
		if err := c.Write(r.Context(), websocket.MessageText, ack); err != nil {
			return
		}
		// hold the connection until the client closes
		c.Read(r.Context())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	s, err := DialSession(ctx, url, SessionConfig{Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("DialSession: %v", err)
	}
	defer s.Close()

	select {
	case data := <-handshakes:
		var hs HandshakeMessage
		if err := json.Unmarshal(data, &hs); err != nil || hs.Type != TypeMobileConnect {
			t.Fatalf("host received %q, want a mobile_connect handshake", data)
		}
	case <-ctx.Done():
		t.Fatal("host never received the handshake")
	}

	select {
	case fr := <-s.Frames():
		if fr.Err != nil {
			t.Fatalf("frame err = %v", fr.Err)
		}
		msg, err := DecodeControl(fr.Data)
		if err != nil || msg.Type != TypeHeartbeatAck {
			t.Fatalf("frame = %q, want heartbeat_ack", fr.Data)
		}
	case <-ctx.Done():
		t.Fatal("client never received the reply frame")
	}
}
