package lib

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// sessionReadLimit bounds a single inbound frame. The host streams
	// file chunks of 64 KiB; 4 MiB leaves headroom for future senders.
	sessionReadLimit = 4 * 1024 * 1024

	// frameChanSize buffers the reader goroutine against a briefly busy
	// event loop without letting the host run unbounded ahead.
	frameChanSize = 64

	defaultWriteTimeout = 10 * time.Second
)

// Frame is one inbound WebSocket message as seen by the event loop. A
// Frame with Err set is terminal: the stream is dead and the session must
// be discarded.
type Frame struct {
	Binary bool
	Data   []byte
	Err    error
}

// wsConn abstracts the WebSocket connection so the session can be tested
// without a real host. *websocket.Conn satisfies this interface.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
	SetReadLimit(n int64)
}

// SessionConfig carries the per-session knobs.
type SessionConfig struct {
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// TransportSession owns one bidirectional WebSocket to the host. It sends
// the identifying handshake immediately on open and forwards every inbound
// frame on Frames() until the stream dies.
type TransportSession struct {
	conn         wsConn
	logger       *slog.Logger
	clientID     string
	writeTimeout time.Duration

	frames       chan Frame
	cancelReader context.CancelFunc
	closeOnce    sync.Once
}

// SessionURL builds the websocket endpoint for a discovered host address.
func SessionURL(ip string, port int, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("ws://%s:%d%s", ip, port, path)
}

// DialSession opens the WebSocket at url, sends the handshake, and starts
// the reader. The caller owns the returned session and must Close it.
func DialSession(ctx context.Context, url string, cfg SessionConfig) (*TransportSession, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return newSession(conn, cfg)
}

// newSession wires a session over an established connection. Split from
// DialSession so the handshake and reader can be tested with a fake conn.
func newSession(conn wsConn, cfg SessionConfig) (*TransportSession, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	conn.SetReadLimit(sessionReadLimit)

	s := &TransportSession{
		conn:         conn,
		logger:       logger,
		clientID:     NewClientID(),
		writeTimeout: writeTimeout,
		frames:       make(chan Frame, frameChanSize),
	}

	handshake, err := EncodeHandshake(s.clientID)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake encode failed")
		return nil, fmt.Errorf("encoding handshake: %w", err)
	}
	wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, handshake); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake send failed")
		return nil, fmt.Errorf("sending handshake: %w", err)
	}
	logger.Debug("handshake sent", "client_id", s.clientID)

	readCtx, cancelReader := context.WithCancel(context.Background())
	s.cancelReader = cancelReader
	go s.readLoop(readCtx)

	return s, nil
}

// readLoop feeds Frames() until the connection dies. The read error is
// delivered as the final frame so the event loop sees the disconnect in
// arrival order with the data that preceded it.
func (s *TransportSession) readLoop(ctx context.Context) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case s.frames <- Frame{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case s.frames <- Frame{Binary: typ == websocket.MessageBinary, Data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// Frames delivers inbound messages in arrival order.
func (s *TransportSession) Frames() <-chan Frame {
	return s.frames
}

// ClientID returns the identifier sent in the handshake.
func (s *TransportSession) ClientID() string {
	return s.clientID
}

// Send writes one text frame. Failures are returned to the caller, which
// treats them as a disconnect.
func (s *TransportSession) Send(ctx context.Context, payload []byte) error {
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.conn.Write(wctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("session send failed: %w", err)
	}
	return nil
}

// Close tears the session down. Safe to call any number of times and at
// any moment, including while the reader is mid-read.
func (s *TransportSession) Close() {
	s.closeOnce.Do(func() {
		s.cancelReader()
		s.conn.Close(websocket.StatusNormalClosure, "client closing")
	})
}
