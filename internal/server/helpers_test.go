package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/relay/internal/config"
)

const (
	welcomeFrame = `{"type":"system","message":"Welcome to the chat!"}`
	joinFrame    = `{"type":"system","message":"A new user has joined the chat"}`
	leaveFrame   = `{"type":"system","message":"A user has left the chat"}`
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry() *Registry {
	return NewRegistry(discardLogger(), NewMetrics())
}

// fakeEndpoint records every frame it is sent.
type fakeEndpoint struct {
	id string

	mu      sync.Mutex
	open    bool
	frames  []string
	sendErr error
	panics  bool
	closed  int
}

func newFakeEndpoint(id string) *fakeEndpoint {
	return &fakeEndpoint{id: id, open: true}
}

func (f *fakeEndpoint) ID() string { return f.id }

func (f *fakeEndpoint) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("transport exploded")
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, string(frame))
	return nil
}

func (f *fakeEndpoint) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeEndpoint) setOpen(open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = open
}

func (f *fakeEndpoint) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

func (f *fakeEndpoint) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

// closableEndpoint is a fakeEndpoint that also implements io.Closer.
type closableEndpoint struct {
	*fakeEndpoint
}

func (c closableEndpoint) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closed++
	return nil
}

func assertFrames(t *testing.T, e *fakeEndpoint, want ...string) {
	t.Helper()
	got := e.received()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d frames %q, want %d %q", e.id, len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s frame %d: got %s, want %s", e.id, i, got[i], want[i])
		}
	}
}

// startRelay starts a test HTTP server in front of a relay built from cfg.
// Returns the ws:// URL and the relay.
func startRelay(t *testing.T, cfg *config.Config) (string, *Server) {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}

	return startRelayWith(t, New(cfg, nil, discardLogger()))
}

// startRelayWith serves an already constructed relay.
func startRelayWith(t *testing.T, relay *Server) (string, *Server) {
	t.Helper()
	srv := httptest.NewServer(relay.Routes())
	t.Cleanup(func() {
		_ = relay.Shutdown(2 * time.Second)
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http"), relay
}

// dial connects a WebSocket client to wsURL.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, err := dialWithHeader(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func dialWithHeader(wsURL string, header http.Header) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// dialAndDrain connects and consumes the welcome and own join notice.
func dialAndDrain(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn := dial(t, wsURL)
	expectFrame(t, conn, welcomeFrame)
	expectFrame(t, conn, joinFrame)
	return conn
}

// expectFrame reads one text frame and compares it byte for byte.
func expectFrame(t *testing.T, conn *websocket.Conn, want string) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage (want %s): %v", want, err)
	}
	if string(msg) != want {
		t.Fatalf("frame: got %s, want %s", msg, want)
	}
}

// expectNoMessage asserts that nothing arrives on conn within d.
func expectNoMessage(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(d))
	_, msg, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no message, got %s", msg)
	}
	var netErr interface{ Timeout() bool }
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

// expectClosed asserts that the server ends the connection.
func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatal("connection still open after deadline")
			}
			return
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
