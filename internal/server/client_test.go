package server

import (
	"errors"
	"testing"
	"time"

	"github.com/Tyrowin/relay/internal/config"
)

func newDetachedClient(t *testing.T, buffer int) *Client {
	t.Helper()
	settings := &connSettings{
		maxMessageSize: 512,
		sendBufferSize: buffer,
		rateLimit:      config.RateLimitConfig{Burst: 5, RefillInterval: time.Second},
		origins:        newOriginPolicy(nil, discardLogger()),
	}
	return newClient(nil, newTestRegistry(), "127.0.0.1:12345", settings)
}

func TestNewClient(t *testing.T) {
	c := newDetachedClient(t, 4)

	if c.ID() == "" {
		t.Error("client has no ID")
	}
	if c.State() != StateConnecting {
		t.Errorf("state: got %v, want connecting", c.State())
	}
	if c.IsOpen() {
		t.Error("connecting client reports open")
	}
	if cap(c.send) != 4 {
		t.Errorf("send buffer: got %d, want 4", cap(c.send))
	}
}

func TestClient_IDsAreUnique(t *testing.T) {
	a := newDetachedClient(t, 1)
	b := newDetachedClient(t, 1)
	if a.ID() == b.ID() {
		t.Errorf("duplicate client ID %q", a.ID())
	}
}

func TestClient_Lifecycle(t *testing.T) {
	c := newDetachedClient(t, 4)

	if err := c.Send([]byte("early")); !errors.Is(err, ErrEndpointClosed) {
		t.Errorf("Send while connecting: got %v, want ErrEndpointClosed", err)
	}

	if !c.activate() {
		t.Fatal("activate: got false, want true")
	}
	if c.activate() {
		t.Error("second activate: got true, want false")
	}
	if !c.IsOpen() {
		t.Error("active client reports closed")
	}

	if err := c.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := string(<-c.send); got != "hello" {
		t.Errorf("queued frame: got %q, want hello", got)
	}

	if !c.markClosed() {
		t.Error("markClosed: got false, want true")
	}
	if c.markClosed() {
		t.Error("second markClosed: got true, want false")
	}
	if c.State() != StateClosed {
		t.Errorf("state: got %v, want closed", c.State())
	}
	if c.activate() {
		t.Error("closed client was reactivated")
	}
	if err := c.Send([]byte("late")); !errors.Is(err, ErrEndpointClosed) {
		t.Errorf("Send after close: got %v, want ErrEndpointClosed", err)
	}
	if _, ok := <-c.send; ok {
		t.Error("send queue still open after close")
	}
}

func TestClient_SlowConsumerIsEvicted(t *testing.T) {
	c := newDetachedClient(t, 2)
	c.activate()

	for i := 0; i < 2; i++ {
		if err := c.Send([]byte("x")); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	if err := c.Send([]byte("overflow")); !errors.Is(err, ErrSendBufferFull) {
		t.Fatalf("Send on full buffer: got %v, want ErrSendBufferFull", err)
	}
	if c.IsOpen() {
		t.Error("evicted client still reports open")
	}
}

func TestClient_CloseWithoutConnection(t *testing.T) {
	c := newDetachedClient(t, 1)
	c.activate()

	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if c.IsOpen() {
		t.Error("closed client reports open")
	}
}

func TestClient_RateLimit(t *testing.T) {
	c := newDetachedClient(t, 1)

	allowed := 0
	for i := 0; i < 10; i++ {
		if c.checkRateLimit() {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("allowed: got %d, want 5", allowed)
	}
	if got := c.registry.metrics.Snapshot().RateLimited; got != 5 {
		t.Errorf("rate limited counter: got %d, want 5", got)
	}
}

func TestConnState_String(t *testing.T) {
	tests := map[ConnState]string{
		StateConnecting: "connecting",
		StateActive:     "active",
		StateClosed:     "closed",
		ConnState(42):   "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d: got %q, want %q", int(state), got, want)
		}
	}
}
