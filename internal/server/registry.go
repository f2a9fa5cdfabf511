// Package server coordinates connection admission, removal, and broadcast
// fan-out for the relay via the Registry type.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Registry owns the set of live endpoints and fans every chat message and
// lifecycle notice out to all of them. It is safe for concurrent use.
type Registry struct {
	members map[Endpoint]struct{}
	mutex   sync.RWMutex
	closed  bool
	logger  *slog.Logger
	metrics *Metrics
}

// DeliveryError records a failed delivery to one member.
type DeliveryError struct {
	ID  string
	Err error
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.ID, e.Err)
}

func (e DeliveryError) Unwrap() error {
	return e.Err
}

// BroadcastResult summarizes one fan-out.
type BroadcastResult struct {
	// Attempted is the size of the member snapshot the fan-out ran over.
	Attempted int
	Delivered int
	// Skipped counts members whose transport was no longer open.
	Skipped  int
	Failures []DeliveryError
}

// NewRegistry creates an empty Registry. A nil logger uses slog.Default and
// nil metrics allocates a private counter set.
func NewRegistry(logger *slog.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Registry{
		members: make(map[Endpoint]struct{}),
		logger:  logger,
		metrics: metrics,
	}
}

// Admit adds e to the membership, sends it a private welcome, and then tells
// every member, e included, that a user joined. Admitting an endpoint that is
// already a member does nothing.
func (r *Registry) Admit(e Endpoint) {
	if e == nil {
		r.logger.Warn("Received nil endpoint admission; skipping")
		return
	}

	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		r.logger.Info("Registry closed; rejecting connection", "conn", e.ID())
		closeEndpoint(e)
		return
	}
	if _, exists := r.members[e]; exists {
		r.mutex.Unlock()
		return
	}
	r.members[e] = struct{}{}
	count := len(r.members)
	// Queued under the write lock so no broadcast reaches e before its welcome.
	welcomeErr := r.sendPrivate(e, SystemMessage(WelcomeNotice))
	r.mutex.Unlock()

	r.metrics.admitted.Add(1)
	r.logger.Info("Client connected", "conn", e.ID(), "members", count)
	if welcomeErr != nil {
		r.logger.Warn("Failed to send welcome", "conn", e.ID(), "err", welcomeErr)
	}

	r.Broadcast(SystemMessage(JoinNotice))
}

// Remove drops e from the membership and tells the remaining members that a
// user left. It reports whether e was a member; removing a non-member does
// nothing and broadcasts nothing.
func (r *Registry) Remove(e Endpoint) bool {
	if e == nil {
		return false
	}

	r.mutex.Lock()
	_, exists := r.members[e]
	if exists {
		delete(r.members, e)
	}
	count := len(r.members)
	closed := r.closed
	r.mutex.Unlock()

	if !exists {
		return false
	}

	r.metrics.removed.Add(1)
	r.logger.Info("Client disconnected", "conn", e.ID(), "members", count)

	if !closed {
		r.Broadcast(SystemMessage(LeaveNotice))
	}
	return true
}

// Dispatch relays an inbound frame from one member as a chat message to every
// member. Frames that are not chat requests are logged and dropped; nothing
// is sent to anyone and the sender is left connected.
func (r *Registry) Dispatch(raw []byte, from Endpoint) {
	req, err := DecodeChat(raw)
	if err != nil {
		r.metrics.malformed.Add(1)
		r.logger.Warn("Invalid message format", "conn", endpointID(from), "err", err)
		return
	}

	r.metrics.chatRelayed.Add(1)
	r.Broadcast(ChatMessage(req))
}

// Broadcast encodes m once and queues it to every member that is open at the
// time the fan-out starts. A failing member never stops delivery to the rest.
func (r *Registry) Broadcast(m Message) BroadcastResult {
	frame, err := Encode(m)
	if err != nil {
		r.logger.Error("Dropping unencodable broadcast", "type", m.Type, "err", err)
		return BroadcastResult{}
	}

	members := r.getMemberSnapshot()
	r.metrics.broadcasts.Add(1)

	result := r.fanOut(members, frame)
	r.logger.Debug("Broadcast complete",
		"type", m.Type,
		"attempted", result.Attempted,
		"delivered", result.Delivered,
		"skipped", result.Skipped,
	)

	if len(result.Failures) > 0 {
		errs := make([]error, len(result.Failures))
		for i, f := range result.Failures {
			errs[i] = f
		}
		r.logger.Warn("Broadcast delivery failures",
			"type", m.Type,
			"failed", len(result.Failures),
			"err", errors.Join(errs...),
		)
	}
	return result
}

// Count returns the number of current members.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.members)
}

// Contains reports whether e is a current member.
func (r *Registry) Contains(e Endpoint) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.members[e]
	return ok
}

// Close stops admissions and closes the transport of every member that
// supports it. Members still leave through Remove as their transports wind
// down, but no leave notices are sent after Close.
func (r *Registry) Close() {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return
	}
	r.closed = true
	r.mutex.Unlock()

	members := r.getMemberSnapshot()
	r.logger.Info("Shutting down all client connections...", "members", len(members))
	for _, e := range members {
		closeEndpoint(e)
	}
}

// getMemberSnapshot returns a copy of the membership taken under the read lock.
func (r *Registry) getMemberSnapshot() []Endpoint {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	members := make([]Endpoint, 0, len(r.members))
	for e := range r.members {
		members = append(members, e)
	}
	return members
}

func (r *Registry) fanOut(members []Endpoint, frame []byte) BroadcastResult {
	result := BroadcastResult{Attempted: len(members)}

	for _, e := range members {
		if !e.IsOpen() {
			result.Skipped++
			r.metrics.skippedClosed.Add(1)
			continue
		}
		if err := safeSend(e, frame); err != nil {
			result.Failures = append(result.Failures, DeliveryError{ID: e.ID(), Err: err})
			r.metrics.deliveryFailures.Add(1)
			continue
		}
		result.Delivered++
		r.metrics.deliveries.Add(1)
	}
	return result
}

func (r *Registry) sendPrivate(e Endpoint, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	if !e.IsOpen() {
		return ErrEndpointClosed
	}
	if err := safeSend(e, frame); err != nil {
		r.metrics.deliveryFailures.Add(1)
		return err
	}
	r.metrics.deliveries.Add(1)
	return nil
}

// safeSend isolates the caller from a panicking endpoint implementation.
func safeSend(e Endpoint, frame []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("send panicked: %v", rec)
		}
	}()
	return e.Send(frame)
}

func closeEndpoint(e Endpoint) {
	if c, ok := e.(io.Closer); ok {
		_ = c.Close()
	}
}

func endpointID(e Endpoint) string {
	if e == nil {
		return "unknown"
	}
	return e.ID()
}
