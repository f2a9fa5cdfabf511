// Package server defines the wire messages exchanged with clients and the
// helpers that encode and decode them.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// MessageType identifies the shape of an outbound message.
type MessageType string

// Outbound message types.
const (
	TypeSystem MessageType = "system"
	TypeChat   MessageType = "chat"
)

// Notices sent by the relay itself.
const (
	WelcomeNotice = "Welcome to the chat!"
	JoinNotice    = "A new user has joined the chat"
	LeaveNotice   = "A user has left the chat"
)

// ErrMalformedPayload is returned when an inbound frame is not a chat request.
var ErrMalformedPayload = errors.New("malformed payload")

// Message is an outbound frame. Username and Message are pointers so that a
// field the sender omitted is omitted again when relayed.
type Message struct {
	Type     MessageType `json:"type"`
	Username *string     `json:"username,omitempty"`
	Message  *string     `json:"message,omitempty"`
}

// ChatRequest is the inbound frame a client sends to say something.
type ChatRequest struct {
	Username *string `json:"username"`
	Message  *string `json:"message"`
}

// SystemMessage builds a relay notice.
func SystemMessage(text string) Message {
	return Message{Type: TypeSystem, Message: &text}
}

// ChatMessage builds the broadcast form of a chat request.
func ChatMessage(req ChatRequest) Message {
	return Message{Type: TypeChat, Username: req.Username, Message: req.Message}
}

// DecodeChat parses an inbound frame. The frame must be a JSON object; when
// present, username and message must be strings.
func DecodeChat(raw []byte) (ChatRequest, error) {
	var req ChatRequest

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return req, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return ChatRequest{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return req, nil
}

// Encode serializes m for the wire. HTML characters are left unescaped so
// clients see exactly the text that was sent.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
