// ABOUTME: Wire envelope types for the websocket protocol.
// ABOUTME: Inbound frames are {type, payload}; outbound acks and errors are typed frames.

package gateway

import "encoding/json"

// Reserved frame types. Everything else routes through the Router to the
// owning handler.
const (
	TypeAuth      = "auth"
	TypeError     = "error"
	TypeBroadcast = "broadcast"
	TypePing      = "ping"
	TypePong      = "pong"
)

// Auth ack statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// rateLimitExceeded is the client-visible error for a quota rejection.
const rateLimitExceeded = "Rate limit exceeded"

// Frame is the inbound wire envelope. The payload is opaque to the gateway;
// only the type participates in routing and rate-limit action derivation.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuthRequest is the payload of a TypeAuth frame.
type AuthRequest struct {
	Token string `json:"token"`
}

// AuthAck acknowledges an authentication attempt.
type AuthAck struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ErrorFrame reports a protocol or quota error to the offending connection.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// encodeError builds the wire form of an error frame.
func encodeError(msg string) []byte {
	data, _ := json.Marshal(ErrorFrame{Type: TypeError, Error: msg})
	return data
}

// encodeAuthAck builds the wire form of an auth acknowledgement.
func encodeAuthAck(status string) []byte {
	data, _ := json.Marshal(AuthAck{Type: TypeAuth, Status: status})
	return data
}

// actionForType maps a frame type onto its rate-limit action bucket.
func actionForType(frameType string) string {
	if frameType == TypeBroadcast {
		return "broadcast"
	}
	return "message"
}
