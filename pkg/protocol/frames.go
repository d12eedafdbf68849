// Package protocol defines the wire frames and method/event names for the
// RelayGate WebSocket RPC surface.
//
// Requests carry a caller-supplied idempotency key where the method has side
// effects; responses replay the cached outcome verbatim on retry with
// meta.cached=true.
package protocol

import "encoding/json"

// ProtocolVersion is bumped on incompatible frame changes.
const ProtocolVersion = 1

// RequestFrame is a client → server RPC call.
type RequestFrame struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is the server reply to a RequestFrame.
type ResponseFrame struct {
	ID      string         `json:"id"`
	OK      bool           `json:"ok"`
	Payload any            `json:"payload,omitempty"`
	Error   *ErrorShape    `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// EventFrame is a server-push event broadcast to connected clients.
type EventFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorShape is the structured error carried in failed responses.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for ErrorShape.Code.
const (
	ErrInvalidRequest = "INVALID_REQUEST"
	ErrNotFound       = "NOT_FOUND"
	ErrUnavailable    = "UNAVAILABLE"
	ErrUnauthorized   = "UNAUTHORIZED"
	ErrRateLimited    = "RATE_LIMITED"
	ErrInternal       = "INTERNAL"
)

// NewOKResponse builds a successful response frame.
func NewOKResponse(id string, payload any) *ResponseFrame {
	return &ResponseFrame{ID: id, OK: true, Payload: payload}
}

// NewErrorResponse builds a failed response frame.
func NewErrorResponse(id, code, message string) *ResponseFrame {
	return &ResponseFrame{ID: id, OK: false, Error: &ErrorShape{Code: code, Message: message}}
}

// NewEvent builds an event frame.
func NewEvent(name string, payload any) *EventFrame {
	return &EventFrame{Event: name, Payload: payload}
}
