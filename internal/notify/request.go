package notify

import (
	"bytes"
	"encoding/json"
	"fmt"

	"woprnotify/internal/a2a"
)

const (
	// EventSend is the bus event emitted for every dispatched notification.
	EventSend = "notification:send"

	DefaultLevel = "info"
)

// ErrInvalidArgument is returned, wrapped with the field name, when a request
// is missing its message or carries a non-string field.
var ErrInvalidArgument = a2a.ErrInvalidArgument

// Request is one notification request. Nil pointers mean "absent".
type Request struct {
	Message *string `json:"message"`
	Level   *string `json:"level,omitempty"`
	Channel *string `json:"channel,omitempty"`
}

// Payload is the data of the EventSend event. Channel stays nil when the
// request had none and is then omitted from JSON.
type Payload struct {
	Message string  `json:"message"`
	Level   string  `json:"level"`
	Channel *string `json:"channel,omitempty"`
}

// DecodeRequest parses a tool-call argument object.
func DecodeRequest(args json.RawMessage) (Request, error) {
	var req Request
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return req, fmt.Errorf("%w: message is required", ErrInvalidArgument)
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return req, nil
}

// Str is a helper for building requests in code.
func Str(s string) *string { return &s }
