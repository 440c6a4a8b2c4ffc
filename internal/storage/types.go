package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file backend
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Notification is one recorded notification:send event.
// Channel stays nil when the request carried no channel.
type Notification struct {
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Message string    `json:"message"`
	Level   string    `json:"level"`
	Channel *string   `json:"channel,omitempty"`
	Source  string    `json:"source,omitempty"`
}

// ClampLimit maps a caller supplied limit onto [1, MaxListLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
