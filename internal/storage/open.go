package storage

import (
	"context"
	"errors"
	"strings"

	logx "woprnotify/pkg/logx"
)

// Reader is the read side handed to plugins holding storage.read.
type Reader interface {
	ListNotifications(ctx context.Context, limit int) ([]Notification, error)
}

// Store is the persistence API used by the app.
type Store interface {
	Reader
	AppendNotification(ctx context.Context, n Notification) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
