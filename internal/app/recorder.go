package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"woprnotify/internal/eventbus"
	"woprnotify/internal/metrics"
	"woprnotify/internal/notify"
	"woprnotify/internal/storage"
	logx "woprnotify/pkg/logx"
)

// recordSource tags history rows written from bus events.
const recordSource = "notify"

// historyRecorder appends every notification:send event to the store.
// It runs as an awaited bus handler, so a row exists once the tool call
// returns. Store failures are logged, never surfaced to the dispatcher.
func historyRecorder(store storage.Store, log logx.Logger) eventbus.Handler {
	return func(ctx context.Context, e eventbus.Event) error {
		p, err := payloadOf(e.Data)
		if err != nil {
			log.Warn("history: unreadable event", logx.String("id", e.ID), logx.Err(err))
			return nil
		}
		at := e.Time
		if at.IsZero() {
			at = time.Now()
		}
		n := storage.Notification{
			ID:      e.ID,
			At:      at,
			Message: p.Message,
			Level:   p.Level,
			Channel: p.Channel,
			Source:  recordSource,
		}
		if err := store.AppendNotification(ctx, n); err != nil {
			log.Warn("history: append failed", logx.String("id", e.ID), logx.Err(err))
		}
		return nil
	}
}

func payloadOf(data any) (notify.Payload, error) {
	switch v := data.(type) {
	case notify.Payload:
		return v, nil
	case *notify.Payload:
		if v == nil {
			return notify.Payload{}, fmt.Errorf("nil payload")
		}
		return *v, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return notify.Payload{}, err
	}
	var p notify.Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return notify.Payload{}, err
	}
	return p, nil
}

// watchEvents counts and debug-logs every published event until ctx is done.
func watchEvents(ctx context.Context, events <-chan eventbus.Event, m *metrics.Metrics, log logx.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			m.ObserveEvent(e.Type)
			log.Debug("event", logx.String("type", e.Type), logx.String("id", e.ID))
		}
	}
}
