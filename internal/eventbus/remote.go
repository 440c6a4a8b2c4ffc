package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	logx "woprnotify/pkg/logx"
)

// Config selects the bus driver.
//
//	driver: memory (default) | nats | redis
//	url:    nats://... or redis://...
//	prefix: subject/channel prefix for remote publishes (default "notifyd.events")
type Config struct {
	Driver string
	URL    string
	Prefix string
}

const defaultPrefix = "notifyd.events"

// publisher forwards encoded events to an external broker.
type publisher interface {
	publish(ctx context.Context, typ string, data []byte) error
	close() error
}

// remoteBus keeps in-process delivery and also publishes every emitted event
// to a broker. The local handlers run first; a broker failure is returned as-is.
type remoteBus struct {
	*memBus
	pub publisher
	log logx.Logger
}

func (r *remoteBus) EmitCustom(ctx context.Context, typ string, payload any) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e := newEvent(typ, payload)
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventbus: encode %s: %w", typ, err)
	}
	if err := r.emit(ctx, e); err != nil {
		return err
	}
	return r.pub.publish(ctx, typ, data)
}

func (r *remoteBus) Close() error {
	err1 := r.memBus.Close()
	err2 := r.pub.close()
	return errors.Join(err1, err2)
}

// Open builds the configured bus.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Bus, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	local := New().(*memBus)

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "memory":
		return local, nil
	case "nats":
		pub, err := dialNATS(cfg.URL, prefix)
		if err != nil {
			return nil, fmt.Errorf("eventbus: nats: %w", err)
		}
		log.Info("event bus connected", logx.String("driver", driver), logx.String("prefix", prefix))
		return &remoteBus{memBus: local, pub: pub, log: log}, nil
	case "redis":
		pub, err := dialRedis(ctx, cfg.URL, prefix)
		if err != nil {
			return nil, fmt.Errorf("eventbus: redis: %w", err)
		}
		log.Info("event bus connected", logx.String("driver", driver), logx.String("prefix", prefix))
		return &remoteBus{memBus: local, pub: pub, log: log}, nil
	default:
		return nil, errors.New("eventbus: unknown driver: " + driver)
	}
}
