package eventbus

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
)

type natsPublisher struct {
	nc     *nats.Conn
	prefix string
}

func dialNATS(url, prefix string) (*natsPublisher, error) {
	if strings.TrimSpace(url) == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("notifyd"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &natsPublisher{nc: nc, prefix: prefix}, nil
}

func natsSubject(prefix, typ string) string { return prefix + "." + typ }

// publish returns after the server has processed the message (flush round trip).
func (p *natsPublisher) publish(ctx context.Context, typ string, data []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return errors.New("nats connection closed")
	}
	if err := p.nc.Publish(natsSubject(p.prefix, typ), data); err != nil {
		return err
	}
	return p.nc.FlushWithContext(ctx)
}

func (p *natsPublisher) close() error {
	if p.nc == nil {
		return nil
	}
	p.nc.Close()
	return nil
}
