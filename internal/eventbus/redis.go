package eventbus

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisPublisher struct {
	rdb    *redis.Client
	prefix string
}

func dialRedis(ctx context.Context, url, prefix string) (*redisPublisher, error) {
	if strings.TrimSpace(url) == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &redisPublisher{rdb: rdb, prefix: prefix}, nil
}

func redisChannel(prefix, typ string) string { return prefix + ":" + typ }

func (p *redisPublisher) publish(ctx context.Context, typ string, data []byte) error {
	return p.rdb.Publish(ctx, redisChannel(p.prefix, typ), data).Err()
}

func (p *redisPublisher) close() error { return p.rdb.Close() }
