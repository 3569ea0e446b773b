package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/filedrop/filedrop/internal/metrics"
	"github.com/filedrop/filedrop/pkg/types"
)

// LastChangeKey holds the most recent event, for clients that join late.
const LastChangeKey = "filedrop:last_change"

// RedisSink publishes each event to a pub/sub channel and records it under
// LastChangeKey.
type RedisSink struct {
	rdb     *redis.Client
	channel string
	host    string
}

// NewRedisSink connects to redisURL and verifies the connection.
func NewRedisSink(redisURL, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	host, _ := os.Hostname()
	return &RedisSink{rdb: rdb, channel: channel, host: host}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Handle(ctx context.Context, ev types.FileEvent) error {
	data, err := json.Marshal(NewMessage(ev, s.host))
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, s.channel, data)
		pipe.Set(ctx, LastChangeKey, data, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	metrics.PublishedEventsTotal.WithLabelValues("redis").Inc()
	return nil
}

// Close closes the Redis client.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
