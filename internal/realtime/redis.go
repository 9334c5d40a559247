package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"honeyguard/internal/sink"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Redis pub/sub channels, one per topic
const (
	ChannelEvents = "honeyguard:events"
	ChannelBlocks = "honeyguard:blocks"
)

// RedisPublisher mirrors published messages onto Redis pub/sub channels
type RedisPublisher struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisPublisher connects to addr and verifies the connection
func NewRedisPublisher(ctx context.Context, addr string, logger *slog.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return &RedisPublisher{client: client, logger: logger}, nil
}

// Name implements sink.Publisher
func (p *RedisPublisher) Name() string { return "redis" }

// Publish implements sink.Publisher
func (p *RedisPublisher) Publish(ctx context.Context, msg sink.Message) error {
	channel, ok := channelFor(msg.Topic)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return p.client.Publish(ctx, channel, payload).Err()
}

// Close releases the connection pool
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func channelFor(t sink.Topic) (string, bool) {
	switch t {
	case sink.TopicCommandEvent:
		return ChannelEvents, true
	case sink.TopicBlockDecision:
		return ChannelBlocks, true
	}
	return "", false
}
