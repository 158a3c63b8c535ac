package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSettings configures the cross-instance bus.
type RedisSettings struct {
	Addr     string
	Password string
	DB       int
	Channel  string
	Timeout  time.Duration
}

// NewRedisClient builds a go-redis client from settings.
func NewRedisClient(cfg RedisSettings) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: missing address")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}), nil
}

// busFrame is what instances exchange over the Redis channel.
type busFrame struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Except  string          `json:"except,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// RedisBus is a Broadcaster that delivers to the local registry and
// publishes the same event for every other instance sharing the channel.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	local   *Registry
	origin  string
	log     *zap.Logger
}

// NewRedisBus creates a bus over client. Run must be started for events
// from other instances to arrive.
func NewRedisBus(client redis.UniversalClient, channel string, local *Registry, log *zap.Logger) *RedisBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		local:   local,
		origin:  ulid.Make().String(),
		log:     log,
	}
}

// Broadcast delivers locally, then publishes. The count covers local
// sessions only.
func (b *RedisBus) Broadcast(ctx context.Context, room string, payload []byte, except string) (int, error) {
	reached, _ := b.local.Broadcast(ctx, room, payload, except)

	frame, err := json.Marshal(busFrame{Origin: b.origin, Room: room, Except: except, Payload: payload})
	if err != nil {
		return reached, fmt.Errorf("marshal bus frame: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, frame).Err(); err != nil {
		return reached, fmt.Errorf("publish to %s: %w", b.channel, err)
	}
	return reached, nil
}

// Run subscribes to the channel and delivers frames from other instances
// until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}
	b.log.Info("redis bus subscribed", zap.String("channel", b.channel), zap.String("origin", b.origin))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(ctx, []byte(msg.Payload))
		}
	}
}

// deliver hands a remote frame to the local registry. Frames this instance
// published itself were already delivered by Broadcast.
func (b *RedisBus) deliver(ctx context.Context, raw []byte) int {
	var f busFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		b.log.Warn("drop malformed bus frame", zap.Error(err))
		return 0
	}
	if f.Origin == b.origin || f.Room == "" {
		return 0
	}
	n, _ := b.local.Broadcast(ctx, f.Room, f.Payload, f.Except)
	return n
}
