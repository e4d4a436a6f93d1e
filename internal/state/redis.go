package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisChannel is a SyncChannel backed by Redis so panels in separate
// processes can share state. Snapshots are stored with SET and changes are
// announced with PUBLISH.
type RedisChannel struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	channel string
	ttl     time.Duration
}

// NewRedisChannel connects to Redis and verifies the connection.
func NewRedisChannel(addr, password string, db int, logger *slog.Logger) (*RedisChannel, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedisChannelWithClient(client, logger), nil
}

// NewRedisChannelWithClient wraps an existing client.
func NewRedisChannelWithClient(client *redis.Client, logger *slog.Logger) *RedisChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisChannel{
		client:  client,
		logger:  logger.With("component", "redis-sync"),
		prefix:  "routedev:sync:",
		channel: "routedev:sync:changes",
		ttl:     24 * time.Hour,
	}
}

// Publish stores snapshot under key and announces the change.
func (r *RedisChannel) Publish(ctx context.Context, key, origin string, snapshot []byte) (SyncMessage, error) {
	seq, err := r.client.Incr(ctx, r.prefix+"seq").Result()
	if err != nil {
		return SyncMessage{}, fmt.Errorf("redis incr: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, snapshot, r.ttl).Err(); err != nil {
		return SyncMessage{}, fmt.Errorf("redis set: %w", err)
	}
	msg := SyncMessage{Key: key, Origin: origin, Seq: seq}
	payload, err := json.Marshal(msg)
	if err != nil {
		return SyncMessage{}, err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return SyncMessage{}, fmt.Errorf("redis publish: %w", err)
	}
	return msg, nil
}

// Read returns the snapshot stored under key.
func (r *RedisChannel) Read(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return raw, nil
}

// Subscribe listens for change notifications.
func (r *RedisChannel) Subscribe(ctx context.Context) (<-chan SyncMessage, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	out := make(chan SyncMessage, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-messages:
				if !ok {
					return
				}
				var msg SyncMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					r.logger.Warn("dropping sync message", "error", err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the Redis connection.
func (r *RedisChannel) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
