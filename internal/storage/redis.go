// Package storage provides the Redis-backed attribute store. One player is
// one Redis hash; every mutation is published on a player-scoped pub/sub
// channel so other holders of the same player see attribute changes.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/flagstore/pkg/attrs"
	"github.com/jwebster45206/flagstore/pkg/signal"
)

// RedisStore implements attrs.Store for a single player on a shared Redis
// client. Scalar values are JSON-marshaled into hash fields to preserve
// their type; numbers therefore come back as float64.
type RedisStore struct {
	client   *redis.Client
	playerID uuid.UUID
	logger   *slog.Logger

	mu      sync.Mutex
	signals map[string]*signal.Signal[any]
	pubsub  *redis.PubSub
	closed  bool
}

// Ensure RedisStore implements attrs.Store interface
var _ attrs.Store = (*RedisStore)(nil)

// changeEvent is the pub/sub payload for one attribute mutation.
// Value is null for removals.
type changeEvent struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func attrKey(playerID uuid.UUID) string {
	return "player-attrs:" + playerID.String()
}

func eventChannel(playerID uuid.UUID) string {
	return "attr-events:" + playerID.String()
}

// NewRedisStore creates the attribute store for one player. The Redis
// client is shared and stays owned by the caller; Close releases only the
// store's own subscription.
func NewRedisStore(client *redis.Client, playerID uuid.UUID, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client:   client,
		playerID: playerID,
		logger:   logger,
		signals:  make(map[string]*signal.Signal[any]),
	}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close stops the change-event subscription. The shared client is left
// open for other players.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.pubsub != nil {
		if err := r.pubsub.Close(); err != nil {
			r.logger.Error("Failed to close pubsub", "player", r.playerID, "error", err)
			return err
		}
		r.pubsub = nil
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (any, error) {
	cmd := r.client.HGet(ctx, attrKey(r.playerID), key)
	if err := cmd.Err(); err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		r.logger.Error("Failed to get attribute", "player", r.playerID, "key", key, "error", err)
		return nil, fmt.Errorf("failed to get attribute %q: %w", key, err)
	}
	return decodeField(key, cmd.Val())
}

func (r *RedisStore) Set(ctx context.Context, key string, value any) error {
	if !attrs.IsScalar(value) {
		return fmt.Errorf("%w: key %q holds %T", attrs.ErrNotScalar, key, value)
	}

	if value == nil {
		if err := r.client.HDel(ctx, attrKey(r.playerID), key).Err(); err != nil {
			r.logger.Error("Failed to remove attribute", "player", r.playerID, "key", key, "error", err)
			return fmt.Errorf("failed to remove attribute %q: %w", key, err)
		}
	} else {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal attribute %q: %w", key, err)
		}
		if err := r.client.HSet(ctx, attrKey(r.playerID), key, string(data)).Err(); err != nil {
			r.logger.Error("Failed to set attribute", "player", r.playerID, "key", key, "error", err)
			return fmt.Errorf("failed to set attribute %q: %w", key, err)
		}
	}

	return r.publish(ctx, changeEvent{Key: key, Value: value})
}

func (r *RedisStore) List(ctx context.Context) (map[string]any, error) {
	cmd := r.client.HGetAll(ctx, attrKey(r.playerID))
	if err := cmd.Err(); err != nil {
		r.logger.Error("Failed to list attributes", "player", r.playerID, "error", err)
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}

	out := make(map[string]any, len(cmd.Val()))
	for key, raw := range cmd.Val() {
		v, err := decodeField(key, raw)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// Changed returns the change signal for key, starting the pub/sub consumer
// on first use. Events fire on the consumer goroutine, including for
// locally-originated writes, which round-trip through Redis.
func (r *RedisStore) Changed(key string) *signal.Signal[any] {
	r.mu.Lock()
	defer r.mu.Unlock()

	sig, ok := r.signals[key]
	if !ok {
		sig = signal.New[any]()
		r.signals[key] = sig
	}

	if r.pubsub == nil && !r.closed {
		r.pubsub = r.client.Subscribe(context.Background(), eventChannel(r.playerID))
		go r.consume(r.pubsub.Channel())
	}
	return sig
}

func (r *RedisStore) publish(ctx context.Context, ev changeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := r.client.Publish(ctx, eventChannel(r.playerID), data).Err(); err != nil {
		r.logger.Error("Failed to publish change event", "player", r.playerID, "key", ev.Key, "error", err)
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

func (r *RedisStore) consume(ch <-chan *redis.Message) {
	for msg := range ch {
		var ev changeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			r.logger.Error("Malformed change event", "player", r.playerID, "payload", msg.Payload, "error", err)
			continue
		}

		r.mu.Lock()
		sig := r.signals[ev.Key]
		r.mu.Unlock()

		if sig != nil {
			sig.Fire(ev.Value)
		}
	}
}

// decodeField recovers the scalar stored in a hash field.
func decodeField(key, raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attribute %q: %w", key, err)
	}
	return v, nil
}
