package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/wfunc/planningpoker/logger"
)

// RedisNotifier carries changes over Redis pub/sub, one channel per room.
// Only room id, key and origin travel on the wire.
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

func NewRedisNotifier(client *redis.Client, prefix string) *RedisNotifier {
	if client == nil {
		panic("redis client cannot be nil for RedisNotifier")
	}
	if prefix == "" {
		prefix = "planning-poker:changes:"
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

func (n *RedisNotifier) channel(roomID string) string {
	return n.prefix + roomID
}

func (n *RedisNotifier) Publish(ctx context.Context, change Change) error {
	payload, err := encodeChange(change)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel(change.RoomID), payload).Err(); err != nil {
		return fmt.Errorf("redis: failed to publish change for room %s: %w", change.RoomID, err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so changes
// published after it returns are not missed.
func (n *RedisNotifier) Subscribe(ctx context.Context, roomID, origin string, fn Handler) (func(), error) {
	pubsub := n.client.Subscribe(ctx, n.channel(roomID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis: failed to subscribe to room %s: %w", roomID, err)
	}

	ch := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			change, err := decodeChange([]byte(msg.Payload))
			if err != nil {
				logger.Log.Warnf("Ignoring malformed change on %s: %v", msg.Channel, err)
				continue
			}
			if change.Origin == origin {
				continue
			}
			fn(change)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			pubsub.Close()
			<-done
		})
	}, nil
}

func (n *RedisNotifier) Close() error {
	return nil
}
