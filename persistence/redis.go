package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/wfunc/planningpoker/models"
)

const (
	fieldDocument = "doc"
	fieldVersion  = "version"
)

// RedisStore keeps each room in a hash holding the document and its version.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if client == nil {
		panic("redis client cannot be nil for RedisStore")
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisStore) roomKey(roomID string) string {
	return r.keyPrefix + roomID
}

func (r *RedisStore) Get(ctx context.Context, roomID string) (*models.Room, Version, error) {
	key := r.roomKey(roomID)
	values, err := r.client.HMGet(ctx, key, fieldDocument, fieldVersion).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis: failed to get room %s from %s: %w", roomID, key, err)
	}

	doc, ok := values[0].(string)
	if !ok {
		return nil, 0, ErrRecordNotFound
	}
	var version uint64
	if v, ok := values[1].(string); ok {
		version, _ = strconv.ParseUint(v, 10, 64)
	}

	room, err := decode(roomID, []byte(doc))
	if err != nil {
		return nil, 0, err
	}
	return room, Version(version), nil
}

func (r *RedisStore) Put(ctx context.Context, roomID string, room *models.Room, expected Version) (Version, error) {
	if expected == AnyVersion {
		return r.overwrite(ctx, roomID, room)
	}
	return r.write(ctx, roomID, room, func(exists bool, current Version) error {
		if expected != AnyVersion && current != expected {
			return ErrVersionConflict
		}
		return nil
	})
}

func (r *RedisStore) Insert(ctx context.Context, roomID string, room *models.Room) (Version, error) {
	return r.write(ctx, roomID, room, func(exists bool, current Version) error {
		if exists {
			return ErrAlreadyExists
		}
		return nil
	})
}

// overwrite replaces the document unconditionally and bumps the version in
// the same MULTI block.
func (r *RedisStore) overwrite(ctx context.Context, roomID string, room *models.Room) (Version, error) {
	raw, err := models.EncodeRoom(room)
	if err != nil {
		return 0, fmt.Errorf("encode room %s: %w", roomID, err)
	}

	key := r.roomKey(roomID)
	pipe := r.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, key, fieldVersion, 1)
	pipe.HSet(ctx, key, fieldDocument, string(raw))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: failed to write room %s on key %s: %w", roomID, key, err)
	}
	return Version(incr.Val()), nil
}

// write runs check against the stored version inside WATCH so a concurrent
// writer aborts the transaction instead of interleaving with it.
func (r *RedisStore) write(ctx context.Context, roomID string, room *models.Room, check func(exists bool, current Version) error) (Version, error) {
	raw, err := models.EncodeRoom(room)
	if err != nil {
		return 0, fmt.Errorf("encode room %s: %w", roomID, err)
	}

	key := r.roomKey(roomID)
	var next uint64
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, fieldVersion).Uint64()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists, current = false, 0
		} else if err != nil {
			return err
		}
		if err := check(exists, Version(current)); err != nil {
			return err
		}

		next = current + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldDocument, string(raw), fieldVersion, next)
			return nil
		})
		return err
	}, key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return 0, ErrVersionConflict
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrAlreadyExists):
		return 0, err
	case err != nil:
		return 0, fmt.Errorf("redis: failed to write room %s on key %s: %w", roomID, key, err)
	}
	return Version(next), nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
