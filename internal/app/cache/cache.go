/*
Package cache keeps the most recent messages of each room in Redis in front of a
chat.Store.

Each room has a capped list at room:<id>:recent holding JSON encoded messages,
oldest first. The list is filled from the Store on a miss and appended to on every
persisted message while it exists. A fill never overwrites the list while a message
write for the room is in flight. Redis failures are logged and fall through to the
Store.
*/
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"roomcast/internal/app/chat"
	"roomcast/internal/pkg/logx"
)

const (
	// DefaultCapacity is the number of messages kept per room.
	DefaultCapacity = 50

	// DefaultTTL expires lists of rooms that went quiet.
	DefaultTTL = 30 * time.Minute
)

// RecentMessages decorates a chat.Store with a Redis read-through cache for
// LoadRecentMessages. All other methods go straight to the Store.
type RecentMessages struct {
	chat.Store

	client   *redis.Client
	capacity int
	ttl      time.Duration

	// loads collapses concurrent misses for the same room into one Store query.
	loads singleflight.Group

	logger zerolog.Logger
}

// NewRecentMessages wraps store. A non-positive capacity or ttl selects the default.
func NewRecentMessages(store chat.Store, client *redis.Client, capacity int, ttl time.Duration) *RecentMessages {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RecentMessages{
		Store:    store,
		client:   client,
		capacity: capacity,
		ttl:      ttl,
		logger:   logx.Component("RecentMessagesCache"),
	}
}

// Key returns the Redis key of roomID's list.
func Key(roomID string) string {
	return "room:" + roomID + ":recent"
}

// PendingKey returns the Redis key counting message writes in flight for roomID.
func PendingKey(roomID string) string {
	return "room:" + roomID + ":pending"
}

// PersistMessage stores msg and appends it to the room's list when one is cached.
// The write is counted in the room's pending key for its whole duration so a
// concurrent fill never caches a snapshot that misses it.
func (c *RecentMessages) PersistMessage(ctx context.Context, msg chat.Message) (string, error) {
	key := Key(msg.RoomID)
	tracked := c.beginWrite(ctx, msg.RoomID)

	id, err := c.Store.PersistMessage(ctx, msg)
	if err != nil {
		if tracked {
			c.endWrite(ctx, msg.RoomID)
		}
		return "", err
	}
	if id != "" {
		msg.ID = id
	}

	if !tracked {
		c.invalidate(ctx, msg.RoomID)
		return id, nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn().Err(err).Str("room_id", msg.RoomID).Msg("Failed to encode message for cache, invalidating")
		c.invalidate(ctx, msg.RoomID)
		c.endWrite(ctx, msg.RoomID)
		return id, nil
	}

	pending := PendingKey(msg.RoomID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPushX(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-c.capacity), -1)
		pipe.Expire(ctx, key, c.ttl)
		pipe.Decr(ctx, pending)
		pipe.Expire(ctx, pending, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("room_id", msg.RoomID).Msg("Failed to append message to cache, invalidating")
		c.invalidate(ctx, msg.RoomID)
	}

	return id, nil
}

// beginWrite registers an in-flight write for roomID. It reports false when Redis
// could not record it.
func (c *RecentMessages) beginWrite(ctx context.Context, roomID string) bool {
	pending := PendingKey(roomID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, pending)
		pipe.Expire(ctx, pending, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to register cache write")
		return false
	}
	return true
}

func (c *RecentMessages) endWrite(ctx context.Context, roomID string) {
	pending := PendingKey(roomID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Decr(ctx, pending)
		pipe.Expire(ctx, pending, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to release cache write")
	}
}

// LoadRecentMessages serves from Redis when the room is cached, otherwise loads the
// room's latest messages from the Store and caches them. Requests above the cache
// capacity always go to the Store.
func (c *RecentMessages) LoadRecentMessages(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	if limit <= 0 || limit > c.capacity {
		return c.Store.LoadRecentMessages(ctx, roomID, limit)
	}

	msgs, hit, err := c.cached(ctx, roomID, limit)
	if err != nil {
		c.logger.Warn().Err(err).Str("room_id", roomID).Msg("Cache read failed, falling back to store")
	}
	if hit {
		return msgs, nil
	}

	v, err, _ := c.loads.Do(roomID, func() (any, error) {
		return c.fill(ctx, roomID)
	})
	if err != nil {
		return nil, err
	}

	all := v.([]chat.Message)
	if len(all) > limit {
		all = all[len(all)-limit:]
	}

	out := make([]chat.Message, len(all))
	copy(out, all)
	return out, nil
}

// cached reads the last limit entries of the room's list.
func (c *RecentMessages) cached(ctx context.Context, roomID string, limit int) ([]chat.Message, bool, error) {
	raw, err := c.client.LRange(ctx, Key(roomID), int64(-limit), -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lrange: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	msgs := make([]chat.Message, 0, len(raw))
	for _, item := range raw {
		var msg chat.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			c.invalidate(ctx, roomID)
			return nil, false, fmt.Errorf("decode cached message: %w", err)
		}
		msgs = append(msgs, msg)
	}

	return msgs, true, nil
}

// fill loads capacity messages from the Store and replaces the room's list with them.
// The Store read runs under WATCH on the room's pending key: the list is written only
// when no message write was in flight at the start and none began before EXEC.
// Otherwise the snapshot is returned uncached and the next miss fills again.
func (c *RecentMessages) fill(ctx context.Context, roomID string) ([]chat.Message, error) {
	var msgs []chat.Message
	pending := PendingKey(roomID)
	key := Key(roomID)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		inFlight, err := tx.Get(ctx, pending).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		msgs, err = c.Store.LoadRecentMessages(ctx, roomID, c.capacity)
		if err != nil {
			return errStoreLoad{err}
		}
		if inFlight > 0 {
			return errWriteInFlight
		}
		if len(msgs) == 0 {
			return nil
		}

		values := make([]any, 0, len(msgs))
		for _, msg := range msgs {
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("encode message: %w", err)
			}
			values = append(values, data)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.RPush(ctx, key, values...)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, pending)

	var loadErr errStoreLoad
	switch {
	case err == nil:
		c.logger.Debug().Str("room_id", roomID).Int("cached", len(msgs)).Msg("Cache filled from store")
	case errors.As(err, &loadErr):
		return nil, loadErr.err
	case errors.Is(err, errWriteInFlight), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug().Str("room_id", roomID).Msg("Message write raced the fill, leaving room uncached")
	case msgs == nil:
		c.logger.Warn().Err(err).Str("room_id", roomID).Msg("Cache unavailable, loading from store")
		return c.Store.LoadRecentMessages(ctx, roomID, c.capacity)
	default:
		c.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to fill cache")
	}

	return msgs, nil
}

var errWriteInFlight = errors.New("message write in flight")

// errStoreLoad marks a Store failure inside fill so it is returned to the caller
// rather than treated as a cache problem.
type errStoreLoad struct{ err error }

func (e errStoreLoad) Error() string { return e.err.Error() }

func (c *RecentMessages) invalidate(ctx context.Context, roomID string) {
	if err := c.client.Del(ctx, Key(roomID)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to invalidate cache")
	}
}

// Connect opens a Redis client and verifies it with a ping.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}

	return client, nil
}

// Ping checks the Redis connection.
func (c *RecentMessages) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
