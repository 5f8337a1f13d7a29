package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "reviewline:notifications"

// Redis pushes messages onto a list for an out-of-process mailer to drain.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Notify(ctx context.Context, msg Message) error {
	if r.client == nil {
		return &DeliveryError{Template: msg.Template, Err: fmt.Errorf("redis client is nil")}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return &DeliveryError{Template: msg.Template, Err: err}
	}
	if err := r.client.RPush(ctx, r.key, data).Err(); err != nil {
		return &DeliveryError{Template: msg.Template, Err: err}
	}
	return nil
}

// Pop removes the oldest queued message; ok is false when the list is empty.
func (r *Redis) Pop(ctx context.Context) (Message, bool, error) {
	data, err := r.client.LPop(ctx, r.key).Bytes()
	if err == redis.Nil {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, false, fmt.Errorf("decode queued notification: %w", err)
	}
	return msg, true, nil
}

// Len reports the queue depth.
func (r *Redis) Len(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key).Result()
}

// Drain pops up to max queued messages (all of them when max <= 0) and hands
// each to dst. A message dst fails to deliver is pushed back to the head of
// the list and draining stops.
func Drain(ctx context.Context, src *Redis, dst Notifier, max int) (int, error) {
	sent := 0
	for max <= 0 || sent < max {
		msg, ok, err := src.Pop(ctx)
		if err != nil {
			return sent, err
		}
		if !ok {
			return sent, nil
		}
		if err := dst.Notify(ctx, msg); err != nil {
			if data, mErr := json.Marshal(msg); mErr == nil {
				_ = src.client.LPush(ctx, src.key, data).Err()
			}
			return sent, err
		}
		sent++
	}
	return sent, nil
}
