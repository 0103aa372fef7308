package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Queue is a FIFO list of JSON invoice payloads: producers RPUSH, the poller LPOPs.
type Queue struct {
	client *Client
	key    string
}

// NewQueue creates a queue on key.
func NewQueue(client *Client, key string) *Queue {
	return &Queue{client: client, key: key}
}

// Push appends payloads to the tail.
func (q *Queue) Push(ctx context.Context, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	values := make([]any, len(payloads))
	for i, p := range payloads {
		values[i] = p
	}
	ctx, cancel := q.client.opContext(ctx)
	defer cancel()
	if err := q.client.store.RPush(ctx, q.key, values...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", q.key, err)
	}
	return nil
}

// Pull removes up to n payloads from the head. An empty queue returns nil.
func (q *Queue) Pull(ctx context.Context, n int) ([][]byte, error) {
	ctx, cancel := q.client.opContext(ctx)
	defer cancel()
	items, err := q.client.store.LPopCount(ctx, q.key, n).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("lpop %s: %w", q.key, err)
	}
	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = []byte(item)
	}
	return out, nil
}

// Requeue puts a payload back at the tail for a later pass.
func (q *Queue) Requeue(ctx context.Context, payload []byte) error {
	return q.Push(ctx, payload)
}

// Len returns the number of queued payloads.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	ctx, cancel := q.client.opContext(ctx)
	defer cancel()
	return q.client.store.LLen(ctx, q.key).Result()
}
