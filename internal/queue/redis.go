package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue using a Redis list. The client is shared
// with the rest of the gateway and is not closed by the queue.
type RedisQueue struct {
	client *redis.Client
	config *Config
	qKey   string
}

// NewRedisQueue creates a new Redis-backed queue
func NewRedisQueue(client *redis.Client, config *Config) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config == nil {
		config = DefaultConfig("redis")
	}

	return &RedisQueue{
		client: client,
		config: config,
		qKey:   "queue:" + config.QueueName,
	}, nil
}

// Enqueue adds an item to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, item interface{}) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	if err := q.client.RPush(ctx, q.qKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}

	return nil
}

// Dequeue retrieves items from the queue
func (q *RedisQueue) Dequeue(ctx context.Context, maxItems int) ([]interface{}, error) {
	result, err := q.client.BLPop(ctx, 0, q.qKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	// result[0] is the key, result[1] is the value
	return q.fill(ctx, []interface{}{json.RawMessage(result[1])}, maxItems), nil
}

// DequeueWithTimeout retrieves items with a timeout
func (q *RedisQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error) {
	result, err := q.client.BLPop(ctx, timeout, q.qKey).Result()
	if errors.Is(err, redis.Nil) {
		return []interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	return q.fill(ctx, []interface{}{json.RawMessage(result[1])}, maxItems), nil
}

// fill tops up a batch with LPOP until the list is empty or the batch is full
func (q *RedisQueue) fill(ctx context.Context, items []interface{}, maxItems int) []interface{} {
	for len(items) < maxItems {
		result, err := q.client.LPop(ctx, q.qKey).Result()
		if err != nil {
			// redis.Nil or a transient error; return what we have
			break
		}
		items = append(items, json.RawMessage(result))
	}
	return items
}

// Length returns the current queue length
func (q *RedisQueue) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.qKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(length), nil
}

// Close is a no-op; the shared client is closed by its owner
func (q *RedisQueue) Close() error {
	return nil
}

// RedisDeadLetterQueue implements DeadLetterQueue using a Redis hash
type RedisDeadLetterQueue struct {
	client *redis.Client
	dlKey  string
}

// NewRedisDeadLetterQueue creates a new Redis-backed dead letter queue
func NewRedisDeadLetterQueue(client *redis.Client, config *Config) (*RedisDeadLetterQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config == nil {
		config = DefaultConfig("redis")
	}

	return &RedisDeadLetterQueue{
		client: client,
		dlKey:  "dlq:" + config.QueueName,
	}, nil
}

// Add adds a failed item to the dead letter queue
func (q *RedisDeadLetterQueue) Add(ctx context.Context, item interface{}, err error) error {
	dlItem := newDeadLetterItem(item, err)

	data, marshalErr := json.Marshal(dlItem)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal dead letter item: %w", marshalErr)
	}

	if err := q.client.HSet(ctx, q.dlKey, dlItem.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to add to dead letter queue: %w", err)
	}

	return nil
}

// List retrieves items from the dead letter queue
func (q *RedisDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	results, err := q.client.HGetAll(ctx, q.dlKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter items: %w", err)
	}

	items := make([]DeadLetterItem, 0, len(results))
	for _, data := range results {
		var dlItem DeadLetterItem
		if err := json.Unmarshal([]byte(data), &dlItem); err != nil {
			continue // Skip malformed items
		}
		items = append(items, dlItem)

		if maxItems > 0 && len(items) >= maxItems {
			break
		}
	}

	return items, nil
}

// Remove removes an item from the dead letter queue
func (q *RedisDeadLetterQueue) Remove(ctx context.Context, id string) error {
	n, err := q.client.HDel(ctx, q.dlKey, id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove from dead letter queue: %w", err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner
func (q *RedisDeadLetterQueue) Close() error {
	return nil
}
