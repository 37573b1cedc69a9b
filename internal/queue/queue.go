// Package queue carries usage records from the request path to the
// database writer. Two backends share one interface:
//
//   - MemoryQueue: a bounded channel, lost on restart. Suitable for a single
//     node running on SQLite.
//   - RedisQueue: a Redis list, survives restarts and can be drained by any
//     replica.
//
// Flow:
//
//	request ──enqueue──▶ queue ──batch──▶ UsageQueueWorker ──tx──▶ usage_records
//	                                            │                       │
//	                                            └─(retries exhausted)─▶ DLQ
//
// The request path never waits on the database: Enqueue either succeeds
// immediately or fails with ErrQueueFull.
package queue

import (
	"context"
	"time"
)

// Queue defines the interface for message queuing
type Queue interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item interface{}) error

	// Dequeue retrieves items from the queue (up to maxItems)
	// Blocks until at least one item is available or context is cancelled
	Dequeue(ctx context.Context, maxItems int) ([]interface{}, error)

	// DequeueWithTimeout retrieves items with a timeout
	// Returns items if available before timeout, empty slice otherwise
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]interface{}, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue gracefully
	Close() error
}

// DeadLetterQueue defines the interface for handling failed items
type DeadLetterQueue interface {
	// Add adds a failed item to the dead letter queue with error info
	Add(ctx context.Context, item interface{}, err error) error

	// List retrieves items from the dead letter queue
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove removes an item from the dead letter queue
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem represents an item in the dead letter queue
type DeadLetterItem struct {
	ID        string
	Item      interface{}
	Error     string
	Timestamp time.Time
	Retries   int
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of items to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// Capacity bounds the memory backend; 0 means ten batches
	Capacity int

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		QueueName:    queueName,
	}
}

func (c *Config) capacity() int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	return c.BatchSize * 10
}
