package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"pool_gateway/internal/models"
	"pool_gateway/internal/queue"
	"pool_gateway/internal/utils"
)

// UsageArchiver receives every batch after it has been committed
type UsageArchiver interface {
	WriteBatch(ctx context.Context, records []*models.UsageRecord) error
}

// UsageQueueWorker drains attempt records from the queue into usage_records.
// Records are enqueued on the request path before the upstream call and
// written here in batches so the database stays off the hot path.
type UsageQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	db          *DB
	repo        *UsageRepository
	archiver    UsageArchiver
	config      *queue.Config
	logger      *utils.Logger
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewUsageQueueWorker creates a new usage queue worker
func NewUsageQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, db *DB, config *queue.Config) *UsageQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &UsageQueueWorker{
		queue:       q,
		dlq:         dlq,
		db:          db,
		repo:        NewUsageRepository(db),
		config:      config,
		logger:      utils.NewLogger("usage-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// SetArchiver attaches an archive sink; it must be called before Start
func (w *UsageQueueWorker) SetArchiver(a UsageArchiver) {
	w.archiver = a
}

// Start starts the worker goroutine
func (w *UsageQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop drains what is already queued and stops the worker
func (w *UsageQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue adds a usage record to the queue
func (w *UsageQueueWorker) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	return w.queue.Enqueue(ctx, record)
}

// run is the main worker loop
func (w *UsageQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.drain(ctx)
			w.logger.Info("Usage worker stopped")
			return
		case <-ctx.Done():
			w.logger.Info("Usage worker context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

// drain flushes the remaining queued records on shutdown
func (w *UsageQueueWorker) drain(ctx context.Context) {
	for {
		n, err := w.queue.Length(ctx)
		if err != nil || n == 0 {
			return
		}
		if w.processBatch(ctx) == 0 {
			return
		}
	}
}

// processBatch processes one batch of usage records and returns how many
// items were dequeued
func (w *UsageQueueWorker) processBatch(ctx context.Context) int {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		w.logger.Error("Failed to dequeue usage records", "error", err)
		time.Sleep(1 * time.Second) // Back off on error
		return 0
	}

	if len(items) == 0 {
		return 0
	}

	w.logger.Debug("Processing usage batch", "count", len(items))

	records := make([]*models.UsageRecord, 0, len(items))
	for _, item := range items {
		var record models.UsageRecord
		if err := unmarshalUsageItem(item, &record); err != nil {
			w.logger.Error("Failed to unmarshal usage record", "error", err)
			continue
		}
		records = append(records, &record)
	}

	if len(records) == 0 {
		return len(items)
	}

	if err := w.insertBatch(ctx, records); err != nil {
		w.logger.Error("Failed to insert batch, falling back to individual inserts", "error", err)
		written := make([]*models.UsageRecord, 0, len(records))
		for _, record := range records {
			if err := w.processItem(ctx, record); err != nil {
				w.logger.Error("Failed to process usage record", "error", err)
				continue
			}
			written = append(written, record)
		}
		records = written
	}

	w.archive(ctx, records)
	return len(items)
}

// insertBatch inserts multiple usage records in a single transaction
func (w *UsageQueueWorker) insertBatch(ctx context.Context, records []*models.UsageRecord) error {
	err := w.db.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, record := range records {
			if err := w.repo.CreateTx(ctx, tx, record); err != nil {
				return fmt.Errorf("failed to insert record: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.logger.Debug("Inserted batch successfully", "count", len(records))
	return nil
}

// processItem processes a single usage record with retries
func (w *UsageQueueWorker) processItem(ctx context.Context, record *models.UsageRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying usage record", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := w.repo.Create(ctx, record); err != nil {
			lastErr = err
			w.logger.Error("Failed to insert usage record", "attempt", attempt, "error", err)
			continue
		}

		w.logger.Debug("Usage record inserted", "request_id", record.RequestID)
		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, record, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Usage record moved to DLQ", "request_id", record.RequestID, "error", lastErr)
		}
	}

	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

// archive hands committed records to the archive sink. Archive failures are
// logged only; the database copy is authoritative.
func (w *UsageQueueWorker) archive(ctx context.Context, records []*models.UsageRecord) {
	if w.archiver == nil || len(records) == 0 {
		return
	}
	if err := w.archiver.WriteBatch(ctx, records); err != nil {
		w.logger.Warn("Failed to archive usage batch", "count", len(records), "error", err)
	}
}

// unmarshalUsageItem converts a queue item into a UsageRecord. Redis-backed
// queues hand back raw JSON, the memory queue hands back the pointer.
func unmarshalUsageItem(item interface{}, record *models.UsageRecord) error {
	switch v := item.(type) {
	case *models.UsageRecord:
		*record = *v
		return nil
	case models.UsageRecord:
		*record = v
		return nil
	case []byte:
		return json.Unmarshal(v, record)
	case json.RawMessage:
		return json.Unmarshal(v, record)
	case string:
		return json.Unmarshal([]byte(v), record)
	default:
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		return json.Unmarshal(data, record)
	}
}

// GetQueueLength returns the current queue length
func (w *UsageQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *UsageQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}
