package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pool_gateway/internal/models"
)

// usageEnqueueTimeout bounds handing a record to the queue once the caller
// may already be gone
const usageEnqueueTimeout = 2 * time.Second

// UsageSink receives one record per request attempt
type UsageSink interface {
	Enqueue(ctx context.Context, record *models.UsageRecord) error
}

// RecordEnqueuer is the queue side of the usage pipeline
type RecordEnqueuer interface {
	Enqueue(ctx context.Context, record *models.UsageRecord) error
}

// QueueUsageSink stamps attempt records and hands them to the usage worker
type QueueUsageSink struct {
	queue RecordEnqueuer
	now   func() time.Time
}

// NewQueueUsageSink creates a new queue-backed usage sink
func NewQueueUsageSink(q RecordEnqueuer) *QueueUsageSink {
	return &QueueUsageSink{queue: q, now: time.Now}
}

// Enqueue stamps the record with its attempt time and queues it. The
// record is written even if the caller disconnects afterwards.
func (s *QueueUsageSink) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}
	if record.Outcome == "" {
		record.Outcome = models.OutcomeAttempted
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageEnqueueTimeout)
	defer cancel()

	if err := s.queue.Enqueue(ctx, record); err != nil {
		return fmt.Errorf("failed to enqueue usage record: %w", err)
	}
	return nil
}
