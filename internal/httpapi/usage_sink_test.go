package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pool_gateway/internal/models"
)

type recordingQueue struct {
	records []*models.UsageRecord
	ctxErr  error
	err     error
}

func (q *recordingQueue) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	q.ctxErr = ctx.Err()
	if q.err != nil {
		return q.err
	}
	q.records = append(q.records, record)
	return nil
}

func TestQueueUsageSink_StampsRecord(t *testing.T) {
	q := &recordingQueue{}
	sink := NewQueueUsageSink(q)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	sink.now = func() time.Time { return fixed }

	record := &models.UsageRecord{OwnerID: uuid.New(), Model: "gemini-2.5-pro"}
	require.NoError(t, sink.Enqueue(context.Background(), record))

	require.Len(t, q.records, 1)
	assert.NotEqual(t, uuid.Nil, record.ID)
	assert.Equal(t, fixed.UTC(), record.CreatedAt)
	assert.Equal(t, time.UTC, record.CreatedAt.Location())
	assert.Equal(t, models.OutcomeAttempted, record.Outcome)
}

func TestQueueUsageSink_SurvivesCancelledCaller(t *testing.T) {
	q := &recordingQueue{}
	sink := NewQueueUsageSink(q)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sink.Enqueue(ctx, &models.UsageRecord{}))
	assert.NoError(t, q.ctxErr)
	assert.Len(t, q.records, 1)
}

func TestQueueUsageSink_QueueError(t *testing.T) {
	q := &recordingQueue{err: errors.New("queue full")}
	sink := NewQueueUsageSink(q)

	err := sink.Enqueue(context.Background(), &models.UsageRecord{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}
