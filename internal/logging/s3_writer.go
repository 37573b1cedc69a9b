package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"pool_gateway/internal/config"
	"pool_gateway/internal/models"
	"pool_gateway/internal/utils"
)

// ObjectPutter is the slice of the S3 API the writer needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer archives committed usage records to S3 as JSON Lines objects
type S3Writer struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	podName string
	now     func() time.Time
	logger  *utils.Logger
}

// NewS3Writer creates a writer using the default AWS credential chain
func NewS3Writer(ctx context.Context, cfg config.UsageArchiveConfig) (*S3Writer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewS3WriterWithClient(s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.S3Prefix, cfg.PodName), nil
}

// NewS3WriterWithClient creates a writer around an existing client
func NewS3WriterWithClient(client ObjectPutter, bucket, prefix, podName string) *S3Writer {
	return &S3Writer{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		podName: podName,
		now:     time.Now,
		logger:  utils.NewLogger("usage-archive"),
	}
}

// ObjectKey returns the key a batch written at t lands under.
// Format: usage/2025/11/30/gateway-0-20251130-143022-123456789.jsonl
func (w *S3Writer) ObjectKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%d.jsonl",
		w.prefix,
		t.Year(),
		t.Month(),
		t.Day(),
		w.podName,
		t.Format("20060102-150405"),
		t.Nanosecond(),
	)
}

// WriteBatch writes a batch of usage records to S3 as one JSON Lines object
func (w *S3Writer) WriteBatch(ctx context.Context, records []*models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			w.logger.Error("Failed to encode usage record", "request_id", record.RequestID, "error", err)
			continue
		}
	}

	key := w.ObjectKey(w.now())
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	w.logger.Info("Archived usage batch", "key", key, "count", len(records), "bytes", buf.Len())
	return nil
}
