package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oversightlab/llm-safety-study/pkg/logging"
)

// S3API is the subset of the S3 client used by Archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive exports completed sessions to S3 for offline analysis.
type Archive struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewArchive creates an Archive. If bucket is empty, all operations are no-ops.
func NewArchive(s3Client S3API, bucket string, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Default()
	}
	return &Archive{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// ArchiveSession writes the full session JSON under a dated key.
func (a *Archive) ArchiveSession(ctx context.Context, sessionID string, completedAt time.Time, session any) error {
	if !a.Enabled() {
		return nil
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("records: marshal session for archive: %w", err)
	}

	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	key := fmt.Sprintf("sessions/v1/by-date/%d/%02d/%02d/%s.json",
		completedAt.Year(), completedAt.Month(), completedAt.Day(), sessionID)

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("records: s3 put %s: %w", key, err)
	}

	a.logger.Info("archived session to S3", "session_id", sessionID, "s3_key", key)
	return nil
}
