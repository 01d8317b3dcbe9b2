package sync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the slice of the S3 client the archiver needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// BulkArchiver keeps a copy of raw bulk result files in S3. Best-effort:
// finalization proceeds even when the archive write fails.
type BulkArchiver struct {
	Client   S3API
	Bucket   string
	download func(ctx context.Context, url string) (io.ReadCloser, error)
	nowFunc  func() time.Time
}

func NewBulkArchiver(client S3API, bucket string, download func(ctx context.Context, url string) (io.ReadCloser, error)) *BulkArchiver {
	return &BulkArchiver{Client: client, Bucket: bucket, download: download, nowFunc: time.Now}
}

func (a *BulkArchiver) Archive(ctx context.Context, operationID, url string) error {
	body, err := a.download(ctx, url)
	if err != nil {
		return fmt.Errorf("archive download: %w", err)
	}
	defer body.Close()

	// Buffered: PutObject needs a seekable body for signing.
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("archive read: %w", err)
	}

	key := fmt.Sprintf("bulk_results/dt=%s/%s.jsonl",
		a.nowFunc().UTC().Format("2006-01-02"),
		sanitizeKeyPart(operationID),
	)

	_, err = a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive put s3://%s/%s: %w", a.Bucket, key, err)
	}
	return nil
}

func sanitizeKeyPart(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	return string(out)
}
