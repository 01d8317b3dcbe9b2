package sync

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3sdk "github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	inputs []*s3sdk.PutObjectInput
	bodies []string
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3sdk.PutObjectInput, optFns ...func(*s3sdk.Options)) (*s3sdk.PutObjectOutput, error) {
	body, _ := io.ReadAll(params.Body)
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, string(body))
	return &s3sdk.PutObjectOutput{}, nil
}

func TestArchiveWritesPartitionedKey(t *testing.T) {
	s3c := &fakeS3{}
	a := NewBulkArchiver(s3c, "archive-bucket", func(ctx context.Context, url string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(`{"id":"gid://shopify/Order/1"}` + "\n")), nil
	})
	a.nowFunc = func() time.Time {
		return time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	}

	err := a.Archive(context.Background(), "gid://shopify/BulkOperation/77", "https://storage.example/r.jsonl")
	if err != nil {
		t.Fatal(err)
	}

	if len(s3c.inputs) != 1 {
		t.Fatalf("put %d objects", len(s3c.inputs))
	}
	in := s3c.inputs[0]
	if aws.ToString(in.Bucket) != "archive-bucket" {
		t.Fatalf("bucket = %q", aws.ToString(in.Bucket))
	}
	key := aws.ToString(in.Key)
	if key != "bulk_results/dt=2024-06-15/gid---shopify-BulkOperation-77.jsonl" {
		t.Fatalf("key = %q", key)
	}
	if !strings.Contains(s3c.bodies[0], "shopify/Order/1") {
		t.Fatalf("body = %q", s3c.bodies[0])
	}
}

func TestArchiveDownloadFailure(t *testing.T) {
	a := NewBulkArchiver(&fakeS3{}, "b", func(ctx context.Context, url string) (io.ReadCloser, error) {
		return nil, errors.New("expired url")
	})
	if err := a.Archive(context.Background(), "op", "u"); err == nil {
		t.Fatal("expected error when the result url is gone")
	}
}
