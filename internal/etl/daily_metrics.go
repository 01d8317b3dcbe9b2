package etl

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"backend/internal/metrics"
	"backend/internal/store"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
)

// DailyMetricsRow matches the analytics table columns.
type DailyMetricsRow struct {
	MetricDate   string  `parquet:"name=metric_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"` // YYYY-MM-DD
	OrderCount   int64   `parquet:"name=order_count, type=INT64"`
	Revenue      float64 `parquet:"name=revenue, type=DOUBLE"`
	ShippingCost float64 `parquet:"name=shipping_cost, type=DOUBLE"`
}

// OrderSource is the slice of the order store the ETL reads from.
type OrderSource interface {
	OrdersSince(ctx context.Context, sinceISO string) ([]store.Order, error)
}

type DailyMetricsETL struct {
	orders OrderSource
	s3     *s3.Client
}

func NewDailyMetricsETL(orders OrderSource, s3Client *s3.Client) *DailyMetricsETL {
	return &DailyMetricsETL{orders: orders, s3: s3Client}
}

// Handle is triggered by an EventBridge schedule.
//
// Behavior:
// - Aggregate stored orders for each day in the backfill window
// - Write one Parquet row per day under:
//     daily_metrics/dt=YYYY-MM-DD/part-<rand>.parquet
//
// Env:
// - ANALYTICS_BUCKET (required)
// - DAILY_METRICS_PREFIX (default "daily_metrics/")
// - ETL_DAYS_BACK (default "1")  // number of days including today
func (h *DailyMetricsETL) Handle(ctx context.Context, _ events.CloudWatchEvent) (map[string]any, error) {
	bucket := strings.TrimSpace(os.Getenv("ANALYTICS_BUCKET"))
	if bucket == "" {
		return nil, fmt.Errorf("missing env ANALYTICS_BUCKET")
	}

	prefix := strings.TrimSpace(os.Getenv("DAILY_METRICS_PREFIX"))
	if prefix == "" {
		prefix = "daily_metrics/"
	}

	daysBack := 1
	if v := strings.TrimSpace(os.Getenv("ETL_DAYS_BACK")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 90 {
			daysBack = n
		}
	}

	now := time.Now().UTC()
	windowStart := now.AddDate(0, 0, -(daysBack - 1)).Truncate(24 * time.Hour)

	orders, err := h.orders.OrdersSince(ctx, windowStart.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("load orders since %s: %w", windowStart.Format(time.RFC3339), err)
	}

	daily, _ := metrics.Aggregate(orders)
	byDate := make(map[string]metrics.DailyMetric, len(daily))
	for _, d := range daily {
		byDate[d.Date] = d
	}

	written := 0
	for i := 0; i < daysBack; i++ {
		dtStr := now.AddDate(0, 0, -i).Format("2006-01-02")

		row := DailyMetricsRow{MetricDate: dtStr}
		if d, ok := byDate[dtStr]; ok {
			row.OrderCount = int64(d.OrderCount)
			row.Revenue = d.Revenue
			row.ShippingCost = d.ShippingCost
		}

		key := fmt.Sprintf("%sdt=%s/part-%s.parquet",
			ensureTrailingSlash(prefix),
			dtStr,
			randHex(8),
		)

		if err := h.writeOneParquetRowToS3(ctx, bucket, key, row); err != nil {
			return nil, fmt.Errorf("write parquet for dt=%s: %w", dtStr, err)
		}
		written++
	}

	return map[string]any{
		"ok":        true,
		"days_back": daysBack,
		"written":   written,
		"orders":    len(orders),
		"bucket":    bucket,
		"prefix":    prefix,
	}, nil
}

func (h *DailyMetricsETL) writeOneParquetRowToS3(ctx context.Context, bucket, key string, row DailyMetricsRow) error {
	tmpDir := os.TempDir()
	localPath := filepath.Join(tmpDir, "daily_metrics_"+randHex(8)+".parquet")

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(DailyMetricsRow), 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = 0 // no snappy

	if err := pw.Write(row); err != nil {
		_ = pw.WriteStop()
		_ = fw.Close()
		return fmt.Errorf("parquet write row: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("parquet close: %w", err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read parquet tmp: %w", err)
	}
	defer func() { _ = os.Remove(localPath) }()

	_, err = h.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("s3 putobject failed: %w", err)
	}
	return nil
}

func ensureTrailingSlash(s string) string {
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
