package parquet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/snappy"

	"github.com/piotrostr/listen-engine/ingestor/pricing"
)

var ErrWriterDisabled = errors.New("parquet writer disabled: missing configuration")

// Writer buffers price observations and periodically uploads Parquet files to
// S3-compatible storage. The archive is a cold-path complement to ClickHouse;
// a failed upload keeps the rows buffered for the next flush.
type Writer struct {
	cfg Config

	mu        sync.Mutex
	rows      []observationRow
	uploader  uploader
	lastFlush time.Time
}

// uploader is the slice of *s3manager.Uploader the writer depends on, split
// out so tests can capture uploads instead of hitting S3.
type uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

type observationRow struct {
	Name       string  `parquet:"name=name,type=BYTE_ARRAY,convertedtype=UTF8"`
	Pubkey     string  `parquet:"name=pubkey,type=BYTE_ARRAY,convertedtype=UTF8"`
	Price      float64 `parquet:"name=price,type=DOUBLE"`
	MarketCap  float64 `parquet:"name=market_cap,type=DOUBLE"`
	Timestamp  int64   `parquet:"name=timestamp,type=INT64,logicaltype=TIMESTAMP(isAdjustedToUTC=true,unit=SECONDS)"`
	Slot       int64   `parquet:"name=slot,type=INT64"`
	SwapAmount float64 `parquet:"name=swap_amount,type=DOUBLE"`
	Owner      string  `parquet:"name=owner,type=BYTE_ARRAY,convertedtype=UTF8"`
	Signature  string  `parquet:"name=signature,type=BYTE_ARRAY,convertedtype=UTF8"`
	MultiHop   bool    `parquet:"name=multi_hop,type=BOOLEAN"`
	IsBuy      bool    `parquet:"name=is_buy,type=BOOLEAN"`
	IsPump     bool    `parquet:"name=is_pump,type=BOOLEAN"`
}

// NewWriter validates configuration and prepares a Writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, ErrWriterDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg := &aws.Config{
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}

	return &Writer{
		cfg:       cfg,
		uploader:  s3manager.NewUploader(sess),
		lastFlush: time.Now(),
	}, nil
}

// Append buffers an observation and flushes when the batch fills or the flush
// interval has elapsed.
func (w *Writer) Append(ctx context.Context, obs *pricing.Observation) error {
	if obs == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.rows = append(w.rows, observationRow{
		Name:       obs.Name,
		Pubkey:     obs.Pubkey,
		Price:      obs.Price,
		MarketCap:  obs.MarketCap,
		Timestamp:  obs.Timestamp,
		Slot:       int64(obs.Slot),
		SwapAmount: obs.SwapAmount,
		Owner:      obs.Owner,
		Signature:  obs.Signature,
		MultiHop:   obs.MultiHop,
		IsBuy:      obs.IsBuy,
		IsPump:     obs.IsPump,
	})

	if len(w.rows) >= w.cfg.BatchRows || time.Since(w.lastFlush) >= w.cfg.FlushInterval {
		return w.flushLocked(ctx)
	}
	return nil
}

// Flush uploads any buffered rows.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

// Rows reports the number of buffered rows, for tests and diagnostics.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows)
}

func (w *Writer) Close() error {
	return w.Flush(context.Background())
}

func (w *Writer) flushLocked(ctx context.Context) error {
	if len(w.rows) == 0 {
		return nil
	}

	buf := bytes.NewBuffer(nil)

	writer := parquet.NewGenericWriter[observationRow](buf, parquet.Compression(&snappy.Codec{}))
	if _, err := writer.Write(w.rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}

	_, err := w.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(w.cfg.Bucket),
		Key:         aws.String(w.objectKey()),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("upload parquet to s3: %w", err)
	}

	w.rows = w.rows[:0]
	w.lastFlush = time.Now()
	return nil
}

func (w *Writer) objectKey() string {
	prefix := strings.TrimSuffix(w.cfg.Prefix, "/")
	date := time.Now().UTC().Format("2006-01-02")
	filename := fmt.Sprintf("observations-%d.parquet", time.Now().UnixNano())
	return filepath.Join(prefix, fmt.Sprintf("date=%s", date), filename)
}
