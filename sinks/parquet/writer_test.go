package parquet

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/parquet-go/parquet-go"

	"github.com/piotrostr/listen-engine/ingestor/pricing"
)

// stubUploader captures uploads in place of a live S3 client.
type stubUploader struct {
	mu      sync.Mutex
	buckets []string
	keys    []string
	bodies  [][]byte
	err     error
}

func (s *stubUploader) UploadWithContext(_ aws.Context, input *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	s.buckets = append(s.buckets, aws.StringValue(input.Bucket))
	s.keys = append(s.keys, aws.StringValue(input.Key))
	s.bodies = append(s.bodies, body)
	return &s3manager.UploadOutput{}, nil
}

func (s *stubUploader) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func newTestWriter(batchRows int, up uploader) *Writer {
	cfg := DefaultConfig()
	cfg.Bucket = "archive"
	cfg.BatchRows = batchRows
	cfg.FlushInterval = time.Hour
	return &Writer{cfg: cfg, uploader: up, lastFlush: time.Now()}
}

func testObservation(sig string) *pricing.Observation {
	return &pricing.Observation{
		Name:       "TESTCOIN",
		Pubkey:     "9BB6NFEcjBCtnNLFko2FqVQBq8HHM13kCyYcdQbgpump",
		Price:      0.0758,
		Timestamp:  1_740_000_000,
		Slot:       322503186,
		SwapAmount: 675.03,
		Owner:      "user",
		Signature:  sig,
		IsBuy:      true,
	}
}

func TestAppendFlushesAtBatchRows(t *testing.T) {
	stub := &stubUploader{}
	w := newTestWriter(2, stub)
	ctx := context.Background()

	if err := w.Append(ctx, testObservation("sig1")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := w.Append(ctx, testObservation("sig2")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if stub.uploadCount() != 1 {
		t.Fatalf("expected 1 upload, got %d", stub.uploadCount())
	}
	if w.Rows() != 0 {
		t.Fatalf("buffer holds %d rows after flush", w.Rows())
	}
	if stub.buckets[0] != "archive" {
		t.Fatalf("uploaded to bucket %q", stub.buckets[0])
	}

	// The uploaded object must be a readable parquet file carrying the rows.
	body := stub.bodies[0]
	rows, err := parquet.Read[observationRow](bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("read uploaded parquet: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("uploaded %d rows, want 2", len(rows))
	}
	if rows[0].Signature != "sig1" || rows[1].Signature != "sig2" {
		t.Fatalf("row order %q, %q", rows[0].Signature, rows[1].Signature)
	}
	if rows[0].Pubkey != "9BB6NFEcjBCtnNLFko2FqVQBq8HHM13kCyYcdQbgpump" {
		t.Fatalf("pubkey %q", rows[0].Pubkey)
	}
}

func TestAppendDoesNotFlushUnderBatchRows(t *testing.T) {
	stub := &stubUploader{}
	w := newTestWriter(10, stub)

	if err := w.Append(context.Background(), testObservation("sig1")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if stub.uploadCount() != 0 {
		t.Fatalf("expected 0 uploads, got %d", stub.uploadCount())
	}
	if w.Rows() != 1 {
		t.Fatalf("buffer holds %d rows, want 1", w.Rows())
	}
}

func TestAppendFlushesAfterInterval(t *testing.T) {
	stub := &stubUploader{}
	w := newTestWriter(10, stub)
	w.cfg.FlushInterval = time.Millisecond
	w.lastFlush = time.Now().Add(-time.Minute)

	if err := w.Append(context.Background(), testObservation("sig1")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if stub.uploadCount() != 1 {
		t.Fatalf("expected interval-triggered upload, got %d", stub.uploadCount())
	}
	if w.Rows() != 0 {
		t.Fatalf("buffer holds %d rows after interval flush", w.Rows())
	}
}

func TestFailedUploadRetainsRows(t *testing.T) {
	stub := &stubUploader{err: errors.New("503 slow down")}
	w := newTestWriter(10, stub)
	ctx := context.Background()

	if err := w.Append(ctx, testObservation("sig1")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if err := w.Flush(ctx); err == nil {
		t.Fatal("expected upload error")
	}
	if w.Rows() != 1 {
		t.Fatalf("buffer holds %d rows after failed upload, want 1", w.Rows())
	}

	stub.err = nil
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if w.Rows() != 0 {
		t.Fatalf("buffer holds %d rows after successful retry", w.Rows())
	}
}

func TestObjectKeysAreDatePartitioned(t *testing.T) {
	stub := &stubUploader{}
	w := newTestWriter(1, stub)

	if err := w.Append(context.Background(), testObservation("sig1")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	key := stub.keys[0]
	if !strings.HasPrefix(key, "prices/date=") {
		t.Fatalf("key %q lacks date partition prefix", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Fatalf("key %q lacks parquet suffix", key)
	}
}
