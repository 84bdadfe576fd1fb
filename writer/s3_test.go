package writer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"cryptomonitor/models"
)

type fakePutter struct {
	err   error
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if in.Body != nil {
		f.body, _ = io.ReadAll(in.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func fixedClock() time.Time { return cycleTime }

func TestS3ArchiverKeyMirrorsFileLayout(t *testing.T) {
	a := NewS3Archiver(S3Config{Bucket: "coins", Prefix: "raw"}, &fakePutter{})
	if got := a.Key(cycleTime); got != "raw/jsons/20240309/coins_20240309-140507.json" {
		t.Fatalf("Key() = %s", got)
	}

	a = NewS3Archiver(S3Config{Bucket: "coins", Format: FormatParquet}, &fakePutter{})
	if got := a.Key(cycleTime); got != "jsons/20240309/coins_20240309-140507.parquet" {
		t.Fatalf("Key() = %s", got)
	}
}

func TestS3ArchiverUploadsJSON(t *testing.T) {
	putter := &fakePutter{}
	a := NewS3Archiver(S3Config{Bucket: "coins"}, putter, WithS3Clock(fixedClock))

	if err := a.Archive(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if aws.ToString(putter.input.Bucket) != "coins" {
		t.Errorf("bucket = %s", aws.ToString(putter.input.Bucket))
	}
	if aws.ToString(putter.input.ContentType) != "application/json" {
		t.Errorf("content type = %s", aws.ToString(putter.input.ContentType))
	}
	if putter.input.Metadata["archive-id"] == "" || putter.input.Metadata["coins"] != "2" {
		t.Errorf("metadata = %v", putter.input.Metadata)
	}

	got, err := models.DecodeQuoteRecord(putter.body, "usd")
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Quotes["ethereum"].Price != 2500 {
		t.Errorf("unexpected body %s", putter.body)
	}
}

func TestS3ArchiverUploadsParquet(t *testing.T) {
	putter := &fakePutter{}
	a := NewS3Archiver(S3Config{Bucket: "coins", Format: FormatParquet}, putter, WithS3Clock(fixedClock))

	if err := a.Archive(context.Background(), sampleRecord()); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !bytes.HasPrefix(putter.body, []byte("PAR1")) || !bytes.HasSuffix(putter.body, []byte("PAR1")) {
		t.Fatalf("body is not a parquet file")
	}
}

func TestS3ArchiverUploadFailure(t *testing.T) {
	denied := errors.New("access denied")
	a := NewS3Archiver(S3Config{Bucket: "coins"}, &fakePutter{err: denied}, WithS3Clock(fixedClock))

	err := a.Archive(context.Background(), sampleRecord())
	var archiveErr *ArchiveError
	if !errors.As(err, &archiveErr) || archiveErr.Stage != StageUpload {
		t.Fatalf("expected upload failure, got %v", err)
	}
	if !errors.Is(err, denied) {
		t.Errorf("cause not wrapped: %v", err)
	}
}

func TestS3ArchiverUnknownFormat(t *testing.T) {
	a := NewS3Archiver(S3Config{Bucket: "coins", Format: "csv"}, &fakePutter{})
	var archiveErr *ArchiveError
	if err := a.Archive(context.Background(), sampleRecord()); !errors.As(err, &archiveErr) || archiveErr.Stage != StageEncode {
		t.Fatalf("expected encode failure, got %v", err)
	}
}

func TestQuoteRowsOnePerCoin(t *testing.T) {
	rows := QuoteRows(sampleRecord())
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Coin != "bitcoin" || rows[1].Coin != "ethereum" {
		t.Errorf("rows not ordered by coin: %+v", rows)
	}
	if rows[0].Timestamp != cycleTime.UnixMilli() || rows[0].Currency != "usd" {
		t.Errorf("unexpected row %+v", rows[0])
	}
}
