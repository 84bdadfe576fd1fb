// Package writer archives quote records to files, InfluxDB and S3.
package writer

import (
	"context"
	"fmt"
	"path"
	"time"

	"cryptomonitor/models"
)

// Sink names.
const (
	SinkFile   = "file"
	SinkInflux = "influx"
	SinkS3     = "s3"
)

// Failure stages.
const (
	StageConnect = "connect"
	StageCreate  = "create"
	StageEncode  = "encode"
	StageWrite   = "write"
	StageUpload  = "upload"
)

// Archiver persists one cycle's quote record.
type Archiver interface {
	Name() string
	Archive(ctx context.Context, record models.QuoteRecord) error
}

// ArchiveError tells which sink failed and at which stage, so callers can
// tell connection problems from write problems.
type ArchiveError struct {
	Sink  string
	Stage string
	Err   error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("%s archive failed at %s: %v", e.Sink, e.Stage, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// archiveKey is the slash separated partition path shared by the file and
// object archivers: jsons/<YYYYMMDD>/coins_<YYYYMMDD-HHMMSS>.<ext>.
func archiveKey(t time.Time, ext string) string {
	return path.Join(partitionDir(t), "coins_"+t.Format("20060102-150405")+"."+ext)
}

func partitionDir(t time.Time) string {
	return path.Join("jsons", t.Format("20060102"))
}
