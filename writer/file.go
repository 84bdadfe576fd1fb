package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptomonitor/logger"
	"cryptomonitor/models"
)

// FileArchiver writes one JSON document per cycle below
// <baseDir>/jsons/<YYYYMMDD>/.
type FileArchiver struct {
	baseDir string
	now     func() time.Time
	log     *logger.Log
}

// FileOption customises a FileArchiver.
type FileOption func(*FileArchiver)

// WithFileClock sets the clock used for partition and file names.
func WithFileClock(now func() time.Time) FileOption {
	return func(a *FileArchiver) { a.now = now }
}

// NewFileArchiver creates a FileArchiver rooted at baseDir.
func NewFileArchiver(baseDir string, opts ...FileOption) *FileArchiver {
	a := &FileArchiver{
		baseDir: baseDir,
		now:     time.Now,
		log:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *FileArchiver) Name() string { return SinkFile }

// Path returns the archive file for a cycle at t.
func (a *FileArchiver) Path(t time.Time) string {
	return filepath.Join(a.baseDir, filepath.FromSlash(archiveKey(t, "json")))
}

// Archive writes record as a single JSON document. The date directory is
// created when missing.
func (a *FileArchiver) Archive(ctx context.Context, record models.QuoteRecord) error {
	if err := ctx.Err(); err != nil {
		return &ArchiveError{Sink: SinkFile, Stage: StageWrite, Err: err}
	}

	now := a.now()
	dir := filepath.Join(a.baseDir, filepath.FromSlash(partitionDir(now)))
	file := a.Path(now)
	log := a.log.WithComponent("file_archiver").WithFields(logger.Fields{"path": file})

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ArchiveError{Sink: SinkFile, Stage: StageCreate, Err: fmt.Errorf("create directory %s: %w", dir, err)}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return &ArchiveError{Sink: SinkFile, Stage: StageEncode, Err: err}
	}

	log.Debug("writing archive file")
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return &ArchiveError{Sink: SinkFile, Stage: StageWrite, Err: err}
	}

	log.WithFields(logger.Fields{"bytes": len(data), "coins": len(record.Quotes)}).Debug("archiving complete")
	return nil
}

// ReadArchive loads an archive file written by FileArchiver.
func ReadArchive(path string, currency string) (models.QuoteRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.QuoteRecord{}, fmt.Errorf("failed to read archive: %w", err)
	}
	return models.DecodeQuoteRecord(data, currency)
}
