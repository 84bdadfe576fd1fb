package writer

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"cryptomonitor/models"
)

// QuoteRow is one coin of a record in the parquet layout.
type QuoteRow struct {
	Coin             string  `parquet:"name=coin, type=BYTE_ARRAY, convertedtype=UTF8"`
	Currency         string  `parquet:"name=currency, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp        int64   `parquet:"name=timestamp, type=INT64"`
	Price            float64 `parquet:"name=price, type=DOUBLE"`
	MarketCap        float64 `parquet:"name=market_cap, type=DOUBLE"`
	Volume24h        float64 `parquet:"name=volume_24h, type=DOUBLE"`
	PercentChange24h float64 `parquet:"name=percent_change_24h, type=DOUBLE"`
}

// memoryFile is a write-only source.ParquetFile backed by a buffer.
type memoryFile struct {
	buf *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buf: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }

// Seek reports the current size; the writer only seeks to learn its offset.
func (m *memoryFile) Seek(int64, int) (int64, error) { return int64(m.buf.Len()), nil }

func (m *memoryFile) Read(b []byte) (int, error)  { return m.buf.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buf.Write(b) }
func (m *memoryFile) Close() error                { return nil }
func (m *memoryFile) Bytes() []byte               { return m.buf.Bytes() }

// QuoteRows flattens record into rows ordered by coin id.
func QuoteRows(record models.QuoteRecord) []QuoteRow {
	ts := record.FetchedAt.UnixMilli()
	rows := make([]QuoteRow, 0, len(record.Quotes))
	for _, id := range record.IDs() {
		q := record.Quotes[id]
		rows = append(rows, QuoteRow{
			Coin:             id,
			Currency:         record.Currency,
			Timestamp:        ts,
			Price:            q.Price,
			MarketCap:        q.MarketCap,
			Volume24h:        q.Volume24h,
			PercentChange24h: q.PercentChange24h,
		})
	}
	return rows
}

// EncodeParquet renders record as a snappy-compressed parquet file.
func EncodeParquet(record models.QuoteRecord) ([]byte, error) {
	fw := newMemoryFile()

	pw, err := pqwriter.NewParquetWriter(fw, new(QuoteRow), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range QuoteRows(record) {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet row %s: %w", row.Coin, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return fw.Bytes(), nil
}
