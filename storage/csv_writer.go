package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
)

var rawHeader = []string{
	"source_url", "captured_at", "case_number", "item_number", "court_name", "property_type",
	"address", "building_name", "appraisal_value", "minimum_price", "auction_date",
	"status", "failure_count", "notes",
}

// CSVWriter appends raw extracted rows to a CSV archive.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter opens the CSV file at path for appending and writes the header
// row when the file is new. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(rawHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRaw appends one CSV row per raw record.
func (c *CSVWriter) WriteRaw(rows []*models.RawRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range rows {
		row := []string{
			r.SourceURL,
			r.CapturedAt.Format(time.RFC3339),
			r.CaseNumber,
			r.ItemNumber,
			r.CourtName,
			r.PropertyType,
			r.Address,
			r.BuildingName,
			r.AppraisalValue,
			r.MinimumPrice,
			r.AuctionDate,
			r.Status,
			r.FailureCount,
			r.Notes,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
