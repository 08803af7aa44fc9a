package models

import "time"

// Table is one candidate table of a page: a header row plus data rows of
// plain cell text.
type Table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// RowCount counts the header and data rows together.
func (t Table) RowCount() int {
	if len(t.Header) == 0 {
		return len(t.Rows)
	}
	return len(t.Rows) + 1
}

// Page is what the browser collaborator hands to the extractor.
type Page struct {
	URL        string    `json:"url"`
	CapturedAt time.Time `json:"captured_at"`
	Tables     []Table   `json:"tables"`
}

// BatchResult is the classification summary of one ingestion batch.
// New+Updated+Duplicate+Skipped always equals Total; Errored is the subset of
// Skipped caused by storage failures.
type BatchResult struct {
	BatchID     string
	SourceLabel string
	New         int
	Updated     int
	Duplicate   int
	Skipped     int
	Errored     int
	Total       int

	// IDs of records inserted or changed, in submission order.
	Changed []int64
}

// Balanced reports whether the classification counts add up.
func (b BatchResult) Balanced() bool {
	return b.New+b.Updated+b.Duplicate+b.Skipped == b.Total
}
