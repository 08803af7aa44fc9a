package storage

import (
	"context"
	"errors"
	"time"

	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
)

// ErrNotFound is returned when a record or analysis does not exist.
var ErrNotFound = errors.New("storage: not found")

// RecordStore persists AuctionRecords and serves the reads the dedup engine
// and the scoring engine need.
type RecordStore interface {
	// LoadIndex returns one entry per stored record, inactive ones included.
	LoadIndex(ctx context.Context) ([]models.IndexEntry, error)
	InsertRecord(ctx context.Context, rec *models.AuctionRecord) (int64, error)
	// UpdateRecord overwrites the mutable fields of an existing record and
	// increments its updated_count.
	UpdateRecord(ctx context.Context, rec *models.AuctionRecord) error
	// TouchRecord bumps last_checked_at and check_count only.
	TouchRecord(ctx context.Context, id int64, checkedAt time.Time) error
	GetRecord(ctx context.Context, id int64) (*models.AuctionRecord, error)
	ListRecordIDs(ctx context.Context, status models.Status) ([]int64, error)

	ListActive(ctx context.Context) ([]*models.AuctionRecord, error)
	// Deactivate sets status inactive and stores the hash recomputed for it.
	Deactivate(ctx context.Context, hashes map[int64]string) (int, error)
	DuplicateGroups(ctx context.Context) ([]models.DuplicateGroup, error)
	DeleteRecords(ctx context.Context, ids []int64) (int, error)

	// Comparables returns records in the same region and property type
	// scraped at or after since.
	Comparables(ctx context.Context, region string, pt models.PropertyType, since time.Time) ([]models.Comparable, error)
}

// AnalysisStore persists AnalysisResults.
type AnalysisStore interface {
	// SaveAnalysis upserts the latest result for its record and, when
	// retainHistory is set, appends it to the history in the same transaction.
	SaveAnalysis(ctx context.Context, res *models.AnalysisResult, retainHistory bool) error
	GetAnalysis(ctx context.Context, recordID int64) (*models.AnalysisResult, error)
	ListScored(ctx context.Context) ([]models.ScoredListing, error)
}

// Store is the full persistence gateway.
type Store interface {
	RecordStore
	AnalysisStore
	Close() error
}

// RawRowWriter archives extracted rows before normalization.
type RawRowWriter interface {
	WriteRaw(rows []*models.RawRecord) error
	Close() error
}
