package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/araeLaver/busan-auction-analyzer-sub000/config"
	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
	"github.com/araeLaver/busan-auction-analyzer-sub000/storage"
	"github.com/araeLaver/busan-auction-analyzer-sub000/utils"
)

// ErrUnbalanced signals a defect: the classification counts of a batch do
// not add up to the number of records submitted.
var ErrUnbalanced = errors.New("dedup: classification counts do not balance")

// RecordValidator rejects records that are not fit to persist.
type RecordValidator interface {
	Validate(rec *models.AuctionRecord) error
}

// DedupConfig tunes the dedup engine.
type DedupConfig struct {
	IdentityKey     string // config.IdentityCase or config.IdentityCaseAddress
	MinCaseLength   int
	StaleWindowDays int
	StoreTimeout    time.Duration
}

// DedupEngine reconciles incoming records with the stored ones. Batches and
// maintenance operations are serialized on one mutex, so a single engine is
// the only writer of its identity-key space.
type DedupEngine struct {
	mu        sync.Mutex
	store     storage.RecordStore
	validator RecordValidator
	cfg       DedupConfig
	logger    *utils.Logger
	now       func() time.Time
}

// NewDedupEngine creates a DedupEngine. validator may be nil; now defaults to
// time.Now.
func NewDedupEngine(store storage.RecordStore, validator RecordValidator, cfg DedupConfig, logger *utils.Logger, now func() time.Time) *DedupEngine {
	if now == nil {
		now = time.Now
	}
	if cfg.IdentityKey == "" {
		cfg.IdentityKey = config.IdentityCaseAddress
	}
	if cfg.MinCaseLength <= 0 {
		cfg.MinCaseLength = 3
	}
	if cfg.StaleWindowDays <= 0 {
		cfg.StaleWindowDays = 30
	}
	return &DedupEngine{
		store:     store,
		validator: validator,
		cfg:       cfg,
		logger:    logger.With("component", "dedup"),
		now:       now,
	}
}

// Hash returns the change-detection digest of rec: FNV-128a over the JSON
// encoding of a fixed field subset. An estimated auction date hashes as ""
// so placeholder dates never register as changes.
func Hash(rec *models.AuctionRecord) string {
	return hashFields(canonicalFields(rec))
}

func canonicalFields(rec *models.AuctionRecord) map[string]any {
	date := ""
	if !rec.AuctionDateEstimated && !rec.AuctionDate.IsZero() {
		date = rec.AuctionDate.Format("2006-01-02")
	}
	return map[string]any{
		"caseNumber":       rec.CaseNumber,
		"address":          rec.Address,
		"appraisalValue":   rec.AppraisalValue,
		"minimumSalePrice": rec.MinimumSalePrice,
		"auctionDate":      date,
		"currentStatus":    string(rec.CurrentStatus),
	}
}

// hashFields relies on encoding/json writing map keys in sorted order.
func hashFields(fields map[string]any) string {
	body, err := json.Marshal(fields)
	if err != nil {
		// Only strings and integers are ever passed in.
		panic(fmt.Sprintf("dedup: marshal hash fields: %v", err))
	}
	h := fnv.New128a()
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// IdentityKey returns the key that recognizes the same listing across
// scrapes, and false when the case number is too short to be trusted.
func (e *DedupEngine) IdentityKey(rec *models.AuctionRecord) (string, bool) {
	return identityKey(e.cfg.IdentityKey, e.cfg.MinCaseLength, rec.CaseNumber, rec.Address)
}

func identityKey(mode string, minCase int, caseNumber, address string) (string, bool) {
	if utf8.RuneCountInString(caseNumber) < minCase {
		return "", false
	}
	if mode == config.IdentityCase {
		return caseNumber, true
	}
	address = collapseSpaces(address)
	if address == "" {
		return "", false
	}
	return caseNumber + "|" + address, true
}

func (e *DedupEngine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.StoreTimeout)
}

// ProcessBatch classifies and persists records. Per-record failures are
// counted as skipped, never returned; the error is non-nil only when the
// index cannot be loaded or the counts do not balance. Cancelling ctx stops
// submission and counts the remaining records as skipped.
func (e *DedupEngine) ProcessBatch(ctx context.Context, records []*models.AuctionRecord, sourceLabel string) (models.BatchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := models.BatchResult{
		BatchID:     uuid.NewString(),
		SourceLabel: sourceLabel,
		Total:       len(records),
	}
	log := e.logger.With("batch_id", res.BatchID, "source", sourceLabel)

	index, err := e.loadIndex(ctx)
	if err != nil {
		res.Skipped, res.Errored = res.Total, res.Total
		log.Error("[dedup] Could not load index, batch of %d skipped: %v", res.Total, err)
		return res, err
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			res.Skipped++
			continue
		}

		key, ok := e.IdentityKey(rec)
		if !ok {
			log.Debug("[dedup] Skipping record with malformed identity %q", rec.CaseNumber)
			res.Skipped++
			continue
		}
		if e.validator != nil {
			if err := e.validator.Validate(rec); err != nil {
				log.Warn("[dedup] Skipping invalid record: %v", err)
				res.Skipped++
				continue
			}
		}
		entry, exists := index[key]
		if exists {
			entry.keepKnownDate(rec)
		}
		rec.DataHash = Hash(rec)

		switch {
		case !exists:
			id, err := e.insert(ctx, rec)
			if err != nil {
				log.Warn("[dedup] Insert %s failed: %v", key, err)
				res.Skipped++
				res.Errored++
				continue
			}
			index[key] = newIndexEntry(id, rec)
			res.New++
			res.Changed = append(res.Changed, id)

		case entry.hash != rec.DataHash:
			rec.ID = entry.id
			if err := e.update(ctx, rec); err != nil {
				log.Warn("[dedup] Update %s failed: %v", key, err)
				res.Skipped++
				res.Errored++
				continue
			}
			index[key] = newIndexEntry(entry.id, rec)
			res.Updated++
			res.Changed = append(res.Changed, entry.id)

		default:
			if err := e.touch(ctx, entry.id, rec.ScrapedAt); err != nil {
				log.Warn("[dedup] Touch %s failed: %v", key, err)
				res.Skipped++
				res.Errored++
				continue
			}
			rec.ID = entry.id
			res.Duplicate++
		}
	}

	if !res.Balanced() {
		log.Error("[dedup] Unbalanced batch: new=%d updated=%d duplicate=%d skipped=%d total=%d",
			res.New, res.Updated, res.Duplicate, res.Skipped, res.Total)
		return res, ErrUnbalanced
	}

	log.Info("[dedup] Batch done: %d new, %d updated, %d duplicate, %d skipped (%d errors) of %d",
		res.New, res.Updated, res.Duplicate, res.Skipped, res.Errored, res.Total)
	return res, nil
}

type indexEntry struct {
	id            int64
	hash          string
	auctionDate   time.Time
	dateEstimated bool
}

func newIndexEntry(id int64, rec *models.AuctionRecord) indexEntry {
	return indexEntry{
		id:            id,
		hash:          rec.DataHash,
		auctionDate:   rec.AuctionDate,
		dateEstimated: rec.AuctionDateEstimated,
	}
}

// keepKnownDate replaces a placeholder date on rec with the stored real one,
// so an unparseable date cell neither registers as a change nor overwrites
// the known value.
func (en indexEntry) keepKnownDate(rec *models.AuctionRecord) {
	if !rec.AuctionDateEstimated || en.dateEstimated || en.auctionDate.IsZero() {
		return
	}
	rec.AuctionDate = en.auctionDate
	rec.AuctionDateEstimated = false
}

// loadIndex maps identity keys to stored records. When several stored rows
// share a key the lowest id wins, matching what compaction keeps.
func (e *DedupEngine) loadIndex(ctx context.Context) (map[string]indexEntry, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	entries, err := e.store.LoadIndex(sctx)
	if err != nil {
		return nil, fmt.Errorf("dedup: load index: %w", err)
	}
	index := make(map[string]indexEntry, len(entries))
	for _, en := range entries {
		// Strictness applies to incoming rows only.
		key, ok := identityKey(e.cfg.IdentityKey, 0, en.CaseNumber, en.Address)
		if !ok {
			continue
		}
		if _, seen := index[key]; !seen {
			index[key] = indexEntry{
				id:            en.ID,
				hash:          en.Hash,
				auctionDate:   en.AuctionDate,
				dateEstimated: en.AuctionDateEstimated,
			}
		}
	}
	return index, nil
}

func (e *DedupEngine) insert(ctx context.Context, rec *models.AuctionRecord) (int64, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	id, err := e.store.InsertRecord(sctx, rec)
	if err != nil {
		return 0, err
	}
	rec.ID = id
	return id, nil
}

func (e *DedupEngine) update(ctx context.Context, rec *models.AuctionRecord) error {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.UpdateRecord(sctx, rec)
}

func (e *DedupEngine) touch(ctx context.Context, id int64, at time.Time) error {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.TouchRecord(sctx, id, at)
}

// DeactivateStale marks inactive every active record not seen within
// windowDays (the configured window when windowDays <= 0). It returns the
// number of records transitioned.
func (e *DedupEngine) DeactivateStale(ctx context.Context, windowDays int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if windowDays <= 0 {
		windowDays = e.cfg.StaleWindowDays
	}
	cutoff := e.now().AddDate(0, 0, -windowDays)

	sctx, cancel := e.storeCtx(ctx)
	active, err := e.store.ListActive(sctx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("dedup: list active: %w", err)
	}

	hashes := make(map[int64]string)
	for _, rec := range active {
		if !rec.LastSeen().Before(cutoff) {
			continue
		}
		rec.CurrentStatus = models.StatusInactive
		hashes[rec.ID] = Hash(rec)
	}
	if len(hashes) == 0 {
		e.logger.Info("[dedup] No stale records among %d active (window %d days)", len(active), windowDays)
		return 0, nil
	}

	sctx, cancel = e.storeCtx(ctx)
	defer cancel()
	n, err := e.store.Deactivate(sctx, hashes)
	if err != nil {
		return 0, fmt.Errorf("dedup: deactivate: %w", err)
	}
	e.logger.Info("[dedup] Deactivated %d stale records (window %d days)", n, windowDays)
	return n, nil
}

// CompactDuplicates deletes every record sharing (caseNumber, address) with
// an older one, keeping the lowest id. It is irreversible.
func (e *DedupEngine) CompactDuplicates(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sctx, cancel := e.storeCtx(ctx)
	groups, err := e.store.DuplicateGroups(sctx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("dedup: duplicate groups: %w", err)
	}

	var doomed []int64
	for _, g := range groups {
		if len(g.IDs) < 2 {
			continue
		}
		// IDs are ascending; the first one is the original.
		keep := g.IDs[0]
		doomed = append(doomed, g.IDs[1:]...)
		e.logger.Debug("[dedup] %s at %q: keeping %d, removing %d", g.CaseNumber, g.Address, keep, len(g.IDs)-1)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	sctx, cancel = e.storeCtx(ctx)
	defer cancel()
	n, err := e.store.DeleteRecords(sctx, doomed)
	if err != nil {
		return 0, fmt.Errorf("dedup: delete duplicates: %w", err)
	}
	e.logger.Info("[dedup] Compacted %d duplicate records across %d groups", n, len(groups))
	return n, nil
}
