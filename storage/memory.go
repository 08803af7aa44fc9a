package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
)

// MemoryStore is an in-process Store used for dry runs and tests.
// It is safe for concurrent use.
type MemoryStore struct {
	mu             sync.RWMutex
	nextID         int64
	nextAnalysisID int64
	records        map[int64]*models.AuctionRecord
	analyses       map[int64]*models.AnalysisResult
	history        []models.AnalysisResult
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[int64]*models.AuctionRecord),
		analyses: make(map[int64]*models.AnalysisResult),
	}
}

func (m *MemoryStore) LoadIndex(ctx context.Context) ([]models.IndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.IndexEntry, 0, len(m.records))
	for _, id := range m.sortedIDs() {
		r := m.records[id]
		out = append(out, models.IndexEntry{
			ID:                   r.ID,
			CaseNumber:           r.CaseNumber,
			Address:              r.Address,
			Hash:                 r.DataHash,
			AuctionDate:          r.AuctionDate,
			AuctionDateEstimated: r.AuctionDateEstimated,
		})
	}
	return out, ctx.Err()
}

func (m *MemoryStore) InsertRecord(ctx context.Context, rec *models.AuctionRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("memory: insert: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	cp := *rec
	cp.ID = m.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.ScrapedAt
	}
	if cp.LastCheckedAt.IsZero() {
		cp.LastCheckedAt = cp.ScrapedAt
	}
	if cp.CheckCount == 0 {
		cp.CheckCount = 1
	}
	m.records[cp.ID] = &cp
	return cp.ID, nil
}

func (m *MemoryStore) UpdateRecord(ctx context.Context, rec *models.AuctionRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: update %d: %w", rec.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[rec.ID]
	if !ok {
		return fmt.Errorf("memory: update %d: %w", rec.ID, ErrNotFound)
	}
	cp := *rec
	cp.CreatedAt = cur.CreatedAt
	cp.LastCheckedAt = rec.ScrapedAt
	cp.CheckCount = cur.CheckCount + 1
	cp.UpdatedCount = cur.UpdatedCount + 1
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) TouchRecord(ctx context.Context, id int64, checkedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: touch %d: %w", id, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.records[id]
	if !ok {
		return fmt.Errorf("memory: touch %d: %w", id, ErrNotFound)
	}
	cur.LastCheckedAt = checkedAt
	cur.CheckCount++
	return nil
}

func (m *MemoryStore) GetRecord(ctx context.Context, id int64) (*models.AuctionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("memory: get %d: %w", id, ErrNotFound)
	}
	cp := *r
	return &cp, ctx.Err()
}

func (m *MemoryStore) ListRecordIDs(ctx context.Context, status models.Status) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int64
	for _, id := range m.sortedIDs() {
		if status == "" || m.records[id].CurrentStatus == status {
			ids = append(ids, id)
		}
	}
	return ids, ctx.Err()
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]*models.AuctionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.AuctionRecord
	for _, id := range m.sortedIDs() {
		if r := m.records[id]; r.CurrentStatus == models.StatusActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, ctx.Err()
}

func (m *MemoryStore) Deactivate(ctx context.Context, hashes map[int64]string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("memory: deactivate: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, hash := range hashes {
		r, ok := m.records[id]
		if !ok || r.CurrentStatus != models.StatusActive {
			continue
		}
		r.CurrentStatus = models.StatusInactive
		r.DataHash = hash
		n++
	}
	return n, nil
}

func (m *MemoryStore) DuplicateGroups(ctx context.Context) ([]models.DuplicateGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct{ caseNumber, address string }
	groups := make(map[key][]int64)
	var order []key
	for _, id := range m.sortedIDs() {
		r := m.records[id]
		k := key{r.CaseNumber, r.Address}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], id)
	}

	var out []models.DuplicateGroup
	for _, k := range order {
		if ids := groups[k]; len(ids) > 1 {
			out = append(out, models.DuplicateGroup{CaseNumber: k.caseNumber, Address: k.address, IDs: ids})
		}
	}
	return out, ctx.Err()
}

func (m *MemoryStore) DeleteRecords(ctx context.Context, ids []int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("memory: delete: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if _, ok := m.records[id]; ok {
			delete(m.records, id)
			delete(m.analyses, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Comparables(ctx context.Context, region string, pt models.PropertyType, since time.Time) ([]models.Comparable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Comparable
	for _, id := range m.sortedIDs() {
		r := m.records[id]
		if r.Region != region || r.PropertyType != pt || r.ScrapedAt.Before(since) {
			continue
		}
		out = append(out, models.Comparable{
			AppraisalValue:   r.AppraisalValue,
			MinimumSalePrice: r.MinimumSalePrice,
			Status:           r.CurrentStatus,
			ScrapedAt:        r.ScrapedAt,
		})
	}
	return out, ctx.Err()
}

func (m *MemoryStore) SaveAnalysis(ctx context.Context, res *models.AnalysisResult, retainHistory bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: save analysis %d: %w", res.RecordID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[res.RecordID]; !ok {
		return fmt.Errorf("memory: save analysis %d: %w", res.RecordID, ErrNotFound)
	}
	cp := *res
	if prev, ok := m.analyses[res.RecordID]; ok {
		cp.ID = prev.ID
	} else {
		m.nextAnalysisID++
		cp.ID = m.nextAnalysisID
	}
	m.analyses[res.RecordID] = &cp
	if retainHistory {
		m.history = append(m.history, cp)
	}
	res.ID = cp.ID
	return nil
}

func (m *MemoryStore) GetAnalysis(ctx context.Context, recordID int64) (*models.AnalysisResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.analyses[recordID]
	if !ok {
		return nil, fmt.Errorf("memory: get analysis %d: %w", recordID, ErrNotFound)
	}
	cp := *a
	return &cp, ctx.Err()
}

func (m *MemoryStore) ListScored(ctx context.Context) ([]models.ScoredListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ScoredListing
	for _, id := range m.sortedIDs() {
		a, ok := m.analyses[id]
		if !ok {
			continue
		}
		rec, res := *m.records[id], *a
		out = append(out, models.ScoredListing{Record: &rec, Analysis: &res})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Analysis.InvestmentScore > out[j].Analysis.InvestmentScore
	})
	return out, ctx.Err()
}

// HistoryLen reports how many analysis history rows were retained.
func (m *MemoryStore) HistoryLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

// SetLastChecked overrides a record's last-checked timestamp. It lets callers
// simulate records that have not been reconfirmed for a while.
func (m *MemoryStore) SetLastChecked(id int64, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return fmt.Errorf("memory: set last checked %d: %w", id, ErrNotFound)
	}
	r.LastCheckedAt = t
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// sortedIDs must be called with m.mu held.
func (m *MemoryStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
