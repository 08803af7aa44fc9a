package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/araeLaver/busan-auction-analyzer-sub000/config"
	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
	"github.com/araeLaver/busan-auction-analyzer-sub000/storage"
)

// flakyStore fails inserts for one case number.
type flakyStore struct {
	storage.RecordStore
	failCase string
}

func (f *flakyStore) InsertRecord(ctx context.Context, rec *models.AuctionRecord) (int64, error) {
	if rec.CaseNumber == f.failCase {
		return 0, errors.New("connection reset by peer")
	}
	return f.RecordStore.InsertRecord(ctx, rec)
}

// cancellingStore cancels the batch context after the first insert.
type cancellingStore struct {
	storage.RecordStore
	cancel context.CancelFunc
}

func (c *cancellingStore) InsertRecord(ctx context.Context, rec *models.AuctionRecord) (int64, error) {
	id, err := c.RecordStore.InsertRecord(ctx, rec)
	c.cancel()
	return id, err
}

func newRecord(caseNumber string, minimum int64) *models.AuctionRecord {
	return &models.AuctionRecord{
		CaseNumber:       caseNumber,
		ItemNumber:       "1",
		CourtName:        "부산지방법원",
		PropertyType:     models.PropertyApartment,
		Address:          "부산광역시 해운대구 우동 1408",
		Region:           "해운대구",
		AppraisalValue:   300_000_000,
		MinimumSalePrice: minimum,
		AuctionDate:      time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
		CurrentStatus:    models.StatusActive,
		ScrapedAt:        fixedNow,
	}
}

func newTestEngine(t *testing.T, store storage.RecordStore) *DedupEngine {
	t.Helper()
	v, err := NewValidator(3, 5)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	cfg := DedupConfig{IdentityKey: config.IdentityCaseAddress, MinCaseLength: 3, StoreTimeout: time.Second}
	return NewDedupEngine(store, v, cfg, newTestLogger(), func() time.Time { return fixedNow })
}

func TestHashDeterminism(t *testing.T) {
	rec := newRecord("2024타경1234", 240_000_000)
	if Hash(rec) != Hash(rec) {
		t.Fatal("hash is not stable")
	}

	forward := map[string]any{}
	backward := map[string]any{}
	fields := canonicalFields(rec)
	keys := []string{"caseNumber", "address", "appraisalValue", "minimumSalePrice", "auctionDate", "currentStatus"}
	for _, k := range keys {
		forward[k] = fields[k]
	}
	for i := len(keys) - 1; i >= 0; i-- {
		backward[keys[i]] = fields[keys[i]]
	}
	if hashFields(forward) != hashFields(backward) {
		t.Error("hash depends on field insertion order")
	}
	if len(Hash(rec)) != 32 {
		t.Errorf("expected 128-bit hex digest, got %q", Hash(rec))
	}

	changed := newRecord("2024타경1234", 192_000_000)
	if Hash(changed) == Hash(rec) {
		t.Error("minimum price change must change the hash")
	}

	// Fields outside the canonical subset do not matter.
	noisy := newRecord("2024타경1234", 240_000_000)
	noisy.Notes = "유치권 신고 있음"
	noisy.ScrapedAt = fixedNow.Add(time.Hour)
	if Hash(noisy) != Hash(rec) {
		t.Error("non-canonical fields changed the hash")
	}
}

func TestHashIgnoresEstimatedDate(t *testing.T) {
	a := newRecord("2024타경1", 100)
	a.AuctionDateEstimated = true
	b := newRecord("2024타경1", 100)
	b.AuctionDateEstimated = true
	b.AuctionDate = b.AuctionDate.AddDate(0, 0, 3)
	if Hash(a) != Hash(b) {
		t.Error("placeholder dates should not affect the hash")
	}
}

func TestIdentityKeyModes(t *testing.T) {
	tests := []struct {
		mode, caseNumber, address string
		wantKey                   string
		wantOK                    bool
	}{
		{config.IdentityCaseAddress, "2024타경1", "부산  중구  1", "2024타경1|부산 중구 1", true},
		{config.IdentityCase, "2024타경1", "부산 중구 1", "2024타경1", true},
		{config.IdentityCaseAddress, "12", "부산 중구 1", "", false},
		{config.IdentityCaseAddress, "2024타경1", "  ", "", false},
	}
	for _, tt := range tests {
		key, ok := identityKey(tt.mode, 3, tt.caseNumber, tt.address)
		if key != tt.wantKey || ok != tt.wantOK {
			t.Errorf("identityKey(%s, %q, %q) = %q, %v; want %q, %v",
				tt.mode, tt.caseNumber, tt.address, key, ok, tt.wantKey, tt.wantOK)
		}
	}
}

func TestProcessBatchIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, storage.NewMemoryStore())

	first, err := e.ProcessBatch(ctx, []*models.AuctionRecord{newRecord("2024타경1234", 240_000_000)}, "test")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.ProcessBatch(ctx, []*models.AuctionRecord{newRecord("2024타경1234", 240_000_000)}, "test")
	if err != nil {
		t.Fatal(err)
	}

	if first.New != 1 || first.Updated != 0 || first.Duplicate != 0 {
		t.Errorf("first batch: %+v", first)
	}
	if second.New != 0 || second.Updated != 0 || second.Duplicate != 1 {
		t.Errorf("second batch: %+v", second)
	}
	if first.BatchID == "" || first.BatchID == second.BatchID {
		t.Errorf("batch ids should be unique: %q %q", first.BatchID, second.BatchID)
	}
}

func TestProcessBatchBalances(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	e := newTestEngine(t, &flakyStore{RecordStore: mem, failCase: "2024타경666"})

	invalid := newRecord("2024타경2", 400_000_000) // minimum above appraisal
	records := []*models.AuctionRecord{
		newRecord("2024타경1", 240_000_000),
		newRecord("2024타경1", 240_000_000), // same key in one batch
		newRecord("12", 240_000_000),        // malformed identity
		invalid,
		newRecord("2024타경666", 240_000_000), // storage failure
		newRecord("2024타경3", 200_000_000),
	}

	res, err := e.ProcessBatch(ctx, records, "mixed")
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if !res.Balanced() {
		t.Fatalf("unbalanced: %+v", res)
	}
	if res.New != 2 || res.Duplicate != 1 || res.Skipped != 3 || res.Errored != 1 || res.Total != 6 {
		t.Errorf("counts: %+v", res)
	}
	if len(res.Changed) != 2 {
		t.Errorf("changed ids: %v", res.Changed)
	}
}

func TestProcessBatchCancelledCountsRemainder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newTestEngine(t, &cancellingStore{RecordStore: storage.NewMemoryStore(), cancel: cancel})

	res, err := e.ProcessBatch(ctx, []*models.AuctionRecord{
		newRecord("2024타경1", 1), newRecord("2024타경2", 1), newRecord("2024타경3", 1),
	}, "cancelled")
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 1 || res.Skipped != 2 || !res.Balanced() {
		t.Errorf("cancelled batch: %+v", res)
	}
}

func TestProcessBatchIndexFailureSkipsAll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newTestEngine(t, storage.NewMemoryStore())

	res, err := e.ProcessBatch(ctx, []*models.AuctionRecord{newRecord("2024타경1", 1)}, "down")
	if err == nil {
		t.Fatal("expected index load error")
	}
	if res.Skipped != 1 || res.Errored != 1 || !res.Balanced() {
		t.Errorf("failed batch: %+v", res)
	}
}

func TestProcessBatchUpdateIncrementsCounter(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	e := newTestEngine(t, mem)

	if _, err := e.ProcessBatch(ctx, []*models.AuctionRecord{newRecord("2024타경7", 240_000_000)}, "run-1"); err != nil {
		t.Fatal(err)
	}
	next := newRecord("2024타경7", 192_000_000)
	next.ScrapedAt = fixedNow.Add(7 * 24 * time.Hour)
	res, err := e.ProcessBatch(ctx, []*models.AuctionRecord{next}, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 || res.New != 0 || res.Duplicate != 0 {
		t.Fatalf("second run: %+v", res)
	}

	got, err := mem.GetRecord(ctx, res.Changed[0])
	if err != nil {
		t.Fatal(err)
	}
	if got.UpdatedCount != 1 || got.MinimumSalePrice != 192_000_000 {
		t.Errorf("stored record: updatedCount=%d minimum=%d", got.UpdatedCount, got.MinimumSalePrice)
	}
	if !got.ScrapedAt.Equal(next.ScrapedAt) {
		t.Errorf("scrapedAt not refreshed: %v", got.ScrapedAt)
	}
}

func TestProcessBatchKeepsKnownAuctionDate(t *testing.T) {
	ctx := context.Background()
	known := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		minimum     int64
		wantUpdated int
	}{
		{"unparseable date only", 240_000_000, 0},
		{"unparseable date with price change", 192_000_000, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := storage.NewMemoryStore()
			e := newTestEngine(t, mem)

			first, err := e.ProcessBatch(ctx, []*models.AuctionRecord{newRecord("2024타경9", 240_000_000)}, "run-1")
			if err != nil {
				t.Fatal(err)
			}

			next := newRecord("2024타경9", tt.minimum)
			next.AuctionDate = fixedNow.AddDate(0, 0, 30)
			next.AuctionDateEstimated = true
			res, err := e.ProcessBatch(ctx, []*models.AuctionRecord{next}, "run-2")
			if err != nil {
				t.Fatal(err)
			}
			if res.Updated != tt.wantUpdated || res.Duplicate != 1-tt.wantUpdated {
				t.Errorf("second run: %+v", res)
			}

			got, err := mem.GetRecord(ctx, first.Changed[0])
			if err != nil {
				t.Fatal(err)
			}
			if !got.AuctionDate.Equal(known) || got.AuctionDateEstimated {
				t.Errorf("stored date = %v (estimated=%v); want %v", got.AuctionDate, got.AuctionDateEstimated, known)
			}
			if got.UpdatedCount != tt.wantUpdated {
				t.Errorf("updatedCount = %d; want %d", got.UpdatedCount, tt.wantUpdated)
			}
			if got.MinimumSalePrice != tt.minimum {
				t.Errorf("minimum = %d; want %d", got.MinimumSalePrice, tt.minimum)
			}
		})
	}
}

func TestDeactivateStaleWindow(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	e := newTestEngine(t, mem)

	res, err := e.ProcessBatch(ctx, []*models.AuctionRecord{
		newRecord("2024타경31", 1_000_000),
		newRecord("2024타경29", 1_000_000),
	}, "seed")
	if err != nil {
		t.Fatal(err)
	}
	stale, fresh := res.Changed[0], res.Changed[1]
	if err := mem.SetLastChecked(stale, fixedNow.AddDate(0, 0, -31)); err != nil {
		t.Fatal(err)
	}
	if err := mem.SetLastChecked(fresh, fixedNow.AddDate(0, 0, -29)); err != nil {
		t.Fatal(err)
	}

	n, err := e.DeactivateStale(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deactivated %d, want 1", n)
	}
	s, _ := mem.GetRecord(ctx, stale)
	f, _ := mem.GetRecord(ctx, fresh)
	if s.CurrentStatus != models.StatusInactive {
		t.Errorf("31-day record status: %s", s.CurrentStatus)
	}
	if f.CurrentStatus != models.StatusActive {
		t.Errorf("29-day record status: %s", f.CurrentStatus)
	}
}

func TestReappearingRecordIsReactivated(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	e := newTestEngine(t, mem)

	res, _ := e.ProcessBatch(ctx, []*models.AuctionRecord{newRecord("2024타경40", 1_000_000)}, "seed")
	id := res.Changed[0]
	_ = mem.SetLastChecked(id, fixedNow.AddDate(0, 0, -60))
	if n, err := e.DeactivateStale(ctx, 30); err != nil || n != 1 {
		t.Fatalf("deactivate: n=%d err=%v", n, err)
	}

	again, err := e.ProcessBatch(ctx, []*models.AuctionRecord{newRecord("2024타경40", 1_000_000)}, "rescrape")
	if err != nil {
		t.Fatal(err)
	}
	if again.Updated != 1 {
		t.Fatalf("reappearing record should be updated: %+v", again)
	}
	got, _ := mem.GetRecord(ctx, id)
	if got.CurrentStatus != models.StatusActive {
		t.Errorf("status after reappearance: %s", got.CurrentStatus)
	}
}

func TestCompactDuplicates(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	e := newTestEngine(t, mem)

	// Duplicates can only enter through the store directly, e.g. from an
	// older deployment keyed by case number alone.
	first, _ := mem.InsertRecord(ctx, newRecord("2024타경50", 1_000_000))
	_, _ = mem.InsertRecord(ctx, newRecord("2024타경50", 1_000_000))
	_, _ = mem.InsertRecord(ctx, newRecord("2024타경50", 2_000_000))
	single, _ := mem.InsertRecord(ctx, newRecord("2024타경51", 1_000_000))

	n, err := e.CompactDuplicates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}
	ids, _ := mem.ListRecordIDs(ctx, "")
	if len(ids) != 2 || ids[0] != first || ids[1] != single {
		t.Errorf("remaining ids: %v", ids)
	}

	if n, _ := e.CompactDuplicates(ctx); n != 0 {
		t.Errorf("second compaction removed %d", n)
	}
}

func TestValidatorRules(t *testing.T) {
	v, err := NewValidator(5, 5)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Validate(newRecord("2024타경1", 240_000_000)); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *models.AuctionRecord)
	}{
		{"short case", func(r *models.AuctionRecord) { r.CaseNumber = "1234" }},
		{"short address", func(r *models.AuctionRecord) { r.Address = "부산" }},
		{"no minimum", func(r *models.AuctionRecord) { r.MinimumSalePrice = 0 }},
		{"minimum above appraisal", func(r *models.AuctionRecord) { r.MinimumSalePrice = r.AppraisalValue + 1 }},
		{"unknown type", func(r *models.AuctionRecord) { r.PropertyType = "castle" }},
		{"negative failures", func(r *models.AuctionRecord) { r.FailureCount = -1 }},
	}
	for _, tt := range tests {
		r := newRecord("2024타경1", 240_000_000)
		tt.mutate(r)
		if err := v.Validate(r); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
