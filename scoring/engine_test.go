package scoring

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
	"github.com/araeLaver/busan-auction-analyzer-sub000/storage"
	"github.com/araeLaver/busan-auction-analyzer-sub000/utils"
)

// countingStore counts comparable lookups that reach the store.
type countingStore struct {
	*storage.MemoryStore
	lookups atomic.Int32
}

func (c *countingStore) Comparables(ctx context.Context, region string, pt models.PropertyType, since time.Time) ([]models.Comparable, error) {
	c.lookups.Add(1)
	return c.MemoryStore.Comparables(ctx, region, pt, since)
}

func newTestEngine(t *testing.T, store Store, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(testRules(t), store, cfg, utils.NewDiscardLogger(), func() time.Time { return fixedNow })
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}

func insert(t *testing.T, store *storage.MemoryStore, rec *models.AuctionRecord) int64 {
	t.Helper()
	id, err := store.InsertRecord(context.Background(), rec)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

func TestScoreBoundsOnRandomRecords(t *testing.T) {
	e := newTestEngine(t, storage.NewMemoryStore(), Config{})
	rnd := rand.New(rand.NewSource(42))

	types := []models.PropertyType{
		models.PropertyApartment, models.PropertyOfficetel, models.PropertyDetachedHouse,
		models.PropertyMultiFamily, models.PropertyRowHouse, models.PropertyCommercial,
		models.PropertyLand, models.PropertyFactory, models.PropertyWarehouse, models.PropertyOther,
	}
	regions := []string{"해운대구", "수영구", "사하구", "강서구", "영도구", "기장군", "", "제주시"}
	notes := []string{"", "임차인 대항력 있음", "유치권 신고, 법정지상권 성립 여지", "선순위 임차권 가처분 지분매각", "특이사항 없음"}
	statuses := []models.Status{models.StatusActive, models.StatusSold, models.StatusFailed}

	for i := 0; i < 1000; i++ {
		appraisal := 10_000_000 + rnd.Int63n(5_000_000_000)
		rec := &models.AuctionRecord{
			ID:                   int64(i + 1),
			CaseNumber:           "2024타경1",
			PropertyType:         types[rnd.Intn(len(types))],
			Region:               regions[rnd.Intn(len(regions))],
			Notes:                notes[rnd.Intn(len(notes))],
			AppraisalValue:       appraisal,
			MinimumSalePrice:     int64(float64(appraisal) * (0.1 + rnd.Float64()*0.9)),
			AuctionDate:          fixedNow.AddDate(0, 0, rnd.Intn(120)-20),
			AuctionDateEstimated: rnd.Intn(5) == 0,
			FailureCount:         rnd.Intn(10),
			CurrentStatus:        models.StatusActive,
		}
		var comps []models.Comparable
		for j := rnd.Intn(30); j > 0; j-- {
			a := 10_000_000 + rnd.Int63n(2_000_000_000)
			comps = append(comps, models.Comparable{
				AppraisalValue:   a,
				MinimumSalePrice: int64(float64(a) * rnd.Float64()),
				Status:           statuses[rnd.Intn(len(statuses))],
				ScrapedAt:        fixedNow.AddDate(0, 0, -rnd.Intn(90)),
			})
		}

		res := e.Compute(rec, comps, fixedNow)
		for name, v := range map[string]float64{
			"profitability": res.ProfitabilityScore,
			"risk":          res.RiskScore,
			"liquidity":     res.LiquidityScore,
			"location":      res.LocationScore,
			"legal":         res.LegalRiskScore,
			"trend":         res.MarketTrendScore,
			"composite":     float64(res.InvestmentScore),
			"confidence":    res.ModelConfidence,
		} {
			if v < 0 || v > 100 {
				t.Fatalf("record %d: %s = %.2f out of [0,100]", i, name, v)
			}
		}
		if res.SuccessProbability < 5 || res.SuccessProbability > 95 {
			t.Fatalf("record %d: success probability %.2f", i, res.SuccessProbability)
		}
		if res.CompetitionLevel < 1 || res.CompetitionLevel > 5 {
			t.Fatalf("record %d: competition level %d", i, res.CompetitionLevel)
		}
		sr := e.rules.Scoring
		if res.PriceVolatilityIndex < sr.VolatilityMin || res.PriceVolatilityIndex > sr.VolatilityMax {
			t.Fatalf("record %d: volatility %.2f", i, res.PriceVolatilityIndex)
		}
		if res.EstimatedFinalPrice < rec.MinimumSalePrice {
			t.Fatalf("record %d: predicted %d below minimum %d", i, res.EstimatedFinalPrice, rec.MinimumSalePrice)
		}
		if res.InvestmentGrade == "" {
			t.Fatalf("record %d: no grade", i)
		}
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	e := newTestEngine(t, storage.NewMemoryStore(), Config{})
	a := e.Compute(haeundaeApartment(), nil, fixedNow)
	b := e.Compute(haeundaeApartment(), nil, fixedNow)
	if *a != *b {
		t.Errorf("results differ:\n%+v\n%+v", a, b)
	}
	if a.ModelVersion != "linear-v1" || !a.AnalyzedAt.Equal(fixedNow) {
		t.Errorf("metadata: %s %v", a.ModelVersion, a.AnalyzedAt)
	}
}

func TestScoreRecordUpserts(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	id := insert(t, store, haeundaeApartment())
	e := newTestEngine(t, store, Config{})

	first, err := e.ScoreRecord(ctx, id)
	if err != nil {
		t.Fatalf("ScoreRecord: %v", err)
	}
	second, err := e.ScoreRecord(ctx, id)
	if err != nil {
		t.Fatalf("ScoreRecord again: %v", err)
	}
	if first.ID == 0 || first.ID != second.ID {
		t.Errorf("analysis ids: %d then %d; want the same row", first.ID, second.ID)
	}

	stored, err := store.GetAnalysis(ctx, id)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if stored.InvestmentScore != second.InvestmentScore || stored.RecordID != id {
		t.Errorf("stored analysis: %+v", stored)
	}
	if store.HistoryLen() != 0 {
		t.Errorf("history retained without being asked: %d", store.HistoryLen())
	}
}

func TestScoreRecordRetainsHistory(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	id := insert(t, store, haeundaeApartment())
	e := newTestEngine(t, store, Config{RetainHistory: true})

	for i := 0; i < 2; i++ {
		if _, err := e.ScoreRecord(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if store.HistoryLen() != 2 {
		t.Errorf("history rows = %d; want 2", store.HistoryLen())
	}
}

func TestScoreRecordsReportsFailures(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	a := insert(t, store, haeundaeApartment())
	other := haeundaeApartment()
	other.CaseNumber = "2024타경1002"
	b := insert(t, store, other)

	e := newTestEngine(t, store, Config{Workers: 4})
	results, err := e.ScoreRecords(ctx, []int64{a, 999, b})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v; want ErrNotFound", err)
	}
	if len(results) != 2 || results[0].RecordID != a || results[1].RecordID != b {
		t.Errorf("results out of order or missing: %d", len(results))
	}
}

func TestScoreActiveSkipsInactive(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	insert(t, store, haeundaeApartment())
	gone := haeundaeApartment()
	gone.CaseNumber = "2023타경9"
	gone.CurrentStatus = models.StatusInactive
	insert(t, store, gone)

	e := newTestEngine(t, store, Config{Workers: 2})
	results, err := e.ScoreActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("scored %d records; want 1", len(results))
	}
}

func TestComparablesAreCached(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	id := insert(t, store.MemoryStore, haeundaeApartment())
	e := newTestEngine(t, store, Config{})

	for i := 0; i < 3; i++ {
		if _, err := e.ScoreRecord(ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if n := store.lookups.Load(); n != 1 {
		t.Errorf("comparable lookups = %d; want 1", n)
	}
}
