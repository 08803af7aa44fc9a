package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
)

var baseTime = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func sampleRecord(caseNumber, address string) *models.AuctionRecord {
	return &models.AuctionRecord{
		CaseNumber:       caseNumber,
		ItemNumber:       "1",
		CourtName:        "부산지방법원",
		PropertyType:     models.PropertyApartment,
		Address:          address,
		Region:           "해운대구",
		AppraisalValue:   300_000_000,
		MinimumSalePrice: 240_000_000,
		BidDeposit:       24_000_000,
		AuctionDate:      time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC),
		AuctionTime:      "10:00",
		CurrentStatus:    models.StatusActive,
		SourceURL:        "https://example.test/list",
		ScrapedAt:        baseTime,
		DataHash:         "h1",
	}
}

// stores returns every Store implementation that can run without a server.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := s.InsertRecord(ctx, sampleRecord("2024타경100", "부산 해운대구 우동 1"))
			if err != nil {
				t.Fatalf("insert: %v", err)
			}

			got, err := s.GetRecord(ctx, id)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.CheckCount != 1 || got.UpdatedCount != 0 {
				t.Errorf("counters after insert: check=%d updated=%d", got.CheckCount, got.UpdatedCount)
			}
			if !got.AuctionDate.Equal(time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)) {
				t.Errorf("auction date round-trip: %v", got.AuctionDate)
			}
			if !got.LastCheckedAt.Equal(baseTime) {
				t.Errorf("last checked defaults to scraped at: %v", got.LastCheckedAt)
			}

			got.MinimumSalePrice = 192_000_000
			got.DataHash = "h2"
			got.ScrapedAt = baseTime.Add(24 * time.Hour)
			if err := s.UpdateRecord(ctx, got); err != nil {
				t.Fatalf("update: %v", err)
			}
			if err := s.TouchRecord(ctx, id, baseTime.Add(48*time.Hour)); err != nil {
				t.Fatalf("touch: %v", err)
			}

			got, err = s.GetRecord(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if got.MinimumSalePrice != 192_000_000 || got.DataHash != "h2" {
				t.Errorf("update not applied: %+v", got)
			}
			if got.UpdatedCount != 1 || got.CheckCount != 3 {
				t.Errorf("counters: updated=%d check=%d", got.UpdatedCount, got.CheckCount)
			}
			if !got.LastCheckedAt.Equal(baseTime.Add(48 * time.Hour)) {
				t.Errorf("touch timestamp: %v", got.LastCheckedAt)
			}

			idx, err := s.LoadIndex(ctx)
			if err != nil || len(idx) != 1 || idx[0].Hash != "h2" {
				t.Fatalf("index: %+v err=%v", idx, err)
			}
			if !idx[0].AuctionDate.Equal(time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)) || idx[0].AuctionDateEstimated {
				t.Errorf("index date: %v estimated=%v", idx[0].AuctionDate, idx[0].AuctionDateEstimated)
			}
		})
	}
}

func TestMissingRecords(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.GetRecord(ctx, 42); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetRecord: want ErrNotFound, got %v", err)
			}
			if err := s.TouchRecord(ctx, 42, baseTime); !errors.Is(err, ErrNotFound) {
				t.Errorf("TouchRecord: want ErrNotFound, got %v", err)
			}
			if _, err := s.GetAnalysis(ctx, 42); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetAnalysis: want ErrNotFound, got %v", err)
			}
		})
	}
}

func TestDeactivateAndDuplicates(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			a, _ := s.InsertRecord(ctx, sampleRecord("2024타경1", "부산 서구 암남동 1"))
			b, _ := s.InsertRecord(ctx, sampleRecord("2024타경1", "부산 서구 암남동 1"))
			c, _ := s.InsertRecord(ctx, sampleRecord("2024타경2", "부산 서구 암남동 2"))

			groups, err := s.DuplicateGroups(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(groups) != 1 || len(groups[0].IDs) != 2 || groups[0].IDs[0] != a || groups[0].IDs[1] != b {
				t.Fatalf("groups: %+v", groups)
			}

			n, err := s.Deactivate(ctx, map[int64]string{c: "inactive-hash"})
			if err != nil || n != 1 {
				t.Fatalf("deactivate: n=%d err=%v", n, err)
			}
			active, _ := s.ListActive(ctx)
			if len(active) != 2 {
				t.Errorf("active after deactivate: %d", len(active))
			}
			inactive, _ := s.ListRecordIDs(ctx, models.StatusInactive)
			if len(inactive) != 1 || inactive[0] != c {
				t.Errorf("inactive ids: %v", inactive)
			}

			deleted, err := s.DeleteRecords(ctx, []int64{b})
			if err != nil || deleted != 1 {
				t.Fatalf("delete: n=%d err=%v", deleted, err)
			}
			all, _ := s.ListRecordIDs(ctx, "")
			if len(all) != 2 {
				t.Errorf("records after delete: %v", all)
			}
		})
	}
}

func TestComparablesWindow(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			old := sampleRecord("2023타경9", "부산 해운대구 중동 9")
			old.ScrapedAt = baseTime.AddDate(0, 0, -200)
			_, _ = s.InsertRecord(ctx, old)
			_, _ = s.InsertRecord(ctx, sampleRecord("2024타경10", "부산 해운대구 중동 10"))
			other := sampleRecord("2024타경11", "부산 영도구 동삼동 11")
			other.Region = "영도구"
			_, _ = s.InsertRecord(ctx, other)

			comps, err := s.Comparables(ctx, "해운대구", models.PropertyApartment, baseTime.AddDate(0, 0, -90))
			if err != nil {
				t.Fatal(err)
			}
			if len(comps) != 1 {
				t.Errorf("comparables: got %d, want 1", len(comps))
			}
		})
	}
}

func TestSaveAnalysisUpserts(t *testing.T) {
	ctx := context.Background()
	sqlite, err := NewSQLiteStore(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer sqlite.Close()
	mem := NewMemoryStore()

	for name, s := range map[string]Store{"memory": mem, "sqlite": sqlite} {
		t.Run(name, func(t *testing.T) {
			id, _ := s.InsertRecord(ctx, sampleRecord("2024타경5", "부산 동래구 온천동 5"))
			res := &models.AnalysisResult{
				RecordID:        id,
				InvestmentScore: 61,
				InvestmentGrade: models.GradeB,
				ModelVersion:    "linear-v1",
				AnalyzedAt:      baseTime,
			}
			if err := s.SaveAnalysis(ctx, res, true); err != nil {
				t.Fatalf("first save: %v", err)
			}
			firstID := res.ID

			res.InvestmentScore = 72
			res.InvestmentGrade = models.GradeA
			if err := s.SaveAnalysis(ctx, res, true); err != nil {
				t.Fatalf("second save: %v", err)
			}
			if res.ID != firstID {
				t.Errorf("upsert changed analysis id: %d -> %d", firstID, res.ID)
			}

			got, err := s.GetAnalysis(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if got.InvestmentScore != 72 || got.InvestmentGrade != models.GradeA {
				t.Errorf("latest analysis: %+v", got)
			}

			scored, err := s.ListScored(ctx)
			if err != nil || len(scored) != 1 || scored[0].Record.ID != id {
				t.Errorf("scored: %+v err=%v", scored, err)
			}
		})
	}
	if mem.HistoryLen() != 2 {
		t.Errorf("memory history: got %d, want 2", mem.HistoryLen())
	}
	var n int
	if err := sqlite.db.QueryRow(`SELECT COUNT(*) FROM analysis_history`).Scan(&n); err != nil || n != 2 {
		t.Errorf("sqlite history: n=%d err=%v", n, err)
	}
}

func TestRebind(t *testing.T) {
	got := postgresDialect.rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)")
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got != want {
		t.Errorf("rebind: got %q, want %q", got, want)
	}
	if sqliteDialect.rebind("a = ?") != "a = ?" {
		t.Error("sqlite should keep ? placeholders")
	}
}

func TestScanTimeLayouts(t *testing.T) {
	want := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for _, v := range []any{
		want,
		"2024-03-01T08:00:00Z",
		[]byte("2024-03-01 08:00:00"),
		"2024-03-01 08:00:00+00:00",
	} {
		var got time.Time
		if err := (scanTime{&got}).Scan(v); err != nil || !got.Equal(want) {
			t.Errorf("Scan(%v) = %v, %v", v, got, err)
		}
	}
	var zero time.Time
	if err := (scanTime{&zero}).Scan(nil); err != nil || !zero.IsZero() {
		t.Errorf("Scan(nil) = %v, %v", zero, err)
	}
}

func TestCSVWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "raw.csv")
	rows := []*models.RawRecord{
		{CaseNumber: "2024타경1", Address: "부산 중구 1", AppraisalValue: "1억", CapturedAt: baseTime},
	}

	for i := 0; i < 2; i++ {
		w, err := NewCSVWriter(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.WriteRaw(rows); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if records[1][2] != "2024타경1" || records[2][8] != "1억" {
		t.Errorf("unexpected rows: %v", records[1:])
	}
}
