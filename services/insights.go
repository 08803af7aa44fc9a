package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
	"github.com/araeLaver/busan-auction-analyzer-sub000/utils"
)

var gradeOrder = []models.Grade{models.GradeS, models.GradeA, models.GradeB, models.GradeC, models.GradeD}

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// Generate summarizes scored listings. totalListings is the number of stored
// records, scored or not; batch is optional.
func (s *InsightService) Generate(listings []models.ScoredListing, totalListings int, batch *models.BatchResult) *models.InsightReport {
	report := &models.InsightReport{
		TotalListings:    totalListings,
		GradeCounts:      make(map[models.Grade]int),
		ListingsByRegion: make(map[string]int),
		Batch:            batch,
	}

	var scored []models.ScoredListing
	for _, l := range listings {
		if l.Record == nil || l.Analysis == nil {
			continue
		}
		scored = append(scored, l)
	}
	if len(scored) == 0 {
		return report
	}
	report.ScoredListings = len(scored)

	report.MinScore = scored[0].Analysis.InvestmentScore
	report.MaxScore = scored[0].Analysis.InvestmentScore
	var total int
	for _, l := range scored {
		score := l.Analysis.InvestmentScore
		total += score
		if score < report.MinScore {
			report.MinScore = score
		}
		if score > report.MaxScore {
			report.MaxScore = score
		}
		report.GradeCounts[l.Analysis.InvestmentGrade]++

		region := l.Record.Region
		if region == "" {
			region = "(unknown)"
		}
		report.ListingsByRegion[region]++
	}
	report.AverageScore = round2(float64(total) / float64(len(scored)))

	// Top 5 by score, ties broken by lower id
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Analysis.InvestmentScore != b.Analysis.InvestmentScore {
			return a.Analysis.InvestmentScore > b.Analysis.InvestmentScore
		}
		return a.Record.ID < b.Record.ID
	})
	if len(scored) > 5 {
		report.TopScored = scored[:5]
	} else {
		report.TopScored = scored
	}

	s.logger.Debug("[insights] %d of %d listings scored, average %.2f", report.ScoredListings, totalListings, report.AverageScore)
	return report
}

func (s *InsightService) Print(r *models.InsightReport) {
	sep := strings.Repeat("═", 60)
	thin := strings.Repeat("─", 60)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 AUCTION INVESTMENT INSIGHTS\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	// Batch
	if r.Batch != nil {
		b := r.Batch
		fmt.Printf("\033[1;33m  Last Batch (%s)\033[0m\n", b.SourceLabel)
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  Batch id  : %s\n", b.BatchID)
		fmt.Printf("  Submitted : \033[1m%d\033[0m\n", b.Total)
		fmt.Printf("  New       : \033[1;32m%d\033[0m\n", b.New)
		fmt.Printf("  Updated   : \033[1;32m%d\033[0m\n", b.Updated)
		fmt.Printf("  Duplicate : %d\n", b.Duplicate)
		fmt.Printf("  Skipped   : %d (%d storage errors)\n", b.Skipped, b.Errored)
		fmt.Println()
	}

	// Overview
	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Stored listings : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Printf("  Scored listings : \033[1m%d\033[0m\n", r.ScoredListings)
	if r.ScoredListings > 0 {
		fmt.Printf("  Average score   : \033[1;32m%.2f\033[0m\n", r.AverageScore)
		fmt.Printf("  Score range     : %d – %d\n", r.MinScore, r.MaxScore)
	}
	fmt.Println()

	// Grades
	fmt.Printf("\033[1;33m  Grade Distribution\033[0m\n")
	fmt.Printf("  %s\n", thin)
	for _, g := range gradeOrder {
		n := r.GradeCounts[g]
		fmt.Printf("  %-2s %s (%d)\n", g, strings.Repeat("█", n), n)
	}
	fmt.Println()

	// ── TOP 5 BY SCORE ───────────────────────────────────────────────────
	fmt.Printf("\033[1;33m  Top 5 Listings by Investment Score\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.TopScored) == 0 {
		fmt.Printf("  No scored listings yet\n")
	} else {
		for i, l := range r.TopScored {
			fmt.Printf("  \033[1m%d.\033[0m %-16s %-34s \033[1;32m%3d %s\033[0m\n",
				i+1, l.Record.CaseNumber, truncate(l.Record.Address, 32),
				l.Analysis.InvestmentScore, l.Analysis.InvestmentGrade)
			fmt.Printf("     min %s won → predicted %s won, success %.0f%%\n",
				formatWon(l.Record.MinimumSalePrice), formatWon(l.Analysis.EstimatedFinalPrice),
				l.Analysis.SuccessProbability)
		}
	}
	fmt.Println()

	// Listings by Region
	fmt.Printf("\033[1;33m  Scored Listings by Region\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.ListingsByRegion) == 0 {
		fmt.Printf("  No region data\n")
	} else {
		type regionCount struct {
			region string
			count  int
		}
		var regions []regionCount
		for region, cnt := range r.ListingsByRegion {
			regions = append(regions, regionCount{region, cnt})
		}
		sort.Slice(regions, func(i, j int) bool {
			if regions[i].count != regions[j].count {
				return regions[i].count > regions[j].count
			}
			return regions[i].region < regions[j].region
		})
		for _, rc := range regions {
			bar := strings.Repeat("█", rc.count)
			fmt.Printf("  %-12s %s (%d)\n", rc.region, bar, rc.count)
		}
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

// truncate shortens s to at most max runes.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// formatWon renders an amount with thousands separators.
func formatWon(v int64) string {
	s := fmt.Sprintf("%d", v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
