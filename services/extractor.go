package services

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/araeLaver/busan-auction-analyzer-sub000/config"
	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
	"github.com/araeLaver/busan-auction-analyzer-sub000/utils"
)

// Column roles understood by the extractor.
const (
	RoleCaseNumber     = "case_number"
	RoleItemNumber     = "item_number"
	RoleCourt          = "court"
	RolePropertyType   = "property_type"
	RoleAddress        = "address"
	RoleBuildingName   = "building_name"
	RoleAppraisalValue = "appraisal_value"
	RoleMinimumPrice   = "minimum_price"
	RoleAuctionDate    = "auction_date"
	RoleFailureCount   = "failure_count"
	RoleStatus         = "status"
	RoleNotes          = "notes"
)

type compiledSignal struct {
	name     string
	keywords []string
	pattern  *regexp.Regexp
	weight   float64
}

// Extractor finds the auction table on a page and turns its rows into
// RawRecords. It is deterministic and safe for concurrent use.
type Extractor struct {
	rules         config.ExtractionRules
	signals       []compiledSignal
	minCaseLength int
	logger        *utils.Logger
}

// NewExtractor compiles the table signals of rules. minCaseLength is the
// shortest case-number cell a row may carry.
func NewExtractor(rules *config.Rules, minCaseLength int, logger *utils.Logger) (*Extractor, error) {
	x := &Extractor{
		rules:         rules.Extraction,
		minCaseLength: minCaseLength,
		logger:        logger,
	}
	for _, s := range rules.Extraction.TableSignals {
		cs := compiledSignal{name: s.Name, weight: s.Weight}
		for _, kw := range s.Keywords {
			cs.keywords = append(cs.keywords, strings.ToLower(kw))
		}
		if s.Pattern != "" {
			re, err := regexp.Compile(s.Pattern)
			if err != nil {
				return nil, fmt.Errorf("extractor: signal %q: %w", s.Name, err)
			}
			cs.pattern = re
		}
		x.signals = append(x.signals, cs)
	}
	return x, nil
}

// ScoreTable rates how much a table looks like an auction listing: each
// signal present anywhere in its text adds its weight once, plus a capped
// bonus per data row.
func (x *Extractor) ScoreTable(t models.Table) float64 {
	var b strings.Builder
	b.WriteString(strings.Join(t.Header, " "))
	for _, row := range t.Rows {
		b.WriteByte('\n')
		b.WriteString(strings.Join(row, " "))
	}
	text := strings.ToLower(normaliseText(b.String()))

	score := 0.0
	for _, s := range x.signals {
		if s.matches(text) {
			score += s.weight
		}
	}
	return score + math.Min(float64(len(t.Rows))*x.rules.RowBonus, x.rules.MaxRowBonus)
}

func (s compiledSignal) matches(text string) bool {
	for _, kw := range s.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return s.pattern != nil && s.pattern.MatchString(text)
}

// SelectTable returns the index of the best-scoring table that has enough
// rows and clears the minimum score, or -1. Ties go to the earlier table.
func (x *Extractor) SelectTable(tables []models.Table) (int, float64) {
	best, bestScore := -1, 0.0
	for i, t := range tables {
		if t.RowCount() < x.rules.MinTableRows {
			continue
		}
		score := x.ScoreTable(t)
		if score < x.rules.MinTableScore {
			continue
		}
		if best == -1 || score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore
}

// InferRoles maps roles to column indexes. Each header takes the first role
// whose keyword it contains; a role already taken by an earlier column is not
// reassigned. Roles left unmatched use their positional fallback when that
// column is free.
func (x *Extractor) InferRoles(header []string) map[string]int {
	roles := make(map[string]int)
	used := make(map[int]bool)

	for i, cell := range header {
		h := strings.ToLower(normaliseText(cell))
		if h == "" {
			continue
		}
	match:
		for _, rule := range x.rules.Roles {
			for _, kw := range rule.Keywords {
				if strings.Contains(h, strings.ToLower(kw)) {
					if _, taken := roles[rule.Role]; !taken {
						roles[rule.Role] = i
						used[i] = true
					}
					break match
				}
			}
		}
	}

	for _, rule := range x.rules.Roles {
		if _, ok := roles[rule.Role]; ok || rule.Fallback < 0 {
			continue
		}
		if !used[rule.Fallback] {
			roles[rule.Role] = rule.Fallback
			used[rule.Fallback] = true
		}
	}
	return roles
}

// Extract returns the raw records of the page's auction table. A page with
// no qualifying table yields no records and no error.
func (x *Extractor) Extract(page models.Page) []*models.RawRecord {
	idx, score := x.SelectTable(page.Tables)
	if idx < 0 {
		x.logger.Debug("[extractor] %s: no auction table among %d candidates", page.URL, len(page.Tables))
		return nil
	}
	table := page.Tables[idx]
	roles := x.InferRoles(table.Header)
	x.logger.Debug("[extractor] %s: table %d selected (score %.1f, %d rows)", page.URL, idx, score, len(table.Rows))

	out := make([]*models.RawRecord, 0, len(table.Rows))
	dropped := 0
	for _, row := range table.Rows {
		cell := func(role string) string {
			i, ok := roles[role]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		rec := &models.RawRecord{
			CaseNumber:     cell(RoleCaseNumber),
			ItemNumber:     cell(RoleItemNumber),
			CourtName:      cell(RoleCourt),
			PropertyType:   cell(RolePropertyType),
			Address:        cell(RoleAddress),
			BuildingName:   cell(RoleBuildingName),
			AppraisalValue: cell(RoleAppraisalValue),
			MinimumPrice:   cell(RoleMinimumPrice),
			AuctionDate:    cell(RoleAuctionDate),
			FailureCount:   cell(RoleFailureCount),
			Status:         cell(RoleStatus),
			Notes:          cell(RoleNotes),
			SourceURL:      page.URL,
			CapturedAt:     page.CapturedAt,
		}
		if utf8.RuneCountInString(rec.CaseNumber) < x.minCaseLength ||
			utf8.RuneCountInString(rec.Address) < x.rules.MinAddressLength {
			dropped++
			continue
		}
		out = append(out, rec)
	}

	if dropped > 0 {
		x.logger.Debug("[extractor] %s: dropped %d malformed rows", page.URL, dropped)
	}
	return out
}
