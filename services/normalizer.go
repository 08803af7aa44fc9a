package services

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/araeLaver/busan-auction-analyzer-sub000/config"
	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
	"github.com/araeLaver/busan-auction-analyzer-sub000/utils"
)

// DateFallbackDays is how far ahead an unparseable auction date is placed.
const DateFallbackDays = 30

var (
	// compoundAmountRegexp matches amounts written with Korean magnitude units,
	// e.g. "3억5000만", "5천만", "1.5억".
	compoundAmountRegexp = regexp.MustCompile(`\d+(?:\.\d+)?[억만천백](?:\d*(?:\.\d+)?[억만천백])*\d*`)
	// digitsRegexp captures the first bare integer once separators are removed
	digitsRegexp = regexp.MustCompile(`\d+`)

	isoDateRegexp    = regexp.MustCompile(`(\d{4})\s*[-./]\s*(\d{1,2})\s*[-./]\s*(\d{1,2})`)
	koreanDateRegexp = regexp.MustCompile(`(\d{4})\s*년\s*(\d{1,2})\s*월\s*(\d{1,2})\s*일`)
	timeRegexp       = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)

	failureRegexp     = regexp.MustCompile(`유찰\s*(\d+)`)
	failureTimeRegexp = regexp.MustCompile(`(\d+)\s*회`)
)

var unitValues = map[rune]float64{
	'억': 1e8,
	'만': 1e4,
	'천': 1e3,
	'백': 1e2,
}

// Normalizer turns RawRecords into typed AuctionRecords. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	rules  *config.Rules
	logger *utils.Logger
	now    func() time.Time
}

// NewNormalizer creates a Normalizer. now supplies the reference time for the
// date fallback; nil means time.Now.
func NewNormalizer(rules *config.Rules, logger *utils.Logger, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{rules: rules, logger: logger, now: now}
}

// Normalize parses every field of raw. It never fails; unparseable amounts
// become 0 and unparseable dates become an estimated placeholder.
func (n *Normalizer) Normalize(raw *models.RawRecord) *models.AuctionRecord {
	rec := &models.AuctionRecord{
		CaseNumber:   normaliseCaseNumber(raw.CaseNumber),
		ItemNumber:   normaliseText(raw.ItemNumber),
		CourtName:    normaliseText(raw.CourtName),
		Address:      normaliseText(raw.Address),
		BuildingName: normaliseText(raw.BuildingName),
		Notes:        normaliseText(raw.Notes),
		SourceURL:    strings.TrimSpace(raw.SourceURL),
		ScrapedAt:    raw.CapturedAt,
	}
	if rec.ItemNumber == "" {
		rec.ItemNumber = "1"
	}
	if rec.ScrapedAt.IsZero() {
		rec.ScrapedAt = n.now()
	}

	rec.PropertyType = n.ClassifyPropertyType(raw.PropertyType)
	if rec.PropertyType == models.PropertyOther && strings.TrimSpace(raw.PropertyType) == "" {
		rec.PropertyType = n.ClassifyPropertyType(raw.BuildingName)
	}
	rec.Region = n.rules.ResolveRegion(rec.Address)

	rec.AppraisalValue = ParseAmount(raw.AppraisalValue)
	rec.MinimumSalePrice = ParseAmount(raw.MinimumPrice)
	rec.BidDeposit = rec.MinimumSalePrice / 10

	date, ok := ParseDate(raw.AuctionDate, n.now())
	rec.AuctionDate = date
	rec.AuctionDateEstimated = !ok
	rec.AuctionTime = ParseAuctionTime(raw.AuctionDate)
	if !ok {
		n.logger.Debug("[normalizer] %s: unparseable auction date %q, using placeholder %s",
			rec.CaseNumber, raw.AuctionDate, date.Format("2006-01-02"))
	}

	rec.CurrentStatus = n.ClassifyStatus(raw.Status)
	rec.FailureCount = firstFailureCount(raw.FailureCount, raw.Status, raw.Notes)
	return rec
}

// ClassifyPropertyType maps free text onto the property enum using the
// ordered alias table; the first matching alias wins.
func (n *Normalizer) ClassifyPropertyType(text string) models.PropertyType {
	t := strings.ToLower(normaliseText(text))
	if t == "" {
		return models.PropertyOther
	}
	for _, alias := range n.rules.PropertyAliases {
		for _, kw := range alias.Keywords {
			if strings.Contains(t, strings.ToLower(kw)) {
				if pt := models.PropertyType(alias.Type); pt.Valid() {
					return pt
				}
			}
		}
	}
	if pt := models.PropertyType(t); pt.Valid() {
		return pt
	}
	return models.PropertyOther
}

// ClassifyStatus maps a status cell onto the status enum, defaulting to active.
func (n *Normalizer) ClassifyStatus(text string) models.Status {
	t := strings.ToLower(normaliseText(text))
	if t == "" {
		return models.StatusActive
	}
	for _, alias := range n.rules.StatusAliases {
		for _, kw := range alias.Keywords {
			if strings.Contains(t, strings.ToLower(kw)) {
				return models.Status(alias.Status)
			}
		}
	}
	return models.StatusActive
}

// ParseAmount converts currency text to an integer amount in won.
// Examples:
//
//	"3억5000만원" → 350000000
//	"5천만"       → 50000000
//	"8,500,000원" → 8500000
//	""            → 0
func ParseAmount(text string) int64 {
	s := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, normaliseText(text))
	if s == "" {
		return 0
	}

	if m := compoundAmountRegexp.FindString(s); m != "" {
		return sumUnits(m)
	}

	match := digitsRegexp.FindString(s)
	if match == "" {
		return 0
	}
	v, err := strconv.ParseInt(match, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// sumUnits evaluates a compound amount such as "1억2천5백만". 천 and 백
// accumulate into the current section, which 억 or 만 then multiply out.
// Amounts beyond int64 yield 0.
func sumUnits(s string) int64 {
	var total, section float64
	var num strings.Builder

	pending := func() (float64, bool) {
		if num.Len() == 0 {
			return 0, false
		}
		v, err := strconv.ParseFloat(num.String(), 64)
		num.Reset()
		if err != nil {
			return 0, false
		}
		return v, true
	}

	for _, r := range s {
		unit, isUnit := unitValues[r]
		if !isUnit {
			num.WriteRune(r)
			continue
		}
		v, ok := pending()
		switch r {
		case '천', '백':
			if !ok {
				v = 1
			}
			section += v * unit
		default:
			value := section + v
			if !ok && section == 0 {
				value = 1
			}
			total += value * unit
			section = 0
		}
	}
	v, _ := pending()
	total += section + v
	// Out of int64 range, treated like an unparseable digit run.
	if total >= math.MaxInt64 {
		return 0
	}
	return int64(math.Round(total))
}

// ParseDate accepts YYYY-MM-DD, YYYY.MM.DD, YYYY/MM/DD and "YYYY년 M월 D일"
// anywhere in text. When nothing parses it returns now+DateFallbackDays and
// false so callers can flag the date as estimated.
func ParseDate(text string, now time.Time) (time.Time, bool) {
	s := normaliseText(text)
	for _, re := range []*regexp.Regexp{isoDateRegexp, koreanDateRegexp} {
		m := re.FindStringSubmatch(s)
		if len(m) < 4 {
			continue
		}
		if d, ok := buildDate(m[1], m[2], m[3]); ok {
			return d, true
		}
	}
	y, mo, d := now.Date()
	return time.Date(y, mo, d+DateFallbackDays, 0, 0, 0, 0, time.UTC), false
}

func buildDate(ys, ms, ds string) (time.Time, bool) {
	y, err1 := strconv.Atoi(ys)
	m, err2 := strconv.Atoi(ms)
	d, err3 := strconv.Atoi(ds)
	if err1 != nil || err2 != nil || err3 != nil {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 2024-02-31 into March; reject those.
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// ParseAuctionTime extracts an "HH:MM" time from the auction date cell, or "".
func ParseAuctionTime(text string) string {
	m := timeRegexp.FindStringSubmatch(normaliseText(text))
	if len(m) < 3 {
		return ""
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	if h > 23 || mi > 59 {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", h, mi)
}

// ParseFailureCount reads the number of prior failed rounds from text such as
// "유찰 2회", "2회" or "2". Anything else is 0.
func ParseFailureCount(text string) int {
	s := normaliseText(text)
	if s == "" {
		return 0
	}
	for _, re := range []*regexp.Regexp{failureRegexp, failureTimeRegexp} {
		if m := re.FindStringSubmatch(s); len(m) >= 2 {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return n
			}
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return 0
}

// firstFailureCount uses the dedicated column when present and falls back to
// "유찰 N회" mentions in the status or notes cells.
func firstFailureCount(column, status, notes string) int {
	if n := ParseFailureCount(column); n > 0 {
		return n
	}
	for _, text := range []string{status, notes} {
		if m := failureRegexp.FindStringSubmatch(normaliseText(text)); len(m) >= 2 {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return n
			}
		}
	}
	return 0
}

// normaliseText applies NFC, folds full-width characters to their narrow
// forms and collapses internal whitespace.
func normaliseText(s string) string {
	s = width.Fold.String(norm.NFC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// normaliseCaseNumber removes all whitespace so "2024 타경 1234" and
// "2024타경1234" compare equal.
func normaliseCaseNumber(s string) string {
	return strings.Join(strings.Fields(normaliseText(s)), "")
}

// collapseSpaces is normaliseText without the Unicode folding, for values that
// were already normalized.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
