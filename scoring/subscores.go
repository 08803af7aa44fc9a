package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/araeLaver/busan-auction-analyzer-sub000/config"
	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
)

// Profitability term ceilings.
const (
	maxDiscountTerm = 50.0
	discountFactor  = 0.8
	maxROITerm      = 50.0
	roiFactor       = 0.6
	maxRatioTerm    = 30.0
)

// Profitability is the 0-100 profitability sub-score together with the
// market price and one-year ROI estimates it was derived from.
type Profitability struct {
	Score       float64
	MarketPrice int64
	ROI         float64
}

func profitability(rec *models.AuctionRecord, sr config.ScoringRules, region config.RegionRating, pt config.TypeRating) Profitability {
	discount := math.Max(rec.DiscountRate(), 0)
	score := math.Min(discount, maxDiscountTerm) * discountFactor

	if rec.MinimumSalePrice <= 0 {
		return Profitability{Score: clamp(score, 0, 100)}
	}
	minimum := float64(rec.MinimumSalePrice)
	avgLiq := (region.Liquidity + pt.Liquidity) / 2
	market := minimum * (1 + sr.MarketMultiplier*avgLiq/100)

	roi := ((market - minimum) + minimum*sr.RentalYield) / minimum * 100
	score += math.Min(math.Max(roi, 0), maxROITerm) * roiFactor
	score += math.Min((market/minimum-1)*100, maxRatioTerm)

	return Profitability{
		Score:       round2(clamp(score, 0, 100)),
		MarketPrice: int64(math.Round(market)),
		ROI:         round2(roi),
	}
}

// risk is higher for riskier listings; the composite uses 100-risk.
func risk(rec *models.AuctionRecord, ref *config.ReferenceTables, sr config.ScoringRules, region config.RegionRating, pt config.TypeRating, now time.Time) float64 {
	score := math.Min(float64(rec.FailureCount)*sr.FailureRiskPerRound, sr.FailureRiskCap)
	score += pt.Risk
	score += config.Lookup(ref.PriceRisk, rec.MinimumSalePrice, 20)

	if rec.AuctionDateEstimated || rec.AuctionDate.IsZero() {
		score += ref.EstimatedDateRisk
	} else {
		days := int64(math.Ceil(rec.AuctionDate.Sub(now).Hours() / 24))
		if days < 0 {
			days = 0
		}
		score += config.Lookup(ref.DaysToAuctionRisk, days, 5)
	}

	score += config.LookupFloor(ref.LocationStabilityRisk, region.Location, 20)
	return round2(clamp(score, 0, 100))
}

const (
	maxVolumeBonus = 10.0
	volumeBonusPer = 0.5
)

func liquidity(rec *models.AuctionRecord, ref *config.ReferenceTables, region config.RegionRating, pt config.TypeRating, comparables int) float64 {
	score := 0.4*pt.Liquidity + 0.4*region.Liquidity
	score += 0.2 * config.Lookup(ref.PriceLiquidity, rec.MinimumSalePrice, 40)
	score += math.Min(float64(comparables)*volumeBonusPer, maxVolumeBonus)
	return round2(clamp(score, 0, 100))
}

func location(region config.RegionRating) float64 {
	return round2(clamp(region.Average(), 0, 100))
}

// legalRisk accumulates penalties for occupants, risk keywords in the notes
// and repeated failed rounds. Each risk keyword counts once.
func legalRisk(rec *models.AuctionRecord, lr config.LegalRules) float64 {
	text := rec.Notes
	score := 0.0
	for _, kw := range lr.TenantKeywords {
		if strings.Contains(text, kw) {
			score += lr.TenantPenalty
			break
		}
	}

	kwPenalty := 0.0
	for _, kw := range lr.RiskKeywords {
		if strings.Contains(text, kw) {
			kwPenalty += lr.KeywordPenalty
		}
	}
	score += math.Min(kwPenalty, lr.MaxKeywordPenalty)
	score += config.LookupFloor(lr.FailurePenalties, float64(rec.FailureCount), 0)
	return round2(clamp(score, 0, 100))
}

const (
	maxVolatilityPenalty = 20.0
	successRateFactor    = 40.0
)

// marketTrend is neutral (50) without comparables.
func marketTrend(st MarketStats) float64 {
	if st.Count == 0 {
		return 50
	}
	score := 50 + st.Trend + (st.SuccessRate-0.5)*successRateFactor
	score -= math.Min(st.Volatility*100, maxVolatilityPenalty)
	return round2(clamp(score, 0, 100))
}

// composite combines the sub-scores into the 0-100 investment score.
func composite(sr config.ScoringRules, profit, riskScore, liq, trend, loc float64) int {
	w := sr.Weights.Normalized()
	score := w.Profitability*profit + w.Risk*(100-riskScore) + w.Liquidity*liq
	score += (trend - 50) / 50 * sr.TrendAdjustment
	score += (loc - 50) / 50 * sr.LocationAdjustment
	return int(math.Round(clamp(score, 0, 100)))
}

// gradeFor returns the first band whose floor the score reaches. Bands are
// ordered by descending MinScore.
func gradeFor(bands []config.GradeBand, score int) config.GradeBand {
	for _, b := range bands {
		if float64(score) >= b.MinScore {
			return b
		}
	}
	return bands[len(bands)-1]
}

func successProbability(score, failures int) float64 {
	return round2(clamp(40+float64(score)*0.5-float64(failures)*3, 5, 95))
}

func competitionLevel(score, failures int) int {
	level := 1
	switch {
	case score >= 80:
		level = 5
	case score >= 65:
		level = 4
	case score >= 50:
		level = 3
	case score >= 35:
		level = 2
	}
	if failures >= 3 {
		level--
	}
	if level < 1 {
		level = 1
	}
	return level
}

func volatility(sr config.ScoringRules, failures int, liq float64) float64 {
	v := 20 + float64(failures)*8 + (100-liq)*0.3
	return round2(clamp(v, sr.VolatilityMin, sr.VolatilityMax))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
