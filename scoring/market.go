package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
)

const marketCacheSize = 256

// ComparableSource reads comparable records for market statistics.
type ComparableSource interface {
	Comparables(ctx context.Context, region string, pt models.PropertyType, since time.Time) ([]models.Comparable, error)
}

type cachedComparables struct {
	comps     []models.Comparable
	fetchedAt time.Time
}

// marketCache memoizes comparables per region and property type for ttl.
type marketCache struct {
	source ComparableSource
	cache  *lru.Cache
	ttl    time.Duration
	window time.Duration
}

func newMarketCache(source ComparableSource, windowDays int, ttl time.Duration) *marketCache {
	cache, _ := lru.New(marketCacheSize)
	return &marketCache{
		source: source,
		cache:  cache,
		ttl:    ttl,
		window: time.Duration(windowDays) * 24 * time.Hour,
	}
}

func (m *marketCache) comparables(ctx context.Context, region string, pt models.PropertyType, now time.Time) ([]models.Comparable, error) {
	key := region + "|" + string(pt)
	if v, ok := m.cache.Get(key); ok {
		c := v.(cachedComparables)
		if now.Sub(c.fetchedAt) < m.ttl {
			return c.comps, nil
		}
	}

	comps, err := m.source.Comparables(ctx, region, pt, now.Add(-m.window))
	if err != nil {
		return nil, fmt.Errorf("scoring: comparables %s: %w", key, err)
	}
	m.cache.Add(key, cachedComparables{comps: comps, fetchedAt: now})
	return comps, nil
}

// MarketStats summarizes the comparables of one listing.
type MarketStats struct {
	Count       int
	Trend       float64 // recent minus earlier mean minimum/appraisal ratio, in points
	SuccessRate float64 // sold / (sold + failed), 0.5 when unknown
	Volatility  float64 // standard deviation of the ratio
}

// Summarize splits the window in half at now-window/2 to compute the trend.
func Summarize(comps []models.Comparable, now time.Time, windowDays int) MarketStats {
	st := MarketStats{Count: len(comps), SuccessRate: 0.5}
	if len(comps) == 0 {
		return st
	}

	mid := now.Add(-time.Duration(windowDays) * 12 * time.Hour)
	var ratios, recent, earlier []float64
	var sold, failed int
	for _, c := range comps {
		switch c.Status {
		case models.StatusSold:
			sold++
		case models.StatusFailed:
			failed++
		}
		if c.AppraisalValue <= 0 {
			continue
		}
		r := float64(c.MinimumSalePrice) / float64(c.AppraisalValue)
		ratios = append(ratios, r)
		if c.ScrapedAt.Before(mid) {
			earlier = append(earlier, r)
		} else {
			recent = append(recent, r)
		}
	}

	if sold+failed > 0 {
		st.SuccessRate = float64(sold) / float64(sold+failed)
	}
	if len(recent) > 0 && len(earlier) > 0 {
		st.Trend = clamp((mean(recent)-mean(earlier))*100, -20, 20)
	}
	if len(ratios) > 1 {
		avg := mean(ratios)
		var ss float64
		for _, r := range ratios {
			ss += (r - avg) * (r - avg)
		}
		st.Volatility = math.Sqrt(ss / float64(len(ratios)))
	}
	return st
}
