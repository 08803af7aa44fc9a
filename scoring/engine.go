// Package scoring computes investment scores, grades and predicted final
// prices for stored auction records.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/araeLaver/busan-auction-analyzer-sub000/config"
	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
	"github.com/araeLaver/busan-auction-analyzer-sub000/utils"
)

// Store is the persistence the engine reads from and writes to.
type Store interface {
	ComparableSource
	GetRecord(ctx context.Context, id int64) (*models.AuctionRecord, error)
	ListRecordIDs(ctx context.Context, status models.Status) ([]int64, error)
	SaveAnalysis(ctx context.Context, res *models.AnalysisResult, retainHistory bool) error
}

// Config tunes the engine. Zero values get defaults.
type Config struct {
	Workers       int
	RetainHistory bool
	StoreTimeout  time.Duration
	CacheTTL      time.Duration
}

const defaultCacheTTL = 5 * time.Minute

// Engine scores records against an immutable rule set. Scoring different
// records concurrently is safe.
type Engine struct {
	rules  *config.Rules
	store  Store
	model  *PriceModel
	market *marketCache
	cfg    Config
	logger *utils.Logger
	now    func() time.Time
}

// NewEngine fits the price model from the rules' seed dataset.
func NewEngine(rules *config.Rules, store Store, cfg Config, logger *utils.Logger, now func() time.Time) (*Engine, error) {
	model, err := FitPriceModel(rules.Model)
	if err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	logger.Info("[scoring] Price model %s fitted on %d samples (R² %.2f, %.2f pts per failed round)",
		model.Version, len(rules.Model.Seed), model.r2, model.FailureSlope())

	return &Engine{
		rules:  rules,
		store:  store,
		model:  model,
		market: newMarketCache(store, rules.Scoring.TrendWindowDays, cfg.CacheTTL),
		cfg:    cfg,
		logger: logger,
		now:    now,
	}, nil
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.StoreTimeout)
}

// ScoreRecord loads a record, scores it and upserts the analysis.
func (e *Engine) ScoreRecord(ctx context.Context, id int64) (*models.AnalysisResult, error) {
	now := e.now()

	sctx, cancel := e.storeCtx(ctx)
	rec, err := e.store.GetRecord(sctx, id)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("scoring: record %d: %w", id, err)
	}

	sctx, cancel = e.storeCtx(ctx)
	comps, err := e.market.comparables(sctx, rec.Region, rec.PropertyType, now)
	cancel()
	if err != nil {
		e.logger.Warn("[scoring] Record %d scored without market data: %v", id, err)
	}

	res := e.Compute(rec, comps, now)

	sctx, cancel = e.storeCtx(ctx)
	defer cancel()
	if err := e.store.SaveAnalysis(sctx, res, e.cfg.RetainHistory); err != nil {
		return nil, fmt.Errorf("scoring: save analysis %d: %w", id, err)
	}
	e.logger.Debug("[scoring] Record %d (%s): score %d grade %s", id, rec.CaseNumber, res.InvestmentScore, res.InvestmentGrade)
	return res, nil
}

// ScoreRecords scores ids in parallel with at most Workers in flight.
// Failures are logged and joined into the returned error; results keep the
// order of ids and omit failed records.
func (e *Engine) ScoreRecords(ctx context.Context, ids []int64) ([]*models.AnalysisResult, error) {
	results := make([]*models.AnalysisResult, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, id := range ids {
		i, id := i, id
		if ctx.Err() != nil {
			errs[i] = fmt.Errorf("scoring: record %d: %w", id, ctx.Err())
			continue
		}
		g.Go(func() error {
			res, err := e.ScoreRecord(ctx, id)
			if err != nil {
				e.logger.Warn("[scoring] %v", err)
				errs[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*models.AnalysisResult, 0, len(ids))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	e.logger.Info("[scoring] Scored %d of %d records", len(out), len(ids))
	return out, errors.Join(errs...)
}

// ScoreActive rescores every active record.
func (e *Engine) ScoreActive(ctx context.Context) ([]*models.AnalysisResult, error) {
	sctx, cancel := e.storeCtx(ctx)
	ids, err := e.store.ListRecordIDs(sctx, models.StatusActive)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("scoring: list active: %w", err)
	}
	return e.ScoreRecords(ctx, ids)
}

// Compute scores rec against the rules. It performs no I/O.
func (e *Engine) Compute(rec *models.AuctionRecord, comps []models.Comparable, now time.Time) *models.AnalysisResult {
	ref := &e.rules.Reference
	sr := e.rules.Scoring

	region, _ := ref.Region(rec.Region)
	pt, _ := ref.PropertyType(string(rec.PropertyType))
	stats := Summarize(comps, now, sr.TrendWindowDays)

	profit := profitability(rec, sr, region, pt)
	riskScore := risk(rec, ref, sr, region, pt, now)
	liq := liquidity(rec, ref, region, pt, stats.Count)
	loc := location(region)
	legal := legalRisk(rec, sr.Legal)
	trend := marketTrend(stats)

	score := composite(sr, profit.Score, riskScore, liq, trend, loc)
	band := gradeFor(sr.Grades, score)
	price, rate := e.model.Predict(rec.AppraisalValue, rec.MinimumSalePrice, rec.FailureCount, score)

	return &models.AnalysisResult{
		RecordID: rec.ID,

		ProfitabilityScore: profit.Score,
		RiskScore:          riskScore,
		LiquidityScore:     liq,
		LocationScore:      loc,
		LegalRiskScore:     legal,
		MarketTrendScore:   trend,

		InvestmentScore: score,
		InvestmentGrade: models.Grade(band.Grade),

		DiscountRate:         round2(rec.DiscountRate()),
		EstimatedMarketPrice: profit.MarketPrice,
		ExpectedROI:          profit.ROI,

		EstimatedFinalPrice:  price,
		PredictedSaleRate:    rate,
		SuccessProbability:   successProbability(score, rec.FailureCount),
		CompetitionLevel:     competitionLevel(score, rec.FailureCount),
		PriceVolatilityIndex: volatility(sr, rec.FailureCount, liq),

		HoldPeriodMonths: band.HoldMonths,
		RiskLevel:        band.RiskLevel,
		TargetProfitRate: band.TargetProfit,

		ModelVersion:    e.model.Version,
		ModelConfidence: e.model.Confidence(),
		AnalyzedAt:      now,
	}
}
