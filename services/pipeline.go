package services

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
	"github.com/araeLaver/busan-auction-analyzer-sub000/storage"
	"github.com/araeLaver/busan-auction-analyzer-sub000/utils"
)

// Scorer scores stored records by id.
type Scorer interface {
	ScoreRecords(ctx context.Context, ids []int64) ([]*models.AnalysisResult, error)
}

// Pipeline runs pages through extraction, normalization, reconciliation and
// scoring.
type Pipeline struct {
	extractor  *Extractor
	normalizer *Normalizer
	dedup      *DedupEngine
	raw        storage.RawRowWriter
	scorer     Scorer
	logger     *utils.Logger
}

// NewPipeline wires the stages together. raw and scorer are optional.
func NewPipeline(x *Extractor, n *Normalizer, d *DedupEngine, raw storage.RawRowWriter, scorer Scorer, logger *utils.Logger) *Pipeline {
	return &Pipeline{
		extractor:  x,
		normalizer: n,
		dedup:      d,
		raw:        raw,
		scorer:     scorer,
		logger:     logger,
	}
}

// Run ingests one batch of pages and scores every new or changed record.
func (p *Pipeline) Run(ctx context.Context, pages []models.Page, sourceLabel string) (models.BatchResult, error) {
	raws := p.extractAll(ctx, pages)
	p.logger.Info("[pipeline] Extracted %d rows from %d pages", len(raws), len(pages))

	if p.raw != nil && len(raws) > 0 {
		if err := p.raw.WriteRaw(raws); err != nil {
			p.logger.Warn("[pipeline] Raw archive write failed: %v", err)
		}
	}

	records := make([]*models.AuctionRecord, 0, len(raws))
	for _, r := range raws {
		records = append(records, p.normalizer.Normalize(r))
	}

	res, err := p.dedup.ProcessBatch(ctx, records, sourceLabel)
	if err != nil {
		return res, fmt.Errorf("pipeline: %w", err)
	}

	if p.scorer != nil && len(res.Changed) > 0 {
		results, err := p.scorer.ScoreRecords(ctx, res.Changed)
		if err != nil {
			p.logger.Warn("[pipeline] Scoring finished with errors: %v", err)
		}
		p.logger.Info("[pipeline] Scored %d of %d changed records", len(results), len(res.Changed))
	}
	return res, nil
}

// extractAll extracts pages in parallel and concatenates their rows in page
// order.
func (p *Pipeline) extractAll(ctx context.Context, pages []models.Page) []*models.RawRecord {
	perPage := make([][]*models.RawRecord, len(pages))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range pages {
		i := i
		g.Go(func() error {
			perPage[i] = p.extractor.Extract(pages[i])
			return nil
		})
	}
	_ = g.Wait()

	var out []*models.RawRecord
	for _, rows := range perPage {
		out = append(out, rows...)
	}
	return out
}
