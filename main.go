package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/araeLaver/busan-auction-analyzer-sub000/config"
	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
	"github.com/araeLaver/busan-auction-analyzer-sub000/scoring"
	"github.com/araeLaver/busan-auction-analyzer-sub000/scraper/registry"
	"github.com/araeLaver/busan-auction-analyzer-sub000/services"
	"github.com/araeLaver/busan-auction-analyzer-sub000/storage"
	"github.com/araeLaver/busan-auction-analyzer-sub000/utils"
)

type options struct {
	mode     string
	input    string
	days     int
	recordID int64
	dryRun   bool
}

func main() {
	var opts options
	flag.StringVar(&opts.mode, "mode", "ingest", "ingest | score | deactivate-stale | compact")
	flag.StringVar(&opts.input, "input", "", "recorded pages (.json) or a saved page (.html) instead of REGISTRY_URLS")
	flag.IntVar(&opts.days, "days", 0, "stale window in days (default STALE_WINDOW_DAYS)")
	flag.Int64Var(&opts.recordID, "record", 0, "score a single record id")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "use an in-memory store and skip the raw CSV archive")
	flag.Parse()

	cfg := config.Load()
	logger, closeLog := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, cfg, opts, logger)
	stop()
	if err != nil {
		logger.Error("%v", err)
	}
	closeLog()
	if err != nil {
		os.Exit(1)
	}
}

// newLogger builds the console logger and, when enabled, the Fluent Bit sink.
func newLogger(cfg *config.Config) (*utils.Logger, func()) {
	logCfg := utils.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat}
	if !cfg.FluentEnabled {
		return utils.NewLoggerWithConfig(logCfg), func() {}
	}

	client, err := utils.NewFluentClient(utils.FluentConfig{
		Host:      cfg.FluentHost,
		Port:      cfg.FluentPort,
		TagPrefix: cfg.AppName,
		Level:     cfg.FluentLogLevel,
	})
	if err != nil {
		logger := utils.NewLoggerWithConfig(logCfg)
		logger.Warn("[main] Fluent Bit disabled: %v", err)
		return logger, func() {}
	}
	logCfg.Fluent = utils.NewFluentHandler(client, cfg.FluentLogLevel)
	return utils.NewLoggerWithConfig(logCfg), func() { _ = client.Close() }
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *utils.Logger) error {
	logger.Info("=== Auction Analyzer starting (mode: %s) ===", opts.mode)
	logger.Info("Config: store: %s | identity: %s | strictness: %s | workers: %d",
		cfg.DBDriver, cfg.IdentityKey, cfg.CaseStrictness, cfg.ScoringWorkers)

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, opts.dryRun)
	if err != nil {
		return err
	}
	defer store.Close()

	validator, err := services.NewValidator(cfg.MinCaseLength(), rules.Extraction.MinAddressLength)
	if err != nil {
		return err
	}
	dedup := services.NewDedupEngine(store, validator, services.DedupConfig{
		IdentityKey:     cfg.IdentityKey,
		MinCaseLength:   cfg.MinCaseLength(),
		StaleWindowDays: cfg.StaleWindowDays,
		StoreTimeout:    cfg.StoreTimeout,
	}, logger, time.Now)

	scorer, err := scoring.NewEngine(rules, store, scoring.Config{
		Workers:       cfg.ScoringWorkers,
		RetainHistory: cfg.RetainHistory,
		StoreTimeout:  cfg.StoreTimeout,
	}, logger, time.Now)
	if err != nil {
		return err
	}

	var batch *models.BatchResult
	switch opts.mode {
	case "ingest":
		res, err := ingest(ctx, cfg, opts, rules, dedup, scorer, logger)
		if err != nil {
			return err
		}
		batch = &res

	case "score":
		if opts.recordID > 0 {
			res, err := scorer.ScoreRecord(ctx, opts.recordID)
			if err != nil {
				return err
			}
			logger.Info("Record %d: score %d, grade %s, predicted %d won", opts.recordID,
				res.InvestmentScore, res.InvestmentGrade, res.EstimatedFinalPrice)
		} else if _, err := scorer.ScoreActive(ctx); err != nil {
			logger.Warn("Scoring finished with errors: %v", err)
		}

	case "deactivate-stale":
		n, err := dedup.DeactivateStale(ctx, opts.days)
		if err != nil {
			return err
		}
		logger.Info("Deactivated %d stale records", n)
		return nil

	case "compact":
		n, err := dedup.CompactDuplicates(ctx)
		if err != nil {
			return err
		}
		logger.Info("Removed %d duplicate records", n)
		return nil

	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}

	return report(ctx, store, batch, logger)
}

func openStore(ctx context.Context, cfg *config.Config, dryRun bool) (storage.Store, error) {
	if dryRun {
		return storage.NewMemoryStore(), nil
	}
	switch cfg.DBDriver {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "sqlite":
		return storage.NewSQLiteStore(ctx, cfg.SQLitePath)
	case "postgres":
		store, err := storage.NewPostgresStore(ctx, cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("%w (is PostgreSQL running? docker compose up -d)", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
}

func ingest(ctx context.Context, cfg *config.Config, opts options, rules *config.Rules,
	dedup *services.DedupEngine, scorer *scoring.Engine, logger *utils.Logger) (models.BatchResult, error) {

	pages, source, err := collectPages(ctx, cfg, opts.input, logger)
	if err != nil {
		return models.BatchResult{}, err
	}
	if len(pages) == 0 {
		return models.BatchResult{}, errors.New("no pages to ingest")
	}

	var raw storage.RawRowWriter
	if !opts.dryRun {
		csvWriter, err := storage.NewCSVWriter(cfg.RawCSVPath)
		if err != nil {
			return models.BatchResult{}, err
		}
		defer csvWriter.Close()
		raw = csvWriter
	}

	extractor, err := services.NewExtractor(rules, cfg.MinCaseLength(), logger)
	if err != nil {
		return models.BatchResult{}, err
	}
	normalizer := services.NewNormalizer(rules, logger, time.Now)

	pipeline := services.NewPipeline(extractor, normalizer, dedup, raw, scorer, logger)
	res, err := pipeline.Run(ctx, pages, source)
	if err != nil {
		return res, err
	}
	if raw != nil {
		logger.Info("Raw rows archived to %s", cfg.RawCSVPath)
	}
	return res, nil
}

// collectPages loads recorded pages from input, or captures REGISTRY_URLS
// with the browser.
func collectPages(ctx context.Context, cfg *config.Config, input string, logger *utils.Logger) ([]models.Page, string, error) {
	if input != "" {
		pages, err := loadPages(input, time.Now)
		if err != nil {
			return nil, "", err
		}
		logger.Info("Loaded %d recorded pages from %s", len(pages), input)
		return pages, "file:" + input, nil
	}
	if len(cfg.RegistryURLs) == 0 {
		return nil, "", errors.New("nothing to ingest: pass -input or set REGISTRY_URLS")
	}
	pages, err := registry.New(cfg, logger).Capture(ctx, cfg.RegistryURLs)
	return pages, "registry", err
}

func report(ctx context.Context, store storage.Store, batch *models.BatchResult, logger *utils.Logger) error {
	scored, err := store.ListScored(ctx)
	if err != nil {
		return fmt.Errorf("load scored listings: %w", err)
	}
	ids, err := store.ListRecordIDs(ctx, "")
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}

	insightSvc := services.NewInsightService(logger)
	insightSvc.Print(insightSvc.Generate(scored, len(ids), batch))
	return nil
}
