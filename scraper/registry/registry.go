// Package registry captures auction-registry pages with a headless browser
// and decomposes them into candidate tables.
package registry

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/araeLaver/busan-auction-analyzer-sub000/config"
	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
	"github.com/araeLaver/busan-auction-analyzer-sub000/scraper/htmltable"
	"github.com/araeLaver/busan-auction-analyzer-sub000/utils"
)

const (
	pageTimeout = 90 * time.Second
	settleDelay = 3 * time.Second
)

// renderFunc returns the rendered outer HTML of a page.
type renderFunc func(ctx context.Context, url string) (string, error)

// Scraper renders registry listing pages. Each URL is captured at most once
// per Scraper.
type Scraper struct {
	cfg        *config.Config
	logger     *utils.Logger
	pool       *utils.WorkerPool
	visitedURL *utils.URLSet
	retry      *utils.RetryConfig
	now        func() time.Time
}

// New creates a ready-to-use registry Scraper.
func New(cfg *config.Config, logger *utils.Logger) *Scraper {
	return &Scraper{
		cfg:        cfg,
		logger:     logger,
		pool:       utils.NewWorkerPool(cfg.MaxConcurrency, cfg.RateLimitMs),
		visitedURL: utils.NewURLSet(),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		now: time.Now,
	}
}

// Capture renders every URL and returns the pages in URL order. Pages that
// fail after all retries are logged and left out; the error is non-nil only
// when nothing could be captured.
func (s *Scraper) Capture(ctx context.Context, urls []string) ([]models.Page, error) {
	chromeBin := findChromeBinary(s.cfg.ChromeBin)
	s.logger.Info("[registry] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	return s.capture(browserCtx, urls, renderChrome)
}

func renderChrome(browserCtx context.Context, url string) (string, error) {
	tabCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, pageTimeout)
	defer cancelTimeout()

	var outer string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
		chromedp.OuterHTML("html", &outer, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp capture: %w", err)
	}
	return outer, nil
}

func (s *Scraper) capture(ctx context.Context, urls []string, render renderFunc) ([]models.Page, error) {
	s.logger.Info("[registry] Starting capture of %d URLs", len(urls))

	slots := make([]*models.Page, len(urls))
	var mu sync.Mutex
	failed := 0

	for i, url := range urls {
		i, url := i, strings.TrimSpace(url)
		if url == "" {
			continue
		}
		if !s.visitedURL.Add(url) {
			s.logger.Debug("[registry] Skipping duplicate: %s", url)
			continue
		}

		ok := s.pool.Submit(ctx, func() {
			page, err := s.capturePage(ctx, url, render)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("[registry] %s failed: %v", url, err)
				failed++
				return
			}
			slots[i] = page
		})
		if !ok {
			s.logger.Warn("[registry] Context done, %d URLs not submitted", len(urls)-i)
			break
		}
	}
	s.pool.Wait()

	pages := make([]models.Page, 0, len(urls))
	for _, p := range slots {
		if p != nil {
			pages = append(pages, *p)
		}
	}

	s.logger.Info("[registry] Capture complete: %d pages, %d failed", len(pages), failed)
	if len(pages) == 0 && failed > 0 {
		return nil, fmt.Errorf("registry: all %d captures failed", failed)
	}
	return pages, nil
}

func (s *Scraper) capturePage(ctx context.Context, url string, render renderFunc) (*models.Page, error) {
	var doc string
	err := s.retry.Do(ctx, "capture "+url, func(ctx context.Context) error {
		var err error
		doc, err = render(ctx, url)
		return err
	})
	if err != nil {
		return nil, err
	}

	tables, err := htmltable.ParseString(doc)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("[registry] %s: %d tables", url, len(tables))
	return &models.Page{URL: url, CapturedAt: s.now().UTC(), Tables: tables}, nil
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
