package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/araeLaver/busan-auction-analyzer-sub000/models"
	"github.com/araeLaver/busan-auction-analyzer-sub000/scraper/htmltable"
)

// loadPages reads recorded pages: a JSON array of pages, or a single saved
// HTML page that is decomposed into tables.
func loadPages(path string, now func() time.Time) ([]models.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var pages []models.Page
		if err := json.NewDecoder(f).Decode(&pages); err != nil {
			return nil, fmt.Errorf("input: decode %s: %w", path, err)
		}
		for i := range pages {
			if pages[i].CapturedAt.IsZero() {
				pages[i].CapturedAt = now().UTC()
			}
		}
		return pages, nil

	case ".html", ".htm":
		tables, err := htmltable.Parse(f)
		if err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		return []models.Page{{URL: "file://" + abs, CapturedAt: now().UTC(), Tables: tables}}, nil
	}
	return nil, fmt.Errorf("input: unsupported file type %q", filepath.Ext(path))
}
