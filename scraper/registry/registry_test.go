package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/araeLaver/busan-auction-analyzer-sub000/config"
	"github.com/araeLaver/busan-auction-analyzer-sub000/utils"
)

const page = `<html><body><table>
<tr><th>사건번호</th><th>소재지</th></tr>
<tr><td>2024타경1001</td><td>부산광역시 해운대구 우동 1</td></tr>
</table></body></html>`

func newTestScraper() *Scraper {
	cfg := &config.Config{MaxConcurrency: 2, RateLimitMs: 0, MaxRetries: 3}
	s := New(cfg, utils.NewDiscardLogger())
	s.retry.BaseDelay = time.Millisecond
	s.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	return s
}

func TestCaptureKeepsURLOrderAndSkipsDuplicates(t *testing.T) {
	s := newTestScraper()
	var mu sync.Mutex
	calls := map[string]int{}
	render := func(ctx context.Context, url string) (string, error) {
		mu.Lock()
		calls[url]++
		mu.Unlock()
		return page, nil
	}

	urls := []string{"https://a.test/1", "https://a.test/2", "https://a.test/1", " "}
	pages, err := s.capture(context.Background(), urls, render)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 || pages[0].URL != "https://a.test/1" || pages[1].URL != "https://a.test/2" {
		t.Fatalf("pages: %+v", pages)
	}
	if calls["https://a.test/1"] != 1 {
		t.Errorf("duplicate URL rendered %d times", calls["https://a.test/1"])
	}
	if len(pages[0].Tables) != 1 || pages[0].Tables[0].Header[0] != "사건번호" {
		t.Errorf("tables: %+v", pages[0].Tables)
	}
	if pages[0].CapturedAt.IsZero() {
		t.Error("capture time not set")
	}
}

func TestCaptureRetriesTransientFailures(t *testing.T) {
	s := newTestScraper()
	attempts := 0
	render := func(ctx context.Context, url string) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("net::ERR_CONNECTION_RESET")
		}
		return page, nil
	}
	pages, err := s.capture(context.Background(), []string{"https://a.test/flaky"}, render)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 || attempts != 3 {
		t.Errorf("pages %d after %d attempts", len(pages), attempts)
	}
}

func TestCaptureAllFailed(t *testing.T) {
	s := newTestScraper()
	render := func(ctx context.Context, url string) (string, error) {
		return "", errors.New("timeout")
	}
	if _, err := s.capture(context.Background(), []string{"https://a.test/down"}, render); err == nil {
		t.Error("expected an error when every capture fails")
	}
}

func TestFindChromeBinaryPrefersConfigured(t *testing.T) {
	if got := findChromeBinary("/opt/chrome"); got != "/opt/chrome" {
		t.Errorf("got %q", got)
	}
}
