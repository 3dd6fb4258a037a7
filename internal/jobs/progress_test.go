package jobs

import (
	"testing"
	"time"

	"doc-converter/internal/domain"
)

// TestFileProgress checks the percent derivation and its [0, 99] clamp.
func TestFileProgress(t *testing.T) {
	tests := []struct {
		name   string
		counts domain.Counts
		want   int
	}{
		{"no total", domain.Counts{Processed: 3}, 0},
		{"partial", domain.Counts{Processed: 1, Total: 4}, 25},
		{"all processed clamps", domain.Counts{Processed: 4, Total: 4}, 99},
		{"overshoot clamps", domain.Counts{Processed: 9, Total: 4}, 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileProgress(tt.counts); got != tt.want {
				t.Fatalf("FileProgress(%+v) = %d, want %d", tt.counts, got, tt.want)
			}
		})
	}
}

// TestWebsiteProgress checks crawl percent and ETA estimation.
func TestWebsiteProgress(t *testing.T) {
	percent, eta, ok := WebsiteProgress(20, 5, 50*time.Second)
	if !ok {
		t.Fatal("expected an estimate after processed units")
	}
	if percent != 25 {
		t.Fatalf("percent = %d, want 25", percent)
	}
	// 10s per unit, 15 units remaining.
	if eta != 150*time.Second {
		t.Fatalf("eta = %s, want 2m30s", eta)
	}
}

// TestWebsiteProgressNoEstimateBeforeFirstUnit checks ok is false until a
// unit has been processed.
func TestWebsiteProgressNoEstimateBeforeFirstUnit(t *testing.T) {
	percent, _, ok := WebsiteProgress(20, 0, 10*time.Second)
	if ok {
		t.Fatal("no estimate should exist with zero processed units")
	}
	if percent != 0 {
		t.Fatalf("percent = %d, want 0", percent)
	}
}

func newTestAggregator() (*Aggregator, *Store, *fakeClock) {
	store, clock := newTestStore()
	return NewAggregatorForTests(store, clock.Now), store, clock
}

// TestAggregatorApplyCountsDerivesProgress checks absolute counts feed the
// store together with the derived percent.
func TestAggregatorApplyCountsDerivesProgress(t *testing.T) {
	agg, store, _ := newTestAggregator()
	store.StartBatch([]string{"a", "b", "c", "d"})

	agg.ApplyCounts(intp(2), intp(1), nil)

	job := store.Snapshot()
	if job.Counts.Completed != 2 || job.Counts.Errored != 1 || job.Counts.Processed != 3 {
		t.Fatalf("counts = %+v", job.Counts)
	}
	if job.Progress != 75 {
		t.Fatalf("progress = %d, want 75", job.Progress)
	}
}

// TestAggregatorApplyUnitResult checks per-unit reporting advances counts
// and current unit.
func TestAggregatorApplyUnitResult(t *testing.T) {
	agg, store, _ := newTestAggregator()
	store.StartBatch([]string{"a.docx", "b.docx"})

	agg.ApplyUnitResult("a.docx", false)
	agg.ApplyUnitResult("b.docx", true)

	job := store.Snapshot()
	if job.Counts.Completed != 1 || job.Counts.Errored != 1 {
		t.Fatalf("counts = %+v", job.Counts)
	}
	if job.CurrentUnit != "b.docx" {
		t.Fatalf("current unit = %q", job.CurrentUnit)
	}
	if job.Progress != 99 {
		t.Fatalf("progress = %d, want clamp to 99", job.Progress)
	}
}

// TestAggregatorAddURLCountsIsAdditive verifies sitemap and crawl discoveries
// sum into the running totals: 12 sitemap URLs then 5 crawled links must
// yield 17 discovered.
func TestAggregatorAddURLCountsIsAdditive(t *testing.T) {
	agg, store, _ := newTestAggregator()
	store.StartWebsite("https://example.com")

	agg.AddURLCounts(intp(12), nil)
	agg.AddURLCounts(nil, intp(5))

	job := store.Snapshot()
	if job.Website.SitemapURLs != 12 || job.Website.CrawledURLs != 5 {
		t.Fatalf("url counts = %+v", job.Website)
	}
	if job.Website.DiscoveredURLs != 17 {
		t.Fatalf("discovered = %d, want 17", job.Website.DiscoveredURLs)
	}
}

// TestAggregatorWebsiteETA checks the ETA derivation for crawls from the
// injected clock.
func TestAggregatorWebsiteETA(t *testing.T) {
	agg, store, clock := newTestAggregator()
	store.StartWebsite("https://example.com")

	agg.AddURLCounts(intp(10), nil)
	clock.Advance(20 * time.Second)
	agg.ApplyCounts(intp(4), intp(0), nil)

	job := store.Snapshot()
	if job.Progress != 40 {
		t.Fatalf("progress = %d, want 40", job.Progress)
	}
	// 5s per page, 6 pages remaining.
	if job.Website.ETASeconds != 30 {
		t.Fatalf("eta = %ds, want 30", job.Website.ETASeconds)
	}
}

// TestAggregatorAddSectionCount checks section tallies accumulate per name.
func TestAggregatorAddSectionCount(t *testing.T) {
	agg, store, _ := newTestAggregator()
	store.StartWebsite("https://example.com")

	agg.AddSectionCount("docs", 1)
	agg.AddSectionCount("docs", 2)
	agg.AddSectionCount("blog", 1)
	agg.AddSectionCount("", 4)

	sections := store.Snapshot().Website.SectionCounts
	if sections["docs"] != 3 || sections["blog"] != 1 {
		t.Fatalf("sections = %v", sections)
	}
	if len(sections) != 2 {
		t.Fatalf("sections = %v, unnamed entries must be dropped", sections)
	}
}
