package jobs

import (
	"time"

	"doc-converter/internal/domain"
)

// FileProgress computes percent complete for file and batch jobs from unit
// counts. The result is clamped to [0, 99]: processed can legitimately equal
// total slightly before the final bookkeeping finishes, so 100 is only ever
// written by Store.Complete.
func FileProgress(counts domain.Counts) int {
	if counts.Total <= 0 {
		return 0
	}
	percent := counts.Processed * 100 / counts.Total
	if percent < 0 {
		return 0
	}
	if percent > 99 {
		return 99
	}
	return percent
}

// WebsiteProgress computes percent complete and the estimated time remaining
// for a crawl from the discovered and processed URL counts. ok is false when
// nothing has been processed yet, in which case no ETA exists.
func WebsiteProgress(discovered, processed int, elapsed time.Duration) (percent int, eta time.Duration, ok bool) {
	if discovered > 0 {
		percent = processed * 100 / discovered
		if percent > 99 {
			percent = 99
		}
		if percent < 0 {
			percent = 0
		}
	}
	if processed <= 0 {
		return percent, 0, false
	}

	avgUnitTime := elapsed / time.Duration(processed)
	remaining := discovered - processed
	if remaining < 0 {
		remaining = 0
	}
	return percent, avgUnitTime * time.Duration(remaining), true
}

// Aggregator derives percent, ETA, and URL/section counters from
// incrementally arriving counts and writes them into the store as atomic
// updates.
type Aggregator struct {
	store *Store
	now   func() time.Time
}

// NewAggregator creates an aggregator writing into store.
func NewAggregator(store *Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// NewAggregatorForTests creates an aggregator with an injectable clock.
func NewAggregatorForTests(store *Store, now func() time.Time) *Aggregator {
	return &Aggregator{store: store, now: now}
}

// ApplyCounts applies absolute unit counts from a progress event and
// recomputes derived progress. Nil counts are left unchanged.
func (a *Aggregator) ApplyCounts(completed, errored, total *int) {
	snapshot := a.store.Snapshot()

	next := snapshot.Counts
	if completed != nil {
		next.Completed = *completed
	}
	if errored != nil {
		next.Errored = *errored
	}
	if total != nil {
		next.Total = *total
	}
	next.Processed = next.Completed + next.Errored

	update := Update{Completed: &next.Completed, Errored: &next.Errored, Total: &next.Total}
	a.attachDerived(&update, snapshot, next, snapshot.Website)
	a.store.BatchUpdate(update)
}

// ApplyUnitResult records one finished unit and advances derived progress.
func (a *Aggregator) ApplyUnitResult(unit string, failed bool) {
	snapshot := a.store.Snapshot()

	next := snapshot.Counts
	if failed {
		next.Errored++
	} else {
		next.Completed++
	}
	next.Processed = next.Completed + next.Errored

	update := Update{Completed: &next.Completed, Errored: &next.Errored}
	if unit != "" {
		update.CurrentUnit = &unit
	}
	a.attachDerived(&update, snapshot, next, snapshot.Website)
	a.store.BatchUpdate(update)
}

// SetTotal records the expected unit count once it becomes known.
func (a *Aggregator) SetTotal(total int) {
	a.ApplyCounts(nil, nil, &total)
}

// AddURLCounts accumulates newly discovered URLs. Counts are added to the
// running totals, never replacing them: a crawl discovers URLs from several
// sources (sitemap, link-following) that must be summed. Nil means no
// discovery on that source.
func (a *Aggregator) AddURLCounts(sitemap, crawled *int) {
	snapshot := a.store.Snapshot()

	website := snapshot.Website
	update := Update{}
	if sitemap != nil {
		website.SitemapURLs += *sitemap
		update.AddSitemapURLs = sitemap
	}
	if crawled != nil {
		website.CrawledURLs += *crawled
		update.AddCrawledURLs = crawled
	}
	website.DiscoveredURLs = website.SitemapURLs + website.CrawledURLs

	a.attachDerived(&update, snapshot, snapshot.Counts, website)
	a.store.BatchUpdate(update)
}

// AddSectionCount accumulates converted pages under a named site section.
func (a *Aggregator) AddSectionCount(name string, n int) {
	if name == "" || n == 0 {
		return
	}
	a.store.BatchUpdate(Update{AddSections: map[string]int{name: n}})
}

// attachDerived fills the percent and ETA fields of update from the counts
// and crawl stats that will hold after it applies.
func (a *Aggregator) attachDerived(update *Update, snapshot domain.Job, counts domain.Counts, website domain.WebsiteStats) {
	if snapshot.Kind == domain.JobKindWebsite {
		elapsed := a.now().Sub(snapshot.StartTime)
		percent, eta, ok := WebsiteProgress(website.DiscoveredURLs, counts.Processed, elapsed)
		update.Progress = &percent
		if ok {
			seconds := int(eta / time.Second)
			update.ETASeconds = &seconds
		}
		return
	}

	percent := FileProgress(counts)
	update.Progress = &percent
}
