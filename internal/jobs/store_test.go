package jobs

import (
	"testing"
	"time"

	"doc-converter/internal/domain"
)

// newTestStore builds a store with a manual clock and an hour-long tick
// interval so background ticks never interfere.
func newTestStore() (*Store, *fakeClock) {
	clock := newFakeClock()
	timer := NewTimerForTests(clock.Now, time.Hour)
	return NewStoreForTests(timer, clock.Now), clock
}

func phasePtr(p domain.Phase) *domain.Phase { return &p }
func intp(v int) *int                       { return &v }
func strp(s string) *string                 { return &s }

// TestStoreStartFile checks initial state for a single-file job.
func TestStoreStartFile(t *testing.T) {
	store, _ := newTestStore()
	store.StartFile("report.docx")
	store.SetJobID("job-1")

	job := store.Snapshot()
	if job.Kind != domain.JobKindFile {
		t.Fatalf("kind = %s, want file", job.Kind)
	}
	if job.Status != domain.PhaseConverting {
		t.Fatalf("status = %s, want converting", job.Status)
	}
	if job.Progress != 0 {
		t.Fatalf("progress = %d, want 0", job.Progress)
	}
	if job.CurrentUnit != "report.docx" {
		t.Fatalf("current unit = %q", job.CurrentUnit)
	}
	if job.StartTime.IsZero() {
		t.Fatal("expected start time")
	}
	if !store.Timer().Running() {
		t.Fatal("expected running timer")
	}
}

// TestStoreOperationsProceedAfterStart checks start releases the store for
// concurrent readers and writers instead of holding its lock.
func TestStoreOperationsProceedAfterStart(t *testing.T) {
	store, _ := newTestStore()
	store.StartFile("report.docx")

	done := make(chan domain.Job, 1)
	go func() {
		store.BatchUpdate(Update{Progress: intp(10)})
		done <- store.Snapshot()
	}()

	select {
	case job := <-done:
		if job.Progress != 10 {
			t.Fatalf("progress = %d, want 10", job.Progress)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("store blocked after start")
	}
}

// TestStoreStartWebsiteBeginsPreparing checks the crawl entry phase.
func TestStoreStartWebsiteBeginsPreparing(t *testing.T) {
	store, _ := newTestStore()
	store.StartWebsite("https://example.com")

	job := store.Snapshot()
	if job.Kind != domain.JobKindWebsite {
		t.Fatalf("kind = %s, want website", job.Kind)
	}
	if job.Status != domain.PhasePreparing {
		t.Fatalf("status = %s, want preparing", job.Status)
	}
}

// TestStoreBatchUpdateIsAtomic verifies subscribers observe all fields of
// one update together, never a torn intermediate state.
func TestStoreBatchUpdateIsAtomic(t *testing.T) {
	store, _ := newTestStore()
	store.StartBatch([]string{"a.docx", "b.docx"})

	var seen []domain.Job
	unsubscribe := store.Subscribe(func(job domain.Job) {
		seen = append(seen, job)
	})
	defer unsubscribe()

	store.BatchUpdate(Update{Progress: intp(30), CurrentUnit: strp("b.docx")})

	if len(seen) != 1 {
		t.Fatalf("notifications = %d, want 1", len(seen))
	}
	if seen[0].Progress != 30 || seen[0].CurrentUnit != "b.docx" {
		t.Fatalf("snapshot = %+v, want progress and unit together", seen[0])
	}
}

// TestStoreProgressClampAndMonotonic checks the [0,99] clamp and that
// progress never decreases while the job is live.
func TestStoreProgressClampAndMonotonic(t *testing.T) {
	store, _ := newTestStore()
	store.StartFile("report.docx")

	store.BatchUpdate(Update{Progress: intp(150)})
	if got := store.Snapshot().Progress; got != 99 {
		t.Fatalf("progress = %d, want clamp to 99", got)
	}

	store.BatchUpdate(Update{Progress: intp(40)})
	if got := store.Snapshot().Progress; got != 99 {
		t.Fatalf("progress = %d, regression applied", got)
	}

	store.BatchUpdate(Update{Progress: intp(-3)})
	if got := store.Snapshot().Progress; got != 99 {
		t.Fatalf("progress = %d after negative update", got)
	}
}

// TestStoreCompleteSetsHundred verifies 100 is reachable only through
// Complete, alongside the completion timestamp and timer stop.
func TestStoreCompleteSetsHundred(t *testing.T) {
	store, _ := newTestStore()
	store.StartFile("report.docx")

	var completions int
	store.OnComplete(func(domain.Job) { completions++ })

	store.Complete()
	job := store.Snapshot()
	if job.Status != domain.PhaseCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.Progress != 100 {
		t.Fatalf("progress = %d, want 100", job.Progress)
	}
	if job.CompletionTime.IsZero() {
		t.Fatal("expected completion time")
	}
	if store.Timer().Running() {
		t.Fatal("timer should stop on completion")
	}
	if completions != 1 {
		t.Fatalf("completion callbacks = %d, want 1", completions)
	}

	// Second Complete is a no-op: callbacks fire exactly once.
	store.Complete()
	if completions != 1 {
		t.Fatalf("completion callbacks after repeat = %d, want 1", completions)
	}
}

// TestStoreTerminalImmutability verifies no update after a terminal status
// changes status, progress, or error.
func TestStoreTerminalImmutability(t *testing.T) {
	store, clock := newTestStore()
	store.StartFile("report.docx")
	store.SetError("boom")

	completionTime := store.Snapshot().CompletionTime
	clock.Advance(time.Minute)

	store.BatchUpdate(Update{
		Status:   phasePtr(domain.PhaseConverting),
		Progress: intp(55),
	})
	store.Complete()
	store.SetError("later failure")
	store.Cancel()

	job := store.Snapshot()
	if job.Status != domain.PhaseError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if job.Error != "boom" {
		t.Fatalf("error = %q, want boom", job.Error)
	}
	if job.Progress != 0 {
		t.Fatalf("progress = %d, want unchanged 0", job.Progress)
	}
	if !job.CompletionTime.Equal(completionTime) {
		t.Fatal("completion time must be set exactly once")
	}
}

// TestStoreErrorRequiresMessage checks the error field is non-empty iff the
// status is error.
func TestStoreErrorRequiresMessage(t *testing.T) {
	store, _ := newTestStore()
	store.StartFile("report.docx")
	store.SetError("   ")

	job := store.Snapshot()
	if job.Status != domain.PhaseError {
		t.Fatalf("status = %s, want error", job.Status)
	}
	if job.Error == "" {
		t.Fatal("error message must not be empty in error status")
	}
}

// TestStoreBatchUpdateIgnoresTerminalStatusField verifies terminal phases
// cannot sneak in through BatchUpdate and skip completion bookkeeping.
func TestStoreBatchUpdateIgnoresTerminalStatusField(t *testing.T) {
	store, _ := newTestStore()
	store.StartFile("report.docx")

	store.BatchUpdate(Update{Status: phasePtr(domain.PhaseCompleted)})
	if got := store.Snapshot().Status; got != domain.PhaseConverting {
		t.Fatalf("status = %s, want converting", got)
	}
}

// TestStoreAdditiveAccumulators verifies URL and section counters sum
// incoming counts instead of replacing them.
func TestStoreAdditiveAccumulators(t *testing.T) {
	store, _ := newTestStore()
	store.StartWebsite("https://example.com")

	store.BatchUpdate(Update{AddSitemapURLs: intp(12)})
	store.BatchUpdate(Update{AddCrawledURLs: intp(5)})
	store.BatchUpdate(Update{AddSections: map[string]int{"docs": 2}})
	store.BatchUpdate(Update{AddSections: map[string]int{"docs": 3}})

	job := store.Snapshot()
	if job.Website.SitemapURLs != 12 {
		t.Fatalf("sitemap urls = %d, want 12", job.Website.SitemapURLs)
	}
	if job.Website.CrawledURLs != 5 {
		t.Fatalf("crawled urls = %d, want 5", job.Website.CrawledURLs)
	}
	if job.Website.DiscoveredURLs != 17 {
		t.Fatalf("discovered urls = %d, want 17", job.Website.DiscoveredURLs)
	}
	if job.Website.SectionCounts["docs"] != 5 {
		t.Fatalf("docs section = %d, want 5", job.Website.SectionCounts["docs"])
	}
}

// TestStoreCountsInvariant verifies processed is recomputed from completed
// and errored on every count write.
func TestStoreCountsInvariant(t *testing.T) {
	store, _ := newTestStore()
	store.StartBatch([]string{"a", "b", "c"})

	store.BatchUpdate(Update{Completed: intp(2), Errored: intp(1)})
	counts := store.Snapshot().Counts
	if counts.Processed != 3 {
		t.Fatalf("processed = %d, want completed+errored = 3", counts.Processed)
	}
}

// TestStoreApplyRawStatusUnknownIsNoOp checks malformed payloads never
// corrupt the visible phase.
func TestStoreApplyRawStatusUnknownIsNoOp(t *testing.T) {
	store, _ := newTestStore()
	store.StartWebsite("https://example.com")

	store.ApplyRawStatus("some_new_status")
	if got := store.Snapshot().Status; got != domain.PhasePreparing {
		t.Fatalf("status = %s, want preparing", got)
	}

	store.ApplyRawStatus("crawling_pages")
	if got := store.Snapshot().Status; got != domain.PhaseConverting {
		t.Fatalf("status = %s, want converting", got)
	}
}

// TestStoreReset verifies reset returns to idle with zeroed state and a
// cleared timer, and unfreezes the terminal lock.
func TestStoreReset(t *testing.T) {
	store, _ := newTestStore()
	store.StartFile("report.docx")
	store.Complete()

	store.Reset()
	job := store.Snapshot()
	if job.Status != domain.PhaseIdle {
		t.Fatalf("status = %s, want idle", job.Status)
	}
	if job.Progress != 0 || job.Counts != (domain.Counts{}) {
		t.Fatalf("state not zeroed: %+v", job)
	}
	if store.Timer().Running() {
		t.Fatal("timer should be cleared")
	}

	store.StartFile("other.docx")
	if got := store.Snapshot().Status; got != domain.PhaseConverting {
		t.Fatalf("status after restart = %s, want converting", got)
	}
}
