package jobs

import (
	"strings"
	"sync"
	"time"

	"doc-converter/internal/domain"
)

// Update describes one atomic multi-field write against the store. Nil
// fields are left unchanged; all set fields are applied in a single write so
// subscribers never observe a torn intermediate state. The URL and section
// fields are additive accumulators, not replacements.
type Update struct {
	Status      *domain.Phase
	Progress    *int
	CurrentUnit *string
	Completed   *int
	Errored     *int
	Total       *int

	AddSitemapURLs *int
	AddCrawledURLs *int
	AddSections    map[string]int
	ETASeconds     *int
}

// Store is the canonical, subscribable container for the single live
// conversion job. All mutation goes through its operations; the job value is
// only ever handed out as a copy.
type Store struct {
	mu          sync.Mutex
	job         domain.Job
	timer       *Timer
	now         func() time.Time
	nextSubID   int
	subscribers map[int]func(domain.Job)
	completeCbs []func(domain.Job)
}

// NewStore creates an idle store owning the given timer.
func NewStore(timer *Timer) *Store {
	return newStore(timer, time.Now)
}

// NewStoreForTests creates a store with an injectable clock.
func NewStoreForTests(timer *Timer, now func() time.Time) *Store {
	return newStore(timer, now)
}

func newStore(timer *Timer, now func() time.Time) *Store {
	s := &Store{
		job:         domain.Job{Status: domain.PhaseIdle, Elapsed: FormatElapsed(0)},
		timer:       timer,
		now:         now,
		subscribers: make(map[int]func(domain.Job)),
	}
	timer.OnTick(s.setElapsed)
	return s
}

// Snapshot returns a copy of the current job.
func (s *Store) Snapshot() domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers an observer invoked with a job snapshot after every
// applied write. The callback runs with the store lock held and must not
// call back into the store. The returned function removes the subscription.
func (s *Store) Subscribe(cb func(domain.Job)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[id] = cb
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// OnComplete registers an observer invoked once per completion. It is not
// tied to any specific job.
func (s *Store) OnComplete(cb func(domain.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeCbs = append(s.completeCbs, cb)
}

// Timer exposes the store-owned elapsed timer.
func (s *Store) Timer() *Timer {
	return s.timer
}

// StartFile resets state for a single-document conversion.
func (s *Store) StartFile(target string) {
	s.start(domain.JobKindFile, domain.PhaseConverting, target, 1)
}

// StartBatch resets state for a multi-file conversion.
func (s *Store) StartBatch(targets []string) {
	unit := ""
	if len(targets) > 0 {
		unit = targets[0]
	}
	s.start(domain.JobKindBatch, domain.PhaseConverting, unit, len(targets))
}

// StartWebsite resets state for a website crawl conversion. Total unit count
// is unknown until the crawl discovers pages.
func (s *Store) StartWebsite(url string) {
	s.start(domain.JobKindWebsite, domain.PhasePreparing, url, 0)
}

func (s *Store) start(kind domain.JobKind, phase domain.Phase, unit string, total int) {
	s.timer.Reset()

	s.mu.Lock()
	s.job = domain.Job{
		Kind:        kind,
		Status:      phase,
		CurrentUnit: unit,
		Counts:      domain.Counts{Total: total},
		StartTime:   s.now(),
		Elapsed:     FormatElapsed(0),
		Website:     domain.WebsiteStats{SectionCounts: map[string]int{}},
	}
	s.notifyLocked()
	s.mu.Unlock()

	s.timer.Start()
}

// SetJobID records the generated id for the active job.
func (s *Store) SetJobID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.ID = id
}

// BatchUpdate applies all set fields of u in one atomic write. Once the job
// is terminal the update is dropped entirely: status, progress, and error
// are frozen until Reset. Progress is monotonically non-decreasing and
// clamped to 99; only Complete writes 100.
func (s *Store) BatchUpdate(u Update) {
	s.mu.Lock()
	if s.job.Status.Terminal() {
		s.mu.Unlock()
		return
	}

	if u.Status != nil && !u.Status.Terminal() {
		// Terminal transitions go through Complete/SetError/Cancel so their
		// bookkeeping (completion time, timer stop, callbacks) cannot be skipped.
		s.job.Status = *u.Status
	}
	if u.Progress != nil {
		next := *u.Progress
		if next < 0 {
			next = 0
		}
		if next > 99 {
			next = 99
		}
		if next > s.job.Progress {
			s.job.Progress = next
		}
	}
	if u.CurrentUnit != nil {
		s.job.CurrentUnit = *u.CurrentUnit
	}
	if u.Completed != nil {
		s.job.Counts.Completed = *u.Completed
	}
	if u.Errored != nil {
		s.job.Counts.Errored = *u.Errored
	}
	if u.Total != nil {
		s.job.Counts.Total = *u.Total
	}
	s.job.Counts.Processed = s.job.Counts.Completed + s.job.Counts.Errored

	if u.AddSitemapURLs != nil {
		s.job.Website.SitemapURLs += *u.AddSitemapURLs
	}
	if u.AddCrawledURLs != nil {
		s.job.Website.CrawledURLs += *u.AddCrawledURLs
	}
	s.job.Website.DiscoveredURLs = s.job.Website.SitemapURLs + s.job.Website.CrawledURLs
	for name, n := range u.AddSections {
		if s.job.Website.SectionCounts == nil {
			s.job.Website.SectionCounts = map[string]int{}
		}
		s.job.Website.SectionCounts[name] += n
	}
	if u.ETASeconds != nil {
		s.job.Website.ETASeconds = *u.ETASeconds
	}

	s.notifyLocked()
	s.mu.Unlock()
}

// ApplyRawStatus normalizes a raw worker status and applies it. Unknown
// statuses never overwrite the current phase.
func (s *Store) ApplyRawStatus(raw string) {
	phase, ok := MapRawStatus(raw)
	if !ok {
		return
	}
	switch phase {
	case domain.PhaseCompleted:
		s.Complete()
	case domain.PhaseError:
		s.SetError("conversion failed")
	case domain.PhaseCancelled:
		s.Cancel()
	default:
		s.BatchUpdate(Update{Status: &phase})
	}
}

// Complete transitions the job to COMPLETED with progress 100, stops the
// timer, and invokes completion observers exactly once. A no-op when the job
// is already terminal.
func (s *Store) Complete() {
	s.mu.Lock()
	if s.job.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.job.Status = domain.PhaseCompleted
	s.job.Progress = 100
	s.terminalLocked()

	cbs := append([]func(domain.Job){}, s.completeCbs...)
	snapshot := s.snapshotLocked()
	s.notifyLocked()
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(snapshot)
	}
}

// SetError transitions the job to ERROR with a human-readable message and
// stops the timer. A no-op when the job is already terminal.
func (s *Store) SetError(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "conversion failed"
	}

	s.mu.Lock()
	if s.job.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.job.Status = domain.PhaseError
	s.job.Error = message
	s.terminalLocked()
	s.notifyLocked()
	s.mu.Unlock()
}

// Cancel transitions the job to CANCELLED and stops the timer. A no-op when
// the job is already terminal.
func (s *Store) Cancel() {
	s.mu.Lock()
	if s.job.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.job.Status = domain.PhaseCancelled
	s.terminalLocked()
	s.notifyLocked()
	s.mu.Unlock()
}

// Reset returns the store to IDLE with zeroed counts and a cleared timer.
func (s *Store) Reset() {
	s.timer.Reset()

	s.mu.Lock()
	s.job = domain.Job{Status: domain.PhaseIdle, Elapsed: FormatElapsed(0)}
	s.notifyLocked()
	s.mu.Unlock()
}

// terminalLocked records the completion time on the first terminal
// transition and freezes the timer. Caller must hold s.mu.
func (s *Store) terminalLocked() {
	if s.job.CompletionTime.IsZero() {
		s.job.CompletionTime = s.now()
	}
	s.timer.Stop()
}

// setElapsed is the timer tick sink.
func (s *Store) setElapsed(elapsed string) {
	s.mu.Lock()
	if s.job.Status.Terminal() || s.job.Status == domain.PhaseIdle {
		s.mu.Unlock()
		return
	}
	s.job.Elapsed = elapsed
	s.notifyLocked()
	s.mu.Unlock()
}

// snapshotLocked copies the job, including its section map. Caller must
// hold s.mu.
func (s *Store) snapshotLocked() domain.Job {
	out := s.job
	if s.job.Website.SectionCounts != nil {
		sections := make(map[string]int, len(s.job.Website.SectionCounts))
		for name, n := range s.job.Website.SectionCounts {
			sections[name] = n
		}
		out.Website.SectionCounts = sections
	}
	return out
}

// notifyLocked delivers one snapshot to every subscriber. Caller must hold
// s.mu; delivery happens inline so updates are observed in apply order.
func (s *Store) notifyLocked() {
	snapshot := s.snapshotLocked()
	for _, cb := range s.subscribers {
		cb(snapshot)
	}
}
