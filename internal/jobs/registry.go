package jobs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"doc-converter/internal/domain"
	"doc-converter/internal/transport"
)

// HandlerOptions carries optional per-registration callbacks supplied by the
// orchestrator.
type HandlerOptions struct {
	// OnProgress observes every matched progress event after its effects apply.
	OnProgress func(transport.ProgressEvent)
	// OnDone fires exactly once when the job's terminal event arrives, with a
	// nil error on completion.
	OnDone func(err error)
}

// Registration is the bound set of four channel subscriptions for one job.
// It exists if and only if its subscriptions are active; that symmetry is
// the registry's core correctness property.
type Registration struct {
	JobID      string
	Identifier string

	subs     []transport.Subscription
	opts     HandlerOptions
	terminal atomic.Bool
}

// Registry binds the four worker event channels to the active job, routes
// matched events into the store and aggregator, and guarantees symmetric
// teardown. Events for unknown or already-removed jobs are dropped.
type Registry struct {
	subscriber transport.Subscriber
	store      *Store
	aggregator *Aggregator
	logger     zerolog.Logger

	mu     sync.Mutex
	active map[string]*Registration
}

// NewRegistry creates a registry applying event effects through store and
// aggregator.
func NewRegistry(subscriber transport.Subscriber, store *Store, aggregator *Aggregator, logger zerolog.Logger) *Registry {
	return &Registry{
		subscriber: subscriber,
		store:      store,
		aggregator: aggregator,
		logger:     logger,
		active:     make(map[string]*Registration),
	}
}

// RegisterHandlers subscribes the four conversion channels for a job. When
// any subscribe fails, every channel bound so far is unbound before the
// error propagates, so a failed call never leaks a partial registration.
func (r *Registry) RegisterHandlers(jobID, identifier string, opts HandlerOptions) (*Registration, error) {
	reg := &Registration{JobID: jobID, Identifier: identifier, opts: opts}

	subscribes := []func() (transport.Subscription, error){
		func() (transport.Subscription, error) {
			return r.subscriber.OnConversionProgress(func(e transport.ProgressEvent) { r.handleProgress(reg, e) })
		},
		func() (transport.Subscription, error) {
			return r.subscriber.OnConversionStatus(func(e transport.StatusEvent) { r.handleStatus(reg, e) })
		},
		func() (transport.Subscription, error) {
			return r.subscriber.OnConversionComplete(func(e transport.CompleteEvent) { r.handleComplete(reg, e) })
		},
		func() (transport.Subscription, error) {
			return r.subscriber.OnConversionError(func(e transport.ErrorEvent) { r.handleError(reg, e) })
		},
	}

	for _, subscribe := range subscribes {
		sub, err := subscribe()
		if err != nil {
			for _, bound := range reg.subs {
				bound.Unsubscribe()
			}
			return nil, fmt.Errorf("register handlers for job %s: %w", jobID, err)
		}
		reg.subs = append(reg.subs, sub)
	}

	r.mu.Lock()
	r.active[jobID] = reg
	r.mu.Unlock()

	r.logger.Debug().Str("job", jobID).Str("identifier", identifier).Msg("handlers registered")
	return reg, nil
}

// RemoveHandlers unbinds all four channels for a job. Calling it for an
// unknown or already-removed id is a no-op.
func (r *Registry) RemoveHandlers(jobID string) {
	r.mu.Lock()
	reg, ok := r.active[jobID]
	if ok {
		delete(r.active, jobID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	for _, sub := range reg.subs {
		sub.Unsubscribe()
	}
	r.logger.Debug().Str("job", jobID).Msg("handlers removed")
}

// ActiveJobs returns the ids with live registrations, for diagnostics and
// tests.
func (r *Registry) ActiveJobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// isCurrent reports whether reg is still the live registration for its id,
// guarding against stale dispatches after teardown.
func (r *Registry) isCurrent(reg *Registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[reg.JobID] == reg
}

// matches applies the routing rule: an event belongs to reg when it embeds
// the registered job id or carries the registered resource identifier.
func matches(reg *Registration, id, identifier string) bool {
	if id != "" && id == reg.JobID {
		return true
	}
	return identifier != "" && identifier == reg.Identifier
}

// handleProgress applies a matched progress event: raw status, percent and
// current unit, unit counts, and crawl accumulators.
func (r *Registry) handleProgress(reg *Registration, e transport.ProgressEvent) {
	if !r.isCurrent(reg) {
		return
	}
	if e.ID == "" && e.File == "" {
		r.logger.Warn().Str("job", reg.JobID).Msg("dropping progress event without id or file")
		return
	}
	if !matches(reg, e.ID, e.File) {
		r.logger.Debug().Str("job", reg.JobID).Str("file", e.File).Msg("dropping unmatched progress event")
		return
	}

	if e.Status != "" {
		r.store.ApplyRawStatus(e.Status)
	}
	if e.Progress != nil || e.File != "" {
		update := Update{Progress: e.Progress}
		if e.File != "" {
			update.CurrentUnit = &e.File
		}
		r.store.BatchUpdate(update)
	}
	if e.Completed != nil || e.Errored != nil || e.Total != nil {
		r.aggregator.ApplyCounts(e.Completed, e.Errored, e.Total)
	}
	if e.SitemapURLs != nil || e.CrawledURLs != nil {
		r.aggregator.AddURLCounts(e.SitemapURLs, e.CrawledURLs)
	}
	if e.Section != "" {
		r.aggregator.AddSectionCount(e.Section, 1)
	}

	if reg.opts.OnProgress != nil {
		reg.opts.OnProgress(e)
	}
}

// handleStatus applies a matched raw status change.
func (r *Registry) handleStatus(reg *Registration, e transport.StatusEvent) {
	if !r.isCurrent(reg) {
		return
	}
	if e.ID == "" && e.File == "" {
		r.logger.Warn().Str("job", reg.JobID).Msg("dropping status event without id or file")
		return
	}
	if !matches(reg, e.ID, e.File) {
		r.logger.Debug().Str("job", reg.JobID).Str("status", e.Status).Msg("dropping unmatched status event")
		return
	}

	if phase, ok := MapRawStatus(e.Status); ok && phase == domain.PhaseError && e.Error != "" {
		r.store.SetError(e.Error)
		return
	}
	r.store.ApplyRawStatus(e.Status)
}

// handleComplete applies the successful terminal transition and tears the
// registration down. This and handleError are the only teardown paths, and
// each registration takes one of them at most once.
func (r *Registry) handleComplete(reg *Registration, e transport.CompleteEvent) {
	if !r.isCurrent(reg) || !matches(reg, e.ID, "") {
		return
	}
	if !reg.terminal.CompareAndSwap(false, true) {
		return
	}

	r.store.Complete()
	if reg.opts.OnDone != nil {
		reg.opts.OnDone(nil)
	}
	r.RemoveHandlers(reg.JobID)
}

// handleError applies the failed terminal transition and tears the
// registration down.
func (r *Registry) handleError(reg *Registration, e transport.ErrorEvent) {
	if !r.isCurrent(reg) || !matches(reg, e.ID, "") {
		return
	}
	if !reg.terminal.CompareAndSwap(false, true) {
		return
	}

	// Same default the store applies, so the callback error and the stored
	// message never disagree.
	message := strings.TrimSpace(e.Error)
	if message == "" {
		message = "conversion failed"
	}
	r.store.SetError(message)
	if reg.opts.OnDone != nil {
		reg.opts.OnDone(errors.New(message))
	}
	r.RemoveHandlers(reg.JobID)
}
