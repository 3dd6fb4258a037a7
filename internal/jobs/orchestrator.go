package jobs

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"doc-converter/internal/domain"
)

// ErrOrchestratorClosed is returned when starting a job after Close.
var ErrOrchestratorClosed = errors.New("orchestrator closed")

// ErrNoEngine is returned when no engine is configured for a job kind.
var ErrNoEngine = errors.New("no engine for job kind")

// ConvertOptions carries per-request conversion settings.
type ConvertOptions struct {
	OutputDir string
	ModelPath string
	Language  string
	MaxPages  int
	UserAgent string
}

// EngineRequest is the work order handed to a conversion engine.
type EngineRequest struct {
	JobID      string
	Identifier string
	Kind       domain.JobKind
	Targets    []string
	Options    ConvertOptions
}

// Engine runs one conversion, reporting through the event channels. Convert
// blocks until the work finishes and honors ctx cancellation.
type Engine interface {
	Convert(ctx context.Context, req EngineRequest) error
}

// EngineStatus is a point-in-time status snapshot from a polled engine.
type EngineStatus struct {
	Raw      string
	Message  string
	Progress *int
}

// StatusQuerier is implemented by engines that cannot push granular events
// (some transcription backends). The orchestrator polls Status on a fixed
// interval until a terminal raw status appears.
type StatusQuerier interface {
	Status() EngineStatus
}

// Handle tracks one started conversion until its terminal store transition.
type Handle struct {
	JobID string

	once sync.Once
	done chan struct{}
	job  domain.Job
	err  error
}

func newHandle(jobID string) *Handle {
	return &Handle{JobID: jobID, done: make(chan struct{})}
}

// Done is closed when the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the final job snapshot and error. Valid once Done is closed.
func (h *Handle) Result() (domain.Job, error) {
	return h.job, h.err
}

// Wait blocks until the job terminates or ctx is done.
func (h *Handle) Wait(ctx context.Context) (domain.Job, error) {
	select {
	case <-ctx.Done():
		return domain.Job{}, ctx.Err()
	case <-h.done:
		return h.job, h.err
	}
}

// resolve records the outcome exactly once.
func (h *Handle) resolve(job domain.Job, err error) {
	h.once.Do(func() {
		h.job = job
		h.err = err
		close(h.done)
	})
}

// OrchestratorConfig wires the orchestrator's collaborators.
type OrchestratorConfig struct {
	Store      *Store
	Registry   *Registry
	Aggregator *Aggregator
	Engines    map[domain.JobKind]Engine
	// Selector, when set, picks the engine for a request before the kind map
	// is consulted. Returning nil falls back to Engines.
	Selector     func(kind domain.JobKind, identifier string) Engine
	Logger       zerolog.Logger
	PollInterval time.Duration
}

// Orchestrator is the public entry point for starting conversions. It owns
// its store and registry instances so independent orchestrators (as in
// tests) never interfere; lifecycle is New, use, Close.
type Orchestrator struct {
	store        *Store
	registry     *Registry
	aggregator   *Aggregator
	engines      map[domain.JobKind]Engine
	selector     func(kind domain.JobKind, identifier string) Engine
	logger       zerolog.Logger
	pollInterval time.Duration
	newID        func() string

	mu           sync.Mutex
	closed       bool
	activeJobID  string
	activeCancel context.CancelFunc
}

// NewOrchestrator creates an orchestrator from its collaborators.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Orchestrator{
		store:        cfg.Store,
		registry:     cfg.Registry,
		aggregator:   cfg.Aggregator,
		engines:      cfg.Engines,
		selector:     cfg.Selector,
		logger:       cfg.Logger,
		pollInterval: interval,
		newID:        NewJobID,
	}
}

// Store exposes the orchestrator-owned state store for UI subscribers.
func (o *Orchestrator) Store() *Store {
	return o.store
}

// Registry exposes the handler registry for diagnostics.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// ConvertFile starts a single-document conversion.
func (o *Orchestrator) ConvertFile(ctx context.Context, target string, opts ConvertOptions) (*Handle, error) {
	return o.start(ctx, domain.JobKindFile, target, []string{target}, opts)
}

// ConvertBatch starts a multi-file conversion.
func (o *Orchestrator) ConvertBatch(ctx context.Context, targets []string, opts ConvertOptions) (*Handle, error) {
	if len(targets) == 0 {
		return nil, errors.New("batch requires at least one target")
	}
	return o.start(ctx, domain.JobKindBatch, targets[0], targets, opts)
}

// ConvertWebsite starts a website crawl conversion.
func (o *Orchestrator) ConvertWebsite(ctx context.Context, url string, opts ConvertOptions) (*Handle, error) {
	return o.start(ctx, domain.JobKindWebsite, url, []string{url}, opts)
}

// start generates a job id, resets the store, registers handlers, and hands
// the request to the engine. Starting a new job while another is live tears
// the previous registration down first; its visible state is overwritten.
func (o *Orchestrator) start(ctx context.Context, kind domain.JobKind, identifier string, targets []string, opts ConvertOptions) (*Handle, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrOrchestratorClosed
	}
	if o.activeJobID != "" {
		if o.activeCancel != nil {
			o.activeCancel()
		}
		prev := o.activeJobID
		o.activeJobID = ""
		o.activeCancel = nil
		o.mu.Unlock()
		o.registry.RemoveHandlers(prev)
		o.mu.Lock()
	}
	o.mu.Unlock()

	var eng Engine
	if o.selector != nil {
		eng = o.selector(kind, identifier)
	}
	if eng == nil {
		eng = o.engines[kind]
	}
	if eng == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEngine, kind)
	}

	jobID := o.newID()
	switch kind {
	case domain.JobKindBatch:
		o.store.StartBatch(targets)
	case domain.JobKindWebsite:
		o.store.StartWebsite(identifier)
	default:
		o.store.StartFile(identifier)
	}
	o.store.SetJobID(jobID)

	handle := newHandle(jobID)
	_, err := o.registry.RegisterHandlers(jobID, identifier, HandlerOptions{
		OnDone: func(err error) { o.finish(jobID, handle, err) },
	})
	if err != nil {
		o.store.Reset()
		return nil, err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.activeJobID = jobID
	o.activeCancel = cancel
	o.mu.Unlock()

	req := EngineRequest{JobID: jobID, Identifier: identifier, Kind: kind, Targets: targets, Options: opts}
	o.logger.Info().Str("job", jobID).Str("kind", string(kind)).Str("target", identifier).Msg("conversion started")

	go o.runEngine(jobCtx, eng, req, handle)
	return handle, nil
}

// runEngine executes the engine and resolves outcomes that never produce a
// terminal channel event: engine errors, cancellation, and polled backends.
func (o *Orchestrator) runEngine(ctx context.Context, eng Engine, req EngineRequest, handle *Handle) {
	if querier, ok := eng.(StatusQuerier); ok {
		errCh := make(chan error, 1)
		go func() { errCh <- eng.Convert(ctx, req) }()
		o.pollUntilTerminal(ctx, querier, req.JobID, handle, errCh)
		return
	}

	err := eng.Convert(ctx, req)
	if err == nil {
		// Terminal transition arrives via the complete channel.
		return
	}
	if errors.Is(err, context.Canceled) {
		// When the job was already displaced or cancelled, the store now
		// belongs to another job and must not be touched.
		if o.isActive(req.JobID) {
			o.store.Cancel()
			o.registry.RemoveHandlers(req.JobID)
		}
		o.finish(req.JobID, handle, err)
		return
	}
	o.logger.Error().Err(err).Str("job", req.JobID).Msg("engine failed")
	if o.isActive(req.JobID) {
		o.store.SetError(err.Error())
		o.registry.RemoveHandlers(req.JobID)
	}
	o.finish(req.JobID, handle, err)
}

// pollUntilTerminal repeatedly applies the engine's status query on a fixed
// interval until a terminal status is observed or ctx is cancelled. This is
// the suspension path for engines without push events.
func (o *Orchestrator) pollUntilTerminal(ctx context.Context, querier StatusQuerier, jobID string, handle *Handle, errCh <-chan error) {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if o.isActive(jobID) {
				o.store.Cancel()
				o.registry.RemoveHandlers(jobID)
			}
			o.finish(jobID, handle, context.Canceled)
			return
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				if o.isActive(jobID) {
					o.store.SetError(err.Error())
					o.registry.RemoveHandlers(jobID)
				}
				o.finish(jobID, handle, err)
				return
			}
			// Fall through to polling: the final status may lag the return.
		case <-ticker.C:
		}

		if !o.isActive(jobID) {
			// Displaced or cancelled between ticks; the store belongs to
			// another job now.
			o.finish(jobID, handle, context.Canceled)
			return
		}

		status := querier.Status()
		phase, ok := MapRawStatus(status.Raw)
		if !ok {
			continue
		}

		if !phase.Terminal() {
			update := Update{Status: &phase, Progress: status.Progress}
			o.store.BatchUpdate(update)
			continue
		}

		var doneErr error
		switch phase {
		case domain.PhaseError:
			message := status.Message
			if message == "" {
				message = "conversion failed"
			}
			o.store.SetError(message)
			doneErr = errors.New(message)
		case domain.PhaseCancelled:
			o.store.Cancel()
			doneErr = context.Canceled
		default:
			o.store.Complete()
		}
		o.registry.RemoveHandlers(jobID)
		o.finish(jobID, handle, doneErr)
		return
	}
}

// isActive reports whether jobID is still the orchestrator's live job.
func (o *Orchestrator) isActive(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeJobID == jobID
}

// Cancel cooperatively cancels the active job: local state flips to
// CANCELLED and the engine context is cancelled, but in-flight work is not
// hard-killed.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	jobID := o.activeJobID
	cancel := o.activeCancel
	o.activeJobID = ""
	o.activeCancel = nil
	o.mu.Unlock()

	if jobID == "" {
		return
	}
	if cancel != nil {
		cancel()
	}
	o.store.Cancel()
	o.registry.RemoveHandlers(jobID)
	o.logger.Info().Str("job", jobID).Msg("conversion cancelled")
}

// Reset clears the store back to IDLE and removes any live registration.
func (o *Orchestrator) Reset() {
	o.Cancel()
	o.store.Reset()
}

// Close disposes the orchestrator: the active job is cancelled and further
// starts are rejected.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.Cancel()
}

// finish releases the engine context and resolves the handle exactly once.
func (o *Orchestrator) finish(jobID string, handle *Handle, err error) {
	o.mu.Lock()
	if o.activeJobID == jobID {
		if o.activeCancel != nil {
			o.activeCancel()
		}
		o.activeJobID = ""
		o.activeCancel = nil
	}
	o.mu.Unlock()

	snapshot := o.store.Snapshot()
	if snapshot.ID != jobID || !snapshot.Status.Terminal() {
		// The store already belongs to a successor job, or the displacement
		// raced ahead of its takeover; report this job's own terminal outcome
		// instead of the store's state.
		snapshot = domain.Job{ID: jobID, Status: domain.PhaseCancelled}
		if err != nil && !errors.Is(err, context.Canceled) {
			snapshot.Status = domain.PhaseError
			snapshot.Error = err.Error()
		}
	}
	handle.resolve(snapshot, err)
}

// NewJobID returns a UUID, or a timestamp-plus-random id when no UUID source
// is available. Uniqueness within a session is sufficient.
func NewJobID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return fmt.Sprintf("job-%d-%06d", time.Now().UnixMilli(), rand.Intn(1000000))
}
