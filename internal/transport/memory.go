package transport

import "sync"

// MemoryBus is the in-process delivery used when engines run inside the app
// process. It implements both Emitter and Subscriber. Dispatch is serialized
// so callbacks observe events in emit order; Unsubscribe is safe to call
// from inside a callback.
type MemoryBus struct {
	dispatchMu sync.Mutex
	subMu      sync.RWMutex
	nextID     int
	progress   map[int]func(ProgressEvent)
	status     map[int]func(StatusEvent)
	complete   map[int]func(CompleteEvent)
	errs       map[int]func(ErrorEvent)
}

// NewMemoryBus creates an empty in-process event bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		progress: make(map[int]func(ProgressEvent)),
		status:   make(map[int]func(StatusEvent)),
		complete: make(map[int]func(CompleteEvent)),
		errs:     make(map[int]func(ErrorEvent)),
	}
}

// memorySubscription removes one callback from its channel map.
type memorySubscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe detaches the callback; repeated calls are no-ops.
func (s *memorySubscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// OnConversionProgress subscribes to the progress channel.
func (b *MemoryBus) OnConversionProgress(cb func(ProgressEvent)) (Subscription, error) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.nextID++
	id := b.nextID
	b.progress[id] = cb
	return &memorySubscription{cancel: func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.progress, id)
	}}, nil
}

// OnConversionStatus subscribes to the status channel.
func (b *MemoryBus) OnConversionStatus(cb func(StatusEvent)) (Subscription, error) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.nextID++
	id := b.nextID
	b.status[id] = cb
	return &memorySubscription{cancel: func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.status, id)
	}}, nil
}

// OnConversionComplete subscribes to the complete channel.
func (b *MemoryBus) OnConversionComplete(cb func(CompleteEvent)) (Subscription, error) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.nextID++
	id := b.nextID
	b.complete[id] = cb
	return &memorySubscription{cancel: func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.complete, id)
	}}, nil
}

// OnConversionError subscribes to the error channel.
func (b *MemoryBus) OnConversionError(cb func(ErrorEvent)) (Subscription, error) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.nextID++
	id := b.nextID
	b.errs[id] = cb
	return &memorySubscription{cancel: func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.errs, id)
	}}, nil
}

// EmitProgress delivers a progress event to all current subscribers.
func (b *MemoryBus) EmitProgress(event ProgressEvent) {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	for _, cb := range b.progressSnapshot() {
		cb(event)
	}
}

// EmitStatus delivers a status event to all current subscribers.
func (b *MemoryBus) EmitStatus(event StatusEvent) {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	for _, cb := range b.statusSnapshot() {
		cb(event)
	}
}

// EmitComplete delivers a complete event to all current subscribers.
func (b *MemoryBus) EmitComplete(event CompleteEvent) {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	for _, cb := range b.completeSnapshot() {
		cb(event)
	}
}

// EmitError delivers an error event to all current subscribers.
func (b *MemoryBus) EmitError(event ErrorEvent) {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	for _, cb := range b.errsSnapshot() {
		cb(event)
	}
}

// SubscriptionCount reports live subscriptions across all four channels,
// used by registry symmetry tests.
func (b *MemoryBus) SubscriptionCount() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.progress) + len(b.status) + len(b.complete) + len(b.errs)
}

func (b *MemoryBus) progressSnapshot() []func(ProgressEvent) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	out := make([]func(ProgressEvent), 0, len(b.progress))
	for _, cb := range b.progress {
		out = append(out, cb)
	}
	return out
}

func (b *MemoryBus) statusSnapshot() []func(StatusEvent) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	out := make([]func(StatusEvent), 0, len(b.status))
	for _, cb := range b.status {
		out = append(out, cb)
	}
	return out
}

func (b *MemoryBus) completeSnapshot() []func(CompleteEvent) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	out := make([]func(CompleteEvent), 0, len(b.complete))
	for _, cb := range b.complete {
		out = append(out, cb)
	}
	return out
}

func (b *MemoryBus) errsSnapshot() []func(ErrorEvent) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	out := make([]func(ErrorEvent), 0, len(b.errs))
	for _, cb := range b.errs {
		out = append(out, cb)
	}
	return out
}
