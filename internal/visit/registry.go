package visit

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/frahmantamala/stay-payments/internal/realtime"
)

// handle owns the timer and realtime subscription armed for one visit.
type handle struct {
	visitID string
	timer   Timer
	sub     realtime.Subscription
	stopped bool
	// attempt counts failed confirmations before this handle was armed.
	attempt int
}

// Registry holds at most one live handle per visit id. Handles leave the registry exactly once, either
// claimed by their own timer or released.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*handle)}
}

// arm stores h under its visit id and starts its timer while the registry lock is held, so the timer
// callback cannot claim h before it is registered. Any previous handle for the id is released.
func (r *Registry) arm(h *handle, start func() Timer) error {
	r.mu.Lock()
	prev := r.handles[h.visitID]
	if prev != nil {
		prev.stopped = true
		delete(r.handles, h.visitID)
	}
	r.handles[h.visitID] = h
	h.timer = start()
	r.mu.Unlock()

	return teardown(prev)
}

// armIfAbsent is arm without replacement. It reports whether h was stored.
func (r *Registry) armIfAbsent(h *handle, start func() Timer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[h.visitID]; ok {
		return false
	}
	r.handles[h.visitID] = h
	h.timer = start()
	return true
}

// claim removes h if it is still the live handle for its id. It returns false once h was released.
func (r *Registry) claim(h *handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.stopped || r.handles[h.visitID] != h {
		return false
	}
	h.stopped = true
	delete(r.handles, h.visitID)
	return true
}

// Release stops and forgets the handle of one visit. Releasing an unknown id is a no-op.
func (r *Registry) Release(visitID string) error {
	r.mu.Lock()
	h := r.handles[visitID]
	if h != nil {
		h.stopped = true
		delete(r.handles, visitID)
	}
	r.mu.Unlock()

	return teardown(h)
}

// ReleaseAll stops every handle.
func (r *Registry) ReleaseAll() error {
	r.mu.Lock()
	released := make([]*handle, 0, len(r.handles))
	for id, h := range r.handles {
		h.stopped = true
		released = append(released, h)
		delete(r.handles, id)
	}
	r.mu.Unlock()

	var errs error
	for _, h := range released {
		errs = multierr.Append(errs, teardown(h))
	}
	return errs
}

func (r *Registry) Has(visitID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[visitID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func teardown(h *handle) error {
	if h == nil {
		return nil
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	if h.sub != nil {
		return h.sub.Close()
	}
	return nil
}
