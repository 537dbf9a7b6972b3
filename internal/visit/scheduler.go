package visit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/visit"
	"github.com/frahmantamala/stay-payments/internal/core/events"
	"github.com/frahmantamala/stay-payments/internal/realtime"
	"github.com/frahmantamala/stay-payments/pkg/metrics"
)

const (
	DefaultGracePeriod = 120 * time.Second
	DefaultRetryDelay  = 5 * time.Second

	maxRetryDelay = 2 * time.Minute
)

const (
	outcomeConfirmed = "confirmed"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
	outcomeReleased  = "released"
	outcomeRetried   = "retried"
)

var ErrSchedulerStopped = errors.New("visit scheduler stopped")

type SchedulerParams struct {
	Repository  Repository
	Source      realtime.Source
	Bus         *events.EventBus
	Clock       Clock
	GracePeriod time.Duration
	// RetryDelay is the first wait before a failed auto-confirmation is tried again. It doubles per
	// attempt up to two minutes.
	RetryDelay time.Duration
	Metrics    *metrics.SchedulerMetrics
	Logger      *slog.Logger
}

// Scheduler auto-confirms pending visits once their grace period has elapsed, unless they are
// cancelled first. Timers live only in memory; Start rebuilds them from the store.
type Scheduler struct {
	repo     Repository
	source   realtime.Source
	bus      *events.EventBus
	clock    Clock
	grace    time.Duration
	retry    time.Duration
	registry *Registry
	metrics  *metrics.SchedulerMetrics
	logger   *slog.Logger

	// mu guards the lifecycle. Handles are only armed and fires only begin while it is held and the
	// scheduler runs, so Stop can wait for inflight and know nothing follows.
	mu       sync.Mutex
	runCtx   context.Context
	stop     context.CancelFunc
	stopped  bool
	inflight sync.WaitGroup
}

func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Repository == nil {
		return nil, errors.New("visit repository required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = SystemClock()
	}
	grace := params.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	retry := params.RetryDelay
	if retry <= 0 {
		retry = DefaultRetryDelay
	}
	runCtx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		repo:     params.Repository,
		source:   params.Source,
		bus:      params.Bus,
		clock:    clock,
		grace:    grace,
		retry:    retry,
		registry: NewRegistry(),
		metrics:  params.Metrics,
		logger:   params.Logger,
		runCtx:   runCtx,
		stop:     stop,
	}, nil
}

// Registry exposes the live handles, mainly for health output and tests.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

func (s *Scheduler) GracePeriod() time.Duration {
	return s.grace
}

// Start schedules every pending visit found in the store. Calling it again after Stop reopens the
// scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.runCtx, s.stop = context.WithCancel(context.Background())
		s.stopped = false
	}
	s.mu.Unlock()

	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("load pending visits: %w", err)
	}

	var errs error
	for _, req := range pending {
		if err := s.Schedule(ctx, req); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("visit %s: %w", req.ID, err))
		}
	}
	s.logger.Info("visit scheduler started", "pending", len(pending), "armed", s.registry.Len())
	return errs
}

// Stop releases every timer and subscription and waits for confirmations already running. No callback
// mutates state after it returns.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.stop()
	s.mu.Unlock()

	err := s.registry.ReleaseAll()
	s.inflight.Wait()
	s.metrics.SetArmed(0)
	s.logger.Info("visit scheduler stopped")
	return err
}

func (s *Scheduler) running() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx, !s.stopped
}

// enter registers a timer callback with the lifecycle. The caller must call s.inflight.Done.
func (s *Scheduler) enter() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, false
	}
	s.inflight.Add(1)
	return s.runCtx, true
}

// arm registers h with a timer of delay. With replace unset an existing handle for the visit wins.
func (s *Scheduler) arm(h *handle, delay time.Duration, replace bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		if err := teardown(h); err != nil {
			s.logger.Warn("failed to close visit subscription", "visit_id", h.visitID, "error", err)
		}
		return false, ErrSchedulerStopped
	}
	start := func() Timer {
		return s.clock.AfterFunc(delay, func() { s.fire(h) })
	}
	if !replace {
		return s.registry.armIfAbsent(h, start), nil
	}
	if err := s.registry.arm(h, start); err != nil {
		s.logger.Warn("failed to release previous visit handle", "visit_id", h.visitID, "error", err)
	}
	return true, nil
}

// Schedule arms the confirmation timer of a pending visit. A visit whose grace period already elapsed
// is confirmed right away.
func (s *Scheduler) Schedule(ctx context.Context, req *visit.Request) error {
	if req == nil || req.Status != visit.StatusPending {
		return nil
	}
	runCtx, ok := s.running()
	if !ok {
		return ErrSchedulerStopped
	}

	remaining := s.grace - s.clock.Now().Sub(req.CreatedAt)
	if remaining <= 0 {
		if err := s.registry.Release(req.ID); err != nil {
			s.logger.Warn("failed to release visit handle", "visit_id", req.ID, "error", err)
		}
		if _, _, err := s.confirm(ctx, req.ID, true); err != nil {
			s.retryLater(req.ID, 1)
			return err
		}
		return nil
	}

	h := &handle{visitID: req.ID}
	if s.source != nil {
		sub, err := s.source.Subscribe(runCtx, realtime.TopicVisitRequests, req.ID)
		if err != nil {
			s.logger.Warn("visit realtime subscription failed, relying on timer recheck",
				"visit_id", req.ID,
				"error", err)
		} else {
			h.sub = sub
		}
	}

	if _, err := s.arm(h, remaining, true); err != nil {
		return err
	}
	if h.sub != nil {
		go s.watch(h)
	}
	s.metrics.SetArmed(s.registry.Len())

	s.logger.Debug("visit confirmation armed", "visit_id", req.ID, "remaining", remaining)
	return nil
}

// Cancel drops the pending confirmation of a visit. Unknown ids are ignored.
func (s *Scheduler) Cancel(visitID string) {
	had := s.registry.Has(visitID)
	if err := s.registry.Release(visitID); err != nil {
		s.logger.Warn("failed to release visit handle", "visit_id", visitID, "error", err)
	}
	if had {
		s.metrics.IncTransition(outcomeReleased)
		s.metrics.SetArmed(s.registry.Len())
		s.logger.Info("visit confirmation cancelled", "visit_id", visitID)
	}
}

// ConfirmNow confirms a pending visit ahead of its timer. The timer stays armed until the store has
// answered, so a failed attempt still confirms on schedule.
func (s *Scheduler) ConfirmNow(ctx context.Context, visitID string) (*visit.Request, bool, error) {
	updated, changed, err := s.confirm(ctx, visitID, false)
	if err != nil {
		return nil, false, err
	}
	s.Cancel(visitID)
	return updated, changed, nil
}

func (s *Scheduler) fire(h *handle) {
	runCtx, ok := s.enter()
	if !ok {
		return
	}
	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.IncTransition(outcomeFailed)
			s.logger.Error("visit confirmation panicked", "visit_id", h.visitID, "panic", r)
		}
	}()

	if !s.registry.claim(h) {
		return
	}
	if err := teardown(h); err != nil {
		s.logger.Warn("failed to close visit subscription", "visit_id", h.visitID, "error", err)
	}
	s.metrics.SetArmed(s.registry.Len())

	_, _, err := s.confirm(runCtx, h.visitID, true)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		s.logger.Warn("visit vanished before auto-confirmation", "visit_id", h.visitID)
	default:
		s.logger.Error("visit auto-confirmation failed", "visit_id", h.visitID, "attempt", h.attempt+1, "error", err)
		s.retryLater(h.visitID, h.attempt+1)
	}
}

// retryLater re-arms a visit whose confirmation failed. A handle armed in the meantime is kept.
func (s *Scheduler) retryLater(visitID string, attempt int) {
	delay := s.backoff(attempt)
	armed, err := s.arm(&handle{visitID: visitID, attempt: attempt}, delay, false)
	if err != nil || !armed {
		return
	}
	s.metrics.IncTransition(outcomeRetried)
	s.metrics.SetArmed(s.registry.Len())
	s.logger.Info("visit confirmation retry armed", "visit_id", visitID, "attempt", attempt, "delay", delay)
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	delay := s.retry
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

// watch releases the handle when another process moves the visit out of pending.
func (s *Scheduler) watch(h *handle) {
	for event := range h.sub.Events() {
		var row visit.Request
		if err := event.Decode(&row); err != nil {
			s.logger.Warn("ignoring undecodable visit event", "visit_id", h.visitID, "error", err)
			continue
		}
		if row.Status.Terminal() {
			s.logger.Info("visit settled elsewhere", "visit_id", h.visitID, "status", row.Status)
			s.Cancel(h.visitID)
			return
		}
	}
}

// confirm re-reads the visit and promotes it only if it is still pending.
func (s *Scheduler) confirm(ctx context.Context, visitID string, automatic bool) (*visit.Request, bool, error) {
	current, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		s.metrics.IncTransition(outcomeFailed)
		return nil, false, fmt.Errorf("load visit: %w", err)
	}
	if current.Status != visit.StatusPending {
		s.metrics.IncTransition(outcomeSkipped)
		s.logger.Info("visit no longer pending, confirmation skipped",
			"visit_id", visitID,
			"status", current.Status)
		return current, false, nil
	}

	changed, err := s.repo.ConfirmPending(ctx, visitID, s.clock.Now())
	if err != nil {
		s.metrics.IncTransition(outcomeFailed)
		return nil, false, fmt.Errorf("confirm visit: %w", err)
	}

	updated, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return nil, false, fmt.Errorf("reload visit: %w", err)
	}
	if !changed {
		s.metrics.IncTransition(outcomeSkipped)
		return updated, false, nil
	}

	s.metrics.IncTransition(outcomeConfirmed)
	s.logger.Info("visit confirmed", "visit_id", visitID, "automatic", automatic)
	s.announce(ctx, updated)
	if s.bus != nil {
		_ = s.bus.Publish(ctx, events.NewVisitConfirmedEvent(updated.ID, updated.ListingID, updated.GuestID, updated.HostID, automatic))
	}
	return updated, true, nil
}

func (s *Scheduler) announce(ctx context.Context, req *visit.Request) {
	if s.source == nil {
		return
	}
	event, err := realtime.NewRowUpdated(realtime.TopicVisitRequests, req.ID, req)
	if err == nil {
		err = s.source.Publish(ctx, event)
	}
	if err != nil {
		s.logger.Warn("failed to publish realtime visit update", "visit_id", req.ID, "error", err)
	}
}
