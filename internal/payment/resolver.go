package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/stay-payments/internal/realtime"
	"github.com/frahmantamala/stay-payments/pkg/metrics"
)

const (
	SourcePoll    = "poll"
	SourcePush    = "push"
	SourceTimeout = "timeout"

	DefaultMaxDuration  = 3 * time.Minute
	DefaultPollInterval = 3 * time.Second
)

var errSubscriptionClosed = errors.New("realtime subscription closed")

// StatusReader is the read side the poll observer uses.
type StatusReader interface {
	Get(ctx context.Context, intentID string) (*payment.Intent, error)
}

type ResolveOptions struct {
	MaxDuration  time.Duration
	PollInterval time.Duration
	// OnStatusChange runs at most once, after both observers have stopped.
	OnStatusChange func(intent *payment.Intent)
}

// Resolution is the outcome of one race. TimedOut results carry the last intent seen, still pending.
type Resolution struct {
	Intent   *payment.Intent
	TimedOut bool
	Source   string
}

// Resolver waits for an intent to become terminal by polling the store and listening for pushes at
// the same time. Whichever observer sees a terminal status first settles the race.
type Resolver struct {
	reader   StatusReader
	source   realtime.Source
	defaults ResolveOptions
	metrics  *metrics.ResolverMetrics
	logger   *slog.Logger
}

func NewResolver(reader StatusReader, source realtime.Source, defaults ResolveOptions, m *metrics.ResolverMetrics, logger *slog.Logger) *Resolver {
	if defaults.MaxDuration <= 0 {
		defaults.MaxDuration = DefaultMaxDuration
	}
	if defaults.PollInterval <= 0 {
		defaults.PollInterval = DefaultPollInterval
	}
	return &Resolver{
		reader:   reader,
		source:   source,
		defaults: defaults,
		metrics:  m,
		logger:   logger,
	}
}

type race struct {
	once    sync.Once
	cancel  context.CancelFunc
	mu      sync.Mutex
	winner  *Resolution
	last    *payment.Intent
	pollErr error
	pushErr error
}

func (r *race) settle(intent *payment.Intent, source string) {
	r.once.Do(func() {
		r.mu.Lock()
		r.winner = &Resolution{Intent: intent, Source: source}
		r.mu.Unlock()
		r.cancel()
	})
}

func (r *race) observe(intent *payment.Intent) {
	r.mu.Lock()
	r.last = intent
	r.mu.Unlock()
}

func (r *Resolver) Resolve(ctx context.Context, intentID string, opts ResolveOptions) (*Resolution, error) {
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = r.defaults.MaxDuration
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = r.defaults.PollInterval
	}
	if opts.OnStatusChange == nil {
		opts.OnStatusChange = r.defaults.OnStatusChange
	}

	started := time.Now()
	raceCtx, cancel := context.WithTimeout(ctx, opts.MaxDuration)
	defer cancel()
	state := &race{cancel: cancel}
	log := r.logger.With("intent_id", intentID)

	var g errgroup.Group
	g.Go(func() error {
		state.pollErr = r.poll(raceCtx, intentID, opts.PollInterval, state, log)
		return nil
	})
	if r.source != nil {
		g.Go(func() error {
			state.pushErr = r.listen(raceCtx, intentID, state, log)
			return nil
		})
	} else {
		state.pushErr = errors.New("no realtime source configured")
	}
	_ = g.Wait()

	if state.winner != nil {
		r.metrics.ObserveResolution(state.winner.Source, string(state.winner.Intent.Status), time.Since(started))
		log.Info("payment status resolved",
			"status", state.winner.Intent.Status,
			"source", state.winner.Source)
		if opts.OnStatusChange != nil {
			opts.OnStatusChange(state.winner.Intent)
		}
		return state.winner, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if state.pollErr != nil && state.pushErr != nil {
		return nil, fmt.Errorf("resolve payment status: %w", multierr.Combine(state.pollErr, state.pushErr))
	}

	last := state.last
	if last == nil {
		intent, err := r.reader.Get(ctx, intentID)
		if err != nil {
			return nil, fmt.Errorf("resolve payment status: %w", err)
		}
		last = intent
	}
	r.metrics.ObserveResolution(SourceTimeout, string(last.Status), time.Since(started))
	log.Info("payment status still pending after max duration", "max_duration", opts.MaxDuration)
	return &Resolution{Intent: last, TimedOut: true, Source: SourceTimeout}, nil
}

// poll returns an error only if no read ever succeeded.
func (r *Resolver) poll(ctx context.Context, intentID string, interval time.Duration, state *race, log *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	succeeded := false
	for {
		intent, err := r.reader.Get(ctx, intentID)
		switch {
		case err != nil && ctx.Err() == nil:
			lastErr = err
			log.Warn("payment status poll failed", "error", err)
		case err == nil:
			succeeded = true
			state.observe(intent)
			if intent.Status.Terminal() {
				state.settle(intent, SourcePoll)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if succeeded {
				return nil
			}
			return lastErr
		case <-ticker.C:
		}
	}
}

func (r *Resolver) listen(ctx context.Context, intentID string, state *race, log *slog.Logger) error {
	sub, err := r.source.Subscribe(ctx, realtime.TopicPaymentIntents, intentID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("payment status subscription failed", "error", err)
		return err
	}
	defer func() {
		if cerr := sub.Close(); cerr != nil {
			log.Warn("failed to close payment status subscription", "error", cerr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.Events():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				log.Warn("payment status subscription closed early")
				return errSubscriptionClosed
			}
			var intent payment.Intent
			if err := event.Decode(&intent); err != nil {
				log.Warn("ignoring undecodable intent update", "error", err)
				continue
			}
			state.observe(&intent)
			if intent.Status.Terminal() {
				state.settle(&intent, SourcePush)
				return nil
			}
		}
	}
}
