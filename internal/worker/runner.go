package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/frahmantamala/stay-payments/pkg/metrics"
)

const defaultInterval = time.Minute

// Job is a periodic task run by the Runner.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry tracks registered jobs in registration order.
type Registry struct {
	jobs []Job
}

func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	r.jobs = append(r.jobs, job)
}

func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

type RunnerParams struct {
	Logger   *slog.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.JobMetrics
	Interval time.Duration
}

// Runner executes registered jobs on a fixed cadence while holding Lock.
type Runner struct {
	logger   *slog.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.JobMetrics
	interval time.Duration
}

func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Runner{
		logger:   params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run loops until ctx is cancelled. The first cycle runs immediately.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error("scheduled run failed", "error", err)
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("worker runner stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("scheduled run failed", "error", err)
			}
		}
	}
}

// RunOnce runs every job once if the lock can be taken.
func (r *Runner) RunOnce(ctx context.Context) error {
	locked, err := r.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !locked {
		r.logger.Info("another worker holds the lock; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := r.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			r.logger.Error("failed to release worker lock", "error", relErr)
		}
	}()

	for _, job := range r.registry.Jobs() {
		r.runJob(ctx, job)
	}
	return nil
}

func (r *Runner) runJob(ctx context.Context, job Job) {
	log := r.logger.With("job", job.Name())
	log.Debug("job start")
	start := time.Now()
	err := job.Run(ctx)
	duration := time.Since(start)
	r.metrics.ObserveDuration(job.Name(), duration)
	if err != nil {
		log.Error("job failed", "error", err, "duration_ms", duration.Milliseconds())
		r.metrics.IncFailure(job.Name())
		return
	}
	log.Debug("job completed", "duration_ms", duration.Milliseconds())
	r.metrics.IncSuccess(job.Name())
}
