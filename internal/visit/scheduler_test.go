package visit_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/visit"
	"github.com/frahmantamala/stay-payments/internal/realtime"
	visitPkg "github.com/frahmantamala/stay-payments/internal/visit"
	"github.com/frahmantamala/stay-payments/pkg/logger"
	"github.com/frahmantamala/stay-payments/pkg/metrics"
)

var _ = Describe("Scheduler", func() {
	var (
		ctx       context.Context
		t0        time.Time
		clock     *manualClock
		repo      *memoryRepository
		hub       *realtime.Hub
		reg       *prometheus.Registry
		scheduler *visitPkg.Scheduler
	)

	pendingVisit := func(id string, createdAt time.Time) *visit.Request {
		req := &visit.Request{
			ID:            id,
			ListingID:     "listing-1",
			GuestID:       "guest-1",
			HostID:        "host-1",
			RequestedDate: time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC),
			RequestedTime: "14:30",
			Status:        visit.StatusPending,
			CreatedAt:     createdAt,
		}
		Expect(repo.Create(ctx, req)).To(Succeed())
		return req
	}

	BeforeEach(func() {
		ctx = context.Background()
		t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
		clock = newManualClock(t0)
		repo = newMemoryRepository()
		hub = realtime.NewHub(logger.Discard())
		reg = prometheus.NewRegistry()
		var err error
		scheduler, err = visitPkg.NewScheduler(visitPkg.SchedulerParams{
			Repository:  repo,
			Source:      hub,
			Clock:       clock,
			GracePeriod: 120 * time.Second,
			Metrics:     metrics.NewSchedulerMetrics(reg),
			Logger:      logger.Discard(),
		})
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(scheduler.Stop()).To(Succeed())
		hub.Stop()
	})

	It("confirms a visit once the grace period has passed", func() {
		req := pendingVisit("visit-1", t0)
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())

		clock.Advance(100 * time.Second)
		Expect(repo.status("visit-1")).To(Equal(visit.StatusPending))

		clock.Advance(50 * time.Second)
		Expect(repo.status("visit-1")).To(Equal(visit.StatusConfirmed))
		Expect(scheduler.Registry().Len()).To(BeZero())
		Expect(hub.Subscribers(realtime.TopicVisitRequests, "visit-1")).To(BeZero())
	})

	It("keeps a visit cancelled early cancelled", func() {
		req := pendingVisit("visit-1", t0)
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())

		clock.Advance(10 * time.Second)
		_, err := repo.Cancel(ctx, "visit-1", nil, clock.Now())
		Expect(err).ToNot(HaveOccurred())
		scheduler.Cancel("visit-1")

		clock.Advance(140 * time.Second)
		Expect(repo.status("visit-1")).To(Equal(visit.StatusCancelled))
		Expect(clock.Live()).To(BeZero())
	})

	It("does not confirm over a cancellation the timer never heard about", func() {
		req := pendingVisit("visit-1", t0)
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())
		_, err := repo.Cancel(ctx, "visit-1", nil, t0.Add(10*time.Second))
		Expect(err).ToNot(HaveOccurred())

		clock.Advance(150 * time.Second)

		Expect(repo.status("visit-1")).To(Equal(visit.StatusCancelled))
	})

	It("releases the timer when another process cancels the visit", func() {
		req := pendingVisit("visit-1", t0)
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())
		Expect(scheduler.Registry().Has("visit-1")).To(BeTrue())

		cancelled := *req
		cancelled.Status = visit.StatusCancelled
		event, err := realtime.NewRowUpdated(realtime.TopicVisitRequests, req.ID, cancelled)
		Expect(err).ToNot(HaveOccurred())
		Expect(hub.Publish(ctx, event)).To(Succeed())

		Eventually(func() bool { return scheduler.Registry().Has("visit-1") }).Should(BeFalse())
		Eventually(func() int { return hub.Subscribers(realtime.TopicVisitRequests, "visit-1") }).Should(BeZero())
		Eventually(clock.Live).Should(BeZero())
	})

	It("keeps a single handle per visit", func() {
		req := pendingVisit("visit-1", t0)
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())

		Expect(scheduler.Registry().Len()).To(Equal(1))
		Expect(clock.Live()).To(Equal(1))
		Expect(hub.Subscribers(realtime.TopicVisitRequests, "visit-1")).To(Equal(1))
		Expect(armedTimers(reg)).To(BeEquivalentTo(1))
	})

	It("ignores visits that are not pending", func() {
		req := pendingVisit("visit-1", t0)
		req.Status = visit.StatusConfirmed

		Expect(scheduler.Schedule(ctx, req)).To(Succeed())

		Expect(scheduler.Registry().Len()).To(BeZero())
	})

	It("fires nothing after Stop", func() {
		req := pendingVisit("visit-1", t0)
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())

		Expect(scheduler.Stop()).To(Succeed())
		Expect(scheduler.Stop()).To(Succeed())
		clock.Advance(time.Hour)

		Expect(repo.status("visit-1")).To(Equal(visit.StatusPending))
		Expect(scheduler.Registry().Len()).To(BeZero())
		Expect(scheduler.Schedule(ctx, req)).To(MatchError(visitPkg.ErrSchedulerStopped))
	})

	It("rebuilds timers from the store on Start", func() {
		clock.Advance(200 * time.Second)
		pendingVisit("late", t0)
		pendingVisit("fresh", t0.Add(100*time.Second))

		Expect(scheduler.Start(ctx)).To(Succeed())

		Expect(repo.status("late")).To(Equal(visit.StatusConfirmed))
		Expect(repo.status("fresh")).To(Equal(visit.StatusPending))
		Expect(scheduler.Registry().Has("fresh")).To(BeTrue())

		clock.Advance(20 * time.Second)
		Expect(repo.status("fresh")).To(Equal(visit.StatusConfirmed))
	})

	It("reopens after Stop when started again", func() {
		pendingVisit("visit-1", t0)
		Expect(scheduler.Stop()).To(Succeed())

		Expect(scheduler.Start(ctx)).To(Succeed())
		clock.Advance(120 * time.Second)

		Expect(repo.status("visit-1")).To(Equal(visit.StatusConfirmed))
	})

	It("recovers from a failing confirmation", func() {
		req := pendingVisit("visit-1", t0)
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())
		repo.setPanic(true)

		Expect(func() { clock.Advance(150 * time.Second) }).ToNot(Panic())

		repo.setPanic(false)
		Expect(repo.status("visit-1")).To(Equal(visit.StatusPending))
	})

	It("retries a failed auto-confirmation with a growing delay", func() {
		req := pendingVisit("visit-1", t0)
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())
		repo.failConfirms(2)

		clock.Advance(150 * time.Second)
		Expect(repo.status("visit-1")).To(Equal(visit.StatusPending))
		Expect(scheduler.Registry().Has("visit-1")).To(BeTrue())

		clock.Advance(5 * time.Second)
		Expect(repo.status("visit-1")).To(Equal(visit.StatusPending))

		clock.Advance(5 * time.Second)
		Expect(repo.status("visit-1")).To(Equal(visit.StatusPending))

		clock.Advance(5 * time.Second)
		Expect(repo.status("visit-1")).To(Equal(visit.StatusConfirmed))
		Expect(scheduler.Registry().Len()).To(BeZero())
		Expect(transitions(reg, "retried")).To(BeEquivalentTo(2))
	})

	It("stops retrying once the visit is gone", func() {
		req := pendingVisit("visit-1", t0)
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())
		repo.failConfirms(1)
		clock.Advance(150 * time.Second)
		Expect(scheduler.Registry().Has("visit-1")).To(BeTrue())

		repo.mu.Lock()
		delete(repo.rows, "visit-1")
		repo.mu.Unlock()
		clock.Advance(time.Minute)

		Expect(scheduler.Registry().Len()).To(BeZero())
		Expect(clock.Live()).To(BeZero())
	})

	It("keeps the timer armed when an early confirmation fails", func() {
		req := pendingVisit("visit-1", t0)
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())
		repo.failConfirms(1)

		_, _, err := scheduler.ConfirmNow(ctx, "visit-1")

		Expect(err).To(HaveOccurred())
		Expect(scheduler.Registry().Has("visit-1")).To(BeTrue())

		clock.Advance(150 * time.Second)
		Expect(repo.status("visit-1")).To(Equal(visit.StatusConfirmed))
	})

	It("lets a running confirmation finish before Stop returns", func() {
		req := pendingVisit("visit-1", t0)
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())
		entered, release := repo.holdConfirms()
		defer release()

		go clock.Advance(150 * time.Second)
		Eventually(entered).Should(Receive())

		stopped := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			Expect(scheduler.Stop()).To(Succeed())
			close(stopped)
		}()
		Consistently(stopped, 50*time.Millisecond).ShouldNot(BeClosed())

		release()
		Eventually(stopped).Should(BeClosed())
		Expect(repo.status("visit-1")).To(Equal(visit.StatusConfirmed))
		Expect(clock.Live()).To(BeZero())
	})

	It("confirms ahead of the timer on request", func() {
		req := pendingVisit("visit-1", t0)
		Expect(scheduler.Schedule(ctx, req)).To(Succeed())

		confirmed, changed, err := scheduler.ConfirmNow(ctx, "visit-1")

		Expect(err).ToNot(HaveOccurred())
		Expect(changed).To(BeTrue())
		Expect(confirmed.Status).To(Equal(visit.StatusConfirmed))
		Expect(clock.Live()).To(BeZero())
	})
})

func transitions(reg *prometheus.Registry, outcome string) float64 {
	families, err := reg.Gather()
	Expect(err).ToNot(HaveOccurred())
	for _, family := range families {
		if family.GetName() != "visit_scheduler_transitions_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func armedTimers(reg *prometheus.Registry) float64 {
	families, err := reg.Gather()
	Expect(err).ToNot(HaveOccurred())
	for _, family := range families {
		if family.GetName() == "visit_scheduler_timers_armed" {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return -1
}
