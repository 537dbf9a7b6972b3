package visit_test

import (
	"context"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/visit"
	"github.com/frahmantamala/stay-payments/internal/core/events"
	visitPkg "github.com/frahmantamala/stay-payments/internal/visit"
	"github.com/frahmantamala/stay-payments/pkg/logger"
)

func errorCode(err error) apperrors.ErrorCode {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		return ""
	}
	return appErr.Code
}

var _ = Describe("Service", func() {
	var (
		ctx       context.Context
		clock     *manualClock
		repo      *memoryRepository
		bus       *events.EventBus
		scheduler *visitPkg.Scheduler
		service   *visitPkg.Service

		mu       sync.Mutex
		received []string
	)

	input := func() visitPkg.RequestVisitInput {
		return visitPkg.RequestVisitInput{
			ListingID:     "listing-1",
			GuestID:       "guest-1",
			HostID:        "host-1",
			RequestedDate: "2026-11-02",
			RequestedTime: "14:30",
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		clock = newManualClock(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
		repo = newMemoryRepository()
		bus = events.NewEventBus(logger.Discard())
		mu.Lock()
		received = nil
		mu.Unlock()
		record := func(_ context.Context, event events.Event) error {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, event.EventType())
			return nil
		}
		bus.Subscribe(events.EventTypeVisitConfirmed, record)
		bus.Subscribe(events.EventTypeVisitCancelled, record)

		var err error
		scheduler, err = visitPkg.NewScheduler(visitPkg.SchedulerParams{
			Repository:  repo,
			Bus:         bus,
			Clock:       clock,
			GracePeriod: 120 * time.Second,
			Logger:      logger.Discard(),
		})
		Expect(err).ToNot(HaveOccurred())
		service = visitPkg.NewService(repo, scheduler, nil, bus, clock, logger.Discard())
	})

	AfterEach(func() {
		Expect(scheduler.Stop()).To(Succeed())
		bus.Wait()
	})

	published := func() []string {
		bus.Wait()
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), received...)
	}

	Describe("RequestVisit", func() {
		It("stores a pending visit that confirms itself after the grace period", func() {
			req, err := service.RequestVisit(ctx, input())
			Expect(err).ToNot(HaveOccurred())
			Expect(req.Status).To(Equal(visit.StatusPending))
			Expect(scheduler.Registry().Has(req.ID)).To(BeTrue())

			clock.Advance(150 * time.Second)

			got, err := service.Get(ctx, req.ID, "guest-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(got.Status).To(Equal(visit.StatusConfirmed))
			Expect(published()).To(ConsistOf(events.EventTypeVisitConfirmed))
		})

		DescribeTable("rejects invalid input",
			func(mutate func(*visitPkg.RequestVisitInput)) {
				in := input()
				mutate(&in)

				_, err := service.RequestVisit(ctx, in)

				appErr, ok := apperrors.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Type).To(Equal(apperrors.ErrorTypeValidation))
			},
			Entry("missing listing", func(in *visitPkg.RequestVisitInput) { in.ListingID = "" }),
			Entry("bad date", func(in *visitPkg.RequestVisitInput) { in.RequestedDate = "02/11/2026" }),
			Entry("bad time", func(in *visitPkg.RequestVisitInput) { in.RequestedTime = "2pm" }),
			Entry("host visiting own listing", func(in *visitPkg.RequestVisitInput) { in.HostID = in.GuestID }),
		)
	})

	Describe("ConfirmNow", func() {
		It("lets the host confirm early", func() {
			req, _ := service.RequestVisit(ctx, input())

			confirmed, err := service.ConfirmNow(ctx, req.ID, "host-1")

			Expect(err).ToNot(HaveOccurred())
			Expect(confirmed.Status).To(Equal(visit.StatusConfirmed))
			Expect(scheduler.Registry().Has(req.ID)).To(BeFalse())
		})

		It("refuses the guest", func() {
			req, _ := service.RequestVisit(ctx, input())

			_, err := service.ConfirmNow(ctx, req.ID, "guest-1")

			Expect(errorCode(err)).To(Equal(apperrors.ErrCodeVisitForbidden))
		})

		It("reports a cancelled visit", func() {
			req, _ := service.RequestVisit(ctx, input())
			_, err := service.CancelVisit(ctx, visitPkg.CancelVisitInput{VisitID: req.ID, ActorID: "guest-1"})
			Expect(err).ToNot(HaveOccurred())

			_, err = service.ConfirmNow(ctx, req.ID, "host-1")

			Expect(errorCode(err)).To(Equal(apperrors.ErrCodeVisitCancelled))
		})
	})

	Describe("CancelVisit", func() {
		It("wins over the pending timer", func() {
			req, _ := service.RequestVisit(ctx, input())
			clock.Advance(10 * time.Second)

			cancelled, err := service.CancelVisit(ctx, visitPkg.CancelVisitInput{VisitID: req.ID, ActorID: "guest-1", Reason: " plans changed "})
			Expect(err).ToNot(HaveOccurred())
			Expect(*cancelled.CancelReason).To(Equal("plans changed"))

			clock.Advance(140 * time.Second)
			Expect(repo.status(req.ID)).To(Equal(visit.StatusCancelled))
			Expect(published()).To(ConsistOf(events.EventTypeVisitCancelled))
		})

		It("rejects an overlong reason and leaves the visit pending", func() {
			req, _ := service.RequestVisit(ctx, input())

			_, err := service.CancelVisit(ctx, visitPkg.CancelVisitInput{
				VisitID: req.ID,
				ActorID: "guest-1",
				Reason:  strings.Repeat("x", visitPkg.MaxCancelReasonLength+1),
			})

			Expect(errorCode(err)).To(Equal(apperrors.ErrCodeValidationFailed))
			Expect(repo.status(req.ID)).To(Equal(visit.StatusPending))
		})

		It("cancels a confirmed visit", func() {
			req, _ := service.RequestVisit(ctx, input())
			clock.Advance(150 * time.Second)

			cancelled, err := service.CancelVisit(ctx, visitPkg.CancelVisitInput{VisitID: req.ID, ActorID: "host-1"})

			Expect(err).ToNot(HaveOccurred())
			Expect(cancelled.Status).To(Equal(visit.StatusCancelled))
		})

		It("is idempotent", func() {
			req, _ := service.RequestVisit(ctx, input())
			_, err := service.CancelVisit(ctx, visitPkg.CancelVisitInput{VisitID: req.ID, ActorID: "guest-1"})
			Expect(err).ToNot(HaveOccurred())

			again, err := service.CancelVisit(ctx, visitPkg.CancelVisitInput{VisitID: req.ID, ActorID: "guest-1"})

			Expect(err).ToNot(HaveOccurred())
			Expect(again.Status).To(Equal(visit.StatusCancelled))
			Expect(published()).To(HaveLen(1))
		})

		It("refuses strangers", func() {
			req, _ := service.RequestVisit(ctx, input())

			_, err := service.CancelVisit(ctx, visitPkg.CancelVisitInput{VisitID: req.ID, ActorID: "someone"})

			Expect(errorCode(err)).To(Equal(apperrors.ErrCodeVisitForbidden))
		})
	})

	It("reports unknown visits as not found", func() {
		_, err := service.Get(ctx, "missing", "guest-1")

		Expect(errorCode(err)).To(Equal(apperrors.ErrCodeVisitNotFound))
	})

	Describe("FeeSettler", func() {
		It("expects the configured fee and stamps it once", func() {
			settler := visitPkg.NewFeeSettler(repo, 5000, clock, logger.Discard())
			req, _ := service.RequestVisit(ctx, input())

			amount, ok, err := settler.ExpectedAmount(ctx, payment.PurposeVisitFee, req.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(amount).To(BeEquivalentTo(5000))

			intent := &payment.Intent{ID: "intent-1", Purpose: payment.PurposeVisitFee, RelatedEntityID: req.ID}
			Expect(settler.SettlePayment(ctx, intent)).To(Succeed())
			first, _ := repo.GetByID(ctx, req.ID)
			clock.Advance(time.Minute)
			Expect(settler.SettlePayment(ctx, intent)).To(Succeed())
			second, _ := repo.GetByID(ctx, req.ID)

			Expect(first.FeePaidAt).ToNot(BeNil())
			Expect(second.FeePaidAt).To(Equal(first.FeePaidAt))
		})

		It("refuses fees for cancelled visits", func() {
			settler := visitPkg.NewFeeSettler(repo, 5000, clock, logger.Discard())
			req, _ := service.RequestVisit(ctx, input())
			_, err := service.CancelVisit(ctx, visitPkg.CancelVisitInput{VisitID: req.ID, ActorID: "guest-1"})
			Expect(err).ToNot(HaveOccurred())

			_, _, err = settler.ExpectedAmount(ctx, payment.PurposeVisitFee, req.ID)

			Expect(errorCode(err)).To(Equal(apperrors.ErrCodeVisitCancelled))
		})
	})
})
