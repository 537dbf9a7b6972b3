package payment_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/stay-payments/internal/core/events"
	paymentPkg "github.com/frahmantamala/stay-payments/internal/payment"
	"github.com/frahmantamala/stay-payments/internal/realtime"
	"github.com/frahmantamala/stay-payments/pkg/logger"
)

func depositInput() paymentPkg.CreateIntentInput {
	return paymentPkg.CreateIntentInput{
		PayerID:         "guest-1",
		Purpose:         payment.PurposeDepositPayment,
		RelatedEntityID: "booking-1",
		Amount:          120000,
		Channel:         payment.ChannelMobileMoneyA,
	}
}

var _ = Describe("Ledger", func() {
	var (
		ctx    context.Context
		repo   *memoryRepository
		hub    *realtime.Hub
		bus    *events.EventBus
		ledger *paymentPkg.Ledger
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = newMemoryRepository()
		hub = realtime.NewHub(logger.Discard())
		bus = events.NewEventBus(logger.Discard())
		ledger = paymentPkg.NewLedger(repo, bus, hub, "XOF", logger.Discard())
	})

	AfterEach(func() {
		hub.Stop()
	})

	Describe("CreateIntent", func() {
		It("creates a pending first attempt with the default currency", func() {
			intent, err := ledger.CreateIntent(ctx, depositInput())

			Expect(err).ToNot(HaveOccurred())
			Expect(intent.ID).ToNot(BeEmpty())
			Expect(intent.Status).To(Equal(payment.StatusPending))
			Expect(intent.Currency).To(Equal("XOF"))
			Expect(intent.Attempt).To(Equal(1))
			Expect(intent.IdempotencyKey).To(Equal(intent.DedupKey + ":1"))
			Expect(intent.ProviderReference).To(BeNil())
		})

		It("returns the same row for a duplicate submission", func() {
			first, err := ledger.CreateIntent(ctx, depositInput())
			Expect(err).ToNot(HaveOccurred())

			second, err := ledger.CreateIntent(ctx, depositInput())
			Expect(err).ToNot(HaveOccurred())

			Expect(second.ID).To(Equal(first.ID))
			Expect(repo.count()).To(Equal(1))
		})

		It("keeps a single pending row under concurrent submissions", func() {
			var wg sync.WaitGroup
			ids := make(chan string, 10)
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					intent, err := ledger.CreateIntent(ctx, depositInput())
					Expect(err).ToNot(HaveOccurred())
					ids <- intent.ID
				}()
			}
			wg.Wait()
			close(ids)

			seen := map[string]struct{}{}
			for id := range ids {
				seen[id] = struct{}{}
			}
			Expect(seen).To(HaveLen(1))
			Expect(repo.count()).To(Equal(1))
		})

		It("returns a successful intent instead of charging twice", func() {
			first, _ := ledger.CreateIntent(ctx, depositInput())
			_, _, err := ledger.Resolve(ctx, first.ID, payment.StatusSuccess, nil, nil)
			Expect(err).ToNot(HaveOccurred())

			again, err := ledger.CreateIntent(ctx, depositInput())

			Expect(err).ToNot(HaveOccurred())
			Expect(again.ID).To(Equal(first.ID))
			Expect(again.Status).To(Equal(payment.StatusSuccess))
		})

		It("starts a new attempt after a failure and keeps the history", func() {
			first, _ := ledger.CreateIntent(ctx, depositInput())
			reason := "insufficient funds"
			_, _, err := ledger.Resolve(ctx, first.ID, payment.StatusFailed, nil, &reason)
			Expect(err).ToNot(HaveOccurred())

			retry, err := ledger.CreateIntent(ctx, depositInput())

			Expect(err).ToNot(HaveOccurred())
			Expect(retry.ID).ToNot(Equal(first.ID))
			Expect(retry.Attempt).To(Equal(2))
			Expect(retry.IdempotencyKey).To(Equal(first.DedupKey + ":2"))

			history, err := ledger.History(ctx, payment.PurposeDepositPayment, "booking-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(history).To(HaveLen(2))
			Expect(history[0].ID).To(Equal(retry.ID))
		})

		It("treats a different amount as a different payment", func() {
			first, _ := ledger.CreateIntent(ctx, depositInput())
			in := depositInput()
			in.Amount = 30000

			other, err := ledger.CreateIntent(ctx, in)

			Expect(err).ToNot(HaveOccurred())
			Expect(other.ID).ToNot(Equal(first.ID))
			Expect(other.DedupKey).ToNot(Equal(first.DedupKey))
		})

		DescribeTable("rejects invalid input",
			func(mutate func(*paymentPkg.CreateIntentInput), code internal.ErrorCode) {
				in := depositInput()
				mutate(&in)

				_, err := ledger.CreateIntent(ctx, in)

				appErr, ok := internal.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
				details, ok := appErr.Details.(internal.ValidationErrors)
				Expect(ok).To(BeTrue())
				Expect(details.Errors[0].Code).To(Equal(string(code)))
				Expect(repo.count()).To(BeZero())
			},
			Entry("zero amount", func(in *paymentPkg.CreateIntentInput) { in.Amount = 0 }, internal.ErrCodeInvalidAmount),
			Entry("negative amount", func(in *paymentPkg.CreateIntentInput) { in.Amount = -5 }, internal.ErrCodeInvalidAmount),
			Entry("unknown purpose", func(in *paymentPkg.CreateIntentInput) { in.Purpose = "tip" }, internal.ErrCodeInvalidPurpose),
			Entry("unknown channel", func(in *paymentPkg.CreateIntentInput) { in.Channel = "cash" }, internal.ErrCodeInvalidChannel),
		)

		It("propagates store failures", func() {
			repo.createErr = errStoreDown

			_, err := ledger.CreateIntent(ctx, depositInput())

			Expect(err).To(MatchError(errStoreDown))
		})
	})

	Describe("MarkInitiated", func() {
		It("stores provider fields on a pending intent", func() {
			intent, _ := ledger.CreateIntent(ctx, depositInput())
			instruction := "Dial *144# to approve"

			updated, err := ledger.MarkInitiated(ctx, intent.ID, paymentPkg.InitiatedFields{
				ProviderReference:  "prov-1",
				ConfirmInstruction: &instruction,
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(*updated.ProviderReference).To(Equal("prov-1"))
			Expect(*updated.ConfirmInstruction).To(Equal(instruction))
			Expect(updated.ProviderRedirectURL).To(BeNil())
		})

		It("refuses a terminal intent", func() {
			intent, _ := ledger.CreateIntent(ctx, depositInput())
			_, _, _ = ledger.Resolve(ctx, intent.ID, payment.StatusSuccess, nil, nil)

			_, err := ledger.MarkInitiated(ctx, intent.ID, paymentPkg.InitiatedFields{ProviderReference: "late"})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeIntentTerminal))
		})

		It("reports unknown intents as not found", func() {
			_, err := ledger.MarkInitiated(ctx, "missing", paymentPkg.InitiatedFields{ProviderReference: "x"})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeIntentNotFound))
		})
	})

	Describe("Resolve", func() {
		It("resolves once and ignores later resolutions", func() {
			intent, _ := ledger.CreateIntent(ctx, depositInput())
			payload := json.RawMessage(`{"status":"SUCCESS"}`)

			resolved, changed, err := ledger.Resolve(ctx, intent.ID, payment.StatusSuccess, payload, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(resolved.Status).To(Equal(payment.StatusSuccess))
			Expect(resolved.ResolvedAt).ToNot(BeNil())

			reason := "late failure"
			again, changed, err := ledger.Resolve(ctx, intent.ID, payment.StatusFailed, nil, &reason)
			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(again.Status).To(Equal(payment.StatusSuccess))
			Expect(again.FailureReason).To(BeNil())
		})

		It("rejects a pending resolution", func() {
			intent, _ := ledger.CreateIntent(ctx, depositInput())

			_, _, err := ledger.Resolve(ctx, intent.ID, payment.StatusPending, nil, nil)

			Expect(err).To(HaveOccurred())
		})

		It("pushes the new row to realtime subscribers", func() {
			intent, _ := ledger.CreateIntent(ctx, depositInput())
			sub, err := hub.Subscribe(ctx, realtime.TopicPaymentIntents, intent.ID)
			Expect(err).ToNot(HaveOccurred())
			defer sub.Close()

			_, _, err = ledger.Resolve(ctx, intent.ID, payment.StatusSuccess, nil, nil)
			Expect(err).ToNot(HaveOccurred())

			var event realtime.Event
			Eventually(sub.Events()).Should(Receive(&event))
			var row payment.Intent
			Expect(event.Decode(&row)).To(Succeed())
			Expect(row.ID).To(Equal(intent.ID))
			Expect(row.Status).To(Equal(payment.StatusSuccess))
		})

		It("publishes a resolved event on the bus exactly once", func() {
			var (
				mu       sync.Mutex
				received []*events.IntentResolvedEvent
			)
			bus.Subscribe(events.EventTypeIntentResolved, func(_ context.Context, e events.Event) error {
				mu.Lock()
				defer mu.Unlock()
				received = append(received, e.(*events.IntentResolvedEvent))
				return nil
			})
			intent, _ := ledger.CreateIntent(ctx, depositInput())

			_, _, _ = ledger.Resolve(ctx, intent.ID, payment.StatusSuccess, nil, nil)
			_, _, _ = ledger.Resolve(ctx, intent.ID, payment.StatusSuccess, nil, nil)
			bus.Wait()

			mu.Lock()
			defer mu.Unlock()
			Expect(received).To(HaveLen(1))
			Expect(received[0].IntentID).To(Equal(intent.ID))
			Expect(received[0].Status).To(Equal("success"))
		})
	})

	Describe("ListStalePending", func() {
		It("returns only pending intents older than the threshold", func() {
			stale, _ := ledger.CreateIntent(ctx, depositInput())
			repo.backdate(stale.ID, time.Hour)
			fresh := depositInput()
			fresh.RelatedEntityID = "booking-2"
			_, _ = ledger.CreateIntent(ctx, fresh)

			intents, err := ledger.ListStalePending(ctx, 10*time.Minute, 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(intents).To(HaveLen(1))
			Expect(intents[0].ID).To(Equal(stale.ID))
		})
	})
})
