package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/stay-payments/internal/core/events"
	paymentPkg "github.com/frahmantamala/stay-payments/internal/payment"
	"github.com/frahmantamala/stay-payments/internal/paymentgateway"
	"github.com/frahmantamala/stay-payments/internal/realtime"
	"github.com/frahmantamala/stay-payments/internal/reservation"
	"github.com/frahmantamala/stay-payments/internal/transport"
	"github.com/frahmantamala/stay-payments/pkg/logger"
)

type fixedGuard struct {
	amount int64
}

func (g fixedGuard) ExpectedAmount(context.Context, payment.Purpose, string) (int64, bool, error) {
	return g.amount, true, nil
}

type recordingSettler struct {
	mu      sync.Mutex
	settled []string
}

func (s *recordingSettler) SettlePayment(_ context.Context, intent *payment.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, intent.ID)
	return nil
}

func (s *recordingSettler) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.settled...)
}

var _ = Describe("Service", func() {
	var (
		ctx      context.Context
		repo     *memoryRepository
		hub      *realtime.Hub
		ledger   *paymentPkg.Ledger
		provider *httptest.Server
		respond  http.HandlerFunc
		service  *paymentPkg.Service
		settler  *recordingSettler
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = newMemoryRepository()
		hub = realtime.NewHub(logger.Discard())
		ledger = paymentPkg.NewLedger(repo, nil, hub, "XOF", logger.Discard())
		provider = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			respond(w, r)
		}))
		gateway := paymentgateway.NewClient(paymentgateway.Config{BaseURL: provider.URL, Country: "SN"}, logger.Discard())
		resolver := paymentPkg.NewResolver(ledger, hub, paymentPkg.ResolveOptions{PollInterval: 20 * time.Millisecond}, nil, logger.Discard())
		service = paymentPkg.NewService(ledger, gateway, resolver, paymentPkg.NewProvisionalCache(time.Minute), logger.Discard())
		settler = &recordingSettler{}
		service.RegisterEntity(payment.PurposeDepositPayment, fixedGuard{amount: 120000}, settler)
	})

	AfterEach(func() {
		provider.Close()
		hub.Stop()
	})

	jsonResponse := func(status int, body any) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(body)
		}
	}

	Describe("CreateIntent", func() {
		It("rejects an amount that does not match the entity", func() {
			in := depositInput()
			in.Amount = 150000

			_, err := service.CreateIntent(ctx, in)

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			details := appErr.Details.(internal.ValidationErrors)
			Expect(details.Errors[0].Code).To(Equal(string(internal.ErrCodeAmountMismatch)))
			Expect(repo.count()).To(BeZero())
		})

		It("accepts purposes without a registered guard", func() {
			in := depositInput()
			in.Purpose = payment.PurposeVisitFee
			in.Amount = 2500

			intent, err := service.CreateIntent(ctx, in)

			Expect(err).ToNot(HaveOccurred())
			Expect(intent.Amount).To(BeEquivalentTo(2500))
		})
	})

	Describe("Initiate", func() {
		var intent *payment.Intent

		BeforeEach(func() {
			var err error
			intent, err = service.CreateIntent(ctx, depositInput())
			Expect(err).ToNot(HaveOccurred())
		})

		It("stores the provider reference and instruction", func() {
			respond = jsonResponse(http.StatusOK, map[string]string{"provider_reference": "prov-1", "channel": "mobile_money_a"})

			updated, err := service.Initiate(ctx, paymentPkg.InitiateInput{IntentID: intent.ID, PayerID: "guest-1", ContactPhone: "+221770000000"})

			Expect(err).ToNot(HaveOccurred())
			Expect(*updated.ProviderReference).To(Equal("prov-1"))
			Expect(*updated.ConfirmInstruction).To(Equal(paymentgateway.DefaultConfirmInstruction))
			Expect(updated.ProviderRedirectURL).To(BeNil())
		})

		It("surfaces a rejection with the provider's message", func() {
			respond = jsonResponse(http.StatusBadRequest, map[string]any{
				"errors": map[string][]string{"phone": {"Numéro invalide"}},
			})

			_, err := service.Initiate(ctx, paymentPkg.InitiateInput{IntentID: intent.ID, PayerID: "guest-1", ContactPhone: "+221770000000"})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeProviderRejected))
			Expect(appErr.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(appErr.Message).To(Equal("Numéro invalide"))

			stored, _ := ledger.Get(ctx, intent.ID)
			Expect(stored.Status).To(Equal(payment.StatusPending))
		})

		It("reports transient provider failures as retryable and allows a retry", func() {
			respond = jsonResponse(http.StatusBadGateway, map[string]string{"message": "upstream"})

			_, err := service.Initiate(ctx, paymentPkg.InitiateInput{IntentID: intent.ID, PayerID: "guest-1", ContactPhone: "+221770000000"})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeProviderUnavailable))
			Expect(appErr.StatusCode).To(Equal(http.StatusBadGateway))

			respond = jsonResponse(http.StatusOK, map[string]string{"provider_reference": "prov-2"})
			updated, err := service.Initiate(ctx, paymentPkg.InitiateInput{IntentID: intent.ID, PayerID: "guest-1", ContactPhone: "+221770000000"})
			Expect(err).ToNot(HaveOccurred())
			Expect(updated.ID).To(Equal(intent.ID))
			Expect(repo.count()).To(Equal(1))
		})

		It("refuses another payer's intent", func() {
			_, err := service.Initiate(ctx, paymentPkg.InitiateInput{IntentID: intent.ID, PayerID: "guest-2", ContactPhone: "+221770000000"})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeIntentForbidden))
		})

		It("refuses a resolved intent", func() {
			_, _, _ = ledger.Resolve(ctx, intent.ID, payment.StatusFailed, nil, nil)

			_, err := service.Initiate(ctx, paymentPkg.InitiateInput{IntentID: intent.ID, PayerID: "guest-1", ContactPhone: "+221770000000"})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeIntentTerminal))
		})

		It("validates the phone number", func() {
			_, err := service.Initiate(ctx, paymentPkg.InitiateInput{IntentID: intent.ID, PayerID: "guest-1", ContactPhone: "call me"})

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(internal.ErrorTypeValidation))
		})
	})

	Describe("HandleCallback", func() {
		var intent *payment.Intent

		BeforeEach(func() {
			intent, _ = service.CreateIntent(ctx, depositInput())
		})

		It("acknowledges pending notifications without changes", func() {
			_, changed, err := service.HandleCallback(ctx, paymentPkg.CallbackInput{IntentID: intent.ID, Status: "PENDING"})

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeFalse())
		})

		It("refuses a mismatched amount", func() {
			_, _, err := service.HandleCallback(ctx, paymentPkg.CallbackInput{IntentID: intent.ID, Status: "SUCCESS", Amount: 1})

			Expect(err).To(HaveOccurred())
			stored, _ := ledger.Get(ctx, intent.ID)
			Expect(stored.Status).To(Equal(payment.StatusPending))
		})

		It("defaults the failure reason", func() {
			resolved, changed, err := service.HandleCallback(ctx, paymentPkg.CallbackInput{IntentID: intent.ID, Status: "FAILED"})

			Expect(err).ToNot(HaveOccurred())
			Expect(changed).To(BeTrue())
			Expect(*resolved.FailureReason).To(Equal("payment declined by provider"))
		})
	})

	Describe("GetIntent", func() {
		It("shows a terminal status seen by the resolver before the store agrees", func() {
			intent, _ := service.CreateIntent(ctx, depositInput())

			done := make(chan *paymentPkg.Resolution, 1)
			go func() {
				defer GinkgoRecover()
				res, err := service.AwaitPayment(ctx, intent.ID, "guest-1", paymentPkg.ResolveOptions{MaxDuration: 5 * time.Second})
				Expect(err).ToNot(HaveOccurred())
				done <- res
			}()
			Eventually(func() int { return hub.Subscribers(realtime.TopicPaymentIntents, intent.ID) }).Should(Equal(1))

			snapshot := *intent
			snapshot.Status = payment.StatusSuccess
			event, _ := realtime.NewRowUpdated(realtime.TopicPaymentIntents, intent.ID, snapshot)
			Expect(hub.Publish(ctx, event)).To(Succeed())
			Eventually(done).Should(Receive())

			shown, provisional, err := service.GetIntent(ctx, intent.ID, "guest-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(provisional).To(BeTrue())
			Expect(shown.Status).To(Equal(payment.StatusSuccess))

			_, _, _ = ledger.Resolve(ctx, intent.ID, payment.StatusSuccess, nil, nil)
			shown, provisional, err = service.GetIntent(ctx, intent.ID, "guest-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(provisional).To(BeFalse())
			Expect(shown.ResolvedAt).ToNot(BeNil())
		})
	})
})

var _ = Describe("End-to-end deposit payment", func() {
	It("initiates mobile money and observes success after the provider callback", func() {
		ctx := context.Background()
		repo := newMemoryRepository()
		hub := realtime.NewHub(logger.Discard())
		defer hub.Stop()
		bus := events.NewEventBus(logger.Discard())

		// no realtime publication from the ledger, so only polling can observe the update
		ledger := paymentPkg.NewLedger(repo, bus, nil, "XOF", logger.Discard())
		resolver := paymentPkg.NewResolver(ledger, hub, paymentPkg.ResolveOptions{PollInterval: 25 * time.Millisecond}, nil, logger.Discard())

		var service *paymentPkg.Service
		webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := paymentPkg.NewWebhookHandler(transport.NewBaseHandler(logger.Discard()), service, "shh", logger.Discard())
			h.HandlePaymentCallback(w, r)
		}))
		defer webhook.Close()

		sandbox := paymentgateway.NewSandbox(paymentgateway.SandboxConfig{
			WebhookURL:    webhook.URL,
			WebhookSecret: "shh",
			SettleDelay:   100 * time.Millisecond,
			SuccessRate:   1,
		}, logger.Discard())
		sandbox.Start()
		defer sandbox.Shutdown()
		provider := httptest.NewServer(sandbox)
		defer provider.Close()

		gateway := paymentgateway.NewClient(paymentgateway.Config{BaseURL: provider.URL, Country: "SN"}, logger.Discard())
		service = paymentPkg.NewService(ledger, gateway, resolver, nil, logger.Discard())
		settler := &recordingSettler{}
		service.RegisterEntity(payment.PurposeDepositPayment, nil, settler)
		paymentPkg.NewEventHandler(service, logger.Discard()).RegisterEventHandlers(bus)

		breakdown, err := reservation.Compute(10, 15000, 150000)
		Expect(err).ToNot(HaveOccurred())
		Expect(breakdown.DepositAmount).To(BeEquivalentTo(120000))

		intent, err := service.CreateIntent(ctx, paymentPkg.CreateIntentInput{
			PayerID:         "guest-1",
			Purpose:         payment.PurposeDepositPayment,
			RelatedEntityID: "booking-10n",
			Amount:          breakdown.DepositAmount,
			Channel:         payment.ChannelMobileMoneyA,
		})
		Expect(err).ToNot(HaveOccurred())

		initiated, err := service.Initiate(ctx, paymentPkg.InitiateInput{IntentID: intent.ID, PayerID: "guest-1", ContactPhone: "+221770000000"})
		Expect(err).ToNot(HaveOccurred())
		Expect(initiated.ConfirmInstruction).ToNot(BeNil())
		Expect(initiated.ProviderRedirectURL).To(BeNil())

		res, err := service.AwaitPayment(ctx, intent.ID, "guest-1", paymentPkg.ResolveOptions{MaxDuration: 5 * time.Second})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.TimedOut).To(BeFalse())
		Expect(res.Source).To(Equal(paymentPkg.SourcePoll))

		final, err := ledger.Get(ctx, intent.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(final.Status).To(Equal(payment.StatusSuccess))
		Expect(final.ResolvedAt).ToNot(BeNil())
		Expect(final.ProviderPayload).ToNot(BeEmpty())

		bus.Wait()
		Expect(settler.IDs()).To(ContainElement(intent.ID))
	})
})
