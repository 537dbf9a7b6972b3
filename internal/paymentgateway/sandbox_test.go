package paymentgateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/stay-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/stay-payments/internal/paymentgateway"
	"github.com/frahmantamala/stay-payments/pkg/logger"
)

var _ = Describe("Sandbox", func() {
	var (
		sandbox   *paymentgateway.Sandbox
		provider  *httptest.Server
		webhook   *httptest.Server
		client    *paymentgateway.Client
		mu        sync.Mutex
		callbacks []map[string]any
		secrets   []string
	)

	BeforeEach(func() {
		mu.Lock()
		callbacks = nil
		secrets = nil
		mu.Unlock()
		webhook = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			callbacks = append(callbacks, body)
			secrets = append(secrets, r.Header.Get("X-Webhook-Secret"))
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
		sandbox = paymentgateway.NewSandbox(paymentgateway.SandboxConfig{
			WebhookURL:    webhook.URL,
			WebhookSecret: "shh",
			MaxWorkers:    2,
			SettleDelay:   10 * time.Millisecond,
			SuccessRate:   1,
		}, logger.Discard())
		sandbox.Start()
		provider = httptest.NewServer(sandbox)
		client = paymentgateway.NewClient(paymentgateway.Config{BaseURL: provider.URL, Country: "SN"}, logger.Discard())
	})

	AfterEach(func() {
		sandbox.Shutdown()
		sandbox.Shutdown()
		provider.Close()
		webhook.Close()
	})

	It("settles an initiated payment and calls the webhook back", func() {
		result, err := client.Initiate(context.Background(), paymentgateway.InitiateRequest{
			Intent:       testIntent(payment.ChannelMobileMoneyA),
			ContactPhone: "+221770000000",
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(*result.ConfirmInstruction).To(ContainSubstring("#144#"))

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(callbacks)
		}).Should(Equal(1))

		mu.Lock()
		Expect(callbacks[0]["intent_id"]).To(Equal("intent-1"))
		Expect(callbacks[0]["status"]).To(Equal("SUCCESS"))
		Expect(secrets[0]).To(Equal("shh"))
		mu.Unlock()

		status, err := client.GetStatus(context.Background(), result.ProviderReference)
		Expect(err).ToNot(HaveOccurred())
		Expect(status.Status).To(Equal(paymentgatewaytypes.PaymentStatusSuccess))
	})

	It("returns the same reference for a repeated initiation", func() {
		req := paymentgateway.InitiateRequest{Intent: testIntent(payment.ChannelCard), ContactPhone: "+221770000000"}

		first, err := client.Initiate(context.Background(), req)
		Expect(err).ToNot(HaveOccurred())
		second, err := client.Initiate(context.Background(), req)
		Expect(err).ToNot(HaveOccurred())

		Expect(second.ProviderReference).To(Equal(first.ProviderReference))
		Expect(*first.RedirectURL).To(ContainSubstring(first.ProviderReference))
	})

	It("rejects unregistered phone numbers with a field message", func() {
		_, err := client.Initiate(context.Background(), paymentgateway.InitiateRequest{
			Intent:       testIntent(payment.ChannelMobileMoneyA),
			ContactPhone: paymentgateway.SandboxRejectedPrefix + "1234567",
		})

		var perr *paymentgateway.ProviderError
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.Retryable).To(BeFalse())
		Expect(perr.Message).To(Equal("This phone number is not registered for mobile money"))
	})
})
