package visit_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/core/events"
	visitPkg "github.com/frahmantamala/stay-payments/internal/visit"
	"github.com/frahmantamala/stay-payments/pkg/logger"
)

var _ = Describe("Handler", func() {
	const grace = 120 * time.Second

	var (
		clock     *manualClock
		scheduler *visitPkg.Scheduler
		router    *chi.Mux
	)

	BeforeEach(func() {
		clock = newManualClock(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
		repo := newMemoryRepository()
		bus := events.NewEventBus(logger.Discard())

		var err error
		scheduler, err = visitPkg.NewScheduler(visitPkg.SchedulerParams{
			Repository:  repo,
			Bus:         bus,
			Clock:       clock,
			GracePeriod: grace,
			Logger:      logger.Discard(),
		})
		Expect(err).ToNot(HaveOccurred())
		service := visitPkg.NewService(repo, scheduler, nil, bus, clock, logger.Discard())
		handler := visitPkg.NewHandler(service, grace, logger.Discard())

		router = chi.NewRouter()
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := apperrors.ContextWithUserID(r.Context(), r.Header.Get("X-Test-User"))
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		})
		router.Post("/visits", handler.RequestVisit)
		router.Get("/visits/{id}", handler.GetVisit)
		router.Post("/visits/{id}/confirm", handler.ConfirmVisit)
		router.Post("/visits/{id}/cancel", handler.CancelVisit)
	})

	AfterEach(func() {
		Expect(scheduler.Stop()).To(Succeed())
	})

	do := func(method, path, user, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
		}
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	create := func() visitPkg.VisitResponse {
		rec := do(http.MethodPost, "/visits", "guest-1",
			`{"listing_id":"listing-1","host_id":"host-1","requested_date":"2026-11-02","requested_time":"14:30"}`)
		Expect(rec.Code).To(Equal(http.StatusCreated))
		var resp visitPkg.VisitResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		return resp
	}

	It("creates a pending visit with its confirmation deadline", func() {
		resp := create()

		Expect(resp.Status).To(Equal("pending"))
		Expect(resp.GuestID).To(Equal("guest-1"))
		Expect(resp.ConfirmBy).ToNot(BeNil())
		Expect(resp.ConfirmBy.Sub(resp.CreatedAt)).To(Equal(grace))
	})

	It("requires a signed in guest", func() {
		rec := do(http.MethodPost, "/visits", "", `{"listing_id":"listing-1"}`)

		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	It("lets the host confirm early", func() {
		resp := create()

		rec := do(http.MethodPost, "/visits/"+resp.ID+"/confirm", "host-1", "")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"status":"confirmed"`))
		Expect(scheduler.Registry().Has(resp.ID)).To(BeFalse())
	})

	It("forbids the guest from confirming", func() {
		resp := create()

		rec := do(http.MethodPost, "/visits/"+resp.ID+"/confirm", "guest-1", "")

		Expect(rec.Code).To(Equal(http.StatusForbidden))
		Expect(rec.Body.String()).To(ContainSubstring(string(apperrors.ErrCodeVisitForbidden)))
	})

	It("cancels without a body and keeps it cancelled past the deadline", func() {
		resp := create()

		rec := do(http.MethodPost, "/visits/"+resp.ID+"/cancel", "guest-1", "")
		Expect(rec.Code).To(Equal(http.StatusOK))

		clock.Advance(grace + time.Minute)

		rec = do(http.MethodGet, "/visits/"+resp.ID, "host-1", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"status":"cancelled"`))
	})

	It("records the cancel reason", func() {
		resp := create()

		rec := do(http.MethodPost, "/visits/"+resp.ID+"/cancel", "host-1", `{"reason":"  listing unavailable "}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"cancel_reason":"listing unavailable"`))
	})

	It("hides visits from strangers", func() {
		resp := create()

		rec := do(http.MethodGet, "/visits/"+resp.ID, "someone-else", "")

		Expect(rec.Code).To(Equal(http.StatusForbidden))
	})
})
