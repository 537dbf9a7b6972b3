package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"

	paymentgatewaytypes "github.com/frahmantamala/stay-payments/internal/core/datamodel/paymentgateway"
)

// SandboxRejectedPrefix marks phone numbers the sandbox refuses, to exercise provider rejections.
const SandboxRejectedPrefix = "+000"

type SettlementJob struct {
	IntentID          string
	ProviderReference string
	Amount            int64
}

type Worker struct {
	ID         int
	WorkerPool chan chan SettlementJob
	JobChannel chan SettlementJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan SettlementJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan SettlementJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(SettlementJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing job", "worker_id", w.ID, "provider_reference", job.ProviderReference)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type SandboxConfig struct {
	WebhookURL    string
	WebhookSecret string
	MaxWorkers    int
	JobQueueSize  int
	// SettleDelay of zero picks a random delay between one and four seconds.
	SettleDelay time.Duration
	// SuccessRate is the share of payments that succeed. Zero means 0.9.
	SuccessRate float64
}

type sandboxPayment struct {
	request paymentgatewaytypes.PaymentRequest
	status  paymentgatewaytypes.StatusResponse
}

// Sandbox is a local stand-in for the payment provider. It accepts initiations, settles them on a
// worker pool after a delay and notifies the webhook like the real provider does.
type Sandbox struct {
	cfg        SandboxConfig
	logger     *slog.Logger
	httpClient *http.Client
	router     chi.Router

	mu          sync.Mutex
	payments    map[string]*sandboxPayment
	idempotency map[string]string
	rnd         *rand.Rand

	jobQueue   chan SettlementJob
	workerPool chan chan SettlementJob
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

func NewSandbox(cfg SandboxConfig, logger *slog.Logger) *Sandbox {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.JobQueueSize <= 0 {
		cfg.JobQueueSize = 100
	}
	if cfg.SuccessRate <= 0 {
		cfg.SuccessRate = 0.9
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sandbox{
		cfg:         cfg,
		logger:      logger,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		payments:    make(map[string]*sandboxPayment),
		idempotency: make(map[string]string),
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		jobQueue:    make(chan SettlementJob, cfg.JobQueueSize),
		workerPool:  make(chan chan SettlementJob, cfg.MaxWorkers),
		ctx:         ctx,
		cancel:      cancel,
	}

	r := chi.NewRouter()
	r.Post("/v1/payments", s.handleInitiate)
	r.Get("/v1/payments/{reference}", s.handleStatus)
	s.router = r
	return s
}

func (s *Sandbox) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start launches the worker pool. Safe to call more than once.
func (s *Sandbox) Start() {
	s.startOnce.Do(func() {
		for i := 0; i < s.cfg.MaxWorkers; i++ {
			NewWorker(i, s.workerPool, s.logger).Start(s.ctx, &s.wg, s.settle)
		}

		s.wg.Add(1)
		go s.dispatch()

		s.logger.Info("payment sandbox worker pool started",
			"max_workers", s.cfg.MaxWorkers,
			"queue_size", cap(s.jobQueue))
	})
}

func (s *Sandbox) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.jobQueue:
			select {
			case jobChannel := <-s.workerPool:
				select {
				case jobChannel <- job:
				case <-s.ctx.Done():
					return
				}
			case <-s.ctx.Done():
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Shutdown stops the pool and waits for in-flight settlements. Safe to call more than once.
func (s *Sandbox) Shutdown() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.logger.Info("payment sandbox shutdown complete")
	})
}

func (s *Sandbox) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req paymentgatewaytypes.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSandboxJSON(w, http.StatusBadRequest, paymentgatewaytypes.ErrorResponse{Message: "Malformed payment request"})
		return
	}
	if err := req.Validate(); err != nil {
		writeSandboxJSON(w, http.StatusUnprocessableEntity, paymentgatewaytypes.ErrorResponse{Message: err.Error()})
		return
	}
	if strings.HasPrefix(req.Phone, SandboxRejectedPrefix) {
		writeSandboxJSON(w, http.StatusUnprocessableEntity, paymentgatewaytypes.ErrorResponse{
			Errors: map[string][]string{"customer.phone": {"This phone number is not registered for mobile money"}},
		})
		return
	}

	key := r.Header.Get("Idempotency-Key")
	s.mu.Lock()
	reference, seen := s.idempotency[key]
	if !seen {
		reference = "sbx_" + uuid.NewString()
		if key != "" {
			s.idempotency[key] = reference
		}
		s.payments[reference] = &sandboxPayment{
			request: req,
			status: paymentgatewaytypes.StatusResponse{
				ProviderReference: reference,
				Status:            paymentgatewaytypes.PaymentStatusPending,
			},
		}
	}
	s.mu.Unlock()

	if !seen {
		select {
		case s.jobQueue <- SettlementJob{IntentID: req.IntentID, ProviderReference: reference, Amount: req.Amount}:
		default:
			writeSandboxJSON(w, http.StatusServiceUnavailable, paymentgatewaytypes.ErrorResponse{Message: "Payment queue full, please try again later"})
			return
		}
	}

	resp := paymentgatewaytypes.PaymentResponse{ProviderReference: reference, Channel: req.LockedChannel}
	switch req.LockedChannel {
	case "card":
		resp.RedirectURL = "https://sandbox.stay.local/checkout/" + reference
	case "mobile_money_a":
		resp.ConfirmInstruction = "Dial #144# and enter your PIN to approve the payment."
	}
	writeSandboxJSON(w, http.StatusOK, resp)
}

func (s *Sandbox) handleStatus(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	s.mu.Lock()
	p, ok := s.payments[reference]
	var status paymentgatewaytypes.StatusResponse
	if ok {
		status = p.status
	}
	s.mu.Unlock()

	if !ok {
		writeSandboxJSON(w, http.StatusNotFound, paymentgatewaytypes.ErrorResponse{Message: "Payment not found"})
		return
	}
	writeSandboxJSON(w, http.StatusOK, status)
}

func (s *Sandbox) settle(job SettlementJob) {
	delay := s.cfg.SettleDelay
	s.mu.Lock()
	if delay <= 0 {
		delay = time.Duration(1+s.rnd.Intn(4)) * time.Second
	}
	succeeded := s.rnd.Float64() < s.cfg.SuccessRate
	s.mu.Unlock()

	select {
	case <-time.After(delay):
	case <-s.ctx.Done():
		s.logger.Info("settlement cancelled", "provider_reference", job.ProviderReference)
		return
	}

	status := paymentgatewaytypes.PaymentStatusSuccess
	failureReason := ""
	if !succeeded {
		status = paymentgatewaytypes.PaymentStatusFailed
		failureReason = "Insufficient funds"
	}

	s.mu.Lock()
	if p, ok := s.payments[job.ProviderReference]; ok {
		p.status.Status = status
		p.status.FailureReason = failureReason
	}
	s.mu.Unlock()

	s.logger.Info("sandbox payment settled",
		"intent_id", job.IntentID,
		"provider_reference", job.ProviderReference,
		"status", status,
		"delay_seconds", delay.Seconds())

	s.sendCallback(job, status, failureReason)
}

func (s *Sandbox) sendCallback(job SettlementJob, status paymentgatewaytypes.PaymentStatus, failureReason string) {
	if s.cfg.WebhookURL == "" {
		return
	}

	payload := map[string]interface{}{
		"intent_id":          job.IntentID,
		"provider_reference": job.ProviderReference,
		"status":             string(status),
		"amount":             job.Amount,
	}
	if failureReason != "" {
		payload["failure_reason"] = failureReason
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal sandbox callback", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("failed to create sandbox callback request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.WebhookSecret != "" {
		req.Header.Set("X-Webhook-Secret", s.cfg.WebhookSecret)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("sandbox callback failed", "error", err, "intent_id", job.IntentID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("sandbox callback rejected",
			"intent_id", job.IntentID,
			"status_code", resp.StatusCode)
	}
}

func writeSandboxJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
