package payment

import (
	"log/slog"
	"net/http"
	"time"

	errors "github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/stay-payments/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	PaymentService ServiceAPI
	MaxAwait       time.Duration
	Logger         *slog.Logger
}

func NewHandler(paymentService ServiceAPI, maxAwait time.Duration, logger *slog.Logger) *Handler {
	if maxAwait <= 0 {
		maxAwait = DefaultMaxDuration
	}
	return &Handler{
		BaseHandler:    transport.BaseHandler{Logger: logger},
		PaymentService: paymentService,
		MaxAwait:       maxAwait,
		Logger:         logger,
	}
}

// CreateIntent handles POST /api/v1/payments/intents
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	payerID := errors.UserIDFromContext(r.Context())
	if payerID == "" {
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	var req CreateIntentRequest
	if appErr := h.DecodeJSON(r, &req); appErr != nil {
		h.Logger.Error("CreateIntent: failed to parse request body", "error", appErr)
		h.HandleError(w, appErr)
		return
	}

	intent, err := h.PaymentService.CreateIntent(r.Context(), CreateIntentInput{
		PayerID:         payerID,
		Purpose:         payment.Purpose(req.Purpose),
		RelatedEntityID: req.RelatedEntityID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Channel:         payment.Channel(req.Channel),
	})
	if err != nil {
		h.Logger.Error("CreateIntent: service error", "error", err, "payer_id", payerID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ToIntentResponse(intent, false))
}

// InitiateIntent handles POST /api/v1/payments/intents/{id}/initiate
func (h *Handler) InitiateIntent(w http.ResponseWriter, r *http.Request) {
	payerID := errors.UserIDFromContext(r.Context())
	intentID := h.URLParam(r, "id")

	var req InitiateIntentRequest
	if appErr := h.DecodeJSON(r, &req); appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	intent, err := h.PaymentService.Initiate(r.Context(), InitiateInput{
		IntentID:     intentID,
		PayerID:      payerID,
		ContactPhone: req.Phone,
	})
	if err != nil {
		h.Logger.Error("InitiateIntent: service error", "error", err, "intent_id", intentID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("InitiateIntent: payment initiated", "intent_id", intentID, "channel", intent.Channel)
	h.WriteJSON(w, http.StatusOK, ToIntentResponse(intent, false))
}

// GetIntent handles GET /api/v1/payments/intents/{id}
func (h *Handler) GetIntent(w http.ResponseWriter, r *http.Request) {
	payerID := errors.UserIDFromContext(r.Context())
	intentID := h.URLParam(r, "id")

	intent, provisional, err := h.PaymentService.GetIntent(r.Context(), intentID, payerID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, ToIntentResponse(intent, provisional))
}

// AwaitIntent handles GET /api/v1/payments/intents/{id}/await?timeout=30s
// It answers 200 once the intent is terminal and 202 while it is still pending.
func (h *Handler) AwaitIntent(w http.ResponseWriter, r *http.Request) {
	payerID := errors.UserIDFromContext(r.Context())
	intentID := h.URLParam(r, "id")

	maxDuration := h.MaxAwait
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.HandleError(w, errors.NewValidationFieldError("timeout", "timeout must be a positive duration such as 30s", errors.ErrCodeValidationFailed))
			return
		}
		if d < maxDuration {
			maxDuration = d
		}
	}

	res, err := h.PaymentService.AwaitPayment(r.Context(), intentID, payerID, ResolveOptions{MaxDuration: maxDuration})
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if res.TimedOut {
		status = http.StatusAccepted
	}
	h.WriteJSON(w, status, AwaitResponse{
		Intent:   ToIntentResponse(res.Intent, false),
		TimedOut: res.TimedOut,
		Source:   res.Source,
	})
}

// History handles GET /api/v1/payments/history?purpose=deposit_payment&related_entity_id=...
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	payerID := errors.UserIDFromContext(r.Context())
	purpose := payment.Purpose(r.URL.Query().Get("purpose"))
	relatedID := r.URL.Query().Get("related_entity_id")
	if !purpose.Valid() || relatedID == "" {
		h.HandleError(w, errors.NewValidationError("purpose and related_entity_id are required", errors.ErrCodeValidationFailed))
		return
	}

	intents, err := h.PaymentService.History(r.Context(), purpose, relatedID, payerID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	out := make([]IntentResponse, 0, len(intents))
	for _, intent := range intents {
		out = append(out, ToIntentResponse(intent, false))
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"intents": out})
}
