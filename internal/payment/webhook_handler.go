package payment

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/stay-payments/internal"
	paymentgatewaytypes "github.com/frahmantamala/stay-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/stay-payments/internal/transport"
)

const WebhookSecretHeader = "X-Webhook-Secret"

const maxCallbackBody = 1 << 20

type WebhookHandler struct {
	*transport.BaseHandler
	paymentService ServiceAPI
	secret         string
	logger         *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, paymentService ServiceAPI, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:    baseHandler,
		paymentService: paymentService,
		secret:         secret,
		logger:         logger,
	}
}

// HandlePaymentCallback handles POST /api/v1/payments/callback
func (h *WebhookHandler) HandlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(WebhookSecretHeader)), []byte(h.secret)) != 1 {
		h.logger.Warn("payment callback with invalid secret", "remote_addr", r.RemoteAddr)
		h.HandleError(w, errors.NewUnauthorizedError("invalid webhook secret", errors.ErrCodeInvalidToken))
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	var req CallbackRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logger.Error("invalid payment callback request", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if req.Status == "" {
		h.HandleError(w, errors.NewValidationFieldError("status", "status is required", errors.ErrCodeValidationFailed))
		return
	}

	h.logger.Info("received payment callback",
		"intent_id", req.IntentID,
		"provider_reference", req.ProviderReference,
		"status", req.Status)

	intent, changed, err := h.paymentService.HandleCallback(r.Context(), CallbackInput{
		IntentID:          req.IntentID,
		ProviderReference: req.ProviderReference,
		Status:            paymentgatewaytypes.PaymentStatus(req.Status),
		FailureReason:     req.FailureReason,
		Amount:            req.Amount,
		Raw:               raw,
	})
	if err != nil {
		h.logger.Error("failed to process payment callback",
			"error", err,
			"intent_id", req.IntentID,
			"status", req.Status)
		h.HandleServiceError(w, err)
		return
	}

	message := "callback acknowledged"
	if changed {
		message = "payment intent " + string(intent.Status)
	}
	h.WriteJSON(w, http.StatusOK, CallbackResponse{Status: "success", Message: message})
}
