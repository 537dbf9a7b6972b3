package paymentgateway

import (
	"errors"
	"strings"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// PaymentRequest is the body sent to the provider to start collecting an intent.
type PaymentRequest struct {
	IntentID      string `json:"intent_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Phone         string `json:"phone"`
	Country       string `json:"country"`
	LockedChannel string `json:"locked_channel"`
	Description   string `json:"description"`
	Reference     string `json:"reference"`
	CallbackURL   string `json:"callback_url,omitempty"`
}

func (r *PaymentRequest) Validate() error {
	if r.IntentID == "" {
		return errors.New("intent_id is required")
	}
	if r.Amount <= 0 {
		return errors.New("amount must be greater than 0")
	}
	if r.Currency == "" {
		return errors.New("currency is required")
	}
	if strings.TrimSpace(r.Phone) == "" {
		return errors.New("phone is required")
	}
	if r.LockedChannel == "" {
		return errors.New("locked_channel is required")
	}
	return nil
}

// PaymentResponse is the provider's answer to a PaymentRequest.
type PaymentResponse struct {
	ProviderReference  string `json:"provider_reference"`
	RedirectURL        string `json:"redirect_url,omitempty"`
	Channel            string `json:"channel"`
	ConfirmInstruction string `json:"confirm_instruction,omitempty"`
}

// StatusResponse is returned by the provider status lookup.
type StatusResponse struct {
	ProviderReference string        `json:"provider_reference"`
	Status            PaymentStatus `json:"status"`
	FailureReason     string        `json:"failure_reason,omitempty"`
}

// ErrorResponse is the provider error envelope. Field level messages sit under Errors keyed by field path.
type ErrorResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
