package payment

import (
	"time"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
)

type CreateIntentRequest struct {
	Purpose         string `json:"purpose"`
	RelatedEntityID string `json:"related_entity_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency,omitempty"`
	Channel         string `json:"channel"`
}

type InitiateIntentRequest struct {
	Phone string `json:"phone"`
}

type IntentResponse struct {
	ID                 string     `json:"id"`
	Purpose            string     `json:"purpose"`
	RelatedEntityID    string     `json:"related_entity_id"`
	Amount             int64      `json:"amount"`
	Currency           string     `json:"currency"`
	Channel            string     `json:"channel"`
	Status             string     `json:"status"`
	Attempt            int        `json:"attempt"`
	ProviderReference  *string    `json:"provider_reference,omitempty"`
	RedirectURL        *string    `json:"redirect_url,omitempty"`
	ConfirmInstruction *string    `json:"confirm_instruction,omitempty"`
	FailureReason      *string    `json:"failure_reason,omitempty"`
	Provisional        bool       `json:"provisional,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
}

type AwaitResponse struct {
	Intent   IntentResponse `json:"intent"`
	TimedOut bool           `json:"timed_out"`
	Source   string         `json:"source"`
}

// CallbackRequest is the provider notification body.
type CallbackRequest struct {
	IntentID          string `json:"intent_id"`
	ProviderReference string `json:"provider_reference"`
	Status            string `json:"status"`
	Amount            int64  `json:"amount,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

type CallbackResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func ToIntentResponse(intent *payment.Intent, provisional bool) IntentResponse {
	return IntentResponse{
		ID:                 intent.ID,
		Purpose:            string(intent.Purpose),
		RelatedEntityID:    intent.RelatedEntityID,
		Amount:             intent.Amount,
		Currency:           intent.Currency,
		Channel:            string(intent.Channel),
		Status:             string(intent.Status),
		Attempt:            intent.Attempt,
		ProviderReference:  intent.ProviderReference,
		RedirectURL:        intent.ProviderRedirectURL,
		ConfirmInstruction: intent.ConfirmInstruction,
		FailureReason:      intent.FailureReason,
		Provisional:        provisional,
		CreatedAt:          intent.CreatedAt,
		ResolvedAt:         intent.ResolvedAt,
	}
}
