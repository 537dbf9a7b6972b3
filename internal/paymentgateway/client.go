package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/stay-payments/internal/core/datamodel/paymentgateway"
)

// DefaultConfirmInstruction is shown for mobile money when the provider sends no text of its own.
const DefaultConfirmInstruction = "Approve the payment on your phone to complete it."

type Config struct {
	BaseURL     string
	APIKey      string
	Currency    string
	Country     string
	CallbackURL string
	Timeout     time.Duration
}

// ProviderError is returned for every failed provider call. Message is the provider's own text when it
// sent one and must reach the end user unchanged.
type ProviderError struct {
	StatusCode int
	Message    string
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("payment provider: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("payment provider: %s", e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Retryable
}

type InitiateRequest struct {
	Intent        *payment.Intent
	ContactPhone  string
	LockedChannel payment.Channel
}

// InitiateResult holds exactly one of RedirectURL (card) or ConfirmInstruction (mobile money).
type InitiateResult struct {
	ProviderReference  string
	RedirectURL        *string
	ConfirmInstruction *string
	ChannelEcho        string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Initiate asks the provider to start collecting the intent. Calling it again for the same intent is
// safe: the intent id and idempotency key are reused, so the provider re-initiates the same payment.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if req.Intent == nil {
		return nil, errors.New("intent is required")
	}
	channel := req.LockedChannel
	if channel == "" {
		channel = req.Intent.Channel
	}

	body := &paymentgatewaytypes.PaymentRequest{
		IntentID:      req.Intent.ID,
		Amount:        req.Intent.Amount,
		Currency:      req.Intent.Currency,
		Phone:         req.ContactPhone,
		Country:       c.cfg.Country,
		LockedChannel: string(channel),
		Description:   describe(req.Intent.Purpose),
		Reference:     fmt.Sprintf("%s-%s", req.Intent.Purpose, req.Intent.RelatedEntityID),
		CallbackURL:   c.cfg.CallbackURL,
	}
	if body.Currency == "" {
		body.Currency = c.cfg.Currency
	}
	if err := body.Validate(); err != nil {
		return nil, &ProviderError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	c.logger.Info("initiating payment with provider",
		"intent_id", body.IntentID,
		"amount", body.Amount,
		"channel", body.LockedChannel)

	var resp paymentgatewaytypes.PaymentResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payments", body, req.Intent.IdempotencyKey, &resp); err != nil {
		c.logger.Error("payment initiation failed",
			"intent_id", body.IntentID,
			"retryable", IsRetryable(err),
			"error", err)
		return nil, err
	}

	if resp.ProviderReference == "" {
		return nil, &ProviderError{StatusCode: http.StatusBadGateway, Message: "provider returned no payment reference", Retryable: true}
	}

	result := &InitiateResult{
		ProviderReference: resp.ProviderReference,
		ChannelEcho:       resp.Channel,
	}
	if channel.IsMobileMoney() {
		instruction := strings.TrimSpace(resp.ConfirmInstruction)
		if instruction == "" {
			instruction = DefaultConfirmInstruction
		}
		result.ConfirmInstruction = &instruction
	} else {
		if resp.RedirectURL == "" {
			return nil, &ProviderError{StatusCode: http.StatusBadGateway, Message: "provider returned no checkout url for card payment"}
		}
		redirect := resp.RedirectURL
		result.RedirectURL = &redirect
	}

	c.logger.Info("payment initiated with provider",
		"intent_id", body.IntentID,
		"provider_reference", result.ProviderReference,
		"channel_echo", result.ChannelEcho)

	return result, nil
}

// GetStatus looks a payment up by provider reference.
func (c *Client) GetStatus(ctx context.Context, providerReference string) (*paymentgatewaytypes.StatusResponse, error) {
	if providerReference == "" {
		return nil, errors.New("provider reference is required")
	}
	var resp paymentgatewaytypes.StatusResponse
	path := "/v1/payments/" + url.PathEscape(providerReference)
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	if resp.ProviderReference == "" {
		resp.ProviderReference = providerReference
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, idempotencyKey string, out any) error {
	var reqBody io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal provider request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reqBody)
	if err != nil {
		return fmt.Errorf("create provider request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if traceID := internal.TraceIDFromContext(ctx); traceID != "" {
		httpReq.Header.Set(internal.TraceHeader, traceID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &ProviderError{Message: "payment provider unreachable", Retryable: true, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{StatusCode: resp.StatusCode, Message: "failed to read provider response", Retryable: true, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProviderError{
			StatusCode: resp.StatusCode,
			Message:    providerMessage(resp.StatusCode, respBody),
			Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &ProviderError{StatusCode: resp.StatusCode, Message: "malformed provider response", Retryable: true, Cause: err}
	}
	return nil
}

// providerMessage digs the human readable message out of an error body. Field errors win only when no
// top level message exists.
func providerMessage(status int, body []byte) string {
	var envelope paymentgatewaytypes.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil {
		if msg := strings.TrimSpace(envelope.Message); msg != "" {
			return msg
		}
		if envelope.Error != nil && strings.TrimSpace(envelope.Error.Message) != "" {
			return strings.TrimSpace(envelope.Error.Message)
		}
		fields := make([]string, 0, len(envelope.Errors))
		for field := range envelope.Errors {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			for _, msg := range envelope.Errors[field] {
				if strings.TrimSpace(msg) != "" {
					return strings.TrimSpace(msg)
				}
			}
		}
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("provider returned status %d", status)
}

func describe(purpose payment.Purpose) string {
	switch purpose {
	case payment.PurposeDepositPayment:
		return "Stay deposit"
	case payment.PurposeRemainderPayment:
		return "Stay remaining balance"
	case payment.PurposeVisitFee:
		return "Visit fee"
	}
	return "Payment"
}

// MapExternalStatus converts provider statuses to intent statuses. Unknown values stay pending.
func MapExternalStatus(status paymentgatewaytypes.PaymentStatus) payment.Status {
	switch strings.ToUpper(string(status)) {
	case string(paymentgatewaytypes.PaymentStatusSuccess), "SUCCEEDED", "COMPLETED":
		return payment.StatusSuccess
	case string(paymentgatewaytypes.PaymentStatusFailed), "CANCELLED", "EXPIRED", "REJECTED":
		return payment.StatusFailed
	}
	return payment.StatusPending
}
