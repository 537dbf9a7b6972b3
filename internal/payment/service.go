package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apperrors "github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/core/common/validation"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	paymentgatewaytypes "github.com/frahmantamala/stay-payments/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/stay-payments/internal/paymentgateway"
)

// Gateway is the provider side of a payment.
type Gateway interface {
	Initiate(ctx context.Context, req paymentgateway.InitiateRequest) (*paymentgateway.InitiateResult, error)
	GetStatus(ctx context.Context, providerReference string) (*paymentgatewaytypes.StatusResponse, error)
}

// AmountGuard reports the amount an entity expects to be paid for purpose. ok is false when the
// entity has no expectation for it.
type AmountGuard interface {
	ExpectedAmount(ctx context.Context, purpose payment.Purpose, relatedEntityID string) (amount int64, ok bool, err error)
}

// EntitySettler marks the entity an intent pays for as paid. It must be idempotent.
type EntitySettler interface {
	SettlePayment(ctx context.Context, intent *payment.Intent) error
}

type ServiceAPI interface {
	CreateIntent(ctx context.Context, in CreateIntentInput) (*payment.Intent, error)
	Initiate(ctx context.Context, in InitiateInput) (*payment.Intent, error)
	AwaitPayment(ctx context.Context, intentID, payerID string, opts ResolveOptions) (*Resolution, error)
	GetIntent(ctx context.Context, intentID, payerID string) (*payment.Intent, bool, error)
	History(ctx context.Context, purpose payment.Purpose, relatedEntityID, payerID string) ([]*payment.Intent, error)
	HandleCallback(ctx context.Context, in CallbackInput) (*payment.Intent, bool, error)
}

type InitiateInput struct {
	IntentID     string
	PayerID      string
	ContactPhone string
}

// CallbackInput is a provider notification. Raw is stored as the terminal payload.
type CallbackInput struct {
	IntentID          string
	ProviderReference string
	Status            paymentgatewaytypes.PaymentStatus
	FailureReason     string
	Amount            int64
	Raw               json.RawMessage
}

type Service struct {
	ledger   *Ledger
	gateway  Gateway
	resolver *Resolver
	cache    *ProvisionalCache
	guards   map[payment.Purpose]AmountGuard
	settlers map[payment.Purpose]EntitySettler
	logger   *slog.Logger
}

func NewService(ledger *Ledger, gateway Gateway, resolver *Resolver, cache *ProvisionalCache, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NewProvisionalCache(0)
	}
	return &Service{
		ledger:   ledger,
		gateway:  gateway,
		resolver: resolver,
		cache:    cache,
		guards:   make(map[payment.Purpose]AmountGuard),
		settlers: make(map[payment.Purpose]EntitySettler),
		logger:   logger,
	}
}

// RegisterEntity wires the entity that owns purpose. Either argument may be nil. Must be called
// before the service handles requests.
func (s *Service) RegisterEntity(purpose payment.Purpose, guard AmountGuard, settler EntitySettler) {
	if guard != nil {
		s.guards[purpose] = guard
	}
	if settler != nil {
		s.settlers[purpose] = settler
	}
}

func (s *Service) CreateIntent(ctx context.Context, in CreateIntentInput) (*payment.Intent, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if guard, ok := s.guards[in.Purpose]; ok {
		expected, has, err := guard.ExpectedAmount(ctx, in.Purpose, in.RelatedEntityID)
		if err != nil {
			return nil, err
		}
		if has && expected != in.Amount {
			s.logger.Warn("payment amount does not match entity",
				"purpose", in.Purpose,
				"related_entity_id", in.RelatedEntityID,
				"expected", expected,
				"amount", in.Amount)
			return nil, apperrors.NewValidationFieldError("amount",
				fmt.Sprintf("amount must be %d for %s", expected, in.Purpose), apperrors.ErrCodeAmountMismatch)
		}
	}
	return s.ledger.CreateIntent(ctx, in)
}

// Initiate starts collection at the provider. A pending intent may be initiated again, for example
// after a transient provider failure or with a corrected phone number.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*payment.Intent, error) {
	v := validation.NewValidator()
	v.Field("phone", in.ContactPhone).Required().Phone()
	if appErr := v.Validate(); appErr != nil {
		return nil, appErr
	}

	intent, err := s.owned(ctx, in.IntentID, in.PayerID)
	if err != nil {
		return nil, err
	}
	if intent.Status.Terminal() {
		return nil, apperrors.NewConflictError("payment intent is already "+string(intent.Status), apperrors.ErrCodeIntentTerminal)
	}

	result, err := s.gateway.Initiate(ctx, paymentgateway.InitiateRequest{
		Intent:        intent,
		ContactPhone:  in.ContactPhone,
		LockedChannel: intent.Channel,
	})
	if err != nil {
		return nil, providerAppError(err)
	}

	return s.ledger.MarkInitiated(ctx, intent.ID, InitiatedFields{
		ProviderReference:  result.ProviderReference,
		RedirectURL:        result.RedirectURL,
		ConfirmInstruction: result.ConfirmInstruction,
	})
}

func providerAppError(err error) error {
	var perr *paymentgateway.ProviderError
	if !errors.As(err, &perr) {
		return apperrors.NewInternalError("payment initiation failed", err)
	}
	if perr.Retryable {
		return apperrors.NewExternalError("payment provider is unavailable, please retry",
			apperrors.ErrCodeProviderUnavailable, http.StatusBadGateway).WithCause(err)
	}
	return apperrors.NewExternalError(perr.Message, apperrors.ErrCodeProviderRejected, http.StatusUnprocessableEntity).WithCause(err)
}

// AwaitPayment blocks until the intent settles or opts.MaxDuration passes, then settles the paid
// entity on success.
func (s *Service) AwaitPayment(ctx context.Context, intentID, payerID string, opts ResolveOptions) (*Resolution, error) {
	if _, err := s.owned(ctx, intentID, payerID); err != nil {
		return nil, err
	}

	callback := opts.OnStatusChange
	opts.OnStatusChange = func(intent *payment.Intent) {
		s.cache.Remember(intent)
		if callback != nil {
			callback(intent)
		}
	}

	res, err := s.resolver.Resolve(ctx, intentID, opts)
	if err != nil {
		return nil, err
	}
	if !res.TimedOut && res.Intent.Status == payment.StatusSuccess {
		if err := s.Settle(ctx, res.Intent); err != nil {
			s.logger.Error("failed to settle paid entity", "intent_id", intentID, "error", err)
		}
	}
	return res, nil
}

// Settle runs the settler registered for the intent's purpose. Non-success intents are ignored.
func (s *Service) Settle(ctx context.Context, intent *payment.Intent) error {
	if intent == nil || intent.Status != payment.StatusSuccess {
		return nil
	}
	settler, ok := s.settlers[intent.Purpose]
	if !ok {
		return nil
	}
	return settler.SettlePayment(ctx, intent)
}

// GetIntent returns the stored intent overlaid with a provisional terminal status when the resolver
// has seen one the store does not show yet.
func (s *Service) GetIntent(ctx context.Context, intentID, payerID string) (*payment.Intent, bool, error) {
	intent, err := s.owned(ctx, intentID, payerID)
	if err != nil {
		return nil, false, err
	}
	shown, provisional := s.cache.Overlay(intent)
	return shown, provisional, nil
}

func (s *Service) History(ctx context.Context, purpose payment.Purpose, relatedEntityID, payerID string) ([]*payment.Intent, error) {
	intents, err := s.ledger.History(ctx, purpose, relatedEntityID)
	if err != nil {
		return nil, err
	}
	out := make([]*payment.Intent, 0, len(intents))
	for _, intent := range intents {
		if intent.PayerID == payerID {
			out = append(out, intent)
		}
	}
	return out, nil
}

// HandleCallback applies a provider notification. Pending notifications and repeats are acknowledged
// without changes.
func (s *Service) HandleCallback(ctx context.Context, in CallbackInput) (*payment.Intent, bool, error) {
	var (
		intent *payment.Intent
		err    error
	)
	switch {
	case in.IntentID != "":
		intent, err = s.ledger.Get(ctx, in.IntentID)
	case in.ProviderReference != "":
		intent, err = s.ledger.GetByProviderReference(ctx, in.ProviderReference)
	default:
		return nil, false, apperrors.NewValidationError("intent_id or provider_reference is required", apperrors.ErrCodeValidationFailed)
	}
	if err != nil {
		return nil, false, err
	}

	if in.Amount > 0 && in.Amount != intent.Amount {
		s.logger.Error("provider callback amount mismatch",
			"intent_id", intent.ID,
			"expected", intent.Amount,
			"received", in.Amount)
		return nil, false, apperrors.NewValidationError("callback amount does not match intent", apperrors.ErrCodeAmountMismatch)
	}

	status := paymentgateway.MapExternalStatus(in.Status)
	if !status.Terminal() {
		return intent, false, nil
	}

	var failureReason *string
	if status == payment.StatusFailed {
		reason := in.FailureReason
		if reason == "" {
			reason = "payment declined by provider"
		}
		failureReason = &reason
	}
	return s.ledger.Resolve(ctx, intent.ID, status, in.Raw, failureReason)
}

func (s *Service) owned(ctx context.Context, intentID, payerID string) (*payment.Intent, error) {
	intent, err := s.ledger.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if payerID != "" && intent.PayerID != payerID {
		return nil, apperrors.NewForbiddenError("payment intent belongs to another payer", apperrors.ErrCodeIntentForbidden)
	}
	return intent, nil
}
