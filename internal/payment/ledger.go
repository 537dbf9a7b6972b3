package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/core/common/validation"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/stay-payments/internal/core/events"
	"github.com/frahmantamala/stay-payments/internal/realtime"
)

type CreateIntentInput struct {
	PayerID         string
	Purpose         payment.Purpose
	RelatedEntityID string
	Amount          int64
	Currency        string
	Channel         payment.Channel
}

func (in CreateIntentInput) Validate() error {
	v := validation.NewValidator()
	v.Field("payer_id", in.PayerID).Required()
	v.Field("purpose", string(in.Purpose)).Required().OneOf(apperrors.ErrCodeInvalidPurpose,
		string(payment.PurposeDepositPayment), string(payment.PurposeRemainderPayment), string(payment.PurposeVisitFee))
	v.Field("related_entity_id", in.RelatedEntityID).Required()
	v.Field("amount", in.Amount).MinInt(1, apperrors.ErrCodeInvalidAmount)
	v.Field("channel", string(in.Channel)).Required().OneOf(apperrors.ErrCodeInvalidChannel,
		string(payment.ChannelMobileMoneyA), string(payment.ChannelMobileMoneyB), string(payment.ChannelCard))
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// Ledger is the only writer of intent status.
type Ledger struct {
	repo            Repository
	bus             *events.EventBus
	source          realtime.Source
	defaultCurrency string
	now             func() time.Time
	logger          *slog.Logger
}

func NewLedger(repo Repository, bus *events.EventBus, source realtime.Source, defaultCurrency string, logger *slog.Logger) *Ledger {
	return &Ledger{
		repo:            repo,
		bus:             bus,
		source:          source,
		defaultCurrency: defaultCurrency,
		now:             func() time.Time { return time.Now().UTC() },
		logger:          logger,
	}
}

// CreateIntent returns the live intent for this logical payment, creating a new attempt only when
// there is none or the latest one failed.
func (l *Ledger) CreateIntent(ctx context.Context, in CreateIntentInput) (*payment.Intent, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Currency == "" {
		in.Currency = l.defaultCurrency
	}

	dedupKey := DedupKey(in.Purpose, in.RelatedEntityID, in.PayerID, in.Amount)
	latest, err := l.latest(ctx, dedupKey)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.Status != payment.StatusFailed {
		l.logger.Info("reusing existing payment intent",
			"intent_id", latest.ID,
			"status", latest.Status,
			"attempt", latest.Attempt)
		return latest, nil
	}

	attempt := 1
	if latest != nil {
		attempt = latest.Attempt + 1
	}
	intent := &payment.Intent{
		ID:              uuid.NewString(),
		PayerID:         in.PayerID,
		Purpose:         in.Purpose,
		RelatedEntityID: in.RelatedEntityID,
		Amount:          in.Amount,
		Currency:        in.Currency,
		Channel:         in.Channel,
		Status:          payment.StatusPending,
		DedupKey:        dedupKey,
		IdempotencyKey:  IdempotencyKey(dedupKey, attempt),
		Attempt:         attempt,
	}

	if err := l.repo.Create(ctx, intent); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			// a concurrent request inserted the same attempt first
			winner, lookupErr := l.latest(ctx, dedupKey)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if winner != nil {
				return winner, nil
			}
		}
		l.logger.Error("failed to create payment intent", "error", err, "related_entity_id", in.RelatedEntityID)
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	l.logger.Info("payment intent created",
		"intent_id", intent.ID,
		"purpose", intent.Purpose,
		"related_entity_id", intent.RelatedEntityID,
		"amount", intent.Amount,
		"attempt", intent.Attempt)
	return intent, nil
}

func (l *Ledger) latest(ctx context.Context, dedupKey string) (*payment.Intent, error) {
	intent, err := l.repo.GetLatestByDedupKey(ctx, dedupKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup payment intent by dedup key: %w", err)
	}
	return intent, nil
}

// MarkInitiated stores what the provider returned for an initiation.
func (l *Ledger) MarkInitiated(ctx context.Context, intentID string, fields InitiatedFields) (*payment.Intent, error) {
	changed, err := l.repo.UpdateProviderFields(ctx, intentID, fields)
	if err != nil {
		return nil, fmt.Errorf("mark payment intent initiated: %w", err)
	}
	intent, err := l.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !changed {
		if intent.Status.Terminal() {
			return nil, apperrors.NewConflictError("payment intent is already "+string(intent.Status), apperrors.ErrCodeIntentTerminal)
		}
		return nil, fmt.Errorf("mark payment intent initiated: no row updated for %s", intentID)
	}
	return intent, nil
}

// Resolve moves a pending intent to success or failed. A second resolution is a no-op that reports
// changed=false together with the stored intent.
func (l *Ledger) Resolve(ctx context.Context, intentID string, status payment.Status, payload json.RawMessage, failureReason *string) (*payment.Intent, bool, error) {
	if !status.Terminal() {
		return nil, false, apperrors.NewValidationError("resolution status must be terminal", apperrors.ErrCodeValidationFailed)
	}

	changed, err := l.repo.ResolvePending(ctx, intentID, ResolveUpdate{
		Status:          status,
		ProviderPayload: payload,
		FailureReason:   failureReason,
		ResolvedAt:      l.now(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("resolve payment intent: %w", err)
	}

	intent, err := l.Get(ctx, intentID)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		l.logger.Info("payment intent already resolved",
			"intent_id", intentID,
			"stored_status", intent.Status,
			"ignored_status", status)
		return intent, false, nil
	}

	l.logger.Info("payment intent resolved", "intent_id", intent.ID, "status", intent.Status)
	l.announce(ctx, intent)
	return intent, true, nil
}

func (l *Ledger) announce(ctx context.Context, intent *payment.Intent) {
	if l.source != nil {
		event, err := realtime.NewRowUpdated(realtime.TopicPaymentIntents, intent.ID, intent)
		if err == nil {
			err = l.source.Publish(ctx, event)
		}
		if err != nil {
			l.logger.Warn("failed to publish realtime intent update", "intent_id", intent.ID, "error", err)
		}
	}
	if l.bus != nil {
		failureReason := ""
		if intent.FailureReason != nil {
			failureReason = *intent.FailureReason
		}
		_ = l.bus.Publish(ctx, events.NewIntentResolvedEvent(
			intent.ID,
			intent.PayerID,
			string(intent.Purpose),
			intent.RelatedEntityID,
			intent.Amount,
			intent.Currency,
			string(intent.Status),
			failureReason,
		))
	}
}

func (l *Ledger) Get(ctx context.Context, intentID string) (*payment.Intent, error) {
	intent, err := l.repo.GetByID(ctx, intentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NewNotFoundError("payment intent not found", apperrors.ErrCodeIntentNotFound)
		}
		return nil, fmt.Errorf("get payment intent: %w", err)
	}
	return intent, nil
}

func (l *Ledger) GetByProviderReference(ctx context.Context, reference string) (*payment.Intent, error) {
	intent, err := l.repo.GetByProviderReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NewNotFoundError("payment intent not found", apperrors.ErrCodeIntentNotFound)
		}
		return nil, fmt.Errorf("get payment intent by provider reference: %w", err)
	}
	return intent, nil
}

// History lists every attempt for an entity, newest first.
func (l *Ledger) History(ctx context.Context, purpose payment.Purpose, relatedEntityID string) ([]*payment.Intent, error) {
	intents, err := l.repo.ListByRelatedEntity(ctx, purpose, relatedEntityID)
	if err != nil {
		return nil, fmt.Errorf("list payment intent history: %w", err)
	}
	return intents, nil
}

// ListStalePending returns pending intents created more than olderThan ago, oldest first.
func (l *Ledger) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*payment.Intent, error) {
	intents, err := l.repo.ListPendingCreatedBefore(ctx, l.now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale payment intents: %w", err)
	}
	return intents, nil
}
