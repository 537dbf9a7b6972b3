package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
)

var (
	ErrNotFound     = errors.New("payment intent not found")
	ErrDuplicateKey = errors.New("payment intent idempotency key already exists")
)

// Repository persists intents. Conditional writes report whether a row actually changed.
type Repository interface {
	Create(ctx context.Context, intent *payment.Intent) error
	GetByID(ctx context.Context, id string) (*payment.Intent, error)
	GetByProviderReference(ctx context.Context, reference string) (*payment.Intent, error)
	GetLatestByDedupKey(ctx context.Context, dedupKey string) (*payment.Intent, error)
	ListByRelatedEntity(ctx context.Context, purpose payment.Purpose, relatedEntityID string) ([]*payment.Intent, error)
	ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Intent, error)
	UpdateProviderFields(ctx context.Context, id string, fields InitiatedFields) (bool, error)
	ResolvePending(ctx context.Context, id string, update ResolveUpdate) (bool, error)
}

// InitiatedFields are written once the provider accepted an initiation.
type InitiatedFields struct {
	ProviderReference  string
	RedirectURL        *string
	ConfirmInstruction *string
}

// ResolveUpdate moves a pending intent to a terminal status.
type ResolveUpdate struct {
	Status          payment.Status
	ProviderPayload json.RawMessage
	FailureReason   *string
	ResolvedAt      time.Time
}

// DedupKey identifies one logical payment: the same payer paying the same amount for the same purpose
// of the same entity.
func DedupKey(purpose payment.Purpose, relatedEntityID, payerID string, amount int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", purpose, relatedEntityID, payerID, amount)))
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey is unique per attempt of one logical payment.
func IdempotencyKey(dedupKey string, attempt int) string {
	return fmt.Sprintf("%s:%d", dedupKey, attempt)
}
