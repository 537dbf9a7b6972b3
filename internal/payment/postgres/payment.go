package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/stay-payments/internal/payment"
)

const uniqueViolation = "23505"

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{
		db: db,
	}
}

var _ paymentpkg.Repository = (*PaymentRepository)(nil)

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Intent) error {
	return translate(r.db.WithContext(ctx).Create(p).Error)
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*payment.Intent, error) {
	var p payment.Intent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetByProviderReference(ctx context.Context, reference string) (*payment.Intent, error) {
	var p payment.Intent
	err := r.db.WithContext(ctx).Where("provider_reference = ?", reference).
		Order("attempt DESC").First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetLatestByDedupKey(ctx context.Context, dedupKey string) (*payment.Intent, error) {
	var p payment.Intent
	err := r.db.WithContext(ctx).Where("dedup_key = ?", dedupKey).Order("attempt DESC").First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *PaymentRepository) ListByRelatedEntity(ctx context.Context, purpose payment.Purpose, relatedEntityID string) ([]*payment.Intent, error) {
	var intents []*payment.Intent
	err := r.db.WithContext(ctx).
		Where("purpose = ? AND related_entity_id = ?", purpose, relatedEntityID).
		Order("created_at DESC").Order("attempt DESC").
		Find(&intents).Error
	return intents, translate(err)
}

func (r *PaymentRepository) ListPendingCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Intent, error) {
	var intents []*payment.Intent
	q := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", payment.StatusPending, cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&intents).Error
	return intents, translate(err)
}

func (r *PaymentRepository) UpdateProviderFields(ctx context.Context, id string, fields paymentpkg.InitiatedFields) (bool, error) {
	updates := map[string]interface{}{
		"provider_reference":    fields.ProviderReference,
		"provider_redirect_url": fields.RedirectURL,
		"confirm_instruction":   fields.ConfirmInstruction,
		"updated_at":            time.Now().UTC(),
	}
	res := r.db.WithContext(ctx).Model(&payment.Intent{}).
		Where("id = ? AND status = ?", id, payment.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ResolvePending only touches rows that are still pending, so the first resolution wins.
func (r *PaymentRepository) ResolvePending(ctx context.Context, id string, update paymentpkg.ResolveUpdate) (bool, error) {
	updates := map[string]interface{}{
		"status":         update.Status,
		"failure_reason": update.FailureReason,
		"resolved_at":    update.ResolvedAt,
		"updated_at":     time.Now().UTC(),
	}
	if len(update.ProviderPayload) > 0 {
		updates["provider_payload"] = []byte(update.ProviderPayload)
	}
	res := r.db.WithContext(ctx).Model(&payment.Intent{}).
		Where("id = ? AND status = ?", id, payment.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return paymentpkg.ErrNotFound
	}
	if isUniqueViolation(err) {
		return errors.Join(paymentpkg.ErrDuplicateKey, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	// sqlite reports constraint failures only through the message
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
