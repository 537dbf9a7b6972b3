package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/visit"
	visitpkg "github.com/frahmantamala/stay-payments/internal/visit"
)

type VisitRepository struct {
	db *gorm.DB
}

func NewVisitRepository(db *gorm.DB) *VisitRepository {
	return &VisitRepository{db: db}
}

var _ visitpkg.Repository = (*VisitRepository)(nil)

func (r *VisitRepository) Create(ctx context.Context, req *visit.Request) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *VisitRepository) GetByID(ctx context.Context, id string) (*visit.Request, error) {
	var req visit.Request
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, visitpkg.ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *VisitRepository) ListPending(ctx context.Context) ([]*visit.Request, error) {
	var reqs []*visit.Request
	err := r.db.WithContext(ctx).
		Where("status = ?", visit.StatusPending).
		Order("created_at ASC").
		Find(&reqs).Error
	return reqs, err
}

// ConfirmPending never overwrites a cancellation that landed first.
func (r *VisitRepository) ConfirmPending(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&visit.Request{}).
		Where("id = ? AND status = ?", id, visit.StatusPending).
		Updates(map[string]interface{}{
			"status":       visit.StatusConfirmed,
			"confirmed_at": at,
			"updated_at":   at,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *VisitRepository) Cancel(ctx context.Context, id string, reason *string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&visit.Request{}).
		Where("id = ? AND status IN ?", id, []visit.Status{visit.StatusPending, visit.StatusConfirmed}).
		Updates(map[string]interface{}{
			"status":        visit.StatusCancelled,
			"cancelled_at":  at,
			"cancel_reason": reason,
			"updated_at":    at,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *VisitRepository) MarkFeePaid(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&visit.Request{}).
		Where("id = ? AND fee_paid_at IS NULL", id).
		Updates(map[string]interface{}{
			"fee_paid_at": at,
			"updated_at":  at,
		})
	return res.RowsAffected > 0, res.Error
}
