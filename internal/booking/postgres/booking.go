package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	bookingpkg "github.com/frahmantamala/stay-payments/internal/booking"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/booking"
)

type BookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

var _ bookingpkg.Repository = (*BookingRepository)(nil)

func (r *BookingRepository) Create(ctx context.Context, b *booking.Booking) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *BookingRepository) GetByID(ctx context.Context, id string) (*booking.Booking, error) {
	var b booking.Booking
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, bookingpkg.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepository) MarkDepositPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.stampOnce(ctx, id, "deposit_paid_at", at)
}

func (r *BookingRepository) MarkRemainderPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.stampOnce(ctx, id, "remainder_paid_at", at)
}

func (r *BookingRepository) stampOnce(ctx context.Context, id, column string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&booking.Booking{}).
		Where("id = ? AND "+column+" IS NULL", id).
		Updates(map[string]interface{}{
			column:       at,
			"updated_at": at,
		})
	return res.RowsAffected > 0, res.Error
}
