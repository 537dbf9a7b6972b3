package booking

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/booking"
)

var ErrNotFound = errors.New("booking not found")

type Repository interface {
	Create(ctx context.Context, b *booking.Booking) error
	GetByID(ctx context.Context, id string) (*booking.Booking, error)
	// MarkDepositPaid and MarkRemainderPaid stamp their column only while it is still null.
	MarkDepositPaid(ctx context.Context, id string, at time.Time) (bool, error)
	MarkRemainderPaid(ctx context.Context, id string, at time.Time) (bool, error)
}
