package visit

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/visit"
)

var ErrNotFound = errors.New("visit request not found")

// Repository persists visit requests. Status writes are conditional and report whether a row changed.
type Repository interface {
	Create(ctx context.Context, req *visit.Request) error
	GetByID(ctx context.Context, id string) (*visit.Request, error)
	ListPending(ctx context.Context) ([]*visit.Request, error)
	// ConfirmPending promotes the visit only while it is still pending.
	ConfirmPending(ctx context.Context, id string, at time.Time) (bool, error)
	// Cancel moves a pending or confirmed visit to cancelled.
	Cancel(ctx context.Context, id string, reason *string, at time.Time) (bool, error)
	// MarkFeePaid stamps fee_paid_at once.
	MarkFeePaid(ctx context.Context, id string, at time.Time) (bool, error)
}
