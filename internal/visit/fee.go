package visit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/visit"
)

// FeeSettler ties visit_fee intents to their visit request.
type FeeSettler struct {
	repo   Repository
	fee    int64
	clock  Clock
	logger *slog.Logger
}

func NewFeeSettler(repo Repository, fee int64, clock Clock, logger *slog.Logger) *FeeSettler {
	if clock == nil {
		clock = SystemClock()
	}
	return &FeeSettler{repo: repo, fee: fee, clock: clock, logger: logger}
}

// ExpectedAmount refuses fees for cancelled visits. Without a configured fee any amount is accepted.
func (f *FeeSettler) ExpectedAmount(ctx context.Context, _ payment.Purpose, visitID string) (int64, bool, error) {
	req, err := f.repo.GetByID(ctx, visitID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, false, apperrors.NewNotFoundError("visit request not found", apperrors.ErrCodeVisitNotFound)
		}
		return 0, false, fmt.Errorf("get visit request: %w", err)
	}
	if req.Status == visit.StatusCancelled {
		return 0, false, apperrors.NewConflictError("visit was cancelled", apperrors.ErrCodeVisitCancelled)
	}
	if f.fee <= 0 {
		return 0, false, nil
	}
	return f.fee, true, nil
}

func (f *FeeSettler) SettlePayment(ctx context.Context, intent *payment.Intent) error {
	changed, err := f.repo.MarkFeePaid(ctx, intent.RelatedEntityID, f.clock.Now())
	if err != nil {
		return fmt.Errorf("mark visit fee paid: %w", err)
	}
	if changed {
		f.logger.Info("visit fee paid", "visit_id", intent.RelatedEntityID, "intent_id", intent.ID)
	}
	return nil
}
