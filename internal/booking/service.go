package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/core/common/validation"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/booking"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/stay-payments/internal/reservation"
)

// MaxStayNights bounds a single booking.
const MaxStayNights = 365

type CreateBookingInput struct {
	ListingID    string
	GuestID      string
	Nights       int64
	NightlyPrice int64
	TotalPrice   int64
	Currency     string
}

func (in CreateBookingInput) Validate() error {
	v := validation.NewValidator()
	v.Field("listing_id", in.ListingID).Required()
	v.Field("guest_id", in.GuestID).Required()
	v.Field("nights", in.Nights).MinInt(1, apperrors.ErrCodeValidationFailed).MaxInt(MaxStayNights, apperrors.ErrCodeValidationFailed)
	v.Field("nightly_price", in.NightlyPrice).MinInt(1, apperrors.ErrCodeInvalidAmount)
	v.Field("total_price", in.TotalPrice).MinInt(1, apperrors.ErrCodeInvalidAmount)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type ServiceAPI interface {
	CreateBooking(ctx context.Context, in CreateBookingInput) (*booking.Booking, error)
	Get(ctx context.Context, bookingID, guestID string) (*booking.Booking, error)
	Breakdown(ctx context.Context, bookingID, guestID string) (*booking.Booking, reservation.Breakdown, error)
}

// Service owns bookings and acts as the amount guard and settler for deposit and remainder intents.
type Service struct {
	repo            Repository
	defaultCurrency string
	now             func() time.Time
	logger          *slog.Logger
}

var _ ServiceAPI = (*Service)(nil)

func NewService(repo Repository, defaultCurrency string, logger *slog.Logger) *Service {
	return &Service{
		repo:            repo,
		defaultCurrency: defaultCurrency,
		now:             func() time.Time { return time.Now().UTC() },
		logger:          logger,
	}
}

func (s *Service) CreateBooking(ctx context.Context, in CreateBookingInput) (*booking.Booking, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Currency == "" {
		in.Currency = s.defaultCurrency
	}
	b := &booking.Booking{
		ID:           uuid.NewString(),
		ListingID:    in.ListingID,
		GuestID:      in.GuestID,
		Nights:       in.Nights,
		NightlyPrice: in.NightlyPrice,
		TotalPrice:   in.TotalPrice,
		Currency:     in.Currency,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}
	s.logger.Info("booking created", "booking_id", b.ID, "guest_id", b.GuestID, "nights", b.Nights)
	return b, nil
}

func (s *Service) Get(ctx context.Context, bookingID, guestID string) (*booking.Booking, error) {
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.GuestID != guestID {
		return nil, apperrors.NewNotFoundError("booking not found", apperrors.ErrCodeBookingNotFound)
	}
	return b, nil
}

// Breakdown derives the deposit and remainder split from the stored nights and prices.
func (s *Service) Breakdown(ctx context.Context, bookingID, guestID string) (*booking.Booking, reservation.Breakdown, error) {
	b, err := s.Get(ctx, bookingID, guestID)
	if err != nil {
		return nil, reservation.Breakdown{}, err
	}
	breakdown, err := reservation.Compute(b.Nights, b.NightlyPrice, b.TotalPrice)
	if err != nil {
		return nil, reservation.Breakdown{}, err
	}
	return b, breakdown, nil
}

// ExpectedAmount returns the part of the breakdown a deposit or remainder intent must carry. A part that
// comes to zero, such as the remainder of a short stay, cannot be paid at all.
func (s *Service) ExpectedAmount(ctx context.Context, purpose payment.Purpose, bookingID string) (int64, bool, error) {
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return 0, false, err
	}
	breakdown, err := reservation.Compute(b.Nights, b.NightlyPrice, b.TotalPrice)
	if err != nil {
		return 0, false, err
	}
	amount, ok := breakdown.AmountFor(purpose)
	if ok && amount == 0 {
		return 0, false, apperrors.NewConflictError(
			fmt.Sprintf("no %s due for this booking", dueLabel(purpose)), apperrors.ErrCodeNoPaymentDue)
	}
	return amount, ok, nil
}

func dueLabel(purpose payment.Purpose) string {
	if purpose == payment.PurposeRemainderPayment {
		return "remainder"
	}
	return "deposit"
}

// SettlePayment stamps the paid column matching the intent purpose. Repeated calls are harmless.
func (s *Service) SettlePayment(ctx context.Context, intent *payment.Intent) error {
	var (
		changed bool
		err     error
	)
	switch intent.Purpose {
	case payment.PurposeDepositPayment:
		changed, err = s.repo.MarkDepositPaid(ctx, intent.RelatedEntityID, s.now())
	case payment.PurposeRemainderPayment:
		changed, err = s.repo.MarkRemainderPaid(ctx, intent.RelatedEntityID, s.now())
	default:
		return fmt.Errorf("booking cannot settle %s intents", intent.Purpose)
	}
	if err != nil {
		return fmt.Errorf("settle booking %s: %w", intent.Purpose, err)
	}
	if changed {
		s.logger.Info("booking payment settled",
			"booking_id", intent.RelatedEntityID,
			"purpose", intent.Purpose,
			"intent_id", intent.ID)
	}
	return nil
}

func (s *Service) load(ctx context.Context, bookingID string) (*booking.Booking, error) {
	b, err := s.repo.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NewNotFoundError("booking not found", apperrors.ErrCodeBookingNotFound)
		}
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}
