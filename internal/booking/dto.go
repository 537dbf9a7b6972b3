package booking

import (
	"time"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/booking"
	"github.com/frahmantamala/stay-payments/internal/reservation"
)

type CreateBookingRequest struct {
	ListingID    string `json:"listing_id"`
	Nights       int64  `json:"nights"`
	NightlyPrice int64  `json:"nightly_price"`
	TotalPrice   int64  `json:"total_price"`
	Currency     string `json:"currency,omitempty"`
}

type BookingResponse struct {
	ID              string     `json:"id"`
	ListingID       string     `json:"listing_id"`
	Nights          int64      `json:"nights"`
	NightlyPrice    int64      `json:"nightly_price"`
	TotalPrice      int64      `json:"total_price"`
	Currency        string     `json:"currency"`
	DepositPaidAt   *time.Time `json:"deposit_paid_at,omitempty"`
	RemainderPaidAt *time.Time `json:"remainder_paid_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type BreakdownResponse struct {
	BookingID string `json:"booking_id"`
	Currency  string `json:"currency"`
	reservation.Breakdown
}

func ToBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:              b.ID,
		ListingID:       b.ListingID,
		Nights:          b.Nights,
		NightlyPrice:    b.NightlyPrice,
		TotalPrice:      b.TotalPrice,
		Currency:        b.Currency,
		DepositPaidAt:   b.DepositPaidAt,
		RemainderPaidAt: b.RemainderPaidAt,
		CreatedAt:       b.CreatedAt,
	}
}
