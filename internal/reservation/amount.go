// Package reservation derives how a stay's total is split between what is due when booking and what is
// collected later.
package reservation

import (
	errors "github.com/frahmantamala/stay-payments/internal"
	"github.com/frahmantamala/stay-payments/internal/core/common/validation"
	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
)

const (
	// LongStayThreshold is the first stay length whose last nights are paid later.
	LongStayThreshold = 8
	// DeferredNights is how many nights of a long stay are deferred to the remainder payment.
	DeferredNights = 2
)

// Breakdown is never stored. Recompute it from the booking's nights and prices.
type Breakdown struct {
	TotalNights     int64 `json:"total_nights"`
	DepositNights   int64 `json:"deposit_nights"`
	RemainingNights int64 `json:"remaining_nights"`
	DepositAmount   int64 `json:"deposit_amount"`
	RemainingAmount int64 `json:"remaining_amount"`
}

// Compute splits totalPrice into a due-now deposit and a due-later remainder.
func Compute(nights, nightlyPrice, totalPrice int64) (Breakdown, error) {
	v := validation.NewValidator()
	v.Field("nights", nights).MinInt(0, errors.ErrCodeValidationFailed)
	v.Field("nightly_price", nightlyPrice).MinInt(0, errors.ErrCodeInvalidAmount)
	v.Field("total_price", totalPrice).MinInt(0, errors.ErrCodeInvalidAmount)
	if appErr := v.Validate(); appErr != nil {
		return Breakdown{}, appErr
	}

	var remainingNights int64
	if nights >= LongStayThreshold {
		remainingNights = min(DeferredNights, nights)
	}

	remainingAmount := remainingNights * nightlyPrice
	return Breakdown{
		TotalNights:     nights,
		DepositNights:   nights - remainingNights,
		RemainingNights: remainingNights,
		DepositAmount:   max(totalPrice-remainingAmount, 0),
		RemainingAmount: remainingAmount,
	}, nil
}

// AmountFor returns the amount a payment of the given purpose must carry.
func (b Breakdown) AmountFor(purpose payment.Purpose) (int64, bool) {
	switch purpose {
	case payment.PurposeDepositPayment:
		return b.DepositAmount, true
	case payment.PurposeRemainderPayment:
		return b.RemainingAmount, true
	}
	return 0, false
}

// HasRemainder reports whether a second payment will be collected.
func (b Breakdown) HasRemainder() bool {
	return b.RemainingAmount > 0
}
