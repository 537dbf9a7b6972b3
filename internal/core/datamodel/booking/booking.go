package booking

import "time"

// Booking keeps only the inputs of the deposit/remainder split; the split itself is always derived.
type Booking struct {
	ID              string     `gorm:"primaryKey;type:uuid"`
	ListingID       string     `gorm:"column:listing_id;not null;index"`
	GuestID         string     `gorm:"column:guest_id;not null;index"`
	Nights          int64      `gorm:"column:nights;not null"`
	NightlyPrice    int64      `gorm:"column:nightly_price;not null"`
	TotalPrice      int64      `gorm:"column:total_price;not null"`
	Currency        string     `gorm:"column:currency;not null"`
	DepositPaidAt   *time.Time `gorm:"column:deposit_paid_at"`
	RemainderPaidAt *time.Time `gorm:"column:remainder_paid_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Booking) TableName() string {
	return "bookings"
}
