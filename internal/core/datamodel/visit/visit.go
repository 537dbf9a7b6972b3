package visit

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

type Request struct {
	ID            string     `gorm:"primaryKey;type:uuid"`
	ListingID     string     `gorm:"column:listing_id;not null;index"`
	GuestID       string     `gorm:"column:guest_id;not null;index"`
	HostID        string     `gorm:"column:host_id;not null;index"`
	RequestedDate time.Time  `gorm:"column:requested_date;type:date;not null"`
	RequestedTime string     `gorm:"column:requested_time;not null"`
	Status        Status     `gorm:"column:status;not null;default:pending;index"`
	ConfirmedAt   *time.Time `gorm:"column:confirmed_at"`
	CancelledAt   *time.Time `gorm:"column:cancelled_at"`
	CancelReason  *string    `gorm:"column:cancel_reason"`
	FeePaidAt     *time.Time `gorm:"column:fee_paid_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Request) TableName() string {
	return "visit_requests"
}
