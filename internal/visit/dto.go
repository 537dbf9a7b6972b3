package visit

import (
	"time"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/visit"
)

type RequestVisitRequest struct {
	ListingID     string `json:"listing_id"`
	HostID        string `json:"host_id"`
	RequestedDate string `json:"requested_date"`
	RequestedTime string `json:"requested_time"`
}

type CancelVisitRequest struct {
	Reason string `json:"reason,omitempty"`
}

type VisitResponse struct {
	ID            string     `json:"id"`
	ListingID     string     `json:"listing_id"`
	GuestID       string     `json:"guest_id"`
	HostID        string     `json:"host_id"`
	RequestedDate string     `json:"requested_date"`
	RequestedTime string     `json:"requested_time"`
	Status        string     `json:"status"`
	ConfirmBy     *time.Time `json:"confirm_by,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	CancelReason  *string    `json:"cancel_reason,omitempty"`
	FeePaidAt     *time.Time `json:"fee_paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ToVisitResponse renders req. ConfirmBy is only set while the visit is pending.
func ToVisitResponse(req *visit.Request, grace time.Duration) VisitResponse {
	resp := VisitResponse{
		ID:            req.ID,
		ListingID:     req.ListingID,
		GuestID:       req.GuestID,
		HostID:        req.HostID,
		RequestedDate: req.RequestedDate.Format(dateLayout),
		RequestedTime: req.RequestedTime,
		Status:        string(req.Status),
		ConfirmedAt:   req.ConfirmedAt,
		CancelledAt:   req.CancelledAt,
		CancelReason:  req.CancelReason,
		FeePaidAt:     req.FeePaidAt,
		CreatedAt:     req.CreatedAt,
	}
	if req.Status == visit.StatusPending && grace > 0 {
		confirmBy := req.CreatedAt.Add(grace)
		resp.ConfirmBy = &confirmBy
	}
	return resp
}
