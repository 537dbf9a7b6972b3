package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeIntentResolved = "payment.intent_resolved"
	EventTypeVisitConfirmed = "visit.confirmed"
	EventTypeVisitCancelled = "visit.cancelled"
)

type IntentResolvedEvent struct {
	BaseEvent
	IntentID        string `json:"intent_id"`
	PayerID         string `json:"payer_id"`
	Purpose         string `json:"purpose"`
	RelatedEntityID string `json:"related_entity_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

func NewIntentResolvedEvent(intentID, payerID, purpose, relatedEntityID string, amount int64, currency, status, failureReason string) *IntentResolvedEvent {
	return &IntentResolvedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeIntentResolved,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"intent_id":         intentID,
				"payer_id":          payerID,
				"purpose":           purpose,
				"related_entity_id": relatedEntityID,
				"amount":            amount,
				"currency":          currency,
				"status":            status,
				"failure_reason":    failureReason,
			},
		},
		IntentID:        intentID,
		PayerID:         payerID,
		Purpose:         purpose,
		RelatedEntityID: relatedEntityID,
		Amount:          amount,
		Currency:        currency,
		Status:          status,
		FailureReason:   failureReason,
	}
}

// VisitStatusEvent covers both auto/explicit confirmation and cancellation.
type VisitStatusEvent struct {
	BaseEvent
	VisitID   string `json:"visit_id"`
	ListingID string `json:"listing_id"`
	GuestID   string `json:"guest_id"`
	HostID    string `json:"host_id"`
	Reason    string `json:"reason,omitempty"`
}

func NewVisitConfirmedEvent(visitID, listingID, guestID, hostID string, automatic bool) *VisitStatusEvent {
	reason := "confirmed by host"
	if automatic {
		reason = "auto_confirmed"
	}
	return newVisitStatusEvent(EventTypeVisitConfirmed, visitID, listingID, guestID, hostID, reason)
}

func NewVisitCancelledEvent(visitID, listingID, guestID, hostID, reason string) *VisitStatusEvent {
	return newVisitStatusEvent(EventTypeVisitCancelled, visitID, listingID, guestID, hostID, reason)
}

func newVisitStatusEvent(eventType, visitID, listingID, guestID, hostID, reason string) *VisitStatusEvent {
	return &VisitStatusEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"visit_id":   visitID,
				"listing_id": listingID,
				"guest_id":   guestID,
				"host_id":    hostID,
				"reason":     reason,
			},
		},
		VisitID:   visitID,
		ListingID: listingID,
		GuestID:   guestID,
		HostID:    hostID,
		Reason:    reason,
	}
}
