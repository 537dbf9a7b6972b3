// Package realtime delivers per-row "updated" notifications to subscribers that filter by entity id.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TopicPaymentIntents = "payment_intents"
	TopicVisitRequests  = "visit_requests"

	EventRowUpdated = "row_updated"
)

// Event carries the new snapshot of one row.
type Event struct {
	Topic string          `json:"topic"`
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Row   json.RawMessage `json:"row"`
	At    time.Time       `json:"at"`
}

// Decode unmarshals the row snapshot into v.
func (e Event) Decode(v any) error {
	if len(e.Row) == 0 {
		return fmt.Errorf("realtime event %s/%s has no row", e.Topic, e.ID)
	}
	return json.Unmarshal(e.Row, v)
}

// NewRowUpdated snapshots row for publication.
func NewRowUpdated(topic, id string, row any) (Event, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s row %s: %w", topic, id, err)
	}
	return Event{Topic: topic, ID: id, Type: EventRowUpdated, Row: raw, At: time.Now().UTC()}, nil
}

// Subscription must be closed explicitly. Events is closed after Close returns.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Source is the push side of status resolution.
type Source interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, topic, id string) (Subscription, error)
}

func key(topic, id string) string {
	return topic + "/" + id
}
