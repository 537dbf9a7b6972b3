package notification

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/frahmantamala/stay-payments/internal/core/events"
)

type EventHandler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewEventHandler(dispatcher Dispatcher, logger *slog.Logger) *EventHandler {
	return &EventHandler{dispatcher: dispatcher, logger: logger}
}

func (h *EventHandler) HandleIntentResolved(ctx context.Context, event events.Event) error {
	resolved, ok := event.(*events.IntentResolvedEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}

	n := Notification{
		UserID:   resolved.PayerID,
		DeepLink: "stay://payments/" + resolved.IntentID,
	}
	switch resolved.Status {
	case "success":
		n.Title = "Payment received"
		n.Message = fmt.Sprintf("Your %s of %d %s was received.", describe(resolved.Purpose), resolved.Amount, resolved.Currency)
	case "failed":
		n.Title = "Payment failed"
		n.Message = fmt.Sprintf("Your %s did not go through.", describe(resolved.Purpose))
		if resolved.FailureReason != "" {
			n.Message += " " + resolved.FailureReason
		}
	default:
		return nil
	}
	return h.send(ctx, n)
}

func (h *EventHandler) HandleVisitConfirmed(ctx context.Context, event events.Event) error {
	changed, ok := event.(*events.VisitStatusEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}
	link := "stay://visits/" + changed.VisitID
	return multierr.Combine(
		h.send(ctx, Notification{UserID: changed.GuestID, Title: "Visit confirmed", Message: "Your visit request was confirmed.", DeepLink: link}),
		h.send(ctx, Notification{UserID: changed.HostID, Title: "Visit confirmed", Message: "A visit of your listing is confirmed.", DeepLink: link}),
	)
}

func (h *EventHandler) HandleVisitCancelled(ctx context.Context, event events.Event) error {
	changed, ok := event.(*events.VisitStatusEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", event)
	}
	message := "The visit was cancelled."
	if changed.Reason != "" {
		message = "The visit was cancelled: " + changed.Reason
	}
	link := "stay://visits/" + changed.VisitID
	return multierr.Combine(
		h.send(ctx, Notification{UserID: changed.GuestID, Title: "Visit cancelled", Message: message, DeepLink: link}),
		h.send(ctx, Notification{UserID: changed.HostID, Title: "Visit cancelled", Message: message, DeepLink: link}),
	)
}

func (h *EventHandler) send(ctx context.Context, n Notification) error {
	if err := h.dispatcher.Dispatch(ctx, n); err != nil {
		h.logger.Warn("notification not delivered", "user_id", n.UserID, "title", n.Title, "error", err)
		return err
	}
	return nil
}

func RegisterEventHandlers(bus *events.EventBus, handler *EventHandler) {
	bus.Subscribe(events.EventTypeIntentResolved, handler.HandleIntentResolved)
	bus.Subscribe(events.EventTypeVisitConfirmed, handler.HandleVisitConfirmed)
	bus.Subscribe(events.EventTypeVisitCancelled, handler.HandleVisitCancelled)
}

func describe(purpose string) string {
	switch purpose {
	case "deposit_payment":
		return "deposit"
	case "remainder_payment":
		return "remaining balance"
	case "visit_fee":
		return "visit fee"
	}
	return "payment"
}
