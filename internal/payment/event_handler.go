package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/stay-payments/internal/core/events"
)

// EventHandler settles paid entities for intents resolved outside an awaiting request, such as by
// the provider callback or the reconciliation sweep.
type EventHandler struct {
	service *Service
	logger  *slog.Logger
}

func NewEventHandler(service *Service, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		service: service,
		logger:  logger,
	}
}

func (h *EventHandler) HandleIntentResolved(ctx context.Context, event events.Event) error {
	resolved, ok := event.(*events.IntentResolvedEvent)
	if !ok {
		h.logger.Error("invalid event type for intent resolved handler", "event_type", event.EventType())
		return fmt.Errorf("expected IntentResolvedEvent, got %T", event)
	}
	if payment.Status(resolved.Status) != payment.StatusSuccess {
		return nil
	}

	intent, err := h.service.ledger.Get(ctx, resolved.IntentID)
	if err != nil {
		return fmt.Errorf("load resolved intent %s: %w", resolved.IntentID, err)
	}
	if err := h.service.Settle(ctx, intent); err != nil {
		h.logger.Error("failed to settle paid entity",
			"error", err,
			"intent_id", intent.ID,
			"purpose", intent.Purpose,
			"related_entity_id", intent.RelatedEntityID,
			"event_id", resolved.EventID())
		return fmt.Errorf("settle %s %s: %w", intent.Purpose, intent.RelatedEntityID, err)
	}

	h.logger.Info("paid entity settled",
		"intent_id", intent.ID,
		"purpose", intent.Purpose,
		"related_entity_id", intent.RelatedEntityID,
		"event_id", resolved.EventID())
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeIntentResolved, h.HandleIntentResolved)

	h.logger.Info("payment event handlers registered",
		"handlers", []string{events.EventTypeIntentResolved})
}
