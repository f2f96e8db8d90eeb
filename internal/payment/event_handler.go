package payment

import (
	"context"
	"log/slog"

	"github.com/frahmantamala/ride-wallet/internal/core/events"
)

// AuditEventHandler subscribes to payment and wallet events and writes
// a structured audit trail. Kept separate from the request path so
// reconciliation never waits on it.
type AuditEventHandler struct {
	logger *slog.Logger
}

func NewAuditEventHandler(logger *slog.Logger) *AuditEventHandler {
	return &AuditEventHandler{logger: logger}
}

func (h *AuditEventHandler) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeOrderPaid, h.handle)
	bus.Subscribe(events.EventTypeOrderFailed, h.handle)
	bus.Subscribe(events.EventTypeOrderCancelled, h.handle)
	bus.Subscribe(events.EventTypeWalletCredited, h.handle)
	bus.Subscribe(events.EventTypeWalletDebited, h.handle)
}

func (h *AuditEventHandler) handle(ctx context.Context, event events.Event) error {
	h.logger.Info("audit",
		"event_type", event.EventType(),
		"event_id", event.EventID(),
		"occurred_at", event.OccurredAt())
	return nil
}
