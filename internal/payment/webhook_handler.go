package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"

	errors "github.com/frahmantamala/ride-wallet/internal"
	"github.com/frahmantamala/ride-wallet/internal/transport"
)

// WebhookHandler receives gateway callbacks. The route is
// unauthenticated; trust comes from the HMAC signature the service
// verifies before touching anything.
type WebhookHandler struct {
	*transport.BaseHandler
	service *Service
	logger  *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, service *Service, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		service:     service,
		logger:      logger,
	}
}

type CallbackResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"order_id"`
}

// HandleGatewayCallback handles POST /api/v1/payment/callback
func (h *WebhookHandler) HandleGatewayCallback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("invalid gateway callback body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	h.logger.Info("received gateway callback",
		"gateway_order_id", req.GatewayOrderID,
		"gateway_payment_id", req.GatewayPaymentID,
		"event_status", req.EventStatus)

	order, err := h.service.HandleGatewayCallback(&req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, CallbackResponse{
		Status:  string(order.Status),
		OrderID: order.OrderID,
	})
}
