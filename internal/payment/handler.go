package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/ride-wallet/internal"
	paymentmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/payment"
	walletmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/wallet"
	"github.com/frahmantamala/ride-wallet/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	service *Service
	logger  *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		service:     service,
		logger:      logger,
	}
}

// CreateOrder handles POST /api/v1/wallet/orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	riderID := errors.RiderIDFromContext(r.Context())
	if riderID == "" {
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("CreateOrder: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), riderID, req.Amount, req.Currency)
	if err != nil {
		h.logger.Error("CreateOrder: service error", "error", err, "rider_id", riderID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, CreateOrderResponse{
		OrderID:        order.OrderID,
		GatewayOrderID: derefOrEmpty(order.GatewayOrderID),
		Amount:         order.Amount,
		Currency:       order.Currency,
		Status:         string(order.Status),
	})
}

// MarkAttempted handles POST /api/v1/wallet/orders/{orderID}/attempt
func (h *Handler) MarkAttempted(w http.ResponseWriter, r *http.Request) {
	riderID := errors.RiderIDFromContext(r.Context())
	if riderID == "" {
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		h.HandleError(w, errors.NewValidationError("orderID is required", errors.ErrCodeValidationFailed))
		return
	}

	order, err := h.service.MarkAttempted(riderID, orderID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewPaymentView(order))
}

// Spend handles POST /api/v1/wallet/spend
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	riderID := errors.RiderIDFromContext(r.Context())
	if riderID == "" {
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	var req SpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Spend: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	order, wallet, err := h.service.Spend(riderID, req.Amount)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, newSpendResponse(order, wallet))
}

// ListPayments handles GET /api/v1/wallet/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	riderID := errors.RiderIDFromContext(r.Context())
	if riderID == "" {
		h.HandleError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
		return
	}

	typeFilter := r.URL.Query().Get("type")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	orders, err := h.service.ListPayments(riderID, typeFilter, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	views := make([]PaymentView, 0, len(orders))
	for _, o := range orders {
		views = append(views, NewPaymentView(o))
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payments": views,
	})
}

type SpendResponse struct {
	Order   PaymentView `json:"order"`
	Balance int64       `json:"balance"`
}

func newSpendResponse(o *paymentmodel.PaymentOrder, w *walletmodel.Wallet) SpendResponse {
	return SpendResponse{
		Order:   NewPaymentView(o),
		Balance: w.Balance,
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
