package payment

import (
	"time"

	"github.com/frahmantamala/ride-wallet/internal/core/common/validation"
	paymentmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/payment"
)

// CreateOrderRequest is the rider-facing payload to open a deposit order.
type CreateOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

func (r *CreateOrderRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", r.Amount).Required()
	validator.Field("currency", r.Currency).MaxLength(3)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type CreateOrderResponse struct {
	OrderID        string `json:"order_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
}

// SpendRequest debits the rider's wallet, e.g. paying a ride fare.
type SpendRequest struct {
	Amount int64 `json:"amount"`
}

func (r *SpendRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount", r.Amount).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// CallbackRequest is the inbound gateway webhook payload.
type CallbackRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
	EventStatus      string `json:"event_status"`
}

func (r *CallbackRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("gateway_order_id", r.GatewayOrderID).Required()
	validator.Field("gateway_payment_id", r.GatewayPaymentID).Required()
	validator.Field("signature", r.Signature).Required()
	validator.Field("event_status", r.EventStatus).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// PaymentView is the rider-facing snapshot of an order.
type PaymentView struct {
	OrderID          string     `json:"order_id"`
	GatewayOrderID   *string    `json:"gateway_order_id,omitempty"`
	GatewayPaymentID *string    `json:"gateway_payment_id,omitempty"`
	Amount           int64      `json:"amount"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	Type             string     `json:"type"`
	PaidAt           *time.Time `json:"paid_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func NewPaymentView(o *paymentmodel.PaymentOrder) PaymentView {
	return PaymentView{
		OrderID:          o.OrderID,
		GatewayOrderID:   o.GatewayOrderID,
		GatewayPaymentID: o.GatewayPaymentID,
		Amount:           o.Amount,
		Currency:         o.Currency,
		Status:           string(o.Status),
		Type:             string(o.Type),
		PaidAt:           o.PaidAt,
		CreatedAt:        o.CreatedAt,
	}
}
