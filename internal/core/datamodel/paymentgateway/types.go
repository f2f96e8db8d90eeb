package paymentgateway

import (
	"errors"
)

type EventStatus string

const (
	EventStatusPaid   EventStatus = "paid"
	EventStatusFailed EventStatus = "failed"
)

// CreateOrderRequest is the payload sent to the gateway when
// registering a payment intent.
type CreateOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

func (r *CreateOrderRequest) Validate() error {
	if r.Amount <= 0 {
		return errors.New("amount must be greater than 0")
	}
	if r.Currency == "" {
		return errors.New("currency is required")
	}
	return nil
}

type CreateOrderData struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type CreateOrderResponse struct {
	Data CreateOrderData `json:"data"`
}

// CallbackPayload is the webhook body the gateway posts after a payment
// attempt settles. Signature covers "<gateway_order_id>|<gateway_payment_id>".
type CallbackPayload struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
	EventStatus      string `json:"event_status"`
}
