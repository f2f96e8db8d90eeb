package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeOrderPaid      = "payment.order.paid"
	EventTypeOrderFailed    = "payment.order.failed"
	EventTypeOrderCancelled = "payment.order.cancelled"
	EventTypeWalletCredited = "wallet.credited"
	EventTypeWalletDebited  = "wallet.debited"
)

type OrderPaidEvent struct {
	BaseEvent
	OrderID          string `json:"order_id"`
	RiderID          string `json:"rider_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	GatewayPaymentID string `json:"gateway_payment_id"`
}

func NewOrderPaidEvent(orderID, riderID string, amount int64, currency, gatewayPaymentID string) *OrderPaidEvent {
	return &OrderPaidEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderPaid,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id":           orderID,
				"rider_id":           riderID,
				"amount":             amount,
				"currency":           currency,
				"gateway_payment_id": gatewayPaymentID,
			},
		},
		OrderID:          orderID,
		RiderID:          riderID,
		Amount:           amount,
		Currency:         currency,
		GatewayPaymentID: gatewayPaymentID,
	}
}

type OrderFailedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	RiderID string `json:"rider_id"`
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason"`
}

func NewOrderFailedEvent(orderID, riderID string, amount int64, reason string) *OrderFailedEvent {
	return &OrderFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id": orderID,
				"rider_id": riderID,
				"amount":   amount,
				"reason":   reason,
			},
		},
		OrderID: orderID,
		RiderID: riderID,
		Amount:  amount,
		Reason:  reason,
	}
}

type OrderCancelledEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	RiderID string `json:"rider_id"`
}

func NewOrderCancelledEvent(orderID, riderID string) *OrderCancelledEvent {
	return &OrderCancelledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderCancelled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"order_id": orderID,
				"rider_id": riderID,
			},
		},
		OrderID: orderID,
		RiderID: riderID,
	}
}

type WalletAppliedEvent struct {
	BaseEvent
	RiderID        string `json:"rider_id"`
	Amount         int64  `json:"amount"`
	Balance        int64  `json:"balance"`
	IdempotencyKey string `json:"idempotency_key"`
}

func newWalletAppliedEvent(eventType, riderID string, amount, balance int64, idempotencyKey string) *WalletAppliedEvent {
	return &WalletAppliedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"rider_id":        riderID,
				"amount":          amount,
				"balance":         balance,
				"idempotency_key": idempotencyKey,
			},
		},
		RiderID:        riderID,
		Amount:         amount,
		Balance:        balance,
		IdempotencyKey: idempotencyKey,
	}
}

func NewWalletCreditedEvent(riderID string, amount, balance int64, idempotencyKey string) *WalletAppliedEvent {
	return newWalletAppliedEvent(EventTypeWalletCredited, riderID, amount, balance, idempotencyKey)
}

func NewWalletDebitedEvent(riderID string, amount, balance int64, idempotencyKey string) *WalletAppliedEvent {
	return newWalletAppliedEvent(EventTypeWalletDebited, riderID, amount, balance, idempotencyKey)
}
