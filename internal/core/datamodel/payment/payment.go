package payment

import (
	"time"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusAttempted Status = "attempted"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type Type string

const (
	TypeDeposit Type = "deposit"
	TypeSpend   Type = "spend"
	TypeRefund  Type = "refund"
)

// transitions lists the permitted next states. Terminal states have no
// entry: once paid, failed or cancelled, an order never moves again.
var transitions = map[Status][]Status{
	StatusCreated:   {StatusAttempted, StatusPaid, StatusFailed, StatusCancelled},
	StatusAttempted: {StatusPaid, StatusFailed, StatusCancelled},
}

func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCancelled
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NonTerminalStatuses is the guard list for conditional status updates.
var NonTerminalStatuses = []Status{StatusCreated, StatusAttempted}

// PaymentOrder is the durable record of one payment intent. Status and
// the gateway identifier fields only ever move forward; everything else
// is immutable after creation.
type PaymentOrder struct {
	ID               int64      `gorm:"primaryKey"`
	OrderID          string     `gorm:"column:order_id;not null;uniqueIndex"`
	GatewayOrderID   *string    `gorm:"column:gateway_order_id;uniqueIndex"`
	GatewayPaymentID *string    `gorm:"column:gateway_payment_id"`
	GatewaySignature *string    `gorm:"column:gateway_signature"`
	RiderID          string     `gorm:"column:rider_id;not null;index"`
	Amount           int64      `gorm:"column:amount;not null"`
	Currency         string     `gorm:"column:currency;not null"`
	Status           Status     `gorm:"column:status;not null"`
	Type             Type       `gorm:"column:type;not null"`
	PaidAt           *time.Time `gorm:"column:paid_at"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
}

func (PaymentOrder) TableName() string {
	return "payment_orders"
}

func (o *PaymentOrder) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// NewPaymentOrder builds a gateway-backed order in its initial state.
// Invariants (status created, no payment id, no paid_at) are enforced
// here rather than through column defaults.
func NewPaymentOrder(orderID, gatewayOrderID, riderID string, amount int64, currency string, orderType Type) *PaymentOrder {
	now := time.Now().UTC()
	return &PaymentOrder{
		OrderID:        orderID,
		GatewayOrderID: &gatewayOrderID,
		RiderID:        riderID,
		Amount:         amount,
		Currency:       currency,
		Status:         StatusCreated,
		Type:           orderType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NewSpendOrder builds a wallet-funded order. Spend orders never touch
// the gateway, so no gateway order id is assigned.
func NewSpendOrder(orderID, riderID string, amount int64, currency string) *PaymentOrder {
	now := time.Now().UTC()
	return &PaymentOrder{
		OrderID:   orderID,
		RiderID:   riderID,
		Amount:    amount,
		Currency:  currency,
		Status:    StatusCreated,
		Type:      TypeSpend,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
