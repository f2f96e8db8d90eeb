package wallet

import (
	"time"
)

type DeltaKind string

const (
	DeltaCredit DeltaKind = "credit"
	DeltaDebit  DeltaKind = "debit"
)

// Wallet is the per-rider ledger summary. balance == total_deposited -
// total_spent at all times and never goes negative. Version is the
// optimistic concurrency token bumped on every apply.
type Wallet struct {
	ID                int64      `gorm:"primaryKey"`
	RiderID           string     `gorm:"column:rider_id;not null;uniqueIndex"`
	Balance           int64      `gorm:"column:balance;not null"`
	TotalDeposited    int64      `gorm:"column:total_deposited;not null"`
	TotalSpent        int64      `gorm:"column:total_spent;not null"`
	LastTransactionAt *time.Time `gorm:"column:last_transaction_at"`
	Version           int64      `gorm:"column:version;not null"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

func NewWallet(riderID string) *Wallet {
	now := time.Now().UTC()
	return &Wallet{
		RiderID:   riderID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Consistent reports whether the ledger summary satisfies its
// accounting invariant.
func (w *Wallet) Consistent() bool {
	return w.Balance == w.TotalDeposited-w.TotalSpent && w.Balance >= 0
}

// LedgerEntry is the idempotency guard: one row per applied delta,
// keyed by the idempotency key derived from the originating event.
// It is only ever inserted in the same transaction as the wallet
// mutation it records.
type LedgerEntry struct {
	ID             int64     `gorm:"primaryKey"`
	IdempotencyKey string    `gorm:"column:idempotency_key;not null;uniqueIndex"`
	RiderID        string    `gorm:"column:rider_id;not null;index"`
	OrderID        string    `gorm:"column:order_id"`
	Amount         int64     `gorm:"column:amount;not null"`
	Kind           DeltaKind `gorm:"column:kind;not null"`
	AppliedAt      time.Time `gorm:"column:applied_at"`
}

func (LedgerEntry) TableName() string {
	return "wallet_ledger_entries"
}
