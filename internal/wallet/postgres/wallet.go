package postgres

import (
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/frahmantamala/ride-wallet/internal"
	walletmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/wallet"
	walletpkg "github.com/frahmantamala/ride-wallet/internal/wallet"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) walletpkg.RepositoryAPI {
	return &WalletRepository{
		db: db,
	}
}

func (r *WalletRepository) GetByRiderID(riderID string) (*walletmodel.Wallet, error) {
	return getWallet(r.db, riderID)
}

// ApplyDeltaTx performs the guarded read-modify-write inside the given
// transaction:
//
//  1. an existing guard entry for the key means the delta was already
//     applied; return the current wallet untouched (replay safety);
//  2. load or lazily create the rider's wallet;
//  3. mutate the summary, rejecting debits that would go negative;
//  4. compare-and-swap on the version column;
//  5. insert the guard entry.
//
// Losing the CAS or the guard-key race returns ErrVersionConflict so
// the caller can retry the whole transaction from a fresh read.
func (r *WalletRepository) ApplyDeltaTx(tx *gorm.DB, riderID string, amount int64, kind walletmodel.DeltaKind, idempotencyKey, orderID string) (*walletmodel.Wallet, bool, error) {
	var existing walletmodel.LedgerEntry
	err := tx.Where("idempotency_key = ?", idempotencyKey).First(&existing).Error
	if err == nil {
		w, err := getWallet(tx, riderID)
		if err != nil {
			return nil, false, err
		}
		return w, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	w, err := getWallet(tx, riderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		w = walletmodel.NewWallet(riderID)
		if createErr := tx.Create(w).Error; createErr != nil {
			// concurrent first delta for the same rider
			return nil, false, walletpkg.ErrVersionConflict
		}
	} else if err != nil {
		return nil, false, err
	}

	switch kind {
	case walletmodel.DeltaCredit:
		w.Balance += amount
		w.TotalDeposited += amount
	case walletmodel.DeltaDebit:
		if w.Balance-amount < 0 {
			return nil, false, apperrors.ErrInsufficientBalance
		}
		w.Balance -= amount
		w.TotalSpent += amount
	}

	now := time.Now().UTC()
	res := tx.Model(&walletmodel.Wallet{}).
		Where("rider_id = ? AND version = ?", riderID, w.Version).
		Updates(map[string]interface{}{
			"balance":             w.Balance,
			"total_deposited":     w.TotalDeposited,
			"total_spent":         w.TotalSpent,
			"last_transaction_at": now,
			"version":             w.Version + 1,
			"updated_at":          now,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, false, walletpkg.ErrVersionConflict
	}

	w.Version++
	w.LastTransactionAt = &now
	w.UpdatedAt = now

	entry := &walletmodel.LedgerEntry{
		IdempotencyKey: idempotencyKey,
		RiderID:        riderID,
		OrderID:        orderID,
		Amount:         amount,
		Kind:           kind,
		AppliedAt:      now,
	}
	if err := tx.Create(entry).Error; err != nil {
		// guard key landed between our check and now; retry will see it
		return nil, false, walletpkg.ErrVersionConflict
	}

	return w, true, nil
}

func getWallet(db *gorm.DB, riderID string) (*walletmodel.Wallet, error) {
	var w walletmodel.Wallet
	if err := db.Where("rider_id = ?", riderID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}
