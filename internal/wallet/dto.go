package wallet

import (
	"time"

	walletmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/wallet"
)

type WalletResponse struct {
	RiderID           string     `json:"rider_id"`
	Balance           int64      `json:"balance"`
	TotalDeposited    int64      `json:"total_deposited"`
	TotalSpent        int64      `json:"total_spent"`
	Currency          string     `json:"currency"`
	LastTransactionAt *time.Time `json:"last_transaction_at,omitempty"`
}

func NewWalletResponse(w *walletmodel.Wallet, currency string) WalletResponse {
	return WalletResponse{
		RiderID:           w.RiderID,
		Balance:           w.Balance,
		TotalDeposited:    w.TotalDeposited,
		TotalSpent:        w.TotalSpent,
		Currency:          currency,
		LastTransactionAt: w.LastTransactionAt,
	}
}
