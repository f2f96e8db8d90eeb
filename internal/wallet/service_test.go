package wallet_test

import (
	"log/slog"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	apperrors "github.com/frahmantamala/ride-wallet/internal"
	walletmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/wallet"
	walletPkg "github.com/frahmantamala/ride-wallet/internal/wallet"
)

// Mock repository for testing
type mockWalletRepository struct {
	wallets       map[string]*walletmodel.Wallet
	appliedKeys   map[string]bool
	conflictTimes int
	getError      error
	applyError    error
}

func newMockWalletRepository() *mockWalletRepository {
	return &mockWalletRepository{
		wallets:     make(map[string]*walletmodel.Wallet),
		appliedKeys: make(map[string]bool),
	}
}

func (m *mockWalletRepository) GetByRiderID(riderID string) (*walletmodel.Wallet, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	w, exists := m.wallets[riderID]
	if !exists {
		return nil, gorm.ErrRecordNotFound
	}
	return w, nil
}

func (m *mockWalletRepository) ApplyDeltaTx(tx *gorm.DB, riderID string, amount int64, kind walletmodel.DeltaKind, idempotencyKey, orderID string) (*walletmodel.Wallet, bool, error) {
	if m.conflictTimes > 0 {
		m.conflictTimes--
		return nil, false, walletPkg.ErrVersionConflict
	}
	if m.applyError != nil {
		return nil, false, m.applyError
	}

	w, exists := m.wallets[riderID]
	if !exists {
		w = walletmodel.NewWallet(riderID)
		m.wallets[riderID] = w
	}

	if m.appliedKeys[idempotencyKey] {
		return w, false, nil
	}

	if kind == walletmodel.DeltaDebit {
		if w.Balance < amount {
			return nil, false, apperrors.ErrInsufficientBalance
		}
		w.Balance -= amount
		w.TotalSpent += amount
	} else {
		w.Balance += amount
		w.TotalDeposited += amount
	}
	w.Version++
	m.appliedKeys[idempotencyKey] = true
	return w, true, nil
}

var _ = Describe("WalletService", func() {
	var (
		db      *gorm.DB
		repo    *mockWalletRepository
		service *walletPkg.Service
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())

		repo = newMockWalletRepository()
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		service = walletPkg.NewService(db, repo, nil, logger, 3)
	})

	Describe("GetWallet", func() {
		It("should return an empty snapshot for a rider without a wallet", func() {
			w, err := service.GetWallet("rider-new")
			Expect(err).NotTo(HaveOccurred())

			Expect(w.RiderID).To(Equal("rider-new"))
			Expect(w.Balance).To(BeZero())
			Expect(w.TotalDeposited).To(BeZero())
			Expect(w.TotalSpent).To(BeZero())
		})

		It("should return the stored wallet when one exists", func() {
			_, err := service.ApplyDelta("rider-1", 4000, walletmodel.DeltaCredit, "pay:abc", "ord_1")
			Expect(err).NotTo(HaveOccurred())

			w, err := service.GetWallet("rider-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Balance).To(Equal(int64(4000)))
		})
	})

	Describe("ApplyDelta", func() {
		It("should credit and keep the balance consistent with the totals", func() {
			w, err := service.ApplyDelta("rider-1", 4000, walletmodel.DeltaCredit, "pay:abc", "ord_1")
			Expect(err).NotTo(HaveOccurred())

			Expect(w.Balance).To(Equal(int64(4000)))
			Expect(w.Consistent()).To(BeTrue())
		})

		It("should apply a key at most once", func() {
			_, err := service.ApplyDelta("rider-1", 4000, walletmodel.DeltaCredit, "pay:abc", "ord_1")
			Expect(err).NotTo(HaveOccurred())

			w, err := service.ApplyDelta("rider-1", 4000, walletmodel.DeltaCredit, "pay:abc", "ord_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Balance).To(Equal(int64(4000)))
		})

		It("should reject a debit beyond the balance", func() {
			_, err := service.ApplyDelta("rider-1", 50, walletmodel.DeltaCredit, "pay:abc", "ord_1")
			Expect(err).NotTo(HaveOccurred())

			_, err = service.ApplyDelta("rider-1", 80, walletmodel.DeltaDebit, "spend:ord_2", "ord_2")

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeInsufficientBalance))

			w, err := service.GetWallet("rider-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Balance).To(Equal(int64(50)))
		})

		It("should reject a non-positive amount", func() {
			_, err := service.ApplyDelta("rider-1", 0, walletmodel.DeltaCredit, "pay:abc", "ord_1")
			Expect(err).To(HaveOccurred())
		})

		It("should retry version conflicts before giving up", func() {
			repo.conflictTimes = 2

			w, err := service.ApplyDelta("rider-1", 100, walletmodel.DeltaCredit, "pay:abc", "ord_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Balance).To(Equal(int64(100)))
		})

		It("should surface a retryable conflict when retries are exhausted", func() {
			repo.conflictTimes = 10

			_, err := service.ApplyDelta("rider-1", 100, walletmodel.DeltaCredit, "pay:abc", "ord_1")

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodePersistenceConflict))
		})
	})
})
