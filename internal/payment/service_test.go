package payment_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	apperrors "github.com/frahmantamala/ride-wallet/internal"
	paymentmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/payment"
	walletmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/wallet"
	paymentPkg "github.com/frahmantamala/ride-wallet/internal/payment"
	"github.com/frahmantamala/ride-wallet/internal/paymentgateway"
	walletPkg "github.com/frahmantamala/ride-wallet/internal/wallet"
)

const testWebhookSecret = "test-webhook-secret"

// Mock repository for testing
type mockOrderRepository struct {
	orders      map[string]*paymentmodel.PaymentOrder
	nextID      int64
	createError error
	getError    error
	markError   error
}

func newMockOrderRepository() *mockOrderRepository {
	return &mockOrderRepository{
		orders: make(map[string]*paymentmodel.PaymentOrder),
	}
}

func (m *mockOrderRepository) Create(o *paymentmodel.PaymentOrder) error {
	if m.createError != nil {
		return m.createError
	}
	m.nextID++
	o.ID = m.nextID
	m.orders[o.OrderID] = o
	return nil
}

func (m *mockOrderRepository) GetByOrderID(orderID string) (*paymentmodel.PaymentOrder, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	o, exists := m.orders[orderID]
	if !exists {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepository) GetByGatewayOrderID(gatewayOrderID string) (*paymentmodel.PaymentOrder, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	for _, o := range m.orders {
		if o.GatewayOrderID != nil && *o.GatewayOrderID == gatewayOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockOrderRepository) ListByRider(riderID string, orderType paymentmodel.Type, limit, offset int) ([]*paymentmodel.PaymentOrder, error) {
	var result []*paymentmodel.PaymentOrder
	for _, o := range m.orders {
		if o.RiderID != riderID {
			continue
		}
		if orderType != "" && o.Type != orderType {
			continue
		}
		cp := *o
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockOrderRepository) findByID(id int64) *paymentmodel.PaymentOrder {
	for _, o := range m.orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (m *mockOrderRepository) markTerminal(id int64, status paymentmodel.Status, gatewayPaymentID, gatewaySignature *string, paidAt *time.Time) (bool, error) {
	if m.markError != nil {
		return false, m.markError
	}
	o := m.findByID(id)
	if o == nil || o.IsTerminal() {
		return false, nil
	}
	o.Status = status
	o.PaidAt = paidAt
	if gatewayPaymentID != nil {
		o.GatewayPaymentID = gatewayPaymentID
	}
	if gatewaySignature != nil {
		o.GatewaySignature = gatewaySignature
	}
	return true, nil
}

func (m *mockOrderRepository) MarkAttempted(id int64) (bool, error) {
	if m.markError != nil {
		return false, m.markError
	}
	o := m.findByID(id)
	if o == nil || o.Status != paymentmodel.StatusCreated {
		return false, nil
	}
	o.Status = paymentmodel.StatusAttempted
	return true, nil
}

func (m *mockOrderRepository) MarkPaidTx(tx *gorm.DB, id int64, gatewayPaymentID, gatewaySignature *string, paidAt time.Time) (bool, error) {
	return m.markTerminal(id, paymentmodel.StatusPaid, gatewayPaymentID, gatewaySignature, &paidAt)
}

func (m *mockOrderRepository) MarkFailedTx(tx *gorm.DB, id int64, gatewayPaymentID, gatewaySignature *string) (bool, error) {
	return m.markTerminal(id, paymentmodel.StatusFailed, gatewayPaymentID, gatewaySignature, nil)
}

func (m *mockOrderRepository) MarkCancelled(id int64) (bool, error) {
	return m.markTerminal(id, paymentmodel.StatusCancelled, nil, nil, nil)
}

func (m *mockOrderRepository) FindStaleBefore(cutoff time.Time, limit int) ([]*paymentmodel.PaymentOrder, error) {
	var result []*paymentmodel.PaymentOrder
	for _, o := range m.orders {
		if !o.IsTerminal() && o.CreatedAt.Before(cutoff) {
			cp := *o
			result = append(result, &cp)
		}
	}
	return result, nil
}

// Mock gateway client
type mockGateway struct {
	nextOrderID string
	createError error
	calls       int
}

func (m *mockGateway) CreateRemoteOrder(ctx context.Context, amount int64, currency, receipt string) (string, error) {
	m.calls++
	if m.createError != nil {
		return "", m.createError
	}
	return m.nextOrderID, nil
}

// Mock wallet ledger with idempotency guard semantics
type mockLedger struct {
	wallets       map[string]*walletmodel.Wallet
	appliedKeys   map[string]bool
	conflictTimes int
	applyError    error
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		wallets:     make(map[string]*walletmodel.Wallet),
		appliedKeys: make(map[string]bool),
	}
}

func (m *mockLedger) ApplyDeltaTx(tx *gorm.DB, riderID string, amount int64, kind walletmodel.DeltaKind, idempotencyKey, orderID string) (*walletmodel.Wallet, bool, error) {
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
	m.appliedKeys[idempotencyKey] = true
	return w, true, nil
}

var _ = Describe("PaymentService", func() {
	var (
		db      *gorm.DB
		repo    *mockOrderRepository
		gateway *mockGateway
		ledger  *mockLedger
		service *paymentPkg.Service
	)

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())

		repo = newMockOrderRepository()
		gateway = &mockGateway{nextOrderID: "gord_123"}
		ledger = newMockLedger()

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		service = paymentPkg.NewService(db, repo, gateway, ledger, nil, logger, paymentPkg.ServiceConfig{
			WebhookSecret:   testWebhookSecret,
			Currency:        "INR",
			MinAmount:       1,
			MaxAmount:       50000,
			ApplyMaxRetries: 3,
		})
	})

	signedCallback := func(gatewayOrderID, gatewayPaymentID, eventStatus string) *paymentPkg.CallbackRequest {
		return &paymentPkg.CallbackRequest{
			GatewayOrderID:   gatewayOrderID,
			GatewayPaymentID: gatewayPaymentID,
			Signature:        paymentgateway.Sign(testWebhookSecret, gatewayOrderID, gatewayPaymentID),
			EventStatus:      eventStatus,
		}
	}

	Describe("CreateOrder", func() {
		It("should register the order with the gateway and persist it as created", func() {
			order, err := service.CreateOrder(context.Background(), "rider-1", 5000, "INR")
			Expect(err).NotTo(HaveOccurred())

			Expect(order.OrderID).To(HavePrefix("ord_"))
			Expect(*order.GatewayOrderID).To(Equal("gord_123"))
			Expect(order.Status).To(Equal(paymentmodel.StatusCreated))
			Expect(order.Type).To(Equal(paymentmodel.TypeDeposit))
			Expect(gateway.calls).To(Equal(1))
			Expect(ledger.appliedKeys).To(BeEmpty())
		})

		It("should reject amounts above the maximum without calling the gateway", func() {
			// Given: the maximum order amount is 50000
			_, err := service.CreateOrder(context.Background(), "rider-1", 60000, "INR")

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeAmountOutOfRange))
			Expect(gateway.calls).To(BeZero())
			Expect(repo.orders).To(BeEmpty())
		})

		It("should reject a zero amount", func() {
			_, err := service.CreateOrder(context.Background(), "rider-1", 0, "INR")

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeAmountOutOfRange))
		})

		It("should surface a gateway failure without persisting an order", func() {
			gateway.createError = errors.New("connection refused")

			_, err := service.CreateOrder(context.Background(), "rider-1", 5000, "INR")

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeGatewayUnavailable))
			Expect(repo.orders).To(BeEmpty())
		})
	})

	Describe("HandleGatewayCallback", func() {
		var order *paymentmodel.PaymentOrder

		BeforeEach(func() {
			var err error
			order, err = service.CreateOrder(context.Background(), "rider-1", 2500, "INR")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should mark the order paid and credit the wallet exactly once", func() {
			result, err := service.HandleGatewayCallback(signedCallback("gord_123", "gpay_9", "paid"))
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Status).To(Equal(paymentmodel.StatusPaid))
			Expect(result.PaidAt).NotTo(BeNil())
			Expect(*result.GatewayPaymentID).To(Equal("gpay_9"))

			w := ledger.wallets["rider-1"]
			Expect(w.Balance).To(Equal(int64(2500)))
			Expect(w.TotalDeposited).To(Equal(int64(2500)))
		})

		It("should treat a replayed paid callback as a no-op", func() {
			cb := signedCallback("gord_123", "gpay_9", "paid")

			_, err := service.HandleGatewayCallback(cb)
			Expect(err).NotTo(HaveOccurred())

			result, err := service.HandleGatewayCallback(cb)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(paymentmodel.StatusPaid))

			// balance unchanged after the replay
			Expect(ledger.wallets["rider-1"].Balance).To(Equal(int64(2500)))
		})

		It("should reject a conflicting status on a settled order", func() {
			_, err := service.HandleGatewayCallback(signedCallback("gord_123", "gpay_9", "paid"))
			Expect(err).NotTo(HaveOccurred())

			_, err = service.HandleGatewayCallback(signedCallback("gord_123", "gpay_9", "failed"))
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeInvalidTransition))
		})

		It("should reject an unknown gateway order id", func() {
			_, err := service.HandleGatewayCallback(signedCallback("gord_missing", "gpay_9", "paid"))

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeUnknownOrder))
		})

		It("should reject a tampered signature and leave both stores untouched", func() {
			cb := signedCallback("gord_123", "gpay_9", "paid")
			cb.Signature = "deadbeef"

			_, err := service.HandleGatewayCallback(cb)

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeSignatureInvalid))

			fresh, _ := repo.GetByOrderID(order.OrderID)
			Expect(fresh.Status).To(Equal(paymentmodel.StatusCreated))
			Expect(ledger.wallets).To(BeEmpty())
		})

		It("should mark the order failed without touching the wallet", func() {
			result, err := service.HandleGatewayCallback(signedCallback("gord_123", "gpay_9", "failed"))
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Status).To(Equal(paymentmodel.StatusFailed))
			Expect(ledger.wallets).To(BeEmpty())
		})

		It("should retry on a version conflict and eventually succeed", func() {
			ledger.conflictTimes = 2

			result, err := service.HandleGatewayCallback(signedCallback("gord_123", "gpay_9", "paid"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(paymentmodel.StatusPaid))
		})

		It("should surface a retryable conflict when retries are exhausted", func() {
			ledger.conflictTimes = 10

			_, err := service.HandleGatewayCallback(signedCallback("gord_123", "gpay_9", "paid"))

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodePersistenceConflict))
			Expect(appErr.StatusCode).To(Equal(503))
		})
	})

	Describe("Spend", func() {
		BeforeEach(func() {
			// fund the wallet with a settled deposit of 5000
			_, err := service.CreateOrder(context.Background(), "rider-1", 5000, "INR")
			Expect(err).NotTo(HaveOccurred())
			_, err = service.HandleGatewayCallback(signedCallback("gord_123", "gpay_1", "paid"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should debit the wallet and settle the spend order in one step", func() {
			order, w, err := service.Spend("rider-1", 3000)
			Expect(err).NotTo(HaveOccurred())

			Expect(order.Status).To(Equal(paymentmodel.StatusPaid))
			Expect(order.Type).To(Equal(paymentmodel.TypeSpend))
			Expect(w.Balance).To(Equal(int64(2000)))
			Expect(w.TotalSpent).To(Equal(int64(3000)))
		})

		It("should reject a debit larger than the balance and mark the order failed", func() {
			// Given: balance is 5000
			_, _, err := service.Spend("rider-1", 8000)

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeInsufficientBalance))

			// wallet untouched, order recorded as failed for audit
			Expect(ledger.wallets["rider-1"].Balance).To(Equal(int64(5000)))

			orders, _ := service.ListPayments("rider-1", "spend", 20, 0)
			Expect(orders).To(HaveLen(1))
			Expect(orders[0].Status).To(Equal(paymentmodel.StatusFailed))
		})

		It("should reject amounts outside the configured bounds", func() {
			_, _, err := service.Spend("rider-1", 60000)

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeAmountOutOfRange))
		})
	})

	Describe("MarkAttempted", func() {
		var order *paymentmodel.PaymentOrder

		BeforeEach(func() {
			var err error
			order, err = service.CreateOrder(context.Background(), "rider-1", 2500, "INR")
			Expect(err).NotTo(HaveOccurred())
		})

		It("should move a created order to attempted", func() {
			result, err := service.MarkAttempted("rider-1", order.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(paymentmodel.StatusAttempted))
		})

		It("should be idempotent for an already attempted order", func() {
			_, err := service.MarkAttempted("rider-1", order.OrderID)
			Expect(err).NotTo(HaveOccurred())

			result, err := service.MarkAttempted("rider-1", order.OrderID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal(paymentmodel.StatusAttempted))
		})

		It("should reject the attempt mark on a settled order", func() {
			_, err := service.HandleGatewayCallback(signedCallback("gord_123", "gpay_9", "paid"))
			Expect(err).NotTo(HaveOccurred())

			_, err = service.MarkAttempted("rider-1", order.OrderID)
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeInvalidTransition))
		})

		It("should hide another rider's order", func() {
			_, err := service.MarkAttempted("rider-2", order.OrderID)

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeOrderNotFound))
		})
	})

	Describe("ListPayments", func() {
		It("should reject an unknown type filter", func() {
			_, err := service.ListPayments("rider-1", "bogus", 20, 0)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("CancelStale", func() {
		It("should cancel only non-terminal orders older than the cutoff", func() {
			stale, err := service.CreateOrder(context.Background(), "rider-1", 1000, "INR")
			Expect(err).NotTo(HaveOccurred())
			repo.orders[stale.OrderID].CreatedAt = time.Now().Add(-2 * time.Hour)

			gateway.nextOrderID = "gord_456"
			settled, err := service.CreateOrder(context.Background(), "rider-1", 1000, "INR")
			Expect(err).NotTo(HaveOccurred())
			repo.orders[settled.OrderID].CreatedAt = time.Now().Add(-2 * time.Hour)
			_, err = service.HandleGatewayCallback(signedCallback("gord_456", "gpay_2", "paid"))
			Expect(err).NotTo(HaveOccurred())

			cancelled, err := service.CancelStale(time.Now().Add(-time.Hour), 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(cancelled).To(Equal(1))

			fresh, _ := repo.GetByOrderID(stale.OrderID)
			Expect(fresh.Status).To(Equal(paymentmodel.StatusCancelled))

			fresh, _ = repo.GetByOrderID(settled.OrderID)
			Expect(fresh.Status).To(Equal(paymentmodel.StatusPaid))
		})
	})
})

var _ = Describe("PaymentOrder state machine", func() {
	It("should allow only forward transitions", func() {
		Expect(paymentmodel.StatusCreated.CanTransitionTo(paymentmodel.StatusAttempted)).To(BeTrue())
		Expect(paymentmodel.StatusAttempted.CanTransitionTo(paymentmodel.StatusPaid)).To(BeTrue())
		Expect(paymentmodel.StatusAttempted.CanTransitionTo(paymentmodel.StatusCancelled)).To(BeTrue())
		Expect(paymentmodel.StatusPaid.CanTransitionTo(paymentmodel.StatusFailed)).To(BeFalse())
		Expect(paymentmodel.StatusFailed.CanTransitionTo(paymentmodel.StatusPaid)).To(BeFalse())
		Expect(paymentmodel.StatusCancelled.CanTransitionTo(paymentmodel.StatusAttempted)).To(BeFalse())
	})

	It("should mark paid, failed and cancelled as terminal", func() {
		for _, s := range []paymentmodel.Status{paymentmodel.StatusPaid, paymentmodel.StatusFailed, paymentmodel.StatusCancelled} {
			Expect(s.IsTerminal()).To(BeTrue(), fmt.Sprintf("expected %s to be terminal", s))
		}
		Expect(paymentmodel.StatusCreated.IsTerminal()).To(BeFalse())
		Expect(paymentmodel.StatusAttempted.IsTerminal()).To(BeFalse())
	})
})
