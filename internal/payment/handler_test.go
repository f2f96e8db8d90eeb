package payment_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/ride-wallet/internal"
	walletmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/wallet"
	paymentPkg "github.com/frahmantamala/ride-wallet/internal/payment"
	"github.com/frahmantamala/ride-wallet/internal/paymentgateway"
	"github.com/frahmantamala/ride-wallet/internal/transport"
)

var _ = Describe("Payment handlers", func() {
	var (
		repo           *mockOrderRepository
		gateway        *mockGateway
		ledger         *mockLedger
		handler        *paymentPkg.Handler
		webhookHandler *paymentPkg.WebhookHandler
	)

	BeforeEach(func() {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		Expect(err).NotTo(HaveOccurred())

		repo = newMockOrderRepository()
		gateway = &mockGateway{nextOrderID: "gord_123"}
		ledger = newMockLedger()

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		service := paymentPkg.NewService(db, repo, gateway, ledger, nil, logger, paymentPkg.ServiceConfig{
			WebhookSecret:   testWebhookSecret,
			Currency:        "INR",
			MinAmount:       1,
			MaxAmount:       50000,
			ApplyMaxRetries: 3,
		})

		baseHandler := transport.NewBaseHandler(logger)
		handler = paymentPkg.NewHandler(baseHandler, service, logger)
		webhookHandler = paymentPkg.NewWebhookHandler(baseHandler, service, logger)
	})

	asRider := func(r *http.Request, riderID string) *http.Request {
		return r.WithContext(internal.ContextWithRiderID(r.Context(), riderID))
	}

	Describe("CreateOrder", func() {
		It("should return 201 with both order ids", func() {
			body, _ := json.Marshal(map[string]interface{}{"amount": 2500})
			req := asRider(httptest.NewRequest(http.MethodPost, "/api/v1/wallet/orders", bytes.NewReader(body)), "rider-1")
			rec := httptest.NewRecorder()

			handler.CreateOrder(rec, req)

			Expect(rec.Code).To(Equal(http.StatusCreated))

			var resp paymentPkg.CreateOrderResponse
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.OrderID).To(HavePrefix("ord_"))
			Expect(resp.GatewayOrderID).To(Equal("gord_123"))
			Expect(resp.Status).To(Equal("created"))
		})

		It("should return 400 for an out-of-range amount", func() {
			body, _ := json.Marshal(map[string]interface{}{"amount": 60000})
			req := asRider(httptest.NewRequest(http.MethodPost, "/api/v1/wallet/orders", bytes.NewReader(body)), "rider-1")
			rec := httptest.NewRecorder()

			handler.CreateOrder(rec, req)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("AMOUNT_OUT_OF_RANGE"))
		})

		It("should return 401 without a rider in context", func() {
			body, _ := json.Marshal(map[string]interface{}{"amount": 2500})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/wallet/orders", bytes.NewReader(body))
			rec := httptest.NewRecorder()

			handler.CreateOrder(rec, req)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("HandleGatewayCallback", func() {
		var gatewayOrderID string

		BeforeEach(func() {
			body, _ := json.Marshal(map[string]interface{}{"amount": 2500})
			req := asRider(httptest.NewRequest(http.MethodPost, "/api/v1/wallet/orders", bytes.NewReader(body)), "rider-1")
			rec := httptest.NewRecorder()
			handler.CreateOrder(rec, req)
			Expect(rec.Code).To(Equal(http.StatusCreated))
			gatewayOrderID = "gord_123"
		})

		postCallback := func(payload map[string]interface{}) *httptest.ResponseRecorder {
			body, _ := json.Marshal(payload)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payment/callback", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			webhookHandler.HandleGatewayCallback(rec, req)
			return rec
		}

		It("should return 200 and credit the wallet for a signed paid event", func() {
			rec := postCallback(map[string]interface{}{
				"gateway_order_id":   gatewayOrderID,
				"gateway_payment_id": "gpay_1",
				"signature":          paymentgateway.Sign(testWebhookSecret, gatewayOrderID, "gpay_1"),
				"event_status":       "paid",
			})

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(ledger.wallets["rider-1"].Balance).To(Equal(int64(2500)))
		})

		It("should return 401 for a bad signature", func() {
			rec := postCallback(map[string]interface{}{
				"gateway_order_id":   gatewayOrderID,
				"gateway_payment_id": "gpay_1",
				"signature":          "deadbeef",
				"event_status":       "paid",
			})

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(ledger.wallets).To(BeEmpty())
		})

		It("should return 404 for an unknown gateway order", func() {
			rec := postCallback(map[string]interface{}{
				"gateway_order_id":   "gord_missing",
				"gateway_payment_id": "gpay_1",
				"signature":          paymentgateway.Sign(testWebhookSecret, "gord_missing", "gpay_1"),
				"event_status":       "paid",
			})

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should return 503 with Retry-After when the apply keeps conflicting", func() {
			ledger.conflictTimes = 10

			rec := postCallback(map[string]interface{}{
				"gateway_order_id":   gatewayOrderID,
				"gateway_payment_id": "gpay_1",
				"signature":          paymentgateway.Sign(testWebhookSecret, gatewayOrderID, "gpay_1"),
				"event_status":       "paid",
			})

			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(rec.Header().Get("Retry-After")).To(Equal("1"))
		})
	})

	Describe("Spend", func() {
		It("should return 422 when the balance cannot cover the debit", func() {
			// fund with 50, then try to spend 80
			_, _, err := ledger.ApplyDeltaTx(nil, "rider-1", 50, walletmodel.DeltaCredit, "pay:seed", "ord_seed")
			Expect(err).NotTo(HaveOccurred())

			body, _ := json.Marshal(map[string]interface{}{"amount": 80})
			req := asRider(httptest.NewRequest(http.MethodPost, "/api/v1/wallet/spend", bytes.NewReader(body)), "rider-1")
			rec := httptest.NewRecorder()

			handler.Spend(rec, req)

			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(rec.Body.String()).To(ContainSubstring("INSUFFICIENT_BALANCE"))
			Expect(ledger.wallets["rider-1"].Balance).To(Equal(int64(50)))
		})
	})
})
