package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/frahmantamala/ride-wallet/internal"
	"github.com/frahmantamala/ride-wallet/internal/core/common/validation"
	paymentmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/payment"
	walletmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/wallet"
	"github.com/frahmantamala/ride-wallet/internal/core/events"
	"github.com/frahmantamala/ride-wallet/internal/paymentgateway"
	walletpkg "github.com/frahmantamala/ride-wallet/internal/wallet"
)

// errAlreadyTerminal flags that a concurrent delivery won the status
// transition; the caller re-reads and answers idempotently.
var errAlreadyTerminal = errors.New("order already terminal")

// RepositoryAPI is the persistence contract for payment orders. The
// Mark* methods are conditional updates guarded by the non-terminal
// status list and report whether the row actually moved.
type RepositoryAPI interface {
	Create(o *paymentmodel.PaymentOrder) error
	GetByOrderID(orderID string) (*paymentmodel.PaymentOrder, error)
	GetByGatewayOrderID(gatewayOrderID string) (*paymentmodel.PaymentOrder, error)
	ListByRider(riderID string, orderType paymentmodel.Type, limit, offset int) ([]*paymentmodel.PaymentOrder, error)
	MarkAttempted(id int64) (bool, error)
	MarkPaidTx(tx *gorm.DB, id int64, gatewayPaymentID, gatewaySignature *string, paidAt time.Time) (bool, error)
	MarkFailedTx(tx *gorm.DB, id int64, gatewayPaymentID, gatewaySignature *string) (bool, error)
	MarkCancelled(id int64) (bool, error)
	FindStaleBefore(cutoff time.Time, limit int) ([]*paymentmodel.PaymentOrder, error)
}

// GatewayAPI registers payment intents with the external gateway.
type GatewayAPI interface {
	CreateRemoteOrder(ctx context.Context, amount int64, currency, receipt string) (string, error)
}

// WalletLedger is the slice of the wallet repository the reconciliation
// engine composes into its own transaction.
type WalletLedger interface {
	ApplyDeltaTx(tx *gorm.DB, riderID string, amount int64, kind walletmodel.DeltaKind, idempotencyKey, orderID string) (*walletmodel.Wallet, bool, error)
}

type Service struct {
	db            *gorm.DB
	repo          RepositoryAPI
	gateway       GatewayAPI
	ledger        WalletLedger
	eventBus      *events.EventBus
	logger        *slog.Logger
	webhookSecret string

	currency   string
	minAmount  int64
	maxAmount  int64
	maxRetries int
}

type ServiceConfig struct {
	WebhookSecret   string
	Currency        string
	MinAmount       int64
	MaxAmount       int64
	ApplyMaxRetries int
}

func NewService(db *gorm.DB, repo RepositoryAPI, gateway GatewayAPI, ledger WalletLedger, eventBus *events.EventBus, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.ApplyMaxRetries < 1 {
		cfg.ApplyMaxRetries = 3
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Service{
		db:            db,
		repo:          repo,
		gateway:       gateway,
		ledger:        ledger,
		eventBus:      eventBus,
		logger:        logger,
		webhookSecret: cfg.WebhookSecret,
		currency:      cfg.Currency,
		minAmount:     cfg.MinAmount,
		maxAmount:     cfg.MaxAmount,
		maxRetries:    cfg.ApplyMaxRetries,
	}
}

// CreateOrder registers a deposit intent with the gateway and persists
// the local order in its initial state. No wallet effect happens here.
func (s *Service) CreateOrder(ctx context.Context, riderID string, amount int64, currency string) (*paymentmodel.PaymentOrder, error) {
	if currency == "" {
		currency = s.currency
	}

	if appErr := validation.ValidateOrderAmount(amount, s.minAmount, s.maxAmount); appErr != nil {
		s.logger.Info("order amount rejected", "rider_id", riderID, "amount", amount)
		return nil, appErr
	}

	orderID := newOrderID()

	gatewayOrderID, err := s.gateway.CreateRemoteOrder(ctx, amount, currency, orderID)
	if err != nil {
		s.logger.Error("gateway order creation failed", "error", err, "rider_id", riderID, "order_id", orderID)
		return nil, apperrors.NewExternalError("payment gateway unavailable", apperrors.ErrCodeGatewayUnavailable, err)
	}

	order := paymentmodel.NewPaymentOrder(orderID, gatewayOrderID, riderID, amount, currency, paymentmodel.TypeDeposit)
	if err := s.repo.Create(order); err != nil {
		s.logger.Error("failed to persist payment order", "error", err, "order_id", orderID)
		return nil, apperrors.NewInternalError("failed to create payment order", err)
	}

	s.logger.Info("payment order created",
		"order_id", orderID,
		"gateway_order_id", gatewayOrderID,
		"rider_id", riderID,
		"amount", amount)

	return order, nil
}

// MarkAttempted records that the rider initiated checkout at the
// gateway. The outcome stays unknown until a callback arrives.
func (s *Service) MarkAttempted(riderID, orderID string) (*paymentmodel.PaymentOrder, error) {
	order, err := s.repo.GetByOrderID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrOrderNotFound
		}
		return nil, apperrors.NewInternalError("failed to load payment order", err)
	}
	if order.RiderID != riderID {
		return nil, apperrors.ErrOrderNotFound
	}
	if order.Status == paymentmodel.StatusAttempted {
		return order, nil
	}
	if order.IsTerminal() {
		return nil, apperrors.ErrInvalidTransition
	}

	moved, err := s.repo.MarkAttempted(order.ID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to update payment order", err)
	}
	if !moved {
		// lost a race against a callback; answer with the fresh state
		return s.reloadOrder(order.OrderID)
	}
	order.Status = paymentmodel.StatusAttempted
	return order, nil
}

// ListPayments returns the rider's order history, newest first,
// optionally filtered by type. Failed and cancelled orders are kept
// for audit so they show up here too.
func (s *Service) ListPayments(riderID, typeFilter string, limit, offset int) ([]*paymentmodel.PaymentOrder, error) {
	orderType := paymentmodel.Type(typeFilter)
	switch orderType {
	case "", paymentmodel.TypeDeposit, paymentmodel.TypeSpend, paymentmodel.TypeRefund:
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown payment type %q", typeFilter), apperrors.ErrCodeValidationFailed)
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	orders, err := s.repo.ListByRider(riderID, orderType, limit, offset)
	if err != nil {
		s.logger.Error("failed to list payments", "error", err, "rider_id", riderID)
		return nil, apperrors.NewInternalError("failed to list payments", err)
	}
	return orders, nil
}

// HandleGatewayCallback is the reconciliation entry point for webhook
// and client-confirmed callbacks. Deliveries are at-least-once and may
// be concurrent for the same event; the terminal short-circuit plus the
// ledger guard make replays no-ops.
func (s *Service) HandleGatewayCallback(req *CallbackRequest) (*paymentmodel.PaymentOrder, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	order, err := s.repo.GetByGatewayOrderID(req.GatewayOrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// the local create may not be committed yet; gateway retries
			s.logger.Warn("callback for unknown gateway order", "gateway_order_id", req.GatewayOrderID)
			return nil, apperrors.ErrUnknownOrder
		}
		return nil, apperrors.NewInternalError("failed to load payment order", err)
	}

	if !paymentgateway.VerifySignature(s.webhookSecret, req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		s.logger.Warn("gateway signature verification failed",
			"security_event", true,
			"gateway_order_id", req.GatewayOrderID,
			"gateway_payment_id", req.GatewayPaymentID,
			"order_id", order.OrderID)
		return nil, apperrors.ErrSignatureInvalid
	}

	target, appErr := targetStatus(req.EventStatus)
	if appErr != nil {
		return nil, appErr
	}

	if order.IsTerminal() {
		if order.Status == target {
			s.logger.Info("callback replay on terminal order, no effect",
				"order_id", order.OrderID, "status", order.Status)
			return order, nil
		}
		s.logger.Warn("callback attempts to move terminal order",
			"order_id", order.OrderID, "status", order.Status, "target", target)
		return nil, apperrors.ErrInvalidTransition
	}

	return s.applyTransition(order, target, req)
}

// applyTransition performs the status write and, for paid credits, the
// wallet apply in one transaction. Version conflicts retry the whole
// unit from a fresh read.
func (s *Service) applyTransition(order *paymentmodel.PaymentOrder, target paymentmodel.Status, req *CallbackRequest) (*paymentmodel.PaymentOrder, error) {
	var creditedWallet *walletmodel.Wallet

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		creditedWallet = nil
		err := s.db.Transaction(func(tx *gorm.DB) error {
			now := time.Now().UTC()

			// credit first so a lost CAS aborts before the status moves;
			// the transaction makes the pair atomic either way
			if target == paymentmodel.StatusPaid && order.Type != paymentmodel.TypeSpend {
				key := "pay:" + req.GatewayPaymentID
				w, _, applyErr := s.ledger.ApplyDeltaTx(tx, order.RiderID, order.Amount, walletmodel.DeltaCredit, key, order.OrderID)
				if applyErr != nil {
					return applyErr
				}
				creditedWallet = w
			}

			var moved bool
			var txErr error
			if target == paymentmodel.StatusPaid {
				moved, txErr = s.repo.MarkPaidTx(tx, order.ID, &req.GatewayPaymentID, &req.Signature, now)
			} else {
				moved, txErr = s.repo.MarkFailedTx(tx, order.ID, &req.GatewayPaymentID, &req.Signature)
			}
			if txErr != nil {
				return txErr
			}
			if !moved {
				return errAlreadyTerminal
			}
			return nil
		})

		switch {
		case err == nil:
			fresh, reloadErr := s.reloadOrder(order.OrderID)
			if reloadErr != nil {
				return nil, reloadErr
			}
			s.publishOutcome(fresh, creditedWallet, req)
			return fresh, nil

		case errors.Is(err, errAlreadyTerminal):
			fresh, reloadErr := s.reloadOrder(order.OrderID)
			if reloadErr != nil {
				return nil, reloadErr
			}
			if fresh.Status == target {
				return fresh, nil
			}
			return nil, apperrors.ErrInvalidTransition

		case errors.Is(err, walletpkg.ErrVersionConflict):
			s.logger.Debug("reconciliation conflict, retrying",
				"order_id", order.OrderID, "attempt", attempt)
			continue

		default:
			if _, ok := apperrors.IsAppError(err); ok {
				return nil, err
			}
			s.logger.Error("reconciliation transaction failed", "error", err, "order_id", order.OrderID)
			return nil, apperrors.NewInternalError("failed to reconcile payment", err)
		}
	}

	s.logger.Warn("reconciliation retries exhausted", "order_id", order.OrderID, "attempts", s.maxRetries)
	return nil, apperrors.ErrPersistenceConflict
}

// Spend debits the rider's wallet for a wallet-funded order. The order
// transition and the debit share one transaction; insufficient balance
// rolls everything back, marks the order failed and leaves the ledger
// untouched.
func (s *Service) Spend(riderID string, amount int64) (*paymentmodel.PaymentOrder, *walletmodel.Wallet, error) {
	if appErr := validation.ValidateOrderAmount(amount, s.minAmount, s.maxAmount); appErr != nil {
		return nil, nil, appErr
	}

	order := paymentmodel.NewSpendOrder(newOrderID(), riderID, amount, s.currency)
	if err := s.repo.Create(order); err != nil {
		s.logger.Error("failed to persist spend order", "error", err, "rider_id", riderID)
		return nil, nil, apperrors.NewInternalError("failed to create spend order", err)
	}

	var debitedWallet *walletmodel.Wallet

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			w, _, applyErr := s.ledger.ApplyDeltaTx(tx, riderID, amount, walletmodel.DeltaDebit, "spend:"+order.OrderID, order.OrderID)
			if applyErr != nil {
				return applyErr
			}
			debitedWallet = w

			moved, txErr := s.repo.MarkPaidTx(tx, order.ID, nil, nil, time.Now().UTC())
			if txErr != nil {
				return txErr
			}
			if !moved {
				return errAlreadyTerminal
			}
			return nil
		})

		switch {
		case err == nil:
			fresh, reloadErr := s.reloadOrder(order.OrderID)
			if reloadErr != nil {
				return nil, nil, reloadErr
			}
			if s.eventBus != nil {
				s.eventBus.Publish(context.Background(), events.NewWalletDebitedEvent(riderID, amount, debitedWallet.Balance, "spend:"+order.OrderID))
			}
			s.logger.Info("wallet spend applied",
				"order_id", order.OrderID, "rider_id", riderID, "amount", amount, "balance", debitedWallet.Balance)
			return fresh, debitedWallet, nil

		case errors.Is(err, walletpkg.ErrVersionConflict):
			continue

		case errors.Is(err, errAlreadyTerminal):
			return nil, nil, apperrors.ErrInvalidTransition

		default:
			if appErr, ok := apperrors.IsAppError(err); ok {
				if appErr.Code == apperrors.ErrCodeInsufficientBalance {
					if _, markErr := s.repo.MarkFailedTx(s.db, order.ID, nil, nil); markErr != nil {
						s.logger.Error("failed to mark spend order failed", "error", markErr, "order_id", order.OrderID)
					}
					s.logger.Info("spend rejected, insufficient balance",
						"order_id", order.OrderID, "rider_id", riderID, "amount", amount)
				}
				return nil, nil, appErr
			}
			s.logger.Error("spend transaction failed", "error", err, "order_id", order.OrderID)
			return nil, nil, apperrors.NewInternalError("failed to apply spend", err)
		}
	}

	return nil, nil, apperrors.ErrPersistenceConflict
}

// CancelStale moves abandoned created/attempted orders to cancelled
// through the normal transition path. Called by the sweeper.
func (s *Service) CancelStale(cutoff time.Time, limit int) (int, error) {
	stale, err := s.repo.FindStaleBefore(cutoff, limit)
	if err != nil {
		return 0, apperrors.NewInternalError("failed to find stale orders", err)
	}

	cancelled := 0
	for _, order := range stale {
		moved, err := s.repo.MarkCancelled(order.ID)
		if err != nil {
			s.logger.Error("failed to cancel stale order", "error", err, "order_id", order.OrderID)
			continue
		}
		if !moved {
			// a callback settled the order between the scan and now
			continue
		}
		cancelled++
		s.logger.Info("stale order cancelled", "order_id", order.OrderID, "created_at", order.CreatedAt)
		if s.eventBus != nil {
			s.eventBus.Publish(context.Background(), events.NewOrderCancelledEvent(order.OrderID, order.RiderID))
		}
	}
	return cancelled, nil
}

func (s *Service) reloadOrder(orderID string) (*paymentmodel.PaymentOrder, error) {
	fresh, err := s.repo.GetByOrderID(orderID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to reload payment order", err)
	}
	return fresh, nil
}

func (s *Service) publishOutcome(order *paymentmodel.PaymentOrder, w *walletmodel.Wallet, req *CallbackRequest) {
	if s.eventBus == nil {
		return
	}
	ctx := context.Background()
	switch order.Status {
	case paymentmodel.StatusPaid:
		s.eventBus.Publish(ctx, events.NewOrderPaidEvent(order.OrderID, order.RiderID, order.Amount, order.Currency, req.GatewayPaymentID))
		if w != nil {
			s.eventBus.Publish(ctx, events.NewWalletCreditedEvent(order.RiderID, order.Amount, w.Balance, "pay:"+req.GatewayPaymentID))
		}
	case paymentmodel.StatusFailed:
		s.eventBus.Publish(ctx, events.NewOrderFailedEvent(order.OrderID, order.RiderID, order.Amount, req.EventStatus))
	}
}

func targetStatus(eventStatus string) (paymentmodel.Status, *apperrors.AppError) {
	switch eventStatus {
	case "paid", "captured", "success":
		return paymentmodel.StatusPaid, nil
	case "failed", "expired":
		return paymentmodel.StatusFailed, nil
	default:
		return "", apperrors.NewValidationError(fmt.Sprintf("unknown event status %q", eventStatus), apperrors.ErrCodeValidationFailed)
	}
}

func newOrderID() string {
	return "ord_" + uuid.NewString()
}
