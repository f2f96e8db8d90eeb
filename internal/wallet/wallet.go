package wallet

import (
	"context"
	"errors"
	"log/slog"

	"gorm.io/gorm"

	apperrors "github.com/frahmantamala/ride-wallet/internal"
	walletmodel "github.com/frahmantamala/ride-wallet/internal/core/datamodel/wallet"
	"github.com/frahmantamala/ride-wallet/internal/core/events"
)

// ErrVersionConflict signals that the optimistic apply lost a race and
// the enclosing transaction should be retried from a fresh read.
var ErrVersionConflict = errors.New("wallet version conflict")

// RepositoryAPI is the persistence contract for the ledger. ApplyDeltaTx
// must perform the guard check, the balance mutation and the guard
// insert inside the supplied transaction, so the caller controls the
// atomic unit.
type RepositoryAPI interface {
	GetByRiderID(riderID string) (*walletmodel.Wallet, error)
	ApplyDeltaTx(tx *gorm.DB, riderID string, amount int64, kind walletmodel.DeltaKind, idempotencyKey, orderID string) (w *walletmodel.Wallet, applied bool, err error)
}

type Service struct {
	db         *gorm.DB
	repo       RepositoryAPI
	eventBus   *events.EventBus
	logger     *slog.Logger
	maxRetries int
}

func NewService(db *gorm.DB, repo RepositoryAPI, eventBus *events.EventBus, logger *slog.Logger, maxRetries int) *Service {
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &Service{
		db:         db,
		repo:       repo,
		eventBus:   eventBus,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

// GetWallet returns the rider's ledger summary. Wallets are created
// lazily on the first applied delta, so an unknown rider gets an empty
// snapshot rather than an error.
func (s *Service) GetWallet(riderID string) (*walletmodel.Wallet, error) {
	w, err := s.repo.GetByRiderID(riderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return walletmodel.NewWallet(riderID), nil
		}
		s.logger.Error("failed to load wallet", "error", err, "rider_id", riderID)
		return nil, apperrors.NewInternalError("failed to load wallet", err)
	}
	return w, nil
}

// ApplyDelta applies a credit or debit exactly once for the given
// idempotency key. The read-modify-write and the guard insert run in
// one transaction; version conflicts are retried a bounded number of
// times before surfacing as a retryable error.
func (s *Service) ApplyDelta(riderID string, amount int64, kind walletmodel.DeltaKind, idempotencyKey, orderID string) (*walletmodel.Wallet, error) {
	if amount <= 0 {
		return nil, apperrors.NewValidationError("delta amount must be positive", apperrors.ErrCodeValidationFailed)
	}
	if kind != walletmodel.DeltaCredit && kind != walletmodel.DeltaDebit {
		return nil, apperrors.NewValidationError("unknown delta kind", apperrors.ErrCodeValidationFailed)
	}

	var (
		w       *walletmodel.Wallet
		applied bool
	)

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			w, applied, txErr = s.repo.ApplyDeltaTx(tx, riderID, amount, kind, idempotencyKey, orderID)
			return txErr
		})
		if errors.Is(err, ErrVersionConflict) {
			s.logger.Debug("wallet apply conflict, retrying",
				"rider_id", riderID,
				"idempotency_key", idempotencyKey,
				"attempt", attempt)
			continue
		}
		if err != nil {
			if _, ok := apperrors.IsAppError(err); ok {
				return nil, err
			}
			s.logger.Error("wallet apply failed", "error", err, "rider_id", riderID)
			return nil, apperrors.NewInternalError("failed to apply wallet delta", err)
		}

		if applied {
			s.publishApplied(riderID, amount, w.Balance, kind, idempotencyKey)
		} else {
			s.logger.Info("wallet delta already applied, replay ignored",
				"rider_id", riderID,
				"idempotency_key", idempotencyKey)
		}
		return w, nil
	}

	s.logger.Warn("wallet apply retries exhausted",
		"rider_id", riderID,
		"idempotency_key", idempotencyKey,
		"attempts", s.maxRetries)
	return nil, apperrors.ErrPersistenceConflict
}

func (s *Service) publishApplied(riderID string, amount, balance int64, kind walletmodel.DeltaKind, idempotencyKey string) {
	if s.eventBus == nil {
		return
	}
	var event events.Event
	if kind == walletmodel.DeltaCredit {
		event = events.NewWalletCreditedEvent(riderID, amount, balance, idempotencyKey)
	} else {
		event = events.NewWalletDebitedEvent(riderID, amount, balance, idempotencyKey)
	}
	s.eventBus.Publish(context.Background(), event)
}
