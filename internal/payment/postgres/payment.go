package postgres

import (
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/ride-wallet/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/ride-wallet/internal/payment"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.RepositoryAPI {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) Create(o *payment.PaymentOrder) error {
	return r.db.Create(o).Error
}

func (r *PaymentRepository) GetByOrderID(orderID string) (*payment.PaymentOrder, error) {
	var o payment.PaymentOrder
	err := r.db.Where("order_id = ?", orderID).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PaymentRepository) GetByGatewayOrderID(gatewayOrderID string) (*payment.PaymentOrder, error) {
	var o payment.PaymentOrder
	err := r.db.Where("gateway_order_id = ?", gatewayOrderID).First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PaymentRepository) ListByRider(riderID string, orderType payment.Type, limit, offset int) ([]*payment.PaymentOrder, error) {
	var orders []*payment.PaymentOrder
	q := r.db.Where("rider_id = ?", riderID)
	if orderType != "" {
		q = q.Where("type = ?", orderType)
	}
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&orders).Error
	return orders, err
}

// MarkAttempted only moves a created order; any other state leaves the
// row alone and reports false.
func (r *PaymentRepository) MarkAttempted(id int64) (bool, error) {
	res := r.db.Model(&payment.PaymentOrder{}).
		Where("id = ? AND status = ?", id, payment.StatusCreated).
		Updates(map[string]interface{}{
			"status":     payment.StatusAttempted,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// MarkPaidTx transitions a non-terminal order to paid inside the
// caller's transaction. Gateway ids are only written when the caller
// has them (webhook path); the spend path passes nil.
func (r *PaymentRepository) MarkPaidTx(tx *gorm.DB, id int64, gatewayPaymentID, gatewaySignature *string, paidAt time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     payment.StatusPaid,
		"paid_at":    paidAt,
		"updated_at": time.Now().UTC(),
	}
	if gatewayPaymentID != nil {
		updates["gateway_payment_id"] = *gatewayPaymentID
	}
	if gatewaySignature != nil {
		updates["gateway_signature"] = *gatewaySignature
	}

	res := tx.Model(&payment.PaymentOrder{}).
		Where("id = ? AND status IN ?", id, payment.NonTerminalStatuses).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *PaymentRepository) MarkFailedTx(tx *gorm.DB, id int64, gatewayPaymentID, gatewaySignature *string) (bool, error) {
	updates := map[string]interface{}{
		"status":     payment.StatusFailed,
		"updated_at": time.Now().UTC(),
	}
	if gatewayPaymentID != nil {
		updates["gateway_payment_id"] = *gatewayPaymentID
	}
	if gatewaySignature != nil {
		updates["gateway_signature"] = *gatewaySignature
	}

	res := tx.Model(&payment.PaymentOrder{}).
		Where("id = ? AND status IN ?", id, payment.NonTerminalStatuses).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *PaymentRepository) MarkCancelled(id int64) (bool, error) {
	res := r.db.Model(&payment.PaymentOrder{}).
		Where("id = ? AND status IN ?", id, payment.NonTerminalStatuses).
		Updates(map[string]interface{}{
			"status":     payment.StatusCancelled,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *PaymentRepository) FindStaleBefore(cutoff time.Time, limit int) ([]*payment.PaymentOrder, error) {
	var orders []*payment.PaymentOrder
	err := r.db.
		Where("status IN ? AND created_at < ?", payment.NonTerminalStatuses, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
