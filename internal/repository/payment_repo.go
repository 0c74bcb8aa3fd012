package repository

import (
	"context"
	"errors"
	"time"

	"paycore/internal/domain"
	"paycore/internal/models"
	"paycore/pkg/payment"

	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	return conn(ctx, r.db).Create(p).Error
}

func (r *PaymentRepository) first(ctx context.Context, query string, args ...any) (*models.Payment, error) {
	var p models.Payment
	err := conn(ctx, r.db).Where(query, args...).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *PaymentRepository) GetByReference(ctx context.Context, ref string) (*models.Payment, error) {
	return r.first(ctx, "reference = ?", ref)
}

func (r *PaymentRepository) GetByExternalID(ctx context.Context, provider payment.Provider, externalID string) (*models.Payment, error) {
	return r.first(ctx, "provider = ? AND external_id = ?", provider, externalID)
}

// Transition moves the payment to `to` only if its current status is one of
// from. The status check and the write are one statement, so concurrent
// callers cannot both succeed. When the row is updated, onApplied runs in the
// same transaction; its error rolls the transition back.
func (r *PaymentRepository) Transition(ctx context.Context, id string, from []payment.Status, to payment.Status,
	updates map[string]any, onApplied func(ctx context.Context) error) (bool, error) {
	applied := false
	err := NewTransactor(r.db).InTx(ctx, func(ctx context.Context) error {
		cols := map[string]any{"status": to, "updated_at": time.Now()}
		for k, v := range updates {
			cols[k] = v
		}
		res := conn(ctx, r.db).Model(&models.Payment{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		if onApplied != nil {
			return onApplied(ctx)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// UpdateRefund writes refund columns without touching status.
func (r *PaymentRepository) UpdateRefund(ctx context.Context, id string, refund models.Refund) error {
	cols := refund.Columns()
	cols["updated_at"] = time.Now()
	return conn(ctx, r.db).Model(&models.Payment{}).Where("id = ?", id).Updates(cols).Error
}

// ClaimRefund reserves the payment's single refund before the provider is
// called. It reports false when the payment is no longer completed or a refund
// was already claimed.
func (r *PaymentRepository) ClaimRefund(ctx context.Context, id string, refund models.Refund) (bool, error) {
	cols := refund.Columns()
	cols["updated_at"] = time.Now()
	res := conn(ctx, r.db).Model(&models.Payment{}).
		Where("id = ? AND status = ? AND refund_amount IS NULL", id, payment.StatusCompleted).
		Updates(cols)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListStale returns open payments created before cutoff. Payments no sweep
// has visited come first, then the least recently visited, so payments that
// keep failing verification cannot fill every batch.
func (r *PaymentRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	var list []models.Payment
	err := conn(ctx, r.db).
		Where("status IN ? AND created_at < ?", []payment.Status{payment.StatusPending, payment.StatusProcessing}, cutoff).
		Order("last_reconciled_at IS NOT NULL, last_reconciled_at ASC, created_at ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// MarkReconciled stamps the payments a sweep picked up.
func (r *PaymentRepository) MarkReconciled(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return conn(ctx, r.db).Model(&models.Payment{}).
		Where("id IN ?", ids).
		UpdateColumn("last_reconciled_at", at).Error
}

func (r *PaymentRepository) AppendAttempt(ctx context.Context, a *models.PaymentAttempt) error {
	return conn(ctx, r.db).Create(a).Error
}

func (r *PaymentRepository) AppendHistory(ctx context.Context, h *models.PaymentHistory) error {
	return conn(ctx, r.db).Create(h).Error
}

func (r *PaymentRepository) Attempts(ctx context.Context, paymentID string) ([]models.PaymentAttempt, error) {
	var list []models.PaymentAttempt
	err := conn(ctx, r.db).Where("payment_id = ?", paymentID).Order("id ASC").Find(&list).Error
	return list, err
}

func (r *PaymentRepository) History(ctx context.Context, paymentID string) ([]models.PaymentHistory, error) {
	var list []models.PaymentHistory
	err := conn(ctx, r.db).Where("payment_id = ?", paymentID).Order("id ASC").Find(&list).Error
	return list, err
}

// RecordWebhook inserts the audit row. If (provider, event_id) was already
// recorded the existing row's delivery count is bumped and it is returned with
// duplicate=true.
func (r *PaymentRepository) RecordWebhook(ctx context.Context, w *models.PaymentWebhook) (*models.PaymentWebhook, bool, error) {
	err := conn(ctx, r.db).Create(w).Error
	if err == nil {
		return w, false, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, false, err
	}
	db := conn(ctx, r.db)
	if err := db.Model(&models.PaymentWebhook{}).
		Where("provider = ? AND event_id = ?", w.Provider, w.EventID).
		UpdateColumn("delivery_count", gorm.Expr("delivery_count + 1")).Error; err != nil {
		return nil, true, err
	}
	var existing models.PaymentWebhook
	if err := db.Where("provider = ? AND event_id = ?", w.Provider, w.EventID).First(&existing).Error; err != nil {
		return nil, true, err
	}
	return &existing, true, nil
}

// MarkWebhookProcessed stamps processed_at, or records why processing failed.
func (r *PaymentRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingErr error) error {
	q := conn(ctx, r.db).Model(&models.PaymentWebhook{}).Where("id = ?", id)
	if processingErr != nil {
		msg := processingErr.Error()
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return q.Update("processing_error", msg).Error
	}
	return q.Updates(map[string]any{"processed_at": time.Now(), "processing_error": ""}).Error
}
