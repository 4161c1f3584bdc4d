package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/paycapture/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindPaymentByTransaction(ctx context.Context, db *gorm.DB, processor, transactionID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).
		Where("processor = ? AND processor_transaction_id = ?", processor, transactionID).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindPaymentByOrder(ctx context.Context, db *gorm.DB, processor, orderID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).
		Where("processor = ? AND processor_order_id = ?", processor, orderID).
		Order("created_at ASC").
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) CountPayments(ctx context.Context, db *gorm.DB, invoiceID int64) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Payment{}).Where("invoice_id = ?", invoiceID).Count(&count).Error
	return count, err
}

func (r *repo) UpsertAttempt(ctx context.Context, db *gorm.DB, attempt *domain.CaptureAttempt) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO capture_attempts (
			id, org_id, processor, processor_order_id, invoice_id, status, last_error, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (processor, processor_order_id)
		DO UPDATE SET status = EXCLUDED.status,
			invoice_id = EXCLUDED.invoice_id,
			last_error = NULL,
			updated_at = EXCLUDED.updated_at
		WHERE capture_attempts.status <> 'completed'`,
		attempt.ID,
		attempt.OrgID,
		attempt.Processor,
		attempt.ProcessorOrderID,
		attempt.InvoiceID,
		attempt.Status,
		attempt.LastError,
		attempt.Attempts,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	).Error
}

func (r *repo) UpdateAttempt(ctx context.Context, db *gorm.DB, processor, orderID string, status domain.AttemptStatus, lastError *string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE capture_attempts
		 SET status = ?, last_error = ?, updated_at = ?
		 WHERE processor = ? AND processor_order_id = ? AND status <> 'completed'`,
		status,
		lastError,
		updatedAt,
		processor,
		orderID,
	).Error
}

func (r *repo) IncrementAttempt(ctx context.Context, db *gorm.DB, id int64, status domain.AttemptStatus, lastError *string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE capture_attempts
		 SET status = ?, last_error = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ?`,
		status,
		lastError,
		updatedAt,
		id,
	).Error
}

func (r *repo) ListAttemptsForVerification(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]domain.CaptureAttempt, error) {
	var items []domain.CaptureAttempt
	err := db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []domain.AttemptStatus{domain.AttemptPending, domain.AttemptUnverified}, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_webhook_events (
			id, processor, event_id, event_type, resource_type, payload, signature_valid, processed, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (processor, event_id) DO NOTHING`,
		event.ID,
		event.Processor,
		event.EventID,
		event.EventType,
		event.ResourceType,
		event.Payload,
		event.SignatureValid,
		event.Processed,
		event.ReceivedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindWebhookEvent(ctx context.Context, db *gorm.DB, processor, eventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("processor = ? AND event_id = ?", processor, eventID).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id int64, processedAt time.Time, processingError *string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_webhook_events
		 SET processed = TRUE, processed_at = ?, processing_error = ?
		 WHERE id = ?`,
		processedAt,
		processingError,
		id,
	).Error
}
