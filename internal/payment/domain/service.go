package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	capturedomain "github.com/smallbiznis/paycapture/internal/capture/domain"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/paycapture/internal/invoice/domain"
	"gorm.io/gorm"
)

type Repository interface {
	FindPaymentByTransaction(ctx context.Context, db *gorm.DB, processor, transactionID string) (*Payment, error)
	FindPaymentByOrder(ctx context.Context, db *gorm.DB, processor, orderID string) (*Payment, error)
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	CountPayments(ctx context.Context, db *gorm.DB, invoiceID int64) (int64, error)

	UpsertAttempt(ctx context.Context, db *gorm.DB, attempt *CaptureAttempt) error
	UpdateAttempt(ctx context.Context, db *gorm.DB, processor, orderID string, status AttemptStatus, lastError *string, updatedAt time.Time) error
	IncrementAttempt(ctx context.Context, db *gorm.DB, id int64, status AttemptStatus, lastError *string, updatedAt time.Time) error
	ListAttemptsForVerification(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]CaptureAttempt, error)

	// InsertWebhookEvent reports false when (processor, event id) is already logged.
	InsertWebhookEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindWebhookEvent(ctx context.Context, db *gorm.DB, processor, eventID string) (*WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, db *gorm.DB, id int64, processedAt time.Time, processingError *string) error
}

type CaptureRequest struct {
	OrgID     int64
	Processor gatewaydomain.Processor
	OrderID   string
	InvoiceID int64
}

type ReconcileRequest struct {
	Result    *capturedomain.Result
	InvoiceID int64
	// OrgID, when set, must own the invoice.
	OrgID  int64
	Source Source
}

type ReconcileResult struct {
	Success   bool                        `json:"success"`
	CaptureID string                      `json:"capture_id"`
	Balance   decimal.Decimal             `json:"balance"`
	Status    invoicedomain.InvoiceStatus `json:"status"`
	PaymentID int64                       `json:"-"`
	// Replayed is set when the transaction had already been reconciled.
	Replayed bool `json:"-"`
}

type Service interface {
	// Capture asks the processor to capture an approved order and, when the
	// capture completes, reconciles it against the invoice.
	Capture(ctx context.Context, req CaptureRequest) (*ReconcileResult, error)
	// Reconcile applies a completed capture to its invoice exactly once.
	Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error)
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, orgID int64, processor gatewaydomain.Processor, payload []byte, headers http.Header) error
}

var (
	ErrInvalidRequest      = errors.New("invalid_request")
	ErrPaymentNotCompleted = errors.New("payment_not_completed")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrInvoiceNotPayable   = errors.New("invoice_not_payable")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrMissingCapture      = errors.New("missing_capture_transaction")
	ErrPaymentRecord       = errors.New("payment_record_failed")
	ErrInvoiceUpdate       = errors.New("invoice_update_failed")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrCaptureUnverified   = errors.New("capture_unverified")
)
