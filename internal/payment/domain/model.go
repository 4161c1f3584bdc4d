package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Source names the path a payment was reconciled through.
type Source string

const (
	SourceCapture Source = "capture"
	SourceWebhook Source = "webhook"
	SourceSweeper Source = "sweeper"
)

// Payment is immutable once written. (Processor, ProcessorTransactionID) is
// the idempotency key for reconciliation.
type Payment struct {
	ID                     int64             `json:"id" gorm:"primaryKey"`
	OrgID                  int64             `json:"org_id" gorm:"not null;index"`
	InvoiceID              int64             `json:"invoice_id" gorm:"not null;index"`
	CustomerID             int64             `json:"customer_id" gorm:"not null"`
	Amount                 decimal.Decimal   `json:"amount" gorm:"type:numeric(18,2);not null"`
	Currency               string            `json:"currency" gorm:"type:text;not null"`
	PaymentDate            time.Time         `json:"payment_date" gorm:"type:date;not null"`
	PaymentMethod          string            `json:"payment_method" gorm:"type:text;not null"`
	Processor              string            `json:"processor" gorm:"type:text;not null;uniqueIndex:ux_payments_processor_txn"`
	ProcessorOrderID       string            `json:"processor_order_id" gorm:"type:text;not null"`
	ProcessorTransactionID string            `json:"processor_transaction_id" gorm:"type:text;not null;uniqueIndex:ux_payments_processor_txn"`
	Metadata               datatypes.JSONMap `json:"metadata" gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt              time.Time         `json:"created_at"`
}

func (Payment) TableName() string { return "payments" }

type AttemptStatus string

const (
	AttemptPending      AttemptStatus = "pending"
	AttemptCompleted    AttemptStatus = "completed"
	AttemptNotCompleted AttemptStatus = "not_completed"
	AttemptUnverified   AttemptStatus = "unverified"
	AttemptFailed       AttemptStatus = "failed"
)

// CaptureAttempt is written before the processor is called so an attempt
// whose outcome was lost can be verified later.
type CaptureAttempt struct {
	ID               int64         `json:"id" gorm:"primaryKey"`
	OrgID            int64         `json:"org_id" gorm:"not null"`
	Processor        string        `json:"processor" gorm:"type:text;not null;uniqueIndex:ux_capture_attempts_processor_order"`
	ProcessorOrderID string        `json:"processor_order_id" gorm:"type:text;not null;uniqueIndex:ux_capture_attempts_processor_order"`
	InvoiceID        int64         `json:"invoice_id" gorm:"not null"`
	Status           AttemptStatus `json:"status" gorm:"type:text;not null"`
	LastError        *string       `json:"last_error,omitempty" gorm:"type:text"`
	Attempts         int           `json:"attempts" gorm:"not null;default:0"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func (CaptureAttempt) TableName() string { return "capture_attempts" }

// WebhookEvent is the append-only log of every processor notification.
type WebhookEvent struct {
	ID              int64          `json:"id" gorm:"primaryKey"`
	Processor       string         `json:"processor" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_processor_event"`
	EventID         string         `json:"event_id" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_processor_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	ResourceType    string         `json:"resource_type" gorm:"type:text;not null;default:''"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	SignatureValid  bool           `json:"signature_valid" gorm:"not null;default:false"`
	Processed       bool           `json:"processed" gorm:"not null;default:false"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	ProcessingError *string        `json:"processing_error,omitempty" gorm:"type:text"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "payment_webhook_events" }
