package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const StatusGenerated = "generated"

// Receipt is derived from exactly one payment and snapshots the invoice at
// the moment the payment was applied.
type Receipt struct {
	ID               int64           `json:"id" gorm:"primaryKey"`
	OrgID            int64           `json:"org_id" gorm:"not null;uniqueIndex:ux_receipts_org_number"`
	ReceiptNumber    string          `json:"receipt_number" gorm:"type:text;not null;uniqueIndex:ux_receipts_org_number"`
	CustomerID       int64           `json:"customer_id" gorm:"not null"`
	PaymentID        int64           `json:"payment_id" gorm:"not null;uniqueIndex:ux_receipts_payment"`
	InvoiceID        int64           `json:"invoice_id" gorm:"not null"`
	OrderID          *int64          `json:"order_id,omitempty"`
	AmountPaid       decimal.Decimal `json:"amount_paid" gorm:"type:numeric(18,2);not null"`
	PreviousBalance  decimal.Decimal `json:"previous_balance" gorm:"type:numeric(18,2);not null"`
	RemainingBalance decimal.Decimal `json:"remaining_balance" gorm:"type:numeric(18,2);not null"`
	InvoiceTotal     decimal.Decimal `json:"invoice_total" gorm:"type:numeric(18,2);not null"`
	Currency         string          `json:"currency" gorm:"type:text;not null"`
	PaymentDate      time.Time       `json:"payment_date" gorm:"type:date;not null"`
	Status           string          `json:"status" gorm:"type:text;not null;default:'generated'"`
	CreatedAt        time.Time       `json:"created_at"`
}

func (Receipt) TableName() string { return "receipts" }

// Sequence is the per-organization monthly receipt counter.
type Sequence struct {
	OrgID     int64  `gorm:"primaryKey;autoIncrement:false"`
	Period    string `gorm:"primaryKey;type:text"`
	LastValue int64  `gorm:"not null;default:0"`
}

func (Sequence) TableName() string { return "receipt_sequences" }

// View is a receipt joined with the invoice and payment fields the
// customer-facing document shows.
type View struct {
	Receipt
	InvoiceNumber          string
	PaymentMethod          string
	ProcessorTransactionID string
}
