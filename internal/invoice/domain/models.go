// Package domain contains the invoice ledger model that payments reconcile into.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "Draft"
	InvoiceStatusSent      InvoiceStatus = "Sent"
	InvoiceStatusPaid      InvoiceStatus = "Paid"
	InvoiceStatusPartial   InvoiceStatus = "Partial"
	InvoiceStatusOverdue   InvoiceStatus = "Overdue"
	InvoiceStatusCancelled InvoiceStatus = "Cancelled"
)

// Invoice is the ledger row. Version increases on every balance change and
// guards updates with compare-and-swap.
type Invoice struct {
	ID            int64           `json:"id" gorm:"primaryKey"`
	OrgID         int64           `json:"org_id" gorm:"not null;index"`
	CustomerID    int64           `json:"customer_id" gorm:"not null"`
	OrderID       *int64          `json:"order_id,omitempty"`
	InvoiceNumber string          `json:"invoice_number" gorm:"type:text;not null"`
	Currency      string          `json:"currency" gorm:"type:text;not null"`
	TotalAmount   decimal.Decimal `json:"total_amount" gorm:"type:numeric(18,2);not null"`
	Balance       decimal.Decimal `json:"balance" gorm:"type:numeric(18,2);not null"`
	Status        InvoiceStatus   `json:"status" gorm:"type:text;not null;default:'Draft'"`
	Version       int64           `json:"version" gorm:"not null;default:0"`
	DueDate       *time.Time      `json:"due_date,omitempty" gorm:"type:date"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Payable reports whether a new capture may be started against the invoice.
func (i Invoice) Payable() bool {
	return i.Status != InvoiceStatusCancelled && i.Status != InvoiceStatusPaid
}

// ApplyPayment returns the balance and status after deducting amount. Paid is
// terminal and a cancelled invoice keeps its status.
func (i Invoice) ApplyPayment(amount decimal.Decimal) (decimal.Decimal, InvoiceStatus) {
	balance := i.Balance.Sub(amount)
	switch {
	case i.Status == InvoiceStatusPaid, i.Status == InvoiceStatusCancelled:
		return balance, i.Status
	case balance.LessThanOrEqual(decimal.Zero):
		return balance, InvoiceStatusPaid
	default:
		return balance, InvoiceStatusPartial
	}
}
