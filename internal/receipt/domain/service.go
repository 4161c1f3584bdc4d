package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	// NextSequence increments and returns the counter for (orgID, period).
	NextSequence(ctx context.Context, db *gorm.DB, orgID int64, period string) (int64, error)
	Insert(ctx context.Context, db *gorm.DB, receipt *Receipt) error
	FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID int64) (*Receipt, error)
	FindView(ctx context.Context, db *gorm.DB, orgID, id int64) (*View, error)
}

type GenerateInput struct {
	OrgID            int64
	CustomerID       int64
	PaymentID        int64
	InvoiceID        int64
	OrderID          *int64
	AmountPaid       decimal.Decimal
	PreviousBalance  decimal.Decimal
	RemainingBalance decimal.Decimal
	InvoiceTotal     decimal.Decimal
	Currency         string
	PaymentDate      time.Time
}

type Service interface {
	// Generate creates the receipt for a payment. Calling it again for the
	// same payment returns the existing receipt.
	Generate(ctx context.Context, input GenerateInput) (*Receipt, error)
	Get(ctx context.Context, orgID, id int64) (*View, error)
	RenderPDF(ctx context.Context, orgID, id int64) (io.Reader, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPayment      = errors.New("invalid_payment")
	ErrNotFound            = errors.New("receipt_not_found")
)
