package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*Invoice, error)
	// FindForUpdate reads the row under a row lock where the dialect supports one.
	FindForUpdate(ctx context.Context, db *gorm.DB, id int64) (*Invoice, error)
	// UpdateBalance applies the change only if the stored version still equals
	// expectedVersion. It reports false when another writer got there first.
	UpdateBalance(ctx context.Context, db *gorm.DB, id int64, expectedVersion int64, balance decimal.Decimal, status InvoiceStatus, updatedAt time.Time) (bool, error)
}

type Service interface {
	GetByID(ctx context.Context, orgID int64, id int64) (Invoice, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidInvoiceID    = errors.New("invalid_invoice_id")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
)
