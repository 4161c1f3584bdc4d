package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/paycapture/internal/receipt/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) NextSequence(ctx context.Context, db *gorm.DB, orgID int64, period string) (int64, error) {
	// The upsert takes the row lock that serialises concurrent numbering.
	err := db.WithContext(ctx).Exec(
		`INSERT INTO receipt_sequences (org_id, period, last_value)
		 VALUES (?, ?, 1)
		 ON CONFLICT (org_id, period)
		 DO UPDATE SET last_value = receipt_sequences.last_value + 1`,
		orgID,
		period,
	).Error
	if err != nil {
		return 0, err
	}

	var value int64
	err = db.WithContext(ctx).Raw(
		`SELECT last_value FROM receipt_sequences WHERE org_id = ? AND period = ?`,
		orgID,
		period,
	).Scan(&value).Error
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, receipt *domain.Receipt) error {
	return db.WithContext(ctx).Create(receipt).Error
}

func (r *repo) FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID int64) (*domain.Receipt, error) {
	var item domain.Receipt
	err := db.WithContext(ctx).Where("payment_id = ?", paymentID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindView(ctx context.Context, db *gorm.DB, orgID, id int64) (*domain.View, error) {
	var item domain.View
	err := db.WithContext(ctx).Raw(
		`SELECT r.*, i.invoice_number, p.payment_method, p.processor_transaction_id
		 FROM receipts r
		 JOIN invoices i ON i.id = r.invoice_id
		 JOIN payments p ON p.id = r.payment_id
		 WHERE r.org_id = ? AND r.id = ?
		 LIMIT 1`,
		orgID,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
