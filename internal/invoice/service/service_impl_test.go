package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paycapture/internal/invoice/domain"
	"github.com/smallbiznis/paycapture/internal/invoice/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	dsn := fmt.Sprintf("file:invoice_svc_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Invoice{}))

	repo := repository.Provide()
	require.NoError(t, repo.Insert(context.Background(), db, &domain.Invoice{
		ID:            1,
		OrgID:         10,
		CustomerID:    20,
		InvoiceNumber: "INV-0001",
		Currency:      "USD",
		TotalAmount:   decimal.NewFromInt(1000),
		Balance:       decimal.NewFromInt(1000),
		Status:        domain.InvoiceStatusSent,
	}))

	return NewService(ServiceParam{DB: db, Log: zap.NewNop(), Repo: repo})
}

func TestGetByID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	got, err := svc.GetByID(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, "INV-0001", got.InvoiceNumber)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1000)))

	_, err = svc.GetByID(ctx, 11, 1)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)

	_, err = svc.GetByID(ctx, 10, 2)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)

	_, err = svc.GetByID(ctx, 0, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)

	_, err = svc.GetByID(ctx, 10, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInvoiceID)
}
