package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paycapture/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_repo_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Payment{}, &domain.CaptureAttempt{}, &domain.WebhookEvent{}))
	return db
}

func findAttempt(t *testing.T, db *gorm.DB, orderID string) domain.CaptureAttempt {
	t.Helper()
	var item domain.CaptureAttempt
	require.NoError(t, db.Where("processor = ? AND processor_order_id = ?", "paypal", orderID).Take(&item).Error)
	return item
}

func TestUpsertAttemptResetsUnsettledAttempt(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	attempt := domain.CaptureAttempt{ID: 1, OrgID: 7, Processor: "paypal", ProcessorOrderID: "ORDER-1", InvoiceID: 9, Status: domain.AttemptPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.UpsertAttempt(ctx, db, &attempt))

	msg := "processor 503"
	require.NoError(t, repo.UpdateAttempt(ctx, db, "paypal", "ORDER-1", domain.AttemptUnverified, &msg, now.Add(time.Minute)))

	retry := attempt
	retry.ID = 2
	retry.UpdatedAt = now.Add(2 * time.Minute)
	require.NoError(t, repo.UpsertAttempt(ctx, db, &retry))

	got := findAttempt(t, db, "ORDER-1")
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, domain.AttemptPending, got.Status)
	assert.Nil(t, got.LastError)
}

func TestCompletedAttemptIsNeverDowngraded(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	attempt := domain.CaptureAttempt{ID: 1, OrgID: 7, Processor: "paypal", ProcessorOrderID: "ORDER-2", InvoiceID: 9, Status: domain.AttemptPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, repo.UpsertAttempt(ctx, db, &attempt))
	require.NoError(t, repo.UpdateAttempt(ctx, db, "paypal", "ORDER-2", domain.AttemptCompleted, nil, now))

	retry := attempt
	retry.ID = 2
	require.NoError(t, repo.UpsertAttempt(ctx, db, &retry))
	assert.Equal(t, domain.AttemptCompleted, findAttempt(t, db, "ORDER-2").Status)

	msg := "ORDER_ALREADY_CAPTURED"
	require.NoError(t, repo.UpdateAttempt(ctx, db, "paypal", "ORDER-2", domain.AttemptNotCompleted, &msg, now.Add(time.Minute)))
	got := findAttempt(t, db, "ORDER-2")
	assert.Equal(t, domain.AttemptCompleted, got.Status)
	assert.Nil(t, got.LastError)
}

func TestFindPaymentByOrder(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	ctx := context.Background()

	require.NoError(t, repo.InsertPayment(ctx, db, &domain.Payment{
		ID:                     1,
		OrgID:                  7,
		InvoiceID:              9,
		CustomerID:             3,
		Amount:                 decimal.NewFromInt(400),
		Currency:               "USD",
		PaymentDate:            time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
		PaymentMethod:          "PayPal",
		Processor:              "paypal",
		ProcessorOrderID:       "ORDER-3",
		ProcessorTransactionID: "CAP-3",
		Metadata:               datatypes.JSONMap{},
	}))

	got, err := repo.FindPaymentByOrder(ctx, db, "paypal", "ORDER-3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "CAP-3", got.ProcessorTransactionID)

	got, err = repo.FindPaymentByOrder(ctx, db, "stripe", "ORDER-3")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindWebhookEvent(t *testing.T) {
	db := setupDB(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	event := domain.WebhookEvent{ID: 1, Processor: "paypal", EventID: "WH-1", EventType: "PAYMENT.CAPTURE.COMPLETED", Payload: datatypes.JSON(`{}`), ReceivedAt: now}
	inserted, err := repo.InsertWebhookEvent(ctx, db, &event)
	require.NoError(t, err)
	require.True(t, inserted)

	dup := event
	dup.ID = 2
	inserted, err = repo.InsertWebhookEvent(ctx, db, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := repo.FindWebhookEvent(ctx, db, "paypal", "WH-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)
	assert.Nil(t, got.ProcessedAt)

	got, err = repo.FindWebhookEvent(ctx, db, "paypal", "WH-2")
	require.NoError(t, err)
	assert.Nil(t, got)
}
