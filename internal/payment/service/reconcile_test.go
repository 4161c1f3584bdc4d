package service

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	capturedomain "github.com/smallbiznis/paycapture/internal/capture/domain"
	"github.com/smallbiznis/paycapture/internal/config"
	invoicedomain "github.com/smallbiznis/paycapture/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/paycapture/internal/invoice/repository"
	paymentdomain "github.com/smallbiznis/paycapture/internal/payment/domain"
	receiptdomain "github.com/smallbiznis/paycapture/internal/receipt/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconcileRequest(result *capturedomain.Result, source paymentdomain.Source) paymentdomain.ReconcileRequest {
	return paymentdomain.ReconcileRequest{
		Result:    result,
		InvoiceID: testInvoiceID,
		OrgID:     testOrgID,
		Source:    source,
	}
}

func TestReconcileReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)
	ctx := context.Background()

	first, err := h.svc.Reconcile(ctx, reconcileRequest(completedResult("ORDER-1", "CAP-1", "400"), paymentdomain.SourceCapture))
	require.NoError(t, err)
	require.False(t, first.Replayed)

	// The webhook for the same capture arrives afterwards.
	second, err := h.svc.Reconcile(ctx, reconcileRequest(completedResult("ORDER-1", "CAP-1", "400"), paymentdomain.SourceWebhook))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, first.CaptureID, second.CaptureID)
	assert.True(t, first.Balance.Equal(second.Balance))
	assert.Equal(t, first.Status, second.Status)

	assert.Equal(t, int64(1), h.count(t, &paymentdomain.Payment{}))
	assert.Equal(t, int64(1), h.count(t, &receiptdomain.Receipt{}))
	assert.True(t, h.invoice(t, testInvoiceID).Balance.Equal(decimal.NewFromInt(600)))
	assert.Len(t, h.publisher.published(), 1)
}

func TestReconcileReplayAnswersFromSnapshot(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)
	ctx := context.Background()

	_, err := h.svc.Reconcile(ctx, reconcileRequest(completedResult("ORDER-1", "CAP-1", "400"), paymentdomain.SourceCapture))
	require.NoError(t, err)
	_, err = h.svc.Reconcile(ctx, reconcileRequest(completedResult("ORDER-2", "CAP-2", "100"), paymentdomain.SourceCapture))
	require.NoError(t, err)

	replay, err := h.svc.Reconcile(ctx, reconcileRequest(completedResult("ORDER-1", "CAP-1", "400"), paymentdomain.SourceWebhook))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.True(t, replay.Balance.Equal(decimal.NewFromInt(600)), replay.Balance.String())
	assert.True(t, h.invoice(t, testInvoiceID).Balance.Equal(decimal.NewFromInt(500)))
}

func TestReconcileConcurrentCaptures(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, capID := range []string{"CAP-A", "CAP-B"} {
		wg.Add(1)
		go func(i int, capID string) {
			defer wg.Done()
			_, errs[i] = h.svc.Reconcile(context.Background(), reconcileRequest(completedResult("ORDER-"+capID, capID, "400"), paymentdomain.SourceCapture))
		}(i, capID)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	inv := h.invoice(t, testInvoiceID)
	assert.True(t, inv.Balance.Equal(decimal.NewFromInt(200)), inv.Balance.String())
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, inv.Status)
	assert.Equal(t, int64(2), inv.Version)
	assert.Equal(t, int64(2), h.count(t, &paymentdomain.Payment{}))

	var numbers []string
	require.NoError(t, h.db.Model(&receiptdomain.Receipt{}).Order("receipt_number").Pluck("receipt_number", &numbers).Error)
	assert.Equal(t, []string{"RCT-202610-000001", "RCT-202610-000002"}, numbers)
}

func TestReconcileInterleavedReadsDoNotLoseUpdate(t *testing.T) {
	repo := &staleSnapshotInvoiceRepo{Repository: invoicerepo.Provide()}
	h := newHarness(t, withInvoiceRepo(repo))
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)
	ctx := context.Background()

	// Both captures read balance 1000 at version 0; B commits first.
	before := *h.invoice(t, testInvoiceID)
	_, err := h.svc.Reconcile(ctx, reconcileRequest(completedResult("ORDER-B", "CAP-B", "400"), paymentdomain.SourceCapture))
	require.NoError(t, err)

	repo.stage(before)
	out, err := h.svc.Reconcile(ctx, reconcileRequest(completedResult("ORDER-A", "CAP-A", "400"), paymentdomain.SourceCapture))
	require.NoError(t, err)

	assert.True(t, out.Balance.Equal(decimal.NewFromInt(200)), out.Balance.String())
	inv := h.invoice(t, testInvoiceID)
	assert.True(t, inv.Balance.Equal(decimal.NewFromInt(200)), inv.Balance.String())
	assert.Equal(t, int64(2), inv.Version)
	assert.Equal(t, int64(2), h.count(t, &paymentdomain.Payment{}))
	// B's read, A's stale read, A's retry.
	assert.Equal(t, 3, repo.reads)

	var payment paymentdomain.Payment
	require.NoError(t, h.db.Where("processor_transaction_id = ?", "CAP-A").Take(&payment).Error)
	assert.True(t, metaDecimal(payment.Metadata, metaPreviousBalance, decimal.Zero).Equal(decimal.NewFromInt(600)))
}

func TestReconcileConcurrentDuplicateCapture(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)

	var wg sync.WaitGroup
	results := make([]*paymentdomain.ReconcileResult, 2)
	errs := make([]error, 2)
	for i, source := range []paymentdomain.Source{paymentdomain.SourceCapture, paymentdomain.SourceWebhook} {
		wg.Add(1)
		go func(i int, source paymentdomain.Source) {
			defer wg.Done()
			results[i], errs[i] = h.svc.Reconcile(context.Background(), reconcileRequest(completedResult("ORDER-1", "CAP-1", "400"), source))
		}(i, source)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, results[0].Replayed, results[1].Replayed, "exactly one call applies the payment")
	assert.Equal(t, int64(1), h.count(t, &paymentdomain.Payment{}))
	assert.True(t, h.invoice(t, testInvoiceID).Balance.Equal(decimal.NewFromInt(600)))
}

func TestReconcileRetriesLostVersionRace(t *testing.T) {
	repo := &conflictingInvoiceRepo{Repository: invoicerepo.Provide(), conflicts: 1}
	h := newHarness(t, withInvoiceRepo(repo))
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)

	out, err := h.svc.Reconcile(context.Background(), reconcileRequest(completedResult("ORDER-1", "CAP-1", "400"), paymentdomain.SourceCapture))
	require.NoError(t, err)

	assert.Equal(t, 2, repo.calls)
	assert.True(t, out.Balance.Equal(decimal.NewFromInt(600)))
	assert.Equal(t, int64(1), h.count(t, &paymentdomain.Payment{}))
}

func TestReconcileGivesUpAfterRetries(t *testing.T) {
	repo := &conflictingInvoiceRepo{Repository: invoicerepo.Provide(), conflicts: 100}
	h := newHarness(t, withInvoiceRepo(repo))
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)

	_, err := h.svc.Reconcile(context.Background(), reconcileRequest(completedResult("ORDER-1", "CAP-1", "400"), paymentdomain.SourceCapture))
	require.ErrorIs(t, err, paymentdomain.ErrInvoiceUpdate)

	assert.Equal(t, config.DefaultCaptureConfig().InvoiceUpdateRetries, repo.calls)
	assert.Zero(t, h.count(t, &paymentdomain.Payment{}), "payment insert rolls back with the failed update")
	assert.True(t, h.invoice(t, testInvoiceID).Balance.Equal(decimal.NewFromInt(1000)))
}

func TestReconcileReceiptFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, withReceipts(failingReceipts{}))
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)

	out, err := h.svc.Reconcile(context.Background(), reconcileRequest(completedResult("ORDER-1", "CAP-1", "400"), paymentdomain.SourceCapture))
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, int64(1), h.count(t, &paymentdomain.Payment{}))

	published := h.publisher.published()
	require.Len(t, published, 1)
	assert.Empty(t, published[0].ReceiptNumber)
}

func TestReconcileCurrencyMismatchIsFlagged(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)
	result := completedResult("ORDER-1", "CAP-1", "400")
	result.Currency = "eur"

	out, err := h.svc.Reconcile(context.Background(), reconcileRequest(result, paymentdomain.SourceCapture))
	require.NoError(t, err)
	assert.True(t, out.Balance.Equal(decimal.NewFromInt(600)), "amounts are never converted")

	var payment paymentdomain.Payment
	require.NoError(t, h.db.Take(&payment).Error)
	assert.Equal(t, "EUR", payment.Currency)
	assert.Equal(t, true, payment.Metadata[metaCurrencyMismatch])
	assert.Equal(t, "USD", payment.Metadata[metaInvoiceCurrency])
}

func TestReconcileCancelledInvoiceKeepsStatus(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusCancelled)

	out, err := h.svc.Reconcile(context.Background(), reconcileRequest(completedResult("ORDER-1", "CAP-1", "400"), paymentdomain.SourceWebhook))
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusCancelled, out.Status)
	assert.Equal(t, int64(1), h.count(t, &paymentdomain.Payment{}))
}

func TestReconcileValidation(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)
	ctx := context.Background()

	pending := completedResult("ORDER-1", "CAP-1", "400")
	pending.Status = "PENDING"
	missingTxn := completedResult("ORDER-1", "", "400")
	zero := completedResult("ORDER-1", "CAP-1", "0")

	tests := []struct {
		name string
		req  paymentdomain.ReconcileRequest
		want error
	}{
		{"nil result", paymentdomain.ReconcileRequest{InvoiceID: testInvoiceID}, paymentdomain.ErrInvalidRequest},
		{"not completed", reconcileRequest(pending, paymentdomain.SourceCapture), paymentdomain.ErrPaymentNotCompleted},
		{"missing transaction", reconcileRequest(missingTxn, paymentdomain.SourceCapture), paymentdomain.ErrMissingCapture},
		{"zero amount", reconcileRequest(zero, paymentdomain.SourceCapture), paymentdomain.ErrInvalidAmount},
		{"other org", paymentdomain.ReconcileRequest{Result: completedResult("ORDER-1", "CAP-1", "400"), InvoiceID: testInvoiceID, OrgID: testOrgID + 1}, paymentdomain.ErrInvoiceNotFound},
		{"missing invoice", paymentdomain.ReconcileRequest{Result: completedResult("ORDER-1", "CAP-1", "400"), InvoiceID: 404}, paymentdomain.ErrInvoiceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Reconcile(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, h.count(t, &paymentdomain.Payment{}))
}
