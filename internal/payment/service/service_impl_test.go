package service

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	capturedomain "github.com/smallbiznis/paycapture/internal/capture/domain"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/paycapture/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/paycapture/internal/payment/domain"
	receiptdomain "github.com/smallbiznis/paycapture/internal/receipt/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureRequest(orderID string) paymentdomain.CaptureRequest {
	return paymentdomain.CaptureRequest{
		OrgID:     testOrgID,
		Processor: gatewaydomain.ProcessorPayPal,
		OrderID:   orderID,
		InvoiceID: testInvoiceID,
	}
}

func TestCapturePartialPayment(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)
	h.client.EXPECT().CaptureOrder(gomock.Any(), "ORDER-1").Return(completedResult("ORDER-1", "CAP-1", "400"), nil)

	out, err := h.svc.Capture(context.Background(), captureRequest("ORDER-1"))
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, "CAP-1", out.CaptureID)
	assert.True(t, out.Balance.Equal(decimal.NewFromInt(600)), out.Balance.String())
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, out.Status)
	assert.False(t, out.Replayed)

	inv := h.invoice(t, testInvoiceID)
	assert.True(t, inv.Balance.Equal(decimal.NewFromInt(600)))
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, inv.Status)
	assert.Equal(t, int64(1), inv.Version)

	var payment paymentdomain.Payment
	require.NoError(t, h.db.Take(&payment).Error)
	assert.Equal(t, "PayPal", payment.PaymentMethod)
	assert.Equal(t, "CAP-1", payment.ProcessorTransactionID)
	assert.Equal(t, "ORDER-1", payment.ProcessorOrderID)
	assert.Equal(t, int64(4242), payment.CustomerID)
	assert.True(t, payment.Amount.Equal(decimal.NewFromInt(400)))
	assert.Equal(t, "payer@example.com", payment.Metadata[metaPayerEmail])

	var receipt receiptdomain.Receipt
	require.NoError(t, h.db.Take(&receipt).Error)
	assert.Equal(t, "RCT-202610-000001", receipt.ReceiptNumber)
	assert.Equal(t, payment.ID, receipt.PaymentID)
	assert.True(t, receipt.PreviousBalance.Equal(decimal.NewFromInt(1000)))
	assert.True(t, receipt.RemainingBalance.Equal(decimal.NewFromInt(600)))

	assert.Equal(t, paymentdomain.AttemptCompleted, h.attempt(t, "ORDER-1").Status)

	published := h.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, receipt.ReceiptNumber, published[0].ReceiptNumber)
	assert.Equal(t, string(paymentdomain.SourceCapture), published[0].Source)
}

func TestCaptureSettlesInvoice(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "400", invoicedomain.InvoiceStatusSent)
	h.client.EXPECT().CaptureOrder(gomock.Any(), "ORDER-2").Return(completedResult("ORDER-2", "CAP-2", "400"), nil)

	out, err := h.svc.Capture(context.Background(), captureRequest("ORDER-2"))
	require.NoError(t, err)

	assert.True(t, out.Balance.IsZero())
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, out.Status)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, h.invoice(t, testInvoiceID).Status)
}

func TestCaptureRetryAfterSettlementReturnsStoredResult(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "400", invoicedomain.InvoiceStatusSent)
	h.client.EXPECT().CaptureOrder(gomock.Any(), "ORDER-9").Return(completedResult("ORDER-9", "CAP-9", "400"), nil).Times(1)

	first, err := h.svc.Capture(context.Background(), captureRequest("ORDER-9"))
	require.NoError(t, err)
	require.Equal(t, invoicedomain.InvoiceStatusPaid, first.Status)

	second, err := h.svc.Capture(context.Background(), captureRequest("ORDER-9"))
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Replayed)
	assert.Equal(t, "CAP-9", second.CaptureID)
	assert.True(t, second.Balance.IsZero(), second.Balance.String())
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, second.Status)

	assert.Equal(t, int64(1), h.count(t, &paymentdomain.Payment{}))
	assert.Equal(t, int64(1), h.count(t, &receiptdomain.Receipt{}))
	assert.Equal(t, int64(1), h.invoice(t, testInvoiceID).Version)
	assert.Equal(t, paymentdomain.AttemptCompleted, h.attempt(t, "ORDER-9").Status)
	assert.Len(t, h.publisher.published(), 1)
}

func TestCaptureRetryAfterPartialPaymentDoesNotCaptureAgain(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)
	h.client.EXPECT().CaptureOrder(gomock.Any(), "ORDER-10").Return(completedResult("ORDER-10", "CAP-10", "400"), nil).Times(1)

	_, err := h.svc.Capture(context.Background(), captureRequest("ORDER-10"))
	require.NoError(t, err)

	again, err := h.svc.Capture(context.Background(), captureRequest("ORDER-10"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.True(t, again.Balance.Equal(decimal.NewFromInt(600)), again.Balance.String())
	assert.Equal(t, invoicedomain.InvoiceStatusPartial, again.Status)
	assert.True(t, h.invoice(t, testInvoiceID).Balance.Equal(decimal.NewFromInt(600)))
}

func TestCaptureDeclinedLeavesLedgerUntouched(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)
	declined := completedResult("ORDER-3", "CAP-3", "400")
	declined.Status = "DECLINED"
	h.client.EXPECT().CaptureOrder(gomock.Any(), "ORDER-3").Return(declined, nil)

	_, err := h.svc.Capture(context.Background(), captureRequest("ORDER-3"))
	require.ErrorIs(t, err, paymentdomain.ErrPaymentNotCompleted)

	assert.Zero(t, h.count(t, &paymentdomain.Payment{}))
	assert.Zero(t, h.count(t, &receiptdomain.Receipt{}))
	inv := h.invoice(t, testInvoiceID)
	assert.True(t, inv.Balance.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, invoicedomain.InvoiceStatusSent, inv.Status)
	assert.Equal(t, int64(0), inv.Version)
	assert.Equal(t, paymentdomain.AttemptNotCompleted, h.attempt(t, "ORDER-3").Status)
	assert.Empty(t, h.publisher.published())
}

func TestCaptureUnknownOutcomeQueuesVerification(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)
	h.client.EXPECT().CaptureOrder(gomock.Any(), "ORDER-4").Return(nil, &capturedomain.CaptureError{
		Processor:  gatewaydomain.ProcessorPayPal,
		OrderID:    "ORDER-4",
		StatusCode: 503,
		Unknown:    true,
	})

	_, err := h.svc.Capture(context.Background(), captureRequest("ORDER-4"))
	require.ErrorIs(t, err, paymentdomain.ErrCaptureUnverified)
	assert.True(t, capturedomain.IsOutcomeUnknown(err))

	attempt := h.attempt(t, "ORDER-4")
	assert.Equal(t, paymentdomain.AttemptUnverified, attempt.Status)
	require.NotNil(t, attempt.LastError)
	assert.Zero(t, h.count(t, &paymentdomain.Payment{}))
}

func TestCaptureAuthFailure(t *testing.T) {
	h := newHarness(t)
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)
	h.client.EXPECT().CaptureOrder(gomock.Any(), "ORDER-5").Return(nil, &capturedomain.AuthError{
		Processor:  gatewaydomain.ProcessorPayPal,
		StatusCode: 401,
		Body:       `{"error":"invalid_client"}`,
	})

	_, err := h.svc.Capture(context.Background(), captureRequest("ORDER-5"))
	var authErr *capturedomain.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, paymentdomain.AttemptNotCompleted, h.attempt(t, "ORDER-5").Status)
}

func TestCaptureRejectsUnpayableInvoice(t *testing.T) {
	for _, status := range []invoicedomain.InvoiceStatus{invoicedomain.InvoiceStatusPaid, invoicedomain.InvoiceStatusCancelled} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t)
			h.seedInvoice(t, testInvoiceID, "0", status)

			_, err := h.svc.Capture(context.Background(), captureRequest("ORDER-6"))
			require.ErrorIs(t, err, paymentdomain.ErrInvoiceNotPayable)
			assert.Zero(t, h.count(t, &paymentdomain.CaptureAttempt{}))
		})
	}
}

func TestCaptureInvoiceNotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Capture(context.Background(), captureRequest("ORDER-7"))
	require.ErrorIs(t, err, paymentdomain.ErrInvoiceNotFound)

	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)
	req := captureRequest("ORDER-7")
	req.OrgID = testOrgID + 1
	_, err = h.svc.Capture(context.Background(), req)
	require.ErrorIs(t, err, paymentdomain.ErrInvoiceNotFound)
}

func TestCaptureGatewayNotConfigured(t *testing.T) {
	h := newHarness(t, withGateway(staticGateway{err: gatewaydomain.ErrNotConfigured}))
	h.seedInvoice(t, testInvoiceID, "1000", invoicedomain.InvoiceStatusSent)

	_, err := h.svc.Capture(context.Background(), captureRequest("ORDER-8"))
	require.ErrorIs(t, err, gatewaydomain.ErrNotConfigured)
}

func TestCaptureValidatesRequest(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Capture(context.Background(), paymentdomain.CaptureRequest{OrgID: testOrgID, Processor: gatewaydomain.ProcessorPayPal, InvoiceID: testInvoiceID})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidRequest)

	_, err = h.svc.Capture(context.Background(), paymentdomain.CaptureRequest{OrgID: testOrgID, Processor: gatewaydomain.ProcessorPayPal, OrderID: "ORDER-9"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidRequest)

	_, err = h.svc.Capture(context.Background(), paymentdomain.CaptureRequest{OrgID: testOrgID, Processor: "square", OrderID: "ORDER-9", InvoiceID: testInvoiceID})
	assert.ErrorIs(t, err, gatewaydomain.ErrInvalidProcessor)
}
