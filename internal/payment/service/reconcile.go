package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/paycapture/internal/events"
	invoicedomain "github.com/smallbiznis/paycapture/internal/invoice/domain"
	"github.com/smallbiznis/paycapture/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/paycapture/internal/payment/domain"
	receiptdomain "github.com/smallbiznis/paycapture/internal/receipt/domain"
	"github.com/smallbiznis/paycapture/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Snapshot keys stored in payment metadata. A replay answers from these so
// the caller sees the same result as the first reconciliation.
const (
	metaSource           = "source"
	metaPayerEmail       = "payer_email"
	metaPayerName        = "payer_name"
	metaProcessorStatus  = "processor_status"
	metaCurrencyMismatch = "currency_mismatch"
	metaInvoiceCurrency  = "invoice_currency"
	metaInvoiceTotal     = "invoice_total"
	metaPreviousBalance  = "previous_balance"
	metaRemainingBalance = "remaining_balance"
	metaInvoiceStatus    = "invoice_status"
	metaOrderID          = "invoice_order_id"
)

var (
	errVersionConflict  = errors.New("invoice_version_conflict")
	errDuplicatePayment = errors.New("duplicate_payment")
)

type reconcileOutcome struct {
	payment  paymentdomain.Payment
	invoice  invoicedomain.Invoice
	previous decimal.Decimal
	balance  decimal.Decimal
	status   invoicedomain.InvoiceStatus
	replayed bool
}

func (o *reconcileOutcome) result() *paymentdomain.ReconcileResult {
	return &paymentdomain.ReconcileResult{
		Success:   true,
		CaptureID: o.payment.ProcessorTransactionID,
		Balance:   o.balance,
		Status:    o.status,
		PaymentID: o.payment.ID,
		Replayed:  o.replayed,
	}
}

func (s *Service) Reconcile(ctx context.Context, req paymentdomain.ReconcileRequest) (*paymentdomain.ReconcileResult, error) {
	res := req.Result
	if res == nil || req.InvoiceID == 0 {
		return nil, paymentdomain.ErrInvalidRequest
	}
	if !res.Completed() {
		return nil, paymentdomain.ErrPaymentNotCompleted
	}
	if !res.Processor.Valid() {
		return nil, paymentdomain.ErrInvalidRequest
	}
	if strings.TrimSpace(res.TransactionID) == "" {
		return nil, paymentdomain.ErrMissingCapture
	}
	if !res.Amount.IsPositive() {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if req.Source == "" {
		req.Source = paymentdomain.SourceCapture
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("processor", string(res.Processor)),
		zap.String("capture_id", res.TransactionID),
		zap.Int64("invoice_id", req.InvoiceID),
		zap.String("source", string(req.Source)),
	)

	retries := s.captureCfg.Get().InvoiceUpdateRetries
	if retries < 1 {
		retries = 1
	}

	var (
		outcome *reconcileOutcome
		err     error
	)
	for attempt := 1; ; attempt++ {
		outcome, err = s.reconcileOnce(ctx, log, req)
		if errors.Is(err, errDuplicatePayment) {
			// A concurrent reconciliation of the same capture committed first.
			outcome, err = s.replayCommitted(ctx, req)
			break
		}
		if errors.Is(err, errVersionConflict) {
			if attempt < retries {
				log.Info("invoice changed concurrently, retrying", zap.Int("attempt", attempt))
				continue
			}
			log.Error("invoice update lost every version race", zap.Int("attempts", attempt))
			err = fmt.Errorf("%w: version conflict after %d attempts", paymentdomain.ErrInvoiceUpdate, attempt)
		}
		break
	}
	if err != nil {
		if errors.Is(err, paymentdomain.ErrPaymentRecord) || errors.Is(err, paymentdomain.ErrInvoiceUpdate) {
			log.Error("reconciliation failed", zap.String("amount", res.Amount.String()), zap.Error(err))
		}
		return nil, err
	}

	if outcome.replayed {
		log.Info("capture already reconciled", zap.Int64("payment_id", outcome.payment.ID))
		s.ensureReceipt(ctx, log, outcome)
		return outcome.result(), nil
	}

	log.Info("payment reconciled",
		zap.Int64("payment_id", outcome.payment.ID),
		zap.String("amount", outcome.payment.Amount.String()),
		zap.String("previous_balance", outcome.previous.String()),
		zap.String("balance", outcome.balance.String()),
		zap.String("status", string(outcome.status)),
	)

	receipt := s.ensureReceipt(ctx, log, outcome)
	s.publish(ctx, log, req.Source, outcome, receipt)
	s.obsMetrics.RecordReconciliation(ctx, string(res.Processor), string(req.Source), string(outcome.status))

	return outcome.result(), nil
}

// reconcileOnce runs one transaction. All reads and writes inside it go
// through tx so the invoice row lock and the payment insert commit together.
func (s *Service) reconcileOnce(ctx context.Context, log *zap.Logger, req paymentdomain.ReconcileRequest) (*reconcileOutcome, error) {
	res := req.Result
	processor := string(res.Processor)
	txnID := strings.TrimSpace(res.TransactionID)

	var outcome *reconcileOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindPaymentByTransaction(ctx, tx, processor, txnID)
		if err != nil {
			return err
		}
		if existing != nil {
			outcome, err = s.replay(ctx, tx, *existing)
			return err
		}

		inv, err := s.invoiceRepo.FindForUpdate(ctx, tx, req.InvoiceID)
		if err != nil {
			return err
		}
		if inv == nil || (req.OrgID != 0 && inv.OrgID != req.OrgID) {
			return paymentdomain.ErrInvoiceNotFound
		}

		balance, status := inv.ApplyPayment(res.Amount)
		if inv.Status == invoicedomain.InvoiceStatusCancelled {
			log.Warn("payment applied to cancelled invoice; status unchanged")
		}

		currency := strings.ToUpper(strings.TrimSpace(res.Currency))
		if currency == "" {
			currency = inv.Currency
		}
		mismatch := !strings.EqualFold(currency, inv.Currency)
		if mismatch {
			log.Warn("capture currency differs from invoice currency; amount applied unconverted",
				zap.String("capture_currency", currency),
				zap.String("invoice_currency", inv.Currency),
			)
		}

		now := s.clock.Now()
		metadata := datatypes.JSONMap{
			metaSource:           string(req.Source),
			metaProcessorStatus:  res.CaptureStatus,
			metaCurrencyMismatch: mismatch,
			metaInvoiceCurrency:  inv.Currency,
			metaInvoiceTotal:     inv.TotalAmount.String(),
			metaPreviousBalance:  inv.Balance.String(),
			metaRemainingBalance: balance.String(),
			metaInvoiceStatus:    string(status),
		}
		if res.PayerEmail != "" {
			metadata[metaPayerEmail] = res.PayerEmail
		}
		if res.PayerName != "" {
			metadata[metaPayerName] = res.PayerName
		}
		if inv.OrderID != nil {
			metadata[metaOrderID] = *inv.OrderID
		}

		payment := paymentdomain.Payment{
			ID:                     s.genID.Generate().Int64(),
			OrgID:                  inv.OrgID,
			InvoiceID:              inv.ID,
			CustomerID:             inv.CustomerID,
			Amount:                 res.Amount,
			Currency:               currency,
			PaymentDate:            truncateDay(now),
			PaymentMethod:          res.Processor.PaymentMethod(),
			Processor:              processor,
			ProcessorOrderID:       strings.TrimSpace(res.OrderID),
			ProcessorTransactionID: txnID,
			Metadata:               metadata,
			CreatedAt:              now,
		}
		if err := s.repo.InsertPayment(ctx, tx, &payment); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return errDuplicatePayment
			}
			return fmt.Errorf("%w: %v", paymentdomain.ErrPaymentRecord, err)
		}

		updated, err := s.invoiceRepo.UpdateBalance(ctx, tx, inv.ID, inv.Version, balance, status, now)
		if err != nil {
			return fmt.Errorf("%w: %v", paymentdomain.ErrInvoiceUpdate, err)
		}
		if !updated {
			return errVersionConflict
		}

		outcome = &reconcileOutcome{
			payment:  payment,
			invoice:  *inv,
			previous: inv.Balance,
			balance:  balance,
			status:   status,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *Service) replayCommitted(ctx context.Context, req paymentdomain.ReconcileRequest) (*reconcileOutcome, error) {
	existing, err := s.repo.FindPaymentByTransaction(ctx, s.db, string(req.Result.Processor), strings.TrimSpace(req.Result.TransactionID))
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: duplicate reported but payment missing", paymentdomain.ErrPaymentRecord)
	}
	return s.replay(ctx, s.db, *existing)
}

// replayOrder answers a repeated capture request for an order whose payment
// is already recorded.
func (s *Service) replayOrder(ctx context.Context, log *zap.Logger, payment paymentdomain.Payment) (*paymentdomain.ReconcileResult, error) {
	outcome, err := s.replay(ctx, s.db, payment)
	if err != nil {
		return nil, err
	}
	log.Info("order already reconciled",
		zap.Int64("payment_id", payment.ID),
		zap.String("capture_id", payment.ProcessorTransactionID),
	)
	s.ensureReceipt(ctx, log, outcome)
	return outcome.result(), nil
}

func (s *Service) replay(ctx context.Context, tx *gorm.DB, payment paymentdomain.Payment) (*reconcileOutcome, error) {
	inv, err := s.invoiceRepo.FindByID(ctx, tx, payment.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, paymentdomain.ErrInvoiceNotFound
	}

	outcome := &reconcileOutcome{
		payment:  payment,
		invoice:  *inv,
		previous: metaDecimal(payment.Metadata, metaPreviousBalance, inv.Balance.Add(payment.Amount)),
		balance:  metaDecimal(payment.Metadata, metaRemainingBalance, inv.Balance),
		status:   inv.Status,
		replayed: true,
	}
	if status, ok := payment.Metadata[metaInvoiceStatus].(string); ok && status != "" {
		outcome.status = invoicedomain.InvoiceStatus(status)
	}
	return outcome, nil
}

// ensureReceipt never fails the reconciliation; a missing receipt is logged
// and regenerated on the next replay.
func (s *Service) ensureReceipt(ctx context.Context, log *zap.Logger, o *reconcileOutcome) *receiptdomain.Receipt {
	if s.receipts == nil {
		return nil
	}
	receipt, err := s.receipts.Generate(ctx, receiptdomain.GenerateInput{
		OrgID:            o.payment.OrgID,
		CustomerID:       o.payment.CustomerID,
		PaymentID:        o.payment.ID,
		InvoiceID:        o.payment.InvoiceID,
		OrderID:          o.invoice.OrderID,
		AmountPaid:       o.payment.Amount,
		PreviousBalance:  o.previous,
		RemainingBalance: o.balance,
		InvoiceTotal:     metaDecimal(o.payment.Metadata, metaInvoiceTotal, o.invoice.TotalAmount),
		Currency:         o.payment.Currency,
		PaymentDate:      o.payment.PaymentDate,
	})
	if err != nil {
		log.Error("receipt generation failed", zap.Int64("payment_id", o.payment.ID), zap.Error(err))
		s.obsMetrics.RecordReceiptFailure(ctx, o.payment.Processor)
		return nil
	}
	return receipt
}

func (s *Service) publish(ctx context.Context, log *zap.Logger, source paymentdomain.Source, o *reconcileOutcome, receipt *receiptdomain.Receipt) {
	if s.publisher == nil {
		return
	}
	event := events.PaymentReconciled{
		OrgID:      o.payment.OrgID,
		InvoiceID:  o.payment.InvoiceID,
		PaymentID:  o.payment.ID,
		Processor:  o.payment.Processor,
		CaptureID:  o.payment.ProcessorTransactionID,
		Amount:     o.payment.Amount,
		Currency:   o.payment.Currency,
		Balance:    o.balance,
		Status:     string(o.status),
		Source:     string(source),
		OccurredAt: o.payment.CreatedAt,
	}
	if email, ok := o.payment.Metadata[metaPayerEmail].(string); ok {
		event.PayerEmail = email
	}
	if receipt != nil {
		event.ReceiptID = receipt.ID
		event.ReceiptNumber = receipt.ReceiptNumber
	}
	if err := s.publisher.PublishPaymentReconciled(ctx, event); err != nil {
		log.Warn("payment event not published", zap.Int64("payment_id", o.payment.ID), zap.Error(err))
	}
}

func metaDecimal(meta datatypes.JSONMap, key string, fallback decimal.Decimal) decimal.Decimal {
	raw, ok := meta[key].(string)
	if !ok || raw == "" {
		return fallback
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback
	}
	return value
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
