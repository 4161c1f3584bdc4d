package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycapture/internal/capture"
	capturedomain "github.com/smallbiznis/paycapture/internal/capture/domain"
	"github.com/smallbiznis/paycapture/internal/clock"
	"github.com/smallbiznis/paycapture/internal/config"
	"github.com/smallbiznis/paycapture/internal/events"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/paycapture/internal/invoice/domain"
	obscontext "github.com/smallbiznis/paycapture/internal/observability/context"
	"github.com/smallbiznis/paycapture/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paycapture/internal/observability/metrics"
	"github.com/smallbiznis/paycapture/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/paycapture/internal/payment/domain"
	receiptdomain "github.com/smallbiznis/paycapture/internal/receipt/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	outcomeCompleted    = "completed"
	outcomeNotCompleted = "not_completed"
	outcomeUnknown      = "unknown"
	outcomeRejected     = "rejected"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        paymentdomain.Repository
	InvoiceRepo invoicedomain.Repository
	Gateway     gatewaydomain.Service
	Clients     *capture.Registry
	Receipts    receiptdomain.Service
	Publisher   events.Publisher
	CaptureCfg  *config.CaptureConfigHolder
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        paymentdomain.Repository
	invoiceRepo invoicedomain.Repository
	gateway     gatewaydomain.Service
	clients     *capture.Registry
	receipts    receiptdomain.Service
	publisher   events.Publisher
	captureCfg  *config.CaptureConfigHolder
	obsMetrics  *obsmetrics.Metrics
	tracer      trace.Tracer
}

func NewService(p Params) *Service {
	captureCfg := p.CaptureCfg
	if captureCfg == nil {
		captureCfg = config.NewStaticCaptureConfigHolder(config.DefaultCaptureConfig())
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		invoiceRepo: p.InvoiceRepo,
		gateway:     p.Gateway,
		clients:     p.Clients,
		receipts:    p.Receipts,
		publisher:   p.Publisher,
		captureCfg:  captureCfg,
		obsMetrics:  p.ObsMetrics,
		tracer:      otel.Tracer("paycapture/payment"),
	}
}

func (s *Service) Capture(ctx context.Context, req paymentdomain.CaptureRequest) (*paymentdomain.ReconcileResult, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" || req.InvoiceID == 0 || req.OrgID == 0 {
		return nil, paymentdomain.ErrInvalidRequest
	}
	if !req.Processor.Valid() {
		return nil, gatewaydomain.ErrInvalidProcessor
	}

	ctx = obscontext.WithCapture(ctx, strconv.FormatInt(req.InvoiceID, 10), orderID)
	ctx = obscontext.WithProcessor(ctx, string(req.Processor))
	log := logger.WithContext(ctx, s.log)

	settings, err := s.gateway.GetGatewaySettings(ctx, req.OrgID, req.Processor)
	if err != nil {
		log.Error("gateway settings unavailable", zap.Error(err))
		return nil, err
	}

	inv, err := s.invoiceRepo.FindByID(ctx, s.db, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil || inv.OrgID != req.OrgID {
		return nil, paymentdomain.ErrInvoiceNotFound
	}

	// A retried order that already settled answers from the stored payment,
	// even when that payment is what made the invoice unpayable.
	existing, err := s.repo.FindPaymentByOrder(ctx, s.db, string(req.Processor), orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		out, err := s.replayOrder(ctx, log, *existing)
		if err != nil {
			return nil, err
		}
		s.markAttempt(ctx, req.Processor, orderID, paymentdomain.AttemptCompleted, nil)
		return out, nil
	}

	if !inv.Payable() {
		log.Warn("capture refused for invoice", zap.String("invoice_status", string(inv.Status)))
		return nil, fmt.Errorf("%w: invoice is %s", paymentdomain.ErrInvoiceNotPayable, inv.Status)
	}

	client, err := s.clients.NewClient(*settings)
	if err != nil {
		log.Error("capture client unavailable", zap.Error(err))
		return nil, err
	}

	now := s.clock.Now()
	attempt := paymentdomain.CaptureAttempt{
		ID:               s.genID.Generate().Int64(),
		OrgID:            req.OrgID,
		Processor:        string(req.Processor),
		ProcessorOrderID: orderID,
		InvoiceID:        req.InvoiceID,
		Status:           paymentdomain.AttemptPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.UpsertAttempt(ctx, s.db, &attempt); err != nil {
		return nil, err
	}

	result, err := s.captureOrder(ctx, client, req.Processor, orderID)
	if err != nil {
		if capturedomain.IsOutcomeUnknown(err) {
			log.Error("capture outcome unknown; queued for verification", zap.Error(err))
			s.markAttempt(ctx, req.Processor, orderID, paymentdomain.AttemptUnverified, err)
			return nil, fmt.Errorf("%w: %w", paymentdomain.ErrCaptureUnverified, err)
		}
		s.logProcessorFailure(log, err)
		s.markAttempt(ctx, req.Processor, orderID, paymentdomain.AttemptNotCompleted, err)
		return nil, err
	}

	if !result.Completed() {
		log.Warn("capture not completed", zap.String("status", result.Status))
		s.markAttempt(ctx, req.Processor, orderID, paymentdomain.AttemptNotCompleted, nil)
		return nil, fmt.Errorf("%w: status %s", paymentdomain.ErrPaymentNotCompleted, result.Status)
	}

	if ref := strings.TrimSpace(result.InvoiceID); ref != "" && ref != strconv.FormatInt(req.InvoiceID, 10) {
		log.Warn("processor invoice reference differs from request", zap.String("processor_invoice_ref", ref))
	}

	out, err := s.Reconcile(ctx, paymentdomain.ReconcileRequest{
		Result:    result,
		InvoiceID: req.InvoiceID,
		OrgID:     req.OrgID,
		Source:    paymentdomain.SourceCapture,
	})
	if err != nil {
		// Money moved but the ledger did not; the sweeper retries from GetOrder.
		log.Error("captured payment not reconciled",
			zap.String("capture_id", result.TransactionID),
			zap.String("amount", result.Amount.String()),
			zap.Error(err),
		)
		s.markAttempt(ctx, req.Processor, orderID, paymentdomain.AttemptUnverified, err)
		return nil, err
	}

	s.markAttempt(ctx, req.Processor, orderID, paymentdomain.AttemptCompleted, nil)
	return out, nil
}

func (s *Service) captureOrder(ctx context.Context, client capturedomain.Client, processor gatewaydomain.Processor, orderID string) (*capturedomain.Result, error) {
	ctx, span := s.tracer.Start(ctx, "capture.order", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(tracing.SafeAttributes(
		attribute.String("provider", string(processor)),
		attribute.String("order_id", orderID),
	)...)

	s.obsMetrics.RecordCaptureAttempt(ctx, string(processor))
	start := s.clock.Now()

	result, err := client.CaptureOrder(ctx, orderID)
	elapsed := s.clock.Now().Sub(start)

	switch {
	case err != nil && capturedomain.IsOutcomeUnknown(err):
		s.obsMetrics.RecordCaptureOutcome(ctx, string(processor), outcomeUnknown, elapsed)
	case err != nil:
		s.obsMetrics.RecordCaptureOutcome(ctx, string(processor), outcomeRejected, elapsed)
	case result.Completed():
		s.obsMetrics.RecordCaptureOutcome(ctx, string(processor), outcomeCompleted, elapsed)
	default:
		s.obsMetrics.RecordCaptureOutcome(ctx, string(processor), outcomeNotCompleted, elapsed)
	}

	if err != nil {
		safe := tracing.SafeError(err)
		span.RecordError(safe)
		span.SetStatus(codes.Error, safe.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("status", result.Status))
	return result, nil
}

func (s *Service) markAttempt(ctx context.Context, processor gatewaydomain.Processor, orderID string, status paymentdomain.AttemptStatus, cause error) {
	var lastError *string
	if cause != nil {
		msg := tracing.SafeError(cause).Error()
		lastError = &msg
	}
	if err := s.repo.UpdateAttempt(ctx, s.db, string(processor), orderID, status, lastError, s.clock.Now()); err != nil {
		s.log.Warn("failed to update capture attempt",
			zap.String("processor", string(processor)),
			zap.String("order_id", orderID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (s *Service) logProcessorFailure(log *zap.Logger, err error) {
	var authErr *capturedomain.AuthError
	var captureErr *capturedomain.CaptureError
	switch {
	case errors.As(err, &authErr):
		log.Error("processor authentication failed",
			zap.Int("status_code", authErr.StatusCode),
			zap.String("body", authErr.Body),
			zap.Error(err),
		)
	case errors.As(err, &captureErr):
		log.Error("processor capture failed",
			zap.Int("status_code", captureErr.StatusCode),
			zap.String("body", captureErr.Body),
			zap.Error(err),
		)
	default:
		log.Error("capture failed", zap.Error(err))
	}
}
