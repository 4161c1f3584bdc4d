package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/paycapture/internal/capture"
	capturedomain "github.com/smallbiznis/paycapture/internal/capture/domain"
	"github.com/smallbiznis/paycapture/internal/clock"
	"github.com/smallbiznis/paycapture/internal/config"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	obscontext "github.com/smallbiznis/paycapture/internal/observability/context"
	"github.com/smallbiznis/paycapture/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paycapture/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paycapture/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// stripeEventPaymentSucceeded is Stripe's name for a settled capture.
const stripeEventPaymentSucceeded = "payment_intent.succeeded"

var (
	errSignatureInvalid = errors.New("webhook_signature_invalid")
	errClientMissing    = errors.New("webhook_client_unavailable")
	errInvoiceReference = errors.New("webhook_invoice_reference_missing")
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       paymentdomain.Repository
	Payments   paymentdomain.Service
	Gateway    gatewaydomain.Service
	Clients    *capture.Registry
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	payments   paymentdomain.Service
	gateway    gatewaydomain.Service
	clients    *capture.Registry
	skipVerify bool
	obsMetrics *obsmetrics.Metrics
}

// envelope covers the identifying fields of both PayPal and Stripe events.
type envelope struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	Type         string `json:"type"`
	ResourceType string `json:"resource_type"`
}

func (e envelope) eventType() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.Type
}

func NewService(p Params) paymentdomain.WebhookService {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		payments:   p.Payments,
		gateway:    p.Gateway,
		clients:    p.Clients,
		skipVerify: p.Cfg.Gateway.WebhookVerifySkip,
		obsMetrics: p.ObsMetrics,
	}
}

// IngestWebhook logs every event once and reconciles completed captures.
// Only a malformed payload is reported to the caller; processing failures are
// recorded on the event row.
func (s *Service) IngestWebhook(ctx context.Context, orgID int64, processor gatewaydomain.Processor, payload []byte, headers http.Header) error {
	ctx = obscontext.WithProcessor(ctx, string(processor))
	log := logger.WithContext(ctx, s.log)

	if !json.Valid(payload) {
		log.Warn("webhook payload is not valid JSON", zap.Int("size", len(payload)))
		return paymentdomain.ErrInvalidPayload
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warn("webhook payload is not an object", zap.Error(err))
		return paymentdomain.ErrInvalidPayload
	}

	eventID := strings.TrimSpace(env.ID)
	if eventID == "" {
		eventID = ulid.Make().String()
	}
	eventType := strings.TrimSpace(env.eventType())
	log = log.With(zap.String("event_id", eventID), zap.String("event_type", eventType))

	client := s.resolveClient(ctx, log, orgID, processor)
	signatureValid := s.verify(ctx, log, client, payload, headers)

	event := paymentdomain.WebhookEvent{
		ID:             s.genID.Generate().Int64(),
		Processor:      string(processor),
		EventID:        eventID,
		EventType:      eventType,
		ResourceType:   strings.TrimSpace(env.ResourceType),
		Payload:        datatypes.JSON(payload),
		SignatureValid: signatureValid,
		ReceivedAt:     s.clock.Now(),
	}
	inserted, err := s.repo.InsertWebhookEvent(ctx, s.db, &event)
	if err != nil {
		log.Error("failed to log webhook event", zap.Error(err))
		return err
	}
	if !inserted {
		existing, err := s.repo.FindWebhookEvent(ctx, s.db, string(processor), eventID)
		if err != nil {
			log.Error("failed to load logged webhook event", zap.Error(err))
			return err
		}
		if existing == nil || !needsProcessing(*existing) || !isCaptureCompleted(processor, eventType) {
			log.Info("duplicate webhook event ignored")
			return nil
		}
		log.Info("redelivered webhook event reprocessed", zap.Bool("previously_failed", existing.ProcessingError != nil))
		event.ID = existing.ID
	} else {
		s.obsMetrics.RecordWebhookEvent(ctx, string(processor), eventType)
		log.Info("webhook event received", zap.Bool("signature_valid", signatureValid))
	}

	if !isCaptureCompleted(processor, eventType) {
		return nil
	}

	var processingError *string
	if err := s.reconcileEvent(ctx, log, orgID, client, signatureValid, payload); err != nil {
		msg := err.Error()
		processingError = &msg
		log.Error("webhook capture not reconciled", zap.Error(err))
	}
	if err := s.repo.MarkWebhookProcessed(ctx, s.db, event.ID, s.clock.Now(), processingError); err != nil {
		log.Warn("failed to mark webhook event processed", zap.Error(err))
	}
	return nil
}

func (s *Service) reconcileEvent(ctx context.Context, log *zap.Logger, orgID int64, client capturedomain.Client, signatureValid bool, payload []byte) error {
	if client == nil {
		return errClientMissing
	}
	if !signatureValid {
		return errSignatureInvalid
	}

	parsed, err := client.ParseWebhookEvent(payload)
	if err != nil {
		return err
	}
	if !parsed.CaptureCompleted() {
		return paymentdomain.ErrPaymentNotCompleted
	}

	ref := strings.TrimSpace(parsed.Capture.InvoiceID)
	invoiceID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || invoiceID <= 0 {
		return fmt.Errorf("%w: %q", errInvoiceReference, ref)
	}

	out, err := s.payments.Reconcile(ctx, paymentdomain.ReconcileRequest{
		Result:    parsed.Capture,
		InvoiceID: invoiceID,
		OrgID:     orgID,
		Source:    paymentdomain.SourceWebhook,
	})
	if err != nil {
		return err
	}
	log.Info("webhook capture reconciled",
		zap.Int64("invoice_id", invoiceID),
		zap.String("capture_id", out.CaptureID),
		zap.Bool("replayed", out.Replayed),
	)
	return nil
}

func (s *Service) resolveClient(ctx context.Context, log *zap.Logger, orgID int64, processor gatewaydomain.Processor) capturedomain.Client {
	if orgID == 0 || !processor.Valid() || s.gateway == nil {
		return nil
	}
	settings, err := s.gateway.GetGatewaySettings(ctx, orgID, processor)
	if err != nil {
		log.Warn("webhook gateway settings unavailable", zap.Int64("org_id", orgID), zap.Error(err))
		return nil
	}
	client, err := s.clients.NewClient(*settings)
	if err != nil {
		log.Warn("webhook client unavailable", zap.Error(err))
		return nil
	}
	return client
}

func (s *Service) verify(ctx context.Context, log *zap.Logger, client capturedomain.Client, payload []byte, headers http.Header) bool {
	if s.skipVerify {
		return true
	}
	if client == nil {
		return false
	}
	ok, err := client.VerifyWebhookSignature(ctx, payload, headers)
	if err != nil {
		log.Warn("webhook signature verification failed", zap.Error(err))
		return false
	}
	return ok
}

// needsProcessing reports whether a logged event never finished or failed
// its last reconciliation.
func needsProcessing(event paymentdomain.WebhookEvent) bool {
	return event.ProcessedAt == nil || event.ProcessingError != nil
}

func isCaptureCompleted(processor gatewaydomain.Processor, eventType string) bool {
	switch processor {
	case gatewaydomain.ProcessorStripe:
		return eventType == stripeEventPaymentSucceeded
	default:
		return eventType == capturedomain.EventCaptureCompleted
	}
}
