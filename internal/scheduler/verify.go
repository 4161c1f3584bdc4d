package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	capturedomain "github.com/smallbiznis/paycapture/internal/capture/domain"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	obsmetrics "github.com/smallbiznis/paycapture/internal/observability/metrics"
	"github.com/smallbiznis/paycapture/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/paycapture/internal/payment/domain"
	"go.uber.org/zap"
)

// statusPending is the one non-final order state; everything else that is not
// COMPLETED means no money moved.
const statusPending = "PENDING"

// VerifyCapturesJob asks the processor for the current state of every stale
// pending or unverified capture attempt and settles it.
func (s *Scheduler) VerifyCapturesJob(ctx context.Context) error {
	cfg := s.sweeperConfig()
	run := jobRunFromContext(ctx)

	olderThan := s.clock.Now().Add(-cfg.MinAge)
	attempts, err := s.repo.ListAttemptsForVerification(ctx, s.db, olderThan, cfg.BatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if err := s.verifyAttempt(ctx, attempt, cfg.MaxAttempts); err != nil {
			jobErr = errors.Join(jobErr, err)
		}
		run.AddProcessed(1)
	}
	return jobErr
}

func (s *Scheduler) verifyAttempt(ctx context.Context, attempt paymentdomain.CaptureAttempt, maxAttempts int) error {
	processor := gatewaydomain.Processor(attempt.Processor)
	log := s.logger(s.withAttemptContext(ctx, attempt)).With(
		zap.Int64("attempt_id", attempt.ID),
		zap.String("order_id", attempt.ProcessorOrderID),
		zap.Int64("invoice_id", attempt.InvoiceID),
	)

	result, err := s.lookupOrder(ctx, attempt, processor)
	if err != nil {
		s.logAttemptError(ctx, "capture verification failed", attempt, err)
		s.retryLater(ctx, attempt, maxAttempts, err)
		return nil
	}

	status := strings.ToUpper(strings.TrimSpace(result.Status))
	switch {
	case result.Completed():
		out, err := s.payments.Reconcile(ctx, paymentdomain.ReconcileRequest{
			Result:    result,
			InvoiceID: attempt.InvoiceID,
			OrgID:     attempt.OrgID,
			Source:    paymentdomain.SourceSweeper,
		})
		if err != nil {
			s.logAttemptError(ctx, "verified capture not reconciled", attempt, err,
				zap.String("capture_id", result.TransactionID),
			)
			s.retryLater(ctx, attempt, maxAttempts, err)
			return err
		}
		s.settle(ctx, attempt, paymentdomain.AttemptCompleted, nil)
		s.metrics.IncVerification(attempt.Processor, obsmetrics.VerificationOutcomeCompleted)
		log.Info("capture verified and reconciled",
			zap.String("capture_id", out.CaptureID),
			zap.String("balance", out.Balance.String()),
			zap.Bool("replayed", out.Replayed),
		)
	case status == statusPending:
		s.metrics.IncVerification(attempt.Processor, obsmetrics.VerificationOutcomePending)
		log.Info("capture still pending at processor")
		s.retryLater(ctx, attempt, maxAttempts, nil)
	default:
		reason := fmt.Sprintf("processor reports %s", status)
		s.settle(ctx, attempt, paymentdomain.AttemptNotCompleted, &reason)
		s.metrics.IncVerification(attempt.Processor, obsmetrics.VerificationOutcomeNotCompleted)
		log.Info("capture verified as not completed", zap.String("status", status))
	}
	return nil
}

func (s *Scheduler) lookupOrder(ctx context.Context, attempt paymentdomain.CaptureAttempt, processor gatewaydomain.Processor) (*capturedomain.Result, error) {
	settings, err := s.gateway.GetGatewaySettings(ctx, attempt.OrgID, processor)
	if err != nil {
		return nil, err
	}
	client, err := s.clients.NewClient(*settings)
	if err != nil {
		return nil, err
	}
	return client.GetOrder(ctx, attempt.ProcessorOrderID)
}

// retryLater bumps the attempt counter and gives up once maxAttempts is reached.
func (s *Scheduler) retryLater(ctx context.Context, attempt paymentdomain.CaptureAttempt, maxAttempts int, cause error) {
	status := attempt.Status
	if attempt.Attempts+1 >= maxAttempts {
		status = paymentdomain.AttemptFailed
		s.metrics.IncVerification(attempt.Processor, obsmetrics.VerificationOutcomeFailed)
		s.logger(s.withAttemptContext(ctx, attempt)).Error("capture verification exhausted; manual review required",
			zap.Int64("attempt_id", attempt.ID),
			zap.String("order_id", attempt.ProcessorOrderID),
			zap.Int64("invoice_id", attempt.InvoiceID),
			zap.Int("max_attempts", maxAttempts),
		)
	}
	s.settle(ctx, attempt, status, errMessage(cause))
}

func (s *Scheduler) settle(ctx context.Context, attempt paymentdomain.CaptureAttempt, status paymentdomain.AttemptStatus, lastError *string) {
	if err := s.repo.IncrementAttempt(ctx, s.db, attempt.ID, status, lastError, s.clock.Now()); err != nil {
		s.logAttemptError(ctx, "failed to update capture attempt", attempt, err, zap.String("status", string(status)))
	}
}

func errMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := tracing.SafeError(err).Error()
	return &msg
}
