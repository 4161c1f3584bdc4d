package scheduler

import (
	"context"
	"strconv"
	"time"

	obscontext "github.com/smallbiznis/paycapture/internal/observability/context"
	obslogger "github.com/smallbiznis/paycapture/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paycapture/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paycapture/internal/payment/domain"
	"go.uber.org/zap"
)

type jobRun struct {
	job            string
	runID          string
	batchSize      int
	startedAt      time.Time
	processedCount int
	errorCount     int
}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

type jobRunKey struct{}

func (s *Scheduler) newJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun) {
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	return context.WithValue(ctx, jobRunKey{}, run), run
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) withAttemptContext(ctx context.Context, attempt paymentdomain.CaptureAttempt) context.Context {
	ctx = obscontext.WithOrgID(ctx, strconv.FormatInt(attempt.OrgID, 10))
	ctx = obscontext.WithCapture(ctx, strconv.FormatInt(attempt.InvoiceID, 10), attempt.ProcessorOrderID)
	return obscontext.WithProcessor(ctx, attempt.Processor)
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processedCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logAttemptError(ctx context.Context, msg string, attempt paymentdomain.CaptureAttempt, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	jobRunFromContext(ctx).IncError()
	ctx = s.withAttemptContext(ctx, attempt)
	baseFields := []zap.Field{
		zap.Int64("attempt_id", attempt.ID),
		zap.String("order_id", attempt.ProcessorOrderID),
		zap.Int64("invoice_id", attempt.InvoiceID),
		zap.Int("attempts", attempt.Attempts),
		zap.String("error_type", obsmetrics.ClassifySweeperReason(err)),
		zap.Error(err),
	}
	s.logger(ctx).Error(msg, append(baseFields, fields...)...)
}
