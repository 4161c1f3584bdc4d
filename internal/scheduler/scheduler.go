package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycapture/internal/capture"
	"github.com/smallbiznis/paycapture/internal/clock"
	"github.com/smallbiznis/paycapture/internal/config"
	gatewaydomain "github.com/smallbiznis/paycapture/internal/gateway/domain"
	"github.com/smallbiznis/paycapture/internal/lock"
	obsmetrics "github.com/smallbiznis/paycapture/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/paycapture/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobVerifyCaptures = "verify_captures"
	lockKeyPrefix     = "paycapture:sweeper:"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	Payments   paymentdomain.Service
	Gateway    gatewaydomain.Service
	Clients    *capture.Registry
	CaptureCfg *config.CaptureConfigHolder
	Locker     *lock.Locker               `optional:"true"`
	Metrics    *obsmetrics.SweeperMetrics `optional:"true"`
}

// Scheduler runs background jobs. Its one job verifies capture attempts whose
// outcome was never confirmed and reconciles the ones the processor settled.
type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	payments   paymentdomain.Service
	gateway    gatewaydomain.Service
	clients    *capture.Registry
	captureCfg *config.CaptureConfigHolder
	locker     *lock.Locker
	metrics    *obsmetrics.SweeperMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil || p.Payments == nil || p.Gateway == nil || p.Clients == nil {
		return nil, ErrInvalidConfig
	}
	captureCfg := p.CaptureCfg
	if captureCfg == nil {
		captureCfg = config.NewStaticCaptureConfigHolder(config.DefaultCaptureConfig())
	}
	sweeperMetrics := p.Metrics
	if sweeperMetrics == nil {
		sweeperMetrics = obsmetrics.Sweeper()
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		payments:   p.Payments,
		gateway:    p.Gateway,
		clients:    p.Clients,
		captureCfg: captureCfg,
		locker:     p.Locker,
		metrics:    sweeperMetrics,
	}, nil
}

func (s *Scheduler) sweeperConfig() config.SweeperConfig {
	return withDefaults(s.captureCfg.Get().Sweeper)
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	token, acquired, err := s.locker.TryLock(ctx, lockKeyPrefix+name, timeout+30*time.Second)
	if err != nil {
		s.metrics.IncJobError(name, err)
		return fmt.Errorf("%s: lock: %w", name, err)
	}
	if !acquired {
		s.metrics.IncLockSkipped(name)
		s.log.Debug("job held by another instance", zap.String("job", name))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.Background(), lockKeyPrefix+name, token); err != nil {
			s.log.Warn("failed to release job lock", zap.String("job", name), zap.Error(err))
		}
	}()

	ctx, run := s.newJobRun(ctx, name, batchSize)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err = fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the remaining attempts wait for the next tick
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	cfg := s.sweeperConfig()
	if !cfg.Enabled {
		return nil
	}
	return s.runJob(parent, jobVerifyCaptures, cfg.BatchSize, cfg.JobTimeout, s.VerifyCapturesJob)
}

// RunForever re-reads the interval every tick so a reloaded config applies
// without a restart.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.sweeperConfig().Interval
	nextRun := s.clock.Now().Add(interval)

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		interval = s.sweeperConfig().Interval
		nextRun = s.clock.Now().Add(interval)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func withDefaults(c config.SweeperConfig) config.SweeperConfig {
	defaults := config.DefaultCaptureConfig().Sweeper
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.MinAge <= 0 {
		c.MinAge = defaults.MinAge
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
