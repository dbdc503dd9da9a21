package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lunahealth/lumen/internal/clock"
	insightdomain "github.com/lunahealth/lumen/internal/insight/domain"
	ledgerdomain "github.com/lunahealth/lumen/internal/ledger/domain"
	notificationdomain "github.com/lunahealth/lumen/internal/notification/domain"
	obsmetrics "github.com/lunahealth/lumen/internal/observability/metrics"
	"github.com/lunahealth/lumen/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler dependencies are not configured")

type Params struct {
	fx.In

	Log           *zap.Logger
	InsightSvc    insightdomain.Service
	LedgerSvc     ledgerdomain.Service
	Notifications notificationdomain.Service
	Locker        ratelimit.UserLocker
	Clock         clock.Clock
	Config        Config `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	clock         clock.Clock
	insightSvc    insightdomain.Service
	ledgerSvc     ledgerdomain.Service
	notifications notificationdomain.Service
	locker        ratelimit.UserLocker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.InsightSvc == nil || p.LedgerSvc == nil || p.Notifications == nil || p.Locker == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		clock:         p.Clock,
		insightSvc:    p.InsightSvc,
		ledgerSvc:     p.LedgerSvc,
		notifications: p.Notifications,
		locker:        p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout; the next tick picks up where this
	// run stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"insights", s.isJobEnabled("insights"), func(ctx context.Context) error {
			return s.runJob(ctx, "insights", s.cfg.JobTimeout, s.InsightsJob)
		}},
		{"reconcile_debits", s.isJobEnabled("reconcile_debits"), func(ctx context.Context) error {
			return s.runJob(ctx, "reconcile_debits", s.cfg.JobTimeout, s.ReconcileDebitsJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means every job runs (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// InsightsJob walks enabled users in keyset batches and runs the insight
// decision for each one. A per-user lock keeps concurrent scheduler
// instances from double-sending; a failure for one user never blocks the
// rest of the batch.
func (s *Scheduler) InsightsJob(ctx context.Context) error {
	now := s.clock.Now()
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error

	cursor := ""
	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		userIDs, err := s.notifications.ListEnabledUserIDs(ctx, cursor, s.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(userIDs) == 0 {
			break
		}
		cursor = userIDs[len(userIDs)-1]

		processed := 0
		for _, userID := range userIDs {
			if ctx.Err() != nil {
				return errors.Join(jobErr, ctx.Err())
			}

			if err := s.runInsightForUser(ctx, userID, now); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.log.Warn("insight run failed",
					zap.String("job", "insights"),
					zap.String("user_id", userID),
					zap.Error(err),
				)
				continue
			}
			processed++
		}
		schedMetrics.AddBatchProcessed("insights", processed)

		if len(userIDs) < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

func (s *Scheduler) runInsightForUser(ctx context.Context, userID string, now time.Time) error {
	key := ratelimit.InsightLockKey(userID)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		obsmetrics.Scheduler().IncUserSkipped("insights", obsmetrics.SchedulerJobReasonLockHeld)
		return nil
	}
	defer func() {
		_ = s.locker.Release(ctx, key, token)
	}()

	decision, err := s.insightSvc.Run(ctx, userID, now)
	if err != nil {
		return err
	}
	if decision.ShouldNotify {
		s.log.Info("insight dispatched",
			zap.String("user_id", userID),
			zap.String("kind", decision.Insight.Kind),
		)
	}
	return nil
}

// ReconcileDebitsJob retries pending debits that failed their original
// ledger write.
func (s *Scheduler) ReconcileDebitsJob(ctx context.Context) error {
	settled, err := s.ledgerSvc.ReplayPendingDebits(ctx, s.cfg.BatchSize)
	if settled > 0 {
		obsmetrics.Scheduler().AddBatchProcessed("reconcile_debits", settled)
		s.log.Info("pending debits settled", zap.Int("count", settled))
	}
	return err
}
