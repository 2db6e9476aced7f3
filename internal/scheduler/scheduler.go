package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/autumn/internal/balancesync"
	"github.com/smallbiznis/autumn/internal/cache"
	"github.com/smallbiznis/autumn/internal/clock"
	"github.com/smallbiznis/autumn/internal/config"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	obsmetrics "github.com/smallbiznis/autumn/internal/observability/metrics"
	"github.com/smallbiznis/autumn/internal/ratelimit"
	"github.com/smallbiznis/autumn/internal/scheduler/guard"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobResetGrants     = "reset_grants"
	JobExpireRollovers = "expire_rollovers"
	JobReconcileSweep  = "reconcile_sweep"

	tickLockKey = "autumn:scheduler:tick"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Grants   grantdomain.Service
	Cache    cache.Store
	Balances *config.BalanceConfigHolder `optional:"true"`
	Locker   ratelimit.Locker            `optional:"true"`
	Config   Config                      `optional:"true"`
}

// Scheduler moves grants across cycle boundaries and keeps cached snapshots
// from outliving the durable rows they were built from.
type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	grants   grantdomain.Service
	cache    cache.Store
	balances *config.BalanceConfigHolder
	locker   ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Grants == nil || p.Cache == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		grants:   p.Grants,
		cache:    p.Cache,
		balances: p.Balances,
		locker:   p.Locker,
	}, nil
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

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once. Only one process runs a tick at a
// time; the others skip it.
func (s *Scheduler) RunOnce(parent context.Context) error {
	release, acquired, err := s.acquireTick(parent)
	if err != nil {
		return err
	}
	if !acquired {
		obsmetrics.Scheduler().IncBatchDeferred("tick", obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.log.Debug("tick held by another process")
		return nil
	}
	defer release()

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobResetGrants, s.ResetGrantsJob},
		{JobExpireRollovers, s.ExpireRolloversJob},
		{JobReconcileSweep, s.ReconcileSweepJob},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if runLag := time.Since(nextRun); runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)
	}
}

func (s *Scheduler) acquireTick(ctx context.Context) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}
	token, ok, err := s.locker.TryLock(ctx, tickLockKey, s.cfg.LockTTL)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), tickLockKey, token); err != nil {
			s.log.Warn("release tick lock", zap.Error(err))
		}
	}, true, nil
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
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

// ResetGrantsJob resets every grant whose cycle ended. The cache entry of
// each affected customer is dropped only after its grants were written.
func (s *Scheduler) ResetGrantsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobResetGrants, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	schedMetrics := obsmetrics.Scheduler()
	now := s.clock.Now()
	// grants that fail to reset stay due; the cursor pages past them
	seen := make(map[snowflake.ID]struct{})
	var cursor grantdomain.DueCursor
	var jobErr error

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		due, err := s.grants.ListDue(ctx, now, cursor, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.grants.list_failed", JobResetGrants, 0, err)
			return errors.Join(jobErr, err)
		}
		if len(due) == 0 {
			break
		}
		cursor = cursor.After(due[len(due)-1])
		fresh := lo.Filter(due, func(g grantdomain.Grant, _ int) bool {
			_, ok := seen[g.ID]
			return !ok
		})

		var refs []grantdomain.CustomerRef
		carried := 0
		for _, g := range fresh {
			seen[g.ID] = struct{}{}
			if err := guard.EnsureGrantCanReset(g, now); err != nil {
				continue
			}
			lockStart := time.Now()
			outcome, err := s.grants.ResetGrant(ctx, g.ID, now)
			schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceGrantByID, time.Since(lockStart))
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.grant.reset_failed", JobResetGrants, g.OrgID, err,
					zap.String("grant_id", idString(g.ID)),
					zap.String("customer_id", idString(g.CustomerID)),
				)
				continue
			}
			if outcome == nil {
				continue
			}
			run.AddProcessed(1)
			if outcome.Carried != nil {
				carried++
			}
			refs = append(refs, outcome.Customer)
		}
		schedMetrics.AddBatchProcessed(JobResetGrants, "grants", len(refs))
		schedMetrics.AddRolloversCreated(carried)

		jobErr = errors.Join(jobErr, s.invalidate(ctx, run, JobResetGrants, refs))
		if len(due) < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

// ExpireRolloversJob deletes rollovers past their expiry.
func (s *Scheduler) ExpireRolloversJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpireRollovers, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		refs, err := s.grants.ExpireRollovers(ctx, now, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.rollovers.expire_failed", JobExpireRollovers, 0, err)
			return errors.Join(jobErr, err)
		}
		if len(refs) == 0 {
			break
		}
		run.AddProcessed(len(refs))
		obsmetrics.Scheduler().AddBatchProcessed(JobExpireRollovers, "customers", len(refs))
		jobErr = errors.Join(jobErr, s.invalidate(ctx, run, JobExpireRollovers, refs))
	}

	return jobErr
}

// ReconcileSweepJob rewrites cached snapshots that were not touched for the
// sweep window and no longer match the store. It also recovers a track whose
// process died between the cache write and the enqueue.
func (s *Scheduler) ReconcileSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReconcileSweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	keys, err := s.cache.ListKeys(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.cache.list_failed", JobReconcileSweep, 0, err)
		return err
	}

	notAfter := s.clock.Now().Add(-s.balances.Get().Cache.SweepAge)
	refreshed := 0
	var jobErr error
	for _, key := range keys {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		scope, customerID, err := cache.ParseCustomerKey(key)
		if err != nil {
			continue
		}
		ok, err := balancesync.Refresh(ctx, s.grants, s.cache, scope, customerID, notAfter)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.cache.refresh_failed", JobReconcileSweep, scope.OrgID, err,
				zap.String("customer_id", idString(customerID)),
			)
			continue
		}
		if ok {
			refreshed++
			run.AddProcessed(1)
		}
	}
	obsmetrics.Scheduler().AddBatchProcessed(JobReconcileSweep, "snapshots", refreshed)
	return jobErr
}

func (s *Scheduler) invalidate(ctx context.Context, run *jobRun, job string, refs []grantdomain.CustomerRef) error {
	var err error
	refs = lo.UniqBy(refs, func(ref grantdomain.CustomerRef) string {
		return cache.CustomerKey(ref.Scope, ref.CustomerID)
	})
	for _, ref := range refs {
		// Invalidate even past the job deadline.
		if invErr := s.cache.Invalidate(context.WithoutCancel(ctx), cache.CustomerKey(ref.Scope, ref.CustomerID)); invErr != nil {
			err = errors.Join(err, invErr)
			s.logSchedulerError(ctx, run, "scheduler.cache.invalidate_failed", job, ref.Scope.OrgID, invErr,
				zap.String("customer_id", idString(ref.CustomerID)),
			)
			continue
		}
		s.logCacheInvalidated(ctx, job, ref.Scope, ref.CustomerID)
	}
	return err
}
