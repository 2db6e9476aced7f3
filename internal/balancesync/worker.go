package balancesync

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/autumn/internal/balance"
	"github.com/smallbiznis/autumn/internal/cache"
	"github.com/smallbiznis/autumn/internal/config"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/smallbiznis/autumn/internal/observability/metrics"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"github.com/smallbiznis/autumn/internal/syncqueue"
	"github.com/smallbiznis/autumn/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	runTimeout          = 2 * time.Minute
	customerParallelism = 8
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Config *config.BalanceConfigHolder
	Queue  syncqueue.Queue
	Grants grantdomain.Service
	Cache  cache.Store
}

// Worker drains the sync queue into the balance store and converges cached
// snapshots that drifted from it.
type Worker struct {
	log     *zap.Logger
	cfg     *config.BalanceConfigHolder
	queue   syncqueue.Queue
	grants  grantdomain.Service
	cache   cache.Store
	metrics *metrics.SyncMetrics
	now     func() time.Time
}

// Result counts the outcome of one batch.
type Result struct {
	Processed int
	Applied   int
	Discarded int
	Duplicate int
	Failed    int
	Requeued  int
	Refreshed int
}

func (r *Result) add(status string) {
	r.Processed++
	switch status {
	case metrics.SyncStatusApplied:
		r.Applied++
	case metrics.SyncStatusDiscarded:
		r.Discarded++
	case metrics.SyncStatusDuplicate:
		r.Duplicate++
	case metrics.SyncStatusRequeued:
		r.Requeued++
	default:
		r.Failed++
	}
}

func NewWorker(p Params) *Worker {
	return &Worker{
		log:     p.Log.Named("balance.sync"),
		cfg:     p.Config,
		queue:   p.Queue,
		grants:  p.Grants,
		cache:   p.Cache,
		metrics: metrics.Sync(),
		now:     time.Now,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Get().Sync.Interval)
	defer ticker.Stop()

	for {
		for {
			res, err := w.RunOnce(ctx)
			if err != nil {
				w.log.Warn("balance sync run failed", zap.Error(err))
				break
			}
			// keep draining while batches come back full
			if res.Processed < w.cfg.Get().Sync.BatchSize || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type customerKey struct {
	scope      orgcontext.Scope
	customerID snowflake.ID
}

func (w *Worker) RunOnce(parentCtx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(parentCtx, runTimeout)
	defer cancel()

	cfg := w.cfg.Get().Sync
	started := w.now()
	defer func() { w.metrics.ObserveBatch(w.now().Sub(started)) }()

	items, err := w.queue.Dequeue(ctx, cfg.BatchSize)
	if err != nil {
		return Result{}, err
	}
	if len(items) == 0 {
		w.reportDepth(ctx)
		return Result{}, nil
	}

	groups := lo.GroupBy(items, func(item syncqueue.Item) customerKey {
		return customerKey{scope: item.Scope(), customerID: item.CustomerID}
	})

	var (
		mu      sync.Mutex
		result  Result
		touched []customerKey
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(customerParallelism)
	for key, customerItems := range groups {
		g.Go(func() error {
			clean := true
			for _, item := range customerItems {
				status := w.apply(gctx, item)
				w.metrics.IncItem(status)
				if status == metrics.SyncStatusFailed || status == metrics.SyncStatusRequeued {
					clean = false
				}
				mu.Lock()
				result.add(status)
				mu.Unlock()
			}
			if clean {
				mu.Lock()
				touched = append(touched, key)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	// A full batch means older items may still be queued for these customers.
	if len(items) < cfg.BatchSize {
		result.Refreshed = w.reconcile(ctx, touched, started)
	}

	w.reportDepth(ctx)
	w.log.Debug("balance sync batch",
		zap.Int("processed", result.Processed),
		zap.Int("applied", result.Applied),
		zap.Int("discarded", result.Discarded),
		zap.Int("failed", result.Failed),
		zap.Int("requeued", result.Requeued),
		zap.Int("refreshed", result.Refreshed),
	)
	return result, nil
}

// apply writes one item, retrying lock waits with exponential backoff and
// requeueing it once the retries are spent.
func (w *Worker) apply(ctx context.Context, item syncqueue.Item) string {
	cfg := w.cfg.Get().Sync
	cachedAt := item.CachedAt()

	for attempt := 0; ; attempt++ {
		res, err := w.grants.ApplyDeduction(ctx, item.Scope(), grantdomain.DeductionRequest{
			CustomerID:       item.CustomerID,
			FeatureID:        item.FeatureID,
			EntityID:         item.EntityID,
			Amount:           item.Delta,
			Behavior:         balance.OverageCap,
			Allocated:        item.Allocated,
			EventID:          item.ID,
			ObservedVersions: item.ObservedVersions,
			CachedAt:         &cachedAt,
			LockTimeout:      cfg.LockTimeout,
		})
		if err == nil {
			return w.statusOf(item, res)
		}

		if !db.IsRetryableTxErr(err) {
			w.log.Error("sync item failed",
				zap.String("item_id", item.ID),
				zap.String("customer_id", item.CustomerID.String()),
				zap.String("feature_id", item.FeatureCode),
				zap.Error(err),
			)
			return metrics.SyncStatusFailed
		}

		w.metrics.IncLockRetry()
		if attempt >= cfg.MaxRetries {
			return w.requeue(ctx, item, err)
		}
		w.log.Warn("sync item lock wait, retrying",
			zap.String("item_id", item.ID),
			zap.String("customer_id", item.CustomerID.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)

		backoff := cfg.RetryBackoff << attempt
		select {
		case <-ctx.Done():
			return w.requeue(context.WithoutCancel(ctx), item, ctx.Err())
		case <-time.After(backoff):
		}
	}
}

func (w *Worker) statusOf(item syncqueue.Item, res grantdomain.DeductionResult) string {
	switch res.Status {
	case grantdomain.EventDiscarded:
		w.log.Info("sync item discarded",
			zap.String("item_id", item.ID),
			zap.String("customer_id", item.CustomerID.String()),
			zap.String("feature_id", item.FeatureCode),
			zap.String("reason", res.Reason),
		)
		return metrics.SyncStatusDiscarded
	case grantdomain.EventDuplicate:
		return metrics.SyncStatusDuplicate
	default:
		return metrics.SyncStatusApplied
	}
}

func (w *Worker) requeue(ctx context.Context, item syncqueue.Item, cause error) string {
	item.Attempts++
	if err := w.queue.Requeue(ctx, item); err != nil {
		w.log.Error("sync item lost, requeue failed",
			zap.String("item_id", item.ID),
			zap.String("customer_id", item.CustomerID.String()),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return metrics.SyncStatusFailed
	}
	w.log.Warn("sync item requeued",
		zap.String("item_id", item.ID),
		zap.String("customer_id", item.CustomerID.String()),
		zap.Int("attempts", item.Attempts),
		zap.Error(cause),
	)
	return metrics.SyncStatusRequeued
}

// reconcile replaces cached snapshots that disagree with the store, unless a
// newer write reached the cache after the batch started.
func (w *Worker) reconcile(ctx context.Context, customers []customerKey, batchStart time.Time) int {
	refreshed := 0
	for _, c := range customers {
		ok, err := Refresh(ctx, w.grants, w.cache, c.scope, c.customerID, batchStart)
		if err != nil {
			w.log.Warn("cache reconcile failed",
				zap.String("customer_id", c.customerID.String()),
				zap.Error(err),
			)
			continue
		}
		if ok {
			refreshed++
			w.metrics.IncCacheRefresh()
		}
	}
	return refreshed
}

func (w *Worker) reportDepth(ctx context.Context) {
	depth, err := w.queue.Len(ctx)
	if err != nil {
		return
	}
	w.metrics.SetQueueDepth(depth)
}
