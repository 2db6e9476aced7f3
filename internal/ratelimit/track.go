package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/autumn/internal/config"
	"github.com/smallbiznis/autumn/internal/orgcontext"
)

const (
	keyTrackOrg      = "autumn:ratelimit:track:%s:%s"
	keyTrackCustomer = "autumn:lock:track:%s:%s:%s"

	customerLockTTL  = 5 * time.Second
	customerLockWait = 250 * time.Millisecond
	customerLockPoll = 10 * time.Millisecond
)

var ErrCustomerBusy = errors.New("customer_busy")

// TrackLimiter guards the track hot path: a token bucket per org and a short
// lease per customer so concurrent tracks do not overwrite each other's
// cache writes.
type TrackLimiter struct {
	bucket Limiter
	locker Locker
	holder *config.BalanceConfigHolder
}

func NewTrackLimiter(bucket Limiter, locker Locker, holder *config.BalanceConfigHolder) *TrackLimiter {
	return &TrackLimiter{bucket: bucket, locker: locker, holder: holder}
}

func (l *TrackLimiter) AllowOrg(ctx context.Context, scope orgcontext.Scope) (*RateLimitResult, error) {
	if l == nil || l.bucket == nil {
		return &RateLimitResult{Allowed: true}, nil
	}
	cfg := l.holder.Get().RateLimit
	key := fmt.Sprintf(keyTrackOrg, scope.OrgID.String(), scope.Env)
	return l.bucket.Allow(ctx, key, cfg.TrackRate, int(cfg.TrackBurst))
}

// LockCustomer waits briefly for the customer lease. The returned func
// releases it.
func (l *TrackLimiter) LockCustomer(ctx context.Context, scope orgcontext.Scope, customerID snowflake.ID) (func(), error) {
	if l == nil || l.locker == nil {
		return func() {}, nil
	}

	key := fmt.Sprintf(keyTrackCustomer, scope.OrgID.String(), scope.Env, customerID.String())
	deadline := time.Now().Add(customerLockWait)
	for {
		token, ok, err := l.locker.TryLock(ctx, key, customerLockTTL)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				_ = l.locker.Release(context.WithoutCancel(ctx), key, token)
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrCustomerBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(customerLockPoll):
		}
	}
}
