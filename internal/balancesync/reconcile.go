package balancesync

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/autumn/internal/balance"
	"github.com/smallbiznis/autumn/internal/cache"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/smallbiznis/autumn/internal/orgcontext"
)

// Refresh overwrites the cached snapshot of a customer with the store's rows
// when the two disagree. Snapshots written after notAfter are left alone. It
// reports whether the cache was rewritten.
func Refresh(ctx context.Context, grants grantdomain.Service, store cache.Store, scope orgcontext.Scope, customerID snowflake.ID, notAfter time.Time) (bool, error) {
	key := cache.CustomerKey(scope, customerID)
	cached, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if cached.UpdatedAtMs > notAfter.UnixMilli() {
		return false, nil
	}

	durable, err := grants.LoadCustomer(ctx, scope, customerID)
	if err != nil {
		return false, err
	}
	if !Drifted(cached.Features, durable.Features, durable.LoadedAt) {
		return false, nil
	}

	fresh := &cache.CachedCustomer{CustomerID: customerID.String(), Features: durable.Features}
	if err := store.Set(ctx, key, fresh, cache.SourceReconcile, durable.LoadedAt.UnixMilli()); err != nil {
		return false, err
	}
	return true, nil
}

// Drifted compares the per-feature balances of two snapshots.
func Drifted(cached, durable map[string][]balance.Row, now time.Time) bool {
	features := lo.Uniq(append(lo.Keys(cached), lo.Keys(durable)...))
	for _, featureID := range features {
		a := balance.Summarize(featureID, "", balance.Active(cached[featureID], now))
		b := balance.Summarize(featureID, "", balance.Active(durable[featureID], now))
		if !balance.SameBalances(a, b) {
			return true
		}
	}
	return false
}
