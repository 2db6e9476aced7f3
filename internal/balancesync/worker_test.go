package balancesync_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/balancesync"
	"github.com/smallbiznis/autumn/internal/cache"
	"github.com/smallbiznis/autumn/internal/deduction"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/smallbiznis/autumn/internal/testutil/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorker(s *stack.Stack) *balancesync.Worker {
	return balancesync.NewWorker(balancesync.Params{
		Log:    s.Log,
		Config: s.Config,
		Queue:  s.Queue,
		Grants: s.Grants,
		Cache:  s.Cache,
	})
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s got %s", want, got.String())
}

func TestRoundTrip(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	s.Grant(t, customer, feature, stack.Monthly("100"))

	_, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "messages", Value: stack.Dec("37.89")})
	require.NoError(t, err)

	cached, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "messages", "")
	require.NoError(t, err)
	assertDecimal(t, "62.11", cached.Current)

	res, err := newWorker(s).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Applied)
	assert.Zero(t, res.Refreshed)

	durable := s.Durable(t, customer, feature, "")
	assertDecimal(t, "62.11", durable.Current)
	assertDecimal(t, "37.89", durable.Usage)
	assert.True(t, durable.Consistent())

	n, err := s.Queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestItemsAreIdempotent(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	s.Grant(t, customer, feature, stack.Monthly("100"))

	_, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "messages", Value: stack.Dec("10")})
	require.NoError(t, err)

	items, err := s.Queue.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, s.Queue.Enqueue(ctx, items[0], items[0]))

	res, err := newWorker(s).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, 1, res.Duplicate)
	assertDecimal(t, "90", s.Durable(t, customer, feature, "").Current)
}

// A deduction cached before a reset must not reduce the post-reset balance.
func TestResetBetweenCacheAndSync(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	grants := s.Grant(t, customer, feature, stack.Monthly("100"))

	_, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "messages", Value: stack.Dec("30")})
	require.NoError(t, err)

	s.Clock.Set(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	_, err = s.Grants.ResetGrant(ctx, grants[0].ID, s.Clock.Now())
	require.NoError(t, err)

	res, err := newWorker(s).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Discarded)
	assert.Zero(t, res.Applied)
	assert.Equal(t, 1, res.Refreshed)

	assertDecimal(t, "100", s.Durable(t, customer, feature, "").Current)

	cached, ok, err := s.Cache.Get(ctx, cache.CustomerKey(s.Scope, customer.ID))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cache.SourceReconcile, cached.SourceTag)

	agg, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "messages", "")
	require.NoError(t, err)
	assertDecimal(t, "100", agg.Current)

	var status string
	require.NoError(t, s.DB.Table("balance_events").Select("status").Scan(&status).Error)
	assert.Equal(t, string(grantdomain.EventDiscarded), status)
}

// A track served from a snapshot loaded right after a reset is applied, even
// when the reset instant falls inside the snapshot's millisecond.
func TestTrackRightAfterResetIsApplied(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	grants := s.Grant(t, customer, feature, stack.Monthly("100"))

	s.Clock.Set(time.Date(2025, 2, 1, 0, 0, 0, 500_000, time.UTC))
	_, err := s.Grants.ResetGrant(ctx, grants[0].ID, s.Clock.Now())
	require.NoError(t, err)

	_, err = s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "messages", Value: stack.Dec("30")})
	require.NoError(t, err)

	res, err := newWorker(s).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Zero(t, res.Discarded)
	assertDecimal(t, "70", s.Durable(t, customer, feature, "").Current)
}

func TestUpdateBalanceDiscardsInFlightDeductions(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	s.Grant(t, customer, feature, stack.Monthly("100"))

	_, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "messages", Value: stack.Dec("30")})
	require.NoError(t, err)
	_, err = s.Deduction.UpdateBalance(ctx, s.Scope, deduction.UpdateRequest{CustomerID: "cus_1", FeatureID: "messages", CurrentBalance: decimal.NewFromInt(50)})
	require.NoError(t, err)

	res, err := newWorker(s).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Discarded)
	assertDecimal(t, "50", s.Durable(t, customer, feature, "").Current)
}

func TestEmptyQueue(t *testing.T) {
	s := stack.New(t)
	res, err := newWorker(s).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, balancesync.Result{}, res)
}

func TestCustomersAreIndependent(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	first := s.Customer(t, "cus_1")
	second := s.Customer(t, "cus_2")
	s.Grant(t, first, feature, stack.Monthly("10"))
	s.Grant(t, second, feature, stack.Monthly("10"))

	for i := 0; i < 3; i++ {
		for _, id := range []string{"cus_1", "cus_2"} {
			_, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: id, FeatureID: "messages", Value: stack.Dec("2")})
			require.NoError(t, err)
		}
	}

	res, err := newWorker(s).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, res.Applied)
	assertDecimal(t, "4", s.Durable(t, first, feature, "").Current)
	assertDecimal(t, "4", s.Durable(t, second, feature, "").Current)
}
