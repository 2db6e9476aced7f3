package deduction_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/balance"
	"github.com/smallbiznis/autumn/internal/cache"
	"github.com/smallbiznis/autumn/internal/deduction"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/smallbiznis/autumn/internal/testutil/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), append([]any{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

func TestTrackDeductsFromCacheAndQueues(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	grants := s.Grant(t, customer, feature, stack.Monthly("100"))

	res, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{
		CustomerID: "cus_1",
		FeatureID:  "messages",
		Value:      stack.Dec("37.89"),
	})
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	assert.Equal(t, "messages", res.Features[0].FeatureID)
	assertDecimal(t, "37.89", res.Features[0].Applied)
	assertDecimal(t, "62.11", res.Features[0].Balance.Current)

	cached, ok, err := s.Cache.Get(ctx, cache.CustomerKey(s.Scope, customer.ID))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cache.SourceTrack, cached.SourceTag)
	assertDecimal(t, "62.11", cached.Rows(feature.ID.String())[0].Current)

	items, err := s.Queue.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assertDecimal(t, "37.89", items[0].Delta)
	assert.Equal(t, feature.ID, items[0].FeatureID)
	assert.Equal(t, int64(0), items[0].ObservedVersions[grants[0].ID.String()])
	assert.Equal(t, stack.T0.UnixMilli(), items[0].CachedAtMs)

	assertDecimal(t, "100", s.Durable(t, customer, feature, "").Current)
}

func TestTrackDefaultsToOne(t *testing.T) {
	s := stack.New(t)
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	s.Grant(t, customer, feature, stack.Monthly("10"))

	res, err := s.Deduction.Track(context.Background(), s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "messages"})
	require.NoError(t, err)
	assertDecimal(t, "9", res.Features[0].Balance.Current)
}

func TestTrackEventFansOut(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	messages := s.Feature(t, "messages", featuredomain.FeatureTypeMetered, "message.sent")
	tokens := s.Feature(t, "tokens", featuredomain.FeatureTypeMetered, "message.sent")
	s.Feature(t, "chat", featuredomain.FeatureTypeBoolean, "message.sent")
	s.Grant(t, customer, messages, stack.Monthly("10"))
	s.Grant(t, customer, tokens, stack.Lifetime("100"))

	res, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{
		CustomerID: "cus_1",
		EventName:  "message.sent",
		Value:      stack.Dec("2"),
		Properties: map[string]any{"model": "small"},
	})
	require.NoError(t, err)
	require.Len(t, res.Features, 2)

	balances := map[string]string{}
	for _, f := range res.Features {
		balances[f.FeatureID] = f.Balance.Current.String()
	}
	assert.Equal(t, map[string]string{"messages": "8", "tokens": "98"}, balances)

	items, err := s.Queue.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "message.sent", item.EventName)
		assert.Equal(t, "small", item.Properties["model"])
	}
}

func TestTrackValidation(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	s.Customer(t, "cus_1")
	s.Feature(t, "sso", featuredomain.FeatureTypeBoolean, "login")

	_, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "sso"})
	assert.ErrorIs(t, err, deduction.ErrInvalidFeatureType)

	_, err = s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", EventName: "login"})
	assert.ErrorIs(t, err, deduction.ErrFeatureNotFound)

	_, err = s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "missing"})
	assert.ErrorIs(t, err, deduction.ErrFeatureNotFound)

	_, err = s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "nobody", FeatureID: "sso"})
	assert.ErrorIs(t, err, deduction.ErrCustomerNotFound)

	_, err = s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1"})
	assert.ErrorIs(t, err, deduction.ErrMissingFeature)

	_, err = s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "sso", OverageBehavior: "explode"})
	assert.ErrorIs(t, err, deduction.ErrInvalidBehavior)
}

func TestTrackRejectLeavesCacheUntouched(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	s.Grant(t, customer, feature, stack.Monthly("5"))

	_, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{
		CustomerID:      "cus_1",
		FeatureID:       "messages",
		Value:           stack.Dec("8"),
		OverageBehavior: "reject",
		IdempotencyKey:  "evt_1",
	})
	assert.ErrorIs(t, err, deduction.ErrInsufficientBalance)

	agg, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "messages", "")
	require.NoError(t, err)
	assertDecimal(t, "5", agg.Current)
	n, _ := s.Queue.Len(ctx)
	assert.Zero(t, n)

	// the failed attempt releases its idempotency key
	res, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{
		CustomerID:     "cus_1",
		FeatureID:      "messages",
		Value:          stack.Dec("8"),
		IdempotencyKey: "evt_1",
	})
	require.NoError(t, err)
	assert.True(t, res.Features[0].Partial)
	assertDecimal(t, "5", res.Features[0].Applied)
}

func TestTrackIdempotencyKey(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	s.Grant(t, customer, feature, stack.Monthly("100"))

	req := deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "messages", Value: stack.Dec("10"), IdempotencyKey: "evt_1"}
	_, err := s.Deduction.Track(ctx, s.Scope, req)
	require.NoError(t, err)
	_, err = s.Deduction.Track(ctx, s.Scope, req)
	assert.ErrorIs(t, err, deduction.ErrDuplicateEvent)

	agg, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "messages", "")
	require.NoError(t, err)
	assertDecimal(t, "90", agg.Current)
	n, _ := s.Queue.Len(ctx)
	assert.Equal(t, int64(1), n)
}

func TestTrackUnlimitedIsNotQueued(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	s.Grant(t, customer, feature, grantdomain.GrantSpec{Unlimited: true})

	res, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "messages", Value: stack.Dec("1000")})
	require.NoError(t, err)
	assert.True(t, res.Features[0].Unlimited)
	n, _ := s.Queue.Len(ctx)
	assert.Zero(t, n)
}

func TestEntityInheritance(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "seats", featuredomain.FeatureTypeMetered)
	s.Grant(t, customer, feature, stack.Monthly("100"))
	s.Grant(t, customer, feature, stack.Monthly("100"), "ent_1")

	agg, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "seats", "ent_1")
	require.NoError(t, err)
	assertDecimal(t, "200", agg.Current)
	assert.Len(t, agg.Breakdown, 2)

	_, err = s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "seats", EntityID: "ent_1", Value: stack.Dec("50")})
	require.NoError(t, err)

	agg, err = s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "seats", "ent_1")
	require.NoError(t, err)
	assertDecimal(t, "150", agg.Current)
	for _, row := range agg.Breakdown {
		if row.EntityID == "ent_1" {
			assertDecimal(t, "50", row.Current)
		} else {
			assertDecimal(t, "100", row.Current)
		}
	}
	assert.True(t, agg.Consistent())

	customerLevel, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "seats", "")
	require.NoError(t, err)
	assertDecimal(t, "150", customerLevel.Current, "customer level sums every entity")
	assert.Len(t, customerLevel.Breakdown, 2)
}

func TestCustomerLevelTrackReachesEntityGrants(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "seats", featuredomain.FeatureTypeMetered)
	s.Grant(t, customer, feature, stack.Monthly("100"), "ent_1")

	agg, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "seats", "")
	require.NoError(t, err)
	assertDecimal(t, "100", agg.Current)
	assert.Len(t, agg.Breakdown, 1)

	res, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "seats", Value: stack.Dec("10")})
	require.NoError(t, err)
	require.Len(t, res.Features, 1)
	assertDecimal(t, "10", res.Features[0].Applied)
	assert.False(t, res.Features[0].Partial)

	agg, err = s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "seats", "ent_1")
	require.NoError(t, err)
	assertDecimal(t, "90", agg.Current)

	items, err := s.Queue.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assertDecimal(t, "10", items[0].Delta)
	assert.Empty(t, items[0].EntityID)
}

func TestCheck(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	s.Feature(t, "sso", featuredomain.FeatureTypeBoolean)
	auditLog := s.Feature(t, "audit_log", featuredomain.FeatureTypeBoolean)
	s.Grant(t, customer, feature, stack.Monthly("10"))
	s.Grant(t, customer, auditLog, grantdomain.GrantSpec{})

	res, err := s.Deduction.Check(ctx, s.Scope, deduction.CheckRequest{CustomerID: "cus_1", FeatureID: "messages", RequiredBalance: stack.Dec("10")})
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = s.Deduction.Check(ctx, s.Scope, deduction.CheckRequest{CustomerID: "cus_1", FeatureID: "messages", RequiredBalance: stack.Dec("11")})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assertDecimal(t, "10", res.Balance.Current)

	res, err = s.Deduction.Check(ctx, s.Scope, deduction.CheckRequest{CustomerID: "cus_1", FeatureID: "messages", RequiredBalance: stack.Dec("4"), SendEvent: true})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assertDecimal(t, "6", res.Balance.Current)

	res, err = s.Deduction.Check(ctx, s.Scope, deduction.CheckRequest{CustomerID: "cus_1", FeatureID: "audit_log"})
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = s.Deduction.Check(ctx, s.Scope, deduction.CheckRequest{CustomerID: "cus_1", FeatureID: "sso"})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCheckWithOverage(t *testing.T) {
	s := stack.New(t)
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	spec := stack.Monthly("10")
	spec.UsageAllowed = true
	spec.UsageLimit = stack.Dec("15")
	s.Grant(t, customer, feature, spec)

	res, err := s.Deduction.Check(context.Background(), s.Scope, deduction.CheckRequest{CustomerID: "cus_1", FeatureID: "messages", RequiredBalance: stack.Dec("15")})
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = s.Deduction.Check(context.Background(), s.Scope, deduction.CheckRequest{CustomerID: "cus_1", FeatureID: "messages", RequiredBalance: stack.Dec("16")})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestUpdateBalanceInvalidatesCache(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	feature := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	s.Grant(t, customer, feature, stack.Monthly("100"))

	_, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "messages", Value: stack.Dec("30")})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	agg, err := s.Deduction.UpdateBalance(cancelled, s.Scope, deduction.UpdateRequest{
		CustomerID:     "cus_1",
		FeatureID:      "messages",
		CurrentBalance: decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	assert.Equal(t, "messages", agg.FeatureID)
	assertDecimal(t, "50", agg.Current)

	_, ok, err := s.Cache.Get(ctx, cache.CustomerKey(s.Scope, customer.ID))
	require.NoError(t, err)
	assert.False(t, ok)

	current, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "messages", "")
	require.NoError(t, err)
	assertDecimal(t, "50", current.Current)
	assertDecimal(t, "50", s.Durable(t, customer, feature, "").Current)
}

func TestUpdateBalanceValidation(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	s.Customer(t, "cus_1")
	s.Feature(t, "messages", featuredomain.FeatureTypeMetered)

	bad := "fortnight"
	_, err := s.Deduction.UpdateBalance(ctx, s.Scope, deduction.UpdateRequest{CustomerID: "cus_1", FeatureID: "messages", Interval: &bad})
	assert.ErrorIs(t, err, deduction.ErrInvalidInterval)

	_, err = s.Deduction.UpdateBalance(ctx, s.Scope, deduction.UpdateRequest{CustomerID: "cus_1", FeatureID: "messages"})
	assert.ErrorIs(t, err, grantdomain.ErrNoGrants)
}

func TestBalancesAreIsolatedPerFeature(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	messages := s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	seats := s.Feature(t, "seats", featuredomain.FeatureTypeContinuousUse)
	s.Grant(t, customer, messages, stack.Monthly("10"))
	spec := stack.Lifetime("5")
	spec.UsageAllowed = true
	s.Grant(t, customer, seats, spec)

	res, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "seats", Value: stack.Dec("8")})
	require.NoError(t, err)
	agg := res.Features[0].Balance
	assertDecimal(t, "0", agg.Current)
	assertDecimal(t, "3", agg.Purchased)
	assertDecimal(t, "8", agg.Usage)

	other, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "messages", "")
	require.NoError(t, err)
	assertDecimal(t, "10", other.Current)
	assert.Equal(t, balance.IntervalMonth, other.Breakdown[0].Interval)
}

func TestTrackDrawsFromCreditSystem(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	action := s.Feature(t, "action1", featuredomain.FeatureTypeMetered)
	credits := s.CreditSystem(t, "credits", featuredomain.CreditCost{FeatureCode: "action1", CreditAmount: decimal.RequireFromString("0.2")})
	s.Grant(t, customer, credits, stack.Monthly("200"))

	res, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "action1", Value: stack.Dec("50.25")})
	require.NoError(t, err)
	require.Len(t, res.Features, 2)
	assert.Equal(t, "action1", res.Features[0].FeatureID)
	assertDecimal(t, "50.25", res.Features[0].Applied)
	assert.False(t, res.Features[0].Partial)
	assert.Equal(t, "credits", res.Features[1].FeatureID)
	assertDecimal(t, "10.05", res.Features[1].Applied)
	assertDecimal(t, "189.95", res.Features[1].Balance.Current)

	items, err := s.Queue.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, credits.ID, items[0].FeatureID)
	assertDecimal(t, "10.05", items[0].Delta)

	direct, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "credits", Value: stack.Dec("27.35")})
	require.NoError(t, err)
	require.Len(t, direct.Features, 1)
	assertDecimal(t, "162.6", direct.Features[0].Balance.Current)

	agg, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "credits", "")
	require.NoError(t, err)
	assertDecimal(t, "162.6", agg.Current)
	assertDecimal(t, "37.4", agg.Usage)

	own, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", action.Code, "")
	require.NoError(t, err)
	assert.True(t, own.Current.IsZero())
}

func TestTrackUsesFeatureBalanceBeforeCredits(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	action := s.Feature(t, "action1", featuredomain.FeatureTypeMetered)
	credits := s.CreditSystem(t, "credits", featuredomain.CreditCost{FeatureCode: "action1", CreditAmount: decimal.NewFromInt(2)})
	s.Grant(t, customer, action, stack.Monthly("5"))
	s.Grant(t, customer, credits, stack.Monthly("10"))

	_, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{
		CustomerID:      "cus_1",
		FeatureID:       "action1",
		Value:           stack.Dec("11"),
		OverageBehavior: "reject",
	})
	require.ErrorIs(t, err, deduction.ErrInsufficientBalance)

	res, err := s.Deduction.Track(ctx, s.Scope, deduction.TrackRequest{CustomerID: "cus_1", FeatureID: "action1", Value: stack.Dec("8")})
	require.NoError(t, err)
	require.Len(t, res.Features, 2)
	assertDecimal(t, "0", res.Features[0].Balance.Current)
	assertDecimal(t, "4", res.Features[1].Balance.Current)

	items, err := s.Queue.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	deltas := map[string]string{}
	for _, item := range items {
		deltas[item.FeatureCode] = item.Delta.String()
	}
	assert.Equal(t, map[string]string{"action1": "5", "credits": "6"}, deltas)
}

func TestCheckCountsCreditSystemBalance(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	s.Feature(t, "action1", featuredomain.FeatureTypeMetered)
	credits := s.CreditSystem(t, "credits", featuredomain.CreditCost{FeatureCode: "action1", CreditAmount: decimal.RequireFromString("0.5")})
	s.Grant(t, customer, credits, stack.Monthly("100"))

	res, err := s.Deduction.Check(ctx, s.Scope, deduction.CheckRequest{CustomerID: "cus_1", FeatureID: "action1", RequiredBalance: stack.Dec("200")})
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = s.Deduction.Check(ctx, s.Scope, deduction.CheckRequest{CustomerID: "cus_1", FeatureID: "action1", RequiredBalance: stack.Dec("201")})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}
