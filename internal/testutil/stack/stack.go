// Package stack assembles the balance engine on sqlite and in-memory cache
// and queue backends for package tests.
package stack

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/balance"
	"github.com/smallbiznis/autumn/internal/cache"
	"github.com/smallbiznis/autumn/internal/clock"
	"github.com/smallbiznis/autumn/internal/config"
	customerdomain "github.com/smallbiznis/autumn/internal/customer/domain"
	customerrepo "github.com/smallbiznis/autumn/internal/customer/repository"
	customerservice "github.com/smallbiznis/autumn/internal/customer/service"
	"github.com/smallbiznis/autumn/internal/deduction"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
	featurerepo "github.com/smallbiznis/autumn/internal/feature/repository"
	featureservice "github.com/smallbiznis/autumn/internal/feature/service"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	grantrepo "github.com/smallbiznis/autumn/internal/grant/repository"
	grantservice "github.com/smallbiznis/autumn/internal/grant/service"
	"github.com/smallbiznis/autumn/internal/observability/metrics"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"github.com/smallbiznis/autumn/internal/ratelimit"
	"github.com/smallbiznis/autumn/internal/syncqueue"
	"github.com/smallbiznis/autumn/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var T0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type Stack struct {
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    *clock.FakeClock
	Scope    orgcontext.Scope
	Config   *config.BalanceConfigHolder
	Log      *zap.Logger
	Cache    *cache.MemoryStore
	Resolver cache.ResolverCache
	Queue    *syncqueue.MemoryQueue

	Features  featuredomain.Service
	Customers customerdomain.Service
	Grants    grantdomain.Service
	Deduction *deduction.Service
}

func New(t *testing.T) *Stack {
	t.Helper()
	conn := testutil.NewDB(t)
	node := testutil.NewNode(t)
	log := zap.NewNop()
	fc := clock.NewFakeClock(T0)
	holder := config.NewStaticBalanceConfigHolder(config.DefaultBalanceConfig())

	s := &Stack{
		DB:       conn,
		Node:     node,
		Clock:    fc,
		Scope:    testutil.NewScope(node),
		Config:   holder,
		Log:      log,
		Cache:    cache.NewMemoryStore(func() time.Duration { return time.Hour }),
		Resolver: cache.NewResolverCache(),
		Queue:    syncqueue.NewMemoryQueue(),
	}
	s.Features = featureservice.New(featureservice.Params{DB: conn, Log: log, GenID: node, Repo: featurerepo.Provide()})
	s.Customers = customerservice.New(customerservice.Params{DB: conn, Log: log, GenID: node, Repo: customerrepo.Provide()})
	s.Grants = grantservice.New(grantservice.Params{DB: conn, Log: log, GenID: node, Clock: fc, Repo: grantrepo.Provide()})
	s.Deduction = deduction.New(deduction.Params{
		Log:       log,
		Clock:     fc,
		Config:    holder,
		Features:  s.Features,
		Customers: s.Customers,
		Grants:    s.Grants,
		Cache:     s.Cache,
		Resolver:  s.Resolver,
		Queue:     s.Queue,
		Limiter:   ratelimit.NewTrackLimiter(ratelimit.NewMemoryBucket(), ratelimit.NewMemoryLocker(), holder),
		Metrics:   metrics.NewNoop(),
	})
	return s
}

func (s *Stack) Customer(t *testing.T, externalID string) customerdomain.Customer {
	return testutil.SeedCustomer(t, s.DB, s.Node, s.Scope, externalID)
}

func (s *Stack) Feature(t *testing.T, code string, featureType featuredomain.FeatureType, events ...string) featuredomain.Feature {
	return testutil.SeedFeature(t, s.DB, s.Node, s.Scope, code, featureType, events...)
}

func (s *Stack) CreditSystem(t *testing.T, code string, costs ...featuredomain.CreditCost) featuredomain.Feature {
	return testutil.SeedCreditSystem(t, s.DB, s.Node, s.Scope, code, costs...)
}

// Grant attaches a single-feature product to a customer.
func (s *Stack) Grant(t *testing.T, customer customerdomain.Customer, feature featuredomain.Feature, spec grantdomain.GrantSpec, entities ...string) []grantdomain.Grant {
	t.Helper()
	spec.FeatureID = feature.ID
	grants, err := s.Grants.Attach(context.Background(), s.Scope, grantdomain.AttachRequest{
		CustomerID:        customer.ID,
		CustomerProductID: "cp_" + s.Node.Generate().String(),
		EntityIDs:         entities,
		Grants:            []grantdomain.GrantSpec{spec},
	})
	require.NoError(t, err)
	return grants
}

func Monthly(amount string) grantdomain.GrantSpec {
	return grantdomain.GrantSpec{Amount: decimal.RequireFromString(amount), Interval: balance.IntervalMonth}
}

func Lifetime(amount string) grantdomain.GrantSpec {
	return grantdomain.GrantSpec{Amount: decimal.RequireFromString(amount), Interval: balance.IntervalLifetime}
}

// Durable reads the aggregate straight from the balance store.
func (s *Stack) Durable(t *testing.T, customer customerdomain.Customer, feature featuredomain.Feature, entityID string) balance.Aggregate {
	t.Helper()
	agg, err := s.Grants.GetAggregate(context.Background(), s.Scope, grantdomain.AggregateRequest{
		CustomerID: customer.ID,
		FeatureID:  feature.ID,
		EntityID:   entityID,
	})
	require.NoError(t, err)
	return agg
}

func Dec(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}
