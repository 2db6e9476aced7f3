package deduction

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/balance"
	"github.com/smallbiznis/autumn/internal/cache"
	"github.com/smallbiznis/autumn/internal/clock"
	"github.com/smallbiznis/autumn/internal/config"
	customerdomain "github.com/smallbiznis/autumn/internal/customer/domain"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/smallbiznis/autumn/internal/observability/metrics"
	"github.com/smallbiznis/autumn/internal/ratelimit"
	"github.com/smallbiznis/autumn/internal/syncqueue"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const updateTimeout = 10 * time.Second

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInsufficientBalance = balance.ErrInsufficientBalance
	ErrInvalidAmount       = balance.ErrInvalidAmount
	ErrFeatureNotFound     = featuredomain.ErrNotFound
	ErrCustomerNotFound    = customerdomain.ErrNotFound
	ErrInvalidFeatureType  = errors.New("invalid_feature_type")
	ErrDuplicateEvent      = errors.New("duplicate_event")
	ErrRateLimited         = errors.New("rate_limited")
	ErrMissingFeature      = errors.New("feature_id_or_event_name_required")
	ErrInvalidBehavior     = errors.New("invalid_overage_behavior")
	ErrInvalidInterval     = errors.New("invalid_interval")
)

type TrackRequest struct {
	CustomerID      string           `json:"customer_id"`
	FeatureID       string           `json:"feature_id"`
	EventName       string           `json:"event_name"`
	Value           *decimal.Decimal `json:"value"`
	EntityID        string           `json:"entity_id"`
	OverageBehavior string           `json:"overage_behavior"`
	IdempotencyKey  string           `json:"idempotency_key"`
	Properties      map[string]any   `json:"properties"`
}

type TrackedFeature struct {
	FeatureID string            `json:"feature_id"`
	Requested decimal.Decimal   `json:"requested"`
	Applied   decimal.Decimal   `json:"applied"`
	Partial   bool              `json:"partial"`
	Unlimited bool              `json:"unlimited"`
	Balance   balance.Aggregate `json:"balance"`
}

type TrackResult struct {
	ID         string           `json:"id"`
	CustomerID string           `json:"customer_id"`
	EntityID   string           `json:"entity_id,omitempty"`
	EventName  string           `json:"event_name,omitempty"`
	Features   []TrackedFeature `json:"features"`
}

type CheckRequest struct {
	CustomerID      string           `json:"customer_id"`
	FeatureID       string           `json:"feature_id"`
	RequiredBalance *decimal.Decimal `json:"required_balance"`
	EntityID        string           `json:"entity_id"`
	SendEvent       bool             `json:"send_event"`
}

type CheckResult struct {
	Allowed         bool               `json:"allowed"`
	CustomerID      string             `json:"customer_id"`
	FeatureID       string             `json:"feature_id"`
	EntityID        string             `json:"entity_id,omitempty"`
	RequiredBalance decimal.Decimal    `json:"required_balance"`
	Unlimited       bool               `json:"unlimited"`
	Balance         *balance.Aggregate `json:"balance,omitempty"`
}

type UpdateRequest struct {
	CustomerID     string          `json:"customer_id"`
	FeatureID      string          `json:"feature_id"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	Interval       *string         `json:"interval"`
	EntityID       string          `json:"entity_id"`
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Config    *config.BalanceConfigHolder
	Features  featuredomain.Service
	Customers customerdomain.Service
	Grants    grantdomain.Service
	Cache     cache.Store
	Resolver  cache.ResolverCache
	Queue     syncqueue.Queue
	Limiter   *ratelimit.TrackLimiter `optional:"true"`
	Metrics   *metrics.Metrics        `optional:"true"`
}

// Service answers track, check and balance requests from the cache and
// hands the durable write to the sync queue.
type Service struct {
	log       *zap.Logger
	clock     clock.Clock
	cfg       *config.BalanceConfigHolder
	features  featuredomain.Service
	customers customerdomain.Service
	grants    grantdomain.Service
	cache     cache.Store
	resolver  cache.ResolverCache
	queue     syncqueue.Queue
	limiter   *ratelimit.TrackLimiter
	metrics   *metrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		log:       p.Log.Named("deduction.service"),
		clock:     p.Clock,
		cfg:       p.Config,
		features:  p.Features,
		customers: p.Customers,
		grants:    p.Grants,
		cache:     p.Cache,
		resolver:  p.Resolver,
		queue:     p.Queue,
		limiter:   p.Limiter,
		metrics:   p.Metrics,
	}
}
