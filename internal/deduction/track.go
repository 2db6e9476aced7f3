package deduction

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/balance"
	"github.com/smallbiznis/autumn/internal/cache"
	customerdomain "github.com/smallbiznis/autumn/internal/customer/domain"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"github.com/smallbiznis/autumn/internal/syncqueue"
	"go.uber.org/zap"
)

const endpointTrack = "track"

// Track deducts usage from the cached balances and enqueues the durable write.
func (s *Service) Track(ctx context.Context, scope orgcontext.Scope, req TrackRequest) (*TrackResult, error) {
	if !scope.Valid() {
		return nil, ErrInvalidOrganization
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.FeatureID = strings.TrimSpace(req.FeatureID)
	req.EventName = strings.TrimSpace(req.EventName)
	req.EntityID = strings.TrimSpace(req.EntityID)
	if req.FeatureID == "" && req.EventName == "" {
		return nil, ErrMissingFeature
	}

	amount := decimal.NewFromInt(1)
	if req.Value != nil {
		amount = *req.Value
	}
	behavior, ok := balance.ParseOverageBehavior(strings.ToLower(strings.TrimSpace(req.OverageBehavior)))
	if !ok {
		return nil, ErrInvalidBehavior
	}

	if err := s.allow(ctx, scope); err != nil {
		return nil, err
	}

	customer, err := s.resolveCustomer(ctx, scope, req.CustomerID)
	if err != nil {
		return nil, err
	}
	features, err := s.trackableFeatures(ctx, scope, req)
	if err != nil {
		return nil, err
	}

	idemKey := ""
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		idemKey = cache.IdempotencyKey(scope, key)
		reserved, err := s.cache.Reserve(ctx, idemKey, s.cfg.Get().Cache.IdempotencyTTL)
		if err != nil {
			return nil, err
		}
		if !reserved {
			return nil, ErrDuplicateEvent
		}
	}

	result, err := s.trackLocked(ctx, scope, customer, features, amount, behavior, req)
	if err != nil {
		if idemKey != "" {
			_ = s.cache.Invalidate(context.WithoutCancel(ctx), idemKey)
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) allow(ctx context.Context, scope orgcontext.Scope) error {
	if s.limiter == nil {
		return nil
	}
	res, err := s.limiter.AllowOrg(ctx, scope)
	if err != nil {
		s.log.Warn("rate limiter unavailable", zap.String("org_id", scope.OrgID.String()), zap.Error(err))
		return nil
	}
	if !res.Allowed {
		s.metrics.RecordRateLimitDenied(ctx, scope.OrgID.String(), endpointTrack, "org_rate")
		return ErrRateLimited
	}
	s.metrics.RecordRateLimitAllowed(ctx, scope.OrgID.String(), endpointTrack)
	return nil
}

type trackPlan struct {
	feature  featuredomain.Feature
	plan     balance.Plan
	delta    decimal.Decimal
	versions map[string]int64
	visible  []balance.Row
}

func (s *Service) trackLocked(ctx context.Context, scope orgcontext.Scope, customer customerdomain.Customer, features []featuredomain.Feature, amount decimal.Decimal, behavior balance.OverageBehavior, req TrackRequest) (*TrackResult, error) {
	release, err := s.limiter.LockCustomer(ctx, scope, customer.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	snap, key, err := s.snapshot(ctx, scope, customer.ID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	plans := make([]trackPlan, 0, len(features))
	for _, feature := range features {
		systems, err := s.creditSystems(ctx, scope, feature)
		if err != nil {
			return nil, err
		}
		if len(systems) > 0 && amount.IsPositive() {
			charged, err := s.planCredits(snap, feature, systems, amount, behavior, req.EntityID, now)
			if err != nil {
				s.metrics.RecordTrack(ctx, scope.OrgID.String(), feature.Code, "rejected")
				return nil, err
			}
			plans = append(plans, charged...)
			continue
		}

		all, visible := featureRows(snap, feature, req.EntityID, now)
		plan, err := balance.Apply(visible, balance.Request{
			Amount:    amount,
			Behavior:  behavior,
			Allocated: feature.Allocated(),
		})
		if err != nil {
			s.metrics.RecordTrack(ctx, scope.OrgID.String(), feature.Code, "rejected")
			return nil, err
		}
		snap.Features[feature.ID.String()] = mergeRows(all, plan.Rows)
		plans = append(plans, trackPlan{
			feature:  feature,
			plan:     plan,
			delta:    plan.Applied,
			versions: balance.Versions(visible),
			visible:  plan.Rows,
		})
	}

	if err := s.cache.Set(ctx, key, snap, cache.SourceTrack, snap.FetchTimeMs); err != nil {
		return nil, err
	}

	result := &TrackResult{
		ID:         syncqueue.NewItemID(),
		CustomerID: customer.ExternalID,
		EntityID:   req.EntityID,
		EventName:  req.EventName,
		Features:   make([]TrackedFeature, 0, len(plans)),
	}
	items := make([]syncqueue.Item, 0, len(plans))
	for _, p := range plans {
		result.Features = append(result.Features, TrackedFeature{
			FeatureID: p.feature.Code,
			Requested: p.plan.Requested,
			Applied:   p.plan.Applied,
			Partial:   p.plan.Partial,
			Unlimited: p.plan.Unlimited,
			Balance:   balance.Summarize(p.feature.Code, req.EntityID, p.visible),
		})
		s.metrics.RecordTrack(ctx, scope.OrgID.String(), p.feature.Code, trackOutcome(p.plan))

		if p.plan.Unlimited || p.delta.IsZero() {
			continue
		}
		items = append(items, syncqueue.Item{
			ID:               syncqueue.NewItemID(),
			OrgID:            scope.OrgID,
			Env:              scope.Env,
			CustomerID:       customer.ID,
			FeatureID:        p.feature.ID,
			FeatureCode:      p.feature.Code,
			EntityID:         req.EntityID,
			Delta:            p.delta,
			Allocated:        p.feature.Allocated(),
			ObservedVersions: p.versions,
			CachedAtMs:       snap.FetchTimeMs,
			EventName:        req.EventName,
			Properties:       req.Properties,
		})
	}

	if err := s.queue.Enqueue(ctx, items...); err != nil {
		// the cache already holds the deduction; drop it so reads fall back to the store
		_ = s.cache.Invalidate(context.WithoutCancel(ctx), key)
		return nil, err
	}

	s.log.Debug("tracked",
		zap.String("org_id", scope.OrgID.String()),
		zap.String("customer_id", customer.ExternalID),
		zap.String("event_name", req.EventName),
		zap.Int("features", len(plans)),
		zap.Int("queued", len(items)),
	)
	return result, nil
}

// planCredits charges a metered feature and then the credit systems pricing
// it. The feature's entry reports the whole amount in its own units; each
// credit system charged gets its own entry in credits.
func (s *Service) planCredits(snap *cache.CachedCustomer, feature featuredomain.Feature, systems []featuredomain.Feature, amount decimal.Decimal, behavior balance.OverageBehavior, entityID string, now time.Time) ([]trackPlan, error) {
	charged := append([]featuredomain.Feature{feature}, systems...)
	sources := make([]balance.Source, len(charged))
	alls := make([][]balance.Row, len(charged))
	versions := make([]map[string]int64, len(charged))
	for i, f := range charged {
		all, visible := featureRows(snap, f, entityID, now)
		cost := decimal.NewFromInt(1)
		if i > 0 {
			cost, _ = f.CostOf(feature.Code)
		}
		sources[i] = balance.Source{Key: f.Code, Rows: visible, Cost: cost, Allocated: f.Allocated()}
		alls[i] = all
		versions[i] = balance.Versions(visible)
	}

	split, err := balance.ApplySources(sources, balance.Request{Amount: amount, Behavior: behavior})
	if err != nil {
		return nil, err
	}

	out := make([]trackPlan, 0, len(charged))
	for i, f := range charged {
		plan := split.Plans[i]
		snap.Features[f.ID.String()] = mergeRows(alls[i], plan.Rows)
		tp := trackPlan{
			feature:  f,
			plan:     plan,
			delta:    plan.Applied,
			versions: versions[i],
			visible:  plan.Rows,
		}
		if i == 0 {
			tp.plan.Requested = split.Requested
			tp.plan.Applied = split.Applied
			tp.plan.Partial = split.Partial
			tp.plan.Unlimited = split.Unlimited
		} else if plan.Applied.IsZero() && !plan.Unlimited {
			continue
		}
		out = append(out, tp)
	}
	return out, nil
}

func trackOutcome(plan balance.Plan) string {
	switch {
	case plan.Unlimited:
		return "unlimited"
	case plan.Partial:
		return "partial"
	default:
		return "applied"
	}
}
