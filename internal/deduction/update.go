package deduction

import (
	"context"
	"strings"

	"github.com/smallbiznis/autumn/internal/balance"
	"github.com/smallbiznis/autumn/internal/cache"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"go.uber.org/zap"
)

// UpdateBalance overwrites the durable balance so the scope sums to
// CurrentBalance, then drops the cached snapshot. The write is not tied to
// the caller's cancellation.
func (s *Service) UpdateBalance(ctx context.Context, scope orgcontext.Scope, req UpdateRequest) (balance.Aggregate, error) {
	if !scope.Valid() {
		return balance.Aggregate{}, ErrInvalidOrganization
	}
	req.FeatureID = strings.TrimSpace(req.FeatureID)
	req.EntityID = strings.TrimSpace(req.EntityID)
	if req.FeatureID == "" {
		return balance.Aggregate{}, ErrMissingFeature
	}

	var interval *balance.Interval
	if req.Interval != nil {
		parsed, ok := balance.ParseInterval(*req.Interval)
		if !ok {
			return balance.Aggregate{}, ErrInvalidInterval
		}
		interval = &parsed
	}

	customer, err := s.resolveCustomer(ctx, scope, strings.TrimSpace(req.CustomerID))
	if err != nil {
		return balance.Aggregate{}, err
	}
	feature, err := s.resolveFeature(ctx, scope, req.FeatureID)
	if err != nil {
		return balance.Aggregate{}, err
	}
	if !feature.Trackable() {
		return balance.Aggregate{}, ErrInvalidFeatureType
	}

	durable, cancel := context.WithTimeout(context.WithoutCancel(ctx), updateTimeout)
	defer cancel()

	agg, err := s.grants.Overwrite(durable, scope, grantdomain.OverwriteRequest{
		CustomerID: customer.ID,
		FeatureID:  feature.ID,
		EntityID:   req.EntityID,
		Target:     req.CurrentBalance,
		Interval:   interval,
		Allocated:  feature.Allocated(),
	})
	if err != nil {
		return balance.Aggregate{}, err
	}

	key := cache.CustomerKey(scope, customer.ID)
	if err := s.cache.Invalidate(durable, key); err != nil {
		s.log.Warn("cache invalidate failed after balance update", zap.String("key", key), zap.Error(err))
	}

	agg.FeatureID = feature.Code
	return agg, nil
}

// GetBalance returns the aggregated balance of a feature as the cache sees it.
func (s *Service) GetBalance(ctx context.Context, scope orgcontext.Scope, customerID, featureID, entityID string) (balance.Aggregate, error) {
	if !scope.Valid() {
		return balance.Aggregate{}, ErrInvalidOrganization
	}
	entityID = strings.TrimSpace(entityID)

	customer, err := s.resolveCustomer(ctx, scope, strings.TrimSpace(customerID))
	if err != nil {
		return balance.Aggregate{}, err
	}
	feature, err := s.resolveFeature(ctx, scope, strings.TrimSpace(featureID))
	if err != nil {
		return balance.Aggregate{}, err
	}
	snap, _, err := s.snapshot(ctx, scope, customer.ID)
	if err != nil {
		return balance.Aggregate{}, err
	}

	_, visible := featureRows(snap, feature, entityID, s.clock.Now())
	return balance.Summarize(feature.Code, entityID, visible), nil
}

// Invalidate drops the cached snapshot of a customer.
func (s *Service) Invalidate(ctx context.Context, ref grantdomain.CustomerRef) error {
	return s.cache.Invalidate(ctx, cache.CustomerKey(ref.Scope, ref.CustomerID))
}
