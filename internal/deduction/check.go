package deduction

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/balance"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
	"github.com/smallbiznis/autumn/internal/orgcontext"
)

// Check reports whether the customer can consume RequiredBalance of a feature.
// With SendEvent an allowed check also tracks that amount, rejecting instead
// of capping if another request drained the balance in between.
func (s *Service) Check(ctx context.Context, scope orgcontext.Scope, req CheckRequest) (*CheckResult, error) {
	if !scope.Valid() {
		return nil, ErrInvalidOrganization
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.FeatureID = strings.TrimSpace(req.FeatureID)
	req.EntityID = strings.TrimSpace(req.EntityID)
	if req.FeatureID == "" {
		return nil, ErrMissingFeature
	}

	required := decimal.NewFromInt(1)
	if req.RequiredBalance != nil {
		required = *req.RequiredBalance
	}
	if required.IsNegative() {
		return nil, ErrInvalidAmount
	}

	customer, err := s.resolveCustomer(ctx, scope, req.CustomerID)
	if err != nil {
		return nil, err
	}
	feature, err := s.resolveFeature(ctx, scope, req.FeatureID)
	if err != nil {
		return nil, err
	}
	snap, _, err := s.snapshot(ctx, scope, customer.ID)
	if err != nil {
		return nil, err
	}

	_, visible := featureRows(snap, feature, req.EntityID, s.clock.Now())
	agg := balance.Summarize(feature.Code, req.EntityID, visible)
	result := &CheckResult{
		CustomerID:      customer.ExternalID,
		FeatureID:       feature.Code,
		EntityID:        req.EntityID,
		RequiredBalance: required,
		Unlimited:       agg.Unlimited,
		Balance:         &agg,
	}

	if feature.Type == featuredomain.FeatureTypeBoolean {
		result.Allowed = len(visible) > 0
		s.metrics.RecordCheck(ctx, scope.OrgID.String(), feature.Code, result.Allowed)
		return result, nil
	}

	available, unbounded := balance.Available(visible)
	systems, err := s.creditSystems(ctx, scope, feature)
	if err != nil {
		return nil, err
	}
	for _, system := range systems {
		_, credits := featureRows(snap, system, req.EntityID, s.clock.Now())
		cost, _ := system.CostOf(feature.Code)
		more, open := balance.AvailableIn(credits, cost)
		available = available.Add(more)
		unbounded = unbounded || open
	}
	result.Allowed = unbounded || available.GreaterThanOrEqual(required)

	if result.Allowed && req.SendEvent && required.IsPositive() {
		tracked, err := s.Track(ctx, scope, TrackRequest{
			CustomerID:      req.CustomerID,
			FeatureID:       req.FeatureID,
			Value:           &required,
			EntityID:        req.EntityID,
			OverageBehavior: string(balance.OverageReject),
		})
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			result.Allowed = false
		case err != nil:
			return nil, err
		default:
			after := tracked.Features[0].Balance
			result.Balance = &after
		}
	}

	s.metrics.RecordCheck(ctx, scope.OrgID.String(), feature.Code, result.Allowed)
	return result, nil
}
