package deduction

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/balance"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"go.uber.org/zap"
)

var ErrInvalidAttachment = grantdomain.ErrInvalidAttachment

type AttachFeature struct {
	FeatureID      string           `json:"feature_id"`
	Amount         decimal.Decimal  `json:"amount"`
	Interval       string           `json:"interval"`
	IntervalCount  int              `json:"interval_count"`
	Unlimited      bool             `json:"unlimited"`
	UsageAllowed   bool             `json:"usage_allowed"`
	UsageLimit     *decimal.Decimal `json:"usage_limit"`
	RolloverMax    *decimal.Decimal `json:"rollover_max"`
	RolloverLength int              `json:"rollover_length"`
	ExpiresAt      *time.Time       `json:"expires_at"`
}

type AttachRequest struct {
	CustomerID        string          `json:"customer_id"`
	CustomerProductID string          `json:"customer_product_id"`
	EntityIDs         []string        `json:"entity_ids"`
	AnchorAt          *time.Time      `json:"anchor_at"`
	Features          []AttachFeature `json:"features"`
}

type AttachResult struct {
	CustomerID        string   `json:"customer_id"`
	CustomerProductID string   `json:"customer_product_id"`
	GrantIDs          []string `json:"grant_ids"`
}

// Attach turns a product attachment into grants. Entities must already exist
// on the customer.
func (s *Service) Attach(ctx context.Context, scope orgcontext.Scope, req AttachRequest) (*AttachResult, error) {
	if !scope.Valid() {
		return nil, ErrInvalidOrganization
	}
	if len(req.Features) == 0 || strings.TrimSpace(req.CustomerProductID) == "" {
		return nil, ErrInvalidAttachment
	}

	customer, err := s.resolveCustomer(ctx, scope, strings.TrimSpace(req.CustomerID))
	if err != nil {
		return nil, err
	}

	entities := lo.Uniq(lo.Compact(lo.Map(req.EntityIDs, func(id string, _ int) string { return strings.TrimSpace(id) })))
	for _, entityID := range entities {
		if _, err := s.customers.ResolveEntity(ctx, &customer, entityID); err != nil {
			return nil, err
		}
	}

	specs := make([]grantdomain.GrantSpec, 0, len(req.Features))
	for _, f := range req.Features {
		feature, err := s.resolveFeature(ctx, scope, strings.TrimSpace(f.FeatureID))
		if err != nil {
			return nil, err
		}
		interval, ok := balance.ParseInterval(f.Interval)
		if !ok {
			return nil, ErrInvalidInterval
		}
		if f.Amount.IsNegative() {
			return nil, ErrInvalidAmount
		}
		specs = append(specs, grantdomain.GrantSpec{
			FeatureID:      feature.ID,
			Amount:         f.Amount,
			Interval:       interval,
			IntervalCount:  f.IntervalCount,
			Unlimited:      f.Unlimited,
			UsageAllowed:   f.UsageAllowed,
			UsageLimit:     f.UsageLimit,
			RolloverMax:    f.RolloverMax,
			RolloverLength: f.RolloverLength,
			ExpiresAt:      f.ExpiresAt,
		})
	}

	grants, err := s.grants.Attach(ctx, scope, grantdomain.AttachRequest{
		CustomerID:        customer.ID,
		CustomerProductID: req.CustomerProductID,
		EntityIDs:         entities,
		Grants:            specs,
		AnchorAt:          req.AnchorAt,
	})
	if err != nil {
		return nil, err
	}
	s.invalidateAll(ctx, []grantdomain.CustomerRef{{Scope: scope, CustomerID: customer.ID}})

	return &AttachResult{
		CustomerID:        customer.ExternalID,
		CustomerProductID: req.CustomerProductID,
		GrantIDs:          lo.Map(grants, func(g grantdomain.Grant, _ int) string { return g.ID.String() }),
	}, nil
}

// Terminate ends an attachment and drops the cached snapshots it fed.
func (s *Service) Terminate(ctx context.Context, scope orgcontext.Scope, customerProductID string) error {
	refs, err := s.grants.Terminate(ctx, scope, customerProductID)
	if err != nil {
		return err
	}
	s.invalidateAll(ctx, refs)
	return nil
}

func (s *Service) invalidateAll(ctx context.Context, refs []grantdomain.CustomerRef) {
	var errs error
	for _, ref := range refs {
		errs = errors.Join(errs, s.Invalidate(context.WithoutCancel(ctx), ref))
	}
	if errs != nil {
		s.log.Warn("cache invalidate failed after attachment change", zap.Error(errs))
	}
}
