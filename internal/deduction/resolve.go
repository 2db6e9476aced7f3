package deduction

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/autumn/internal/balance"
	"github.com/smallbiznis/autumn/internal/cache"
	customerdomain "github.com/smallbiznis/autumn/internal/customer/domain"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"go.uber.org/zap"
)

func (s *Service) resolveCustomer(ctx context.Context, scope orgcontext.Scope, customerID string) (customerdomain.Customer, error) {
	if cached, ok := s.resolver.GetCustomer(scope, customerID); ok {
		return cached, nil
	}
	customer, err := s.customers.Resolve(ctx, scope, customerID)
	if err != nil {
		return customerdomain.Customer{}, err
	}
	s.resolver.SetCustomer(scope, customerID, *customer)
	return *customer, nil
}

func (s *Service) resolveFeature(ctx context.Context, scope orgcontext.Scope, code string) (featuredomain.Feature, error) {
	if cached, ok := s.resolver.GetFeature(scope, code); ok {
		return cached, nil
	}
	feature, err := s.features.Resolve(ctx, scope, code)
	if err != nil {
		return featuredomain.Feature{}, err
	}
	s.resolver.SetFeature(scope, code, *feature)
	return *feature, nil
}

// trackableFeatures resolves the features charged by a track request. An
// event name may fan out to several features; boolean ones are skipped.
func (s *Service) trackableFeatures(ctx context.Context, scope orgcontext.Scope, req TrackRequest) ([]featuredomain.Feature, error) {
	if req.FeatureID != "" {
		feature, err := s.resolveFeature(ctx, scope, req.FeatureID)
		if err != nil {
			return nil, err
		}
		if !feature.Trackable() {
			return nil, ErrInvalidFeatureType
		}
		return []featuredomain.Feature{feature}, nil
	}

	features, ok := s.resolver.GetEventFeatures(scope, req.EventName)
	if !ok {
		var err error
		features, err = s.features.ResolveEvent(ctx, scope, req.EventName)
		if err != nil {
			return nil, err
		}
		s.resolver.SetEventFeatures(scope, req.EventName, features)
	}

	trackable := lo.Filter(features, func(f featuredomain.Feature, _ int) bool { return f.Trackable() })
	if len(trackable) == 0 {
		return nil, ErrFeatureNotFound
	}
	return trackable, nil
}

// creditSystems returns the credit systems a metered feature can draw from.
func (s *Service) creditSystems(ctx context.Context, scope orgcontext.Scope, feature featuredomain.Feature) ([]featuredomain.Feature, error) {
	if feature.Type != featuredomain.FeatureTypeMetered {
		return nil, nil
	}
	if cached, ok := s.resolver.GetCreditSystems(scope, feature.Code); ok {
		return cached, nil
	}
	systems, err := s.features.ResolveCreditSystems(ctx, scope, feature.Code)
	if err != nil {
		return nil, err
	}
	s.resolver.SetCreditSystems(scope, feature.Code, systems)
	return systems, nil
}

// snapshot returns the cached balances of a customer, loading and caching
// them from the balance store on a miss.
func (s *Service) snapshot(ctx context.Context, scope orgcontext.Scope, customerID snowflake.ID) (*cache.CachedCustomer, string, error) {
	key := cache.CustomerKey(scope, customerID)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("cache read failed, falling back to balance store", zap.String("key", key), zap.Error(err))
	}
	if err == nil && ok {
		s.metrics.RecordCacheLookup(ctx, true)
		if cached.Features == nil {
			cached.Features = map[string][]balance.Row{}
		}
		return cached, key, nil
	}
	s.metrics.RecordCacheLookup(ctx, false)

	loaded, err := s.grants.LoadCustomer(ctx, scope, customerID)
	if err != nil {
		return nil, "", err
	}
	snap := &cache.CachedCustomer{
		CustomerID:  customerID.String(),
		Features:    loaded.Features,
		SourceTag:   cache.SourceLoad,
		FetchTimeMs: loaded.LoadedAt.UnixMilli(),
		UpdatedAtMs: s.clock.Now().UnixMilli(),
	}
	if snap.Features == nil {
		snap.Features = map[string][]balance.Row{}
	}
	if err := s.cache.Set(ctx, key, snap, cache.SourceLoad, snap.FetchTimeMs); err != nil {
		s.log.Warn("cache populate failed", zap.String("key", key), zap.Error(err))
	}
	return snap, key, nil
}

// featureRows returns every live row of a feature and the subset visible to
// the entity.
func featureRows(snap *cache.CachedCustomer, feature featuredomain.Feature, entityID string, now time.Time) ([]balance.Row, []balance.Row) {
	all := balance.Active(snap.Rows(feature.ID.String()), now)
	return all, balance.InScope(all, entityID)
}

func mergeRows(all, updated []balance.Row) []balance.Row {
	byID := lo.KeyBy(updated, func(row balance.Row) string { return row.ID })
	return lo.Map(all, func(row balance.Row, _ int) balance.Row {
		if next, ok := byID[row.ID]; ok {
			return next
		}
		return row
	})
}
