package cache

import (
	"strings"
	"time"

	customerdomain "github.com/smallbiznis/autumn/internal/customer/domain"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
	"github.com/smallbiznis/autumn/internal/orgcontext"
)

const (
	defaultFeatureTTL  = 5 * time.Minute
	defaultEventTTL    = time.Minute
	defaultCustomerTTL = 5 * time.Minute
)

// ResolverCache stores hot-path lookups for track and check.
type ResolverCache interface {
	GetFeature(scope orgcontext.Scope, code string) (featuredomain.Feature, bool)
	SetFeature(scope orgcontext.Scope, code string, feature featuredomain.Feature)
	GetEventFeatures(scope orgcontext.Scope, eventName string) ([]featuredomain.Feature, bool)
	SetEventFeatures(scope orgcontext.Scope, eventName string, features []featuredomain.Feature)
	GetCreditSystems(scope orgcontext.Scope, code string) ([]featuredomain.Feature, bool)
	SetCreditSystems(scope orgcontext.Scope, code string, systems []featuredomain.Feature)
	GetCustomer(scope orgcontext.Scope, customerID string) (customerdomain.Customer, bool)
	SetCustomer(scope orgcontext.Scope, customerID string, customer customerdomain.Customer)
	Purge()
}

type resolverCache struct {
	features    Cache[string, featuredomain.Feature]
	events      Cache[string, []featuredomain.Feature]
	credits     Cache[string, []featuredomain.Feature]
	customers   Cache[string, customerdomain.Customer]
	featureTTL  time.Duration
	eventTTL    time.Duration
	customerTTL time.Duration
}

func NewResolverCache() ResolverCache {
	return &resolverCache{
		features:    NewTTLCache[string, featuredomain.Feature](),
		events:      NewTTLCache[string, []featuredomain.Feature](),
		credits:     NewTTLCache[string, []featuredomain.Feature](),
		customers:   NewTTLCache[string, customerdomain.Customer](),
		featureTTL:  defaultFeatureTTL,
		eventTTL:    defaultEventTTL,
		customerTTL: defaultCustomerTTL,
	}
}

func (c *resolverCache) GetFeature(scope orgcontext.Scope, code string) (featuredomain.Feature, bool) {
	return c.features.Get(resolverKey(scope, code))
}

func (c *resolverCache) SetFeature(scope orgcontext.Scope, code string, feature featuredomain.Feature) {
	if feature.ID == 0 {
		return
	}
	c.features.Set(resolverKey(scope, code), feature, c.featureTTL)
}

func (c *resolverCache) GetEventFeatures(scope orgcontext.Scope, eventName string) ([]featuredomain.Feature, bool) {
	return c.events.Get(resolverKey(scope, eventName))
}

func (c *resolverCache) SetEventFeatures(scope orgcontext.Scope, eventName string, features []featuredomain.Feature) {
	if len(features) == 0 {
		return
	}
	c.events.Set(resolverKey(scope, eventName), features, c.eventTTL)
}

func (c *resolverCache) GetCreditSystems(scope orgcontext.Scope, code string) ([]featuredomain.Feature, bool) {
	return c.credits.Get(resolverKey(scope, code))
}

// SetCreditSystems also caches an empty result; most metered features are not
// priced by any credit system.
func (c *resolverCache) SetCreditSystems(scope orgcontext.Scope, code string, systems []featuredomain.Feature) {
	if systems == nil {
		systems = []featuredomain.Feature{}
	}
	c.credits.Set(resolverKey(scope, code), systems, c.featureTTL)
}

func (c *resolverCache) GetCustomer(scope orgcontext.Scope, customerID string) (customerdomain.Customer, bool) {
	return c.customers.Get(resolverKey(scope, customerID))
}

func (c *resolverCache) SetCustomer(scope orgcontext.Scope, customerID string, customer customerdomain.Customer) {
	if customer.ID == 0 {
		return
	}
	c.customers.Set(resolverKey(scope, customerID), customer, c.customerTTL)
}

func (c *resolverCache) Purge() {
	for _, key := range c.features.Keys() {
		c.features.Delete(key)
	}
	for _, key := range c.events.Keys() {
		c.events.Delete(key)
	}
	for _, key := range c.credits.Keys() {
		c.credits.Delete(key)
	}
	for _, key := range c.customers.Keys() {
		c.customers.Delete(key)
	}
}

func resolverKey(scope orgcontext.Scope, parts ...string) string {
	values := make([]string, 0, len(parts)+2)
	values = append(values, scope.OrgID.String(), scope.Env)
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	return strings.Join(values, "|")
}
