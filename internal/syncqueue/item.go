package syncqueue

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/orgcontext"
)

// Item is one cache-side deduction waiting to be applied to the balance store.
type Item struct {
	ID               string           `json:"id"`
	OrgID            snowflake.ID     `json:"org_id"`
	Env              string           `json:"env"`
	CustomerID       snowflake.ID     `json:"customer_id"`
	FeatureID        snowflake.ID     `json:"feature_id"`
	FeatureCode      string           `json:"feature_code,omitempty"`
	EntityID         string           `json:"entity_id,omitempty"`
	Delta            decimal.Decimal  `json:"delta"`
	Allocated        bool             `json:"allocated,omitempty"`
	ObservedVersions map[string]int64 `json:"observed_versions"`
	CachedAtMs       int64            `json:"cached_at_ms"`
	EventName        string           `json:"event_name,omitempty"`
	Properties       map[string]any   `json:"properties,omitempty"`
	Attempts         int              `json:"attempts,omitempty"`
}

func NewItemID() string {
	return ulid.Make().String()
}

func (i Item) Scope() orgcontext.Scope {
	return orgcontext.Scope{OrgID: i.OrgID, Env: i.Env}
}

func (i Item) CachedAt() time.Time {
	return time.UnixMilli(i.CachedAtMs).UTC()
}
