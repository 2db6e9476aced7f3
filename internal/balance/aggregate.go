package balance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Breakdown is the state of one contributing grant or rollover.
type Breakdown struct {
	ID          string          `json:"id"`
	Kind        RowKind         `json:"kind"`
	GrantID     string          `json:"grant_id"`
	EntityID    string          `json:"entity_id,omitempty"`
	Interval    Interval        `json:"interval"`
	NextResetAt *time.Time      `json:"next_reset_at,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	Granted     decimal.Decimal `json:"granted"`
	Current     decimal.Decimal `json:"current"`
	Purchased   decimal.Decimal `json:"purchased"`
	Usage       decimal.Decimal `json:"usage"`
	Unlimited   bool            `json:"unlimited,omitempty"`
}

// Aggregate is the summed view of every row visible to a scope.
// Current always equals the sum of Breakdown[].Current.
type Aggregate struct {
	FeatureID    string          `json:"feature_id"`
	EntityID     string          `json:"entity_id,omitempty"`
	Granted      decimal.Decimal `json:"granted"`
	Current      decimal.Decimal `json:"current"`
	Purchased    decimal.Decimal `json:"purchased"`
	Usage        decimal.Decimal `json:"usage"`
	Unlimited    bool            `json:"unlimited"`
	UsageAllowed bool            `json:"usage_allowed"`
	NextResetAt  *time.Time      `json:"next_reset_at,omitempty"`
	Breakdown    []Breakdown     `json:"breakdown"`
}

// Summarize aggregates rows (already scoped) in deduction order.
func Summarize(featureID, entityID string, rows []Row) Aggregate {
	agg := Aggregate{
		FeatureID: featureID,
		EntityID:  entityID,
		Granted:   decimal.Zero,
		Current:   decimal.Zero,
		Purchased: decimal.Zero,
		Usage:     decimal.Zero,
		Breakdown: make([]Breakdown, 0, len(rows)),
	}
	for _, row := range Order(cloneRows(rows)) {
		agg.Granted = agg.Granted.Add(row.Granted)
		agg.Current = agg.Current.Add(row.Current)
		agg.Purchased = agg.Purchased.Add(row.Purchased)
		agg.Usage = agg.Usage.Add(row.Usage)
		if row.Unlimited {
			agg.Unlimited = true
		}
		if row.IsGrant() && row.UsageAllowed {
			agg.UsageAllowed = true
		}
		if row.IsGrant() && row.NextResetAt != nil {
			if agg.NextResetAt == nil || row.NextResetAt.Before(*agg.NextResetAt) {
				next := *row.NextResetAt
				agg.NextResetAt = &next
			}
		}
		agg.Breakdown = append(agg.Breakdown, Breakdown{
			ID:          row.ID,
			Kind:        row.Kind,
			GrantID:     row.GrantID,
			EntityID:    row.EntityID,
			Interval:    row.Interval,
			NextResetAt: row.NextResetAt,
			ExpiresAt:   row.ExpiresAt,
			Granted:     row.Granted,
			Current:     row.Current,
			Purchased:   row.Purchased,
			Usage:       row.Usage,
			Unlimited:   row.Unlimited,
		})
	}
	return agg
}

// Consistent reports whether the aggregate matches its breakdown.
func (a Aggregate) Consistent() bool {
	sum := decimal.Zero
	for _, item := range a.Breakdown {
		sum = sum.Add(item.Current)
	}
	return sum.Equal(a.Current)
}

// SameBalances compares the numeric state of two aggregates row by row.
func SameBalances(a, b Aggregate) bool {
	if !a.Current.Equal(b.Current) || !a.Purchased.Equal(b.Purchased) ||
		!a.Granted.Equal(b.Granted) || len(a.Breakdown) != len(b.Breakdown) {
		return false
	}
	byID := make(map[string]Breakdown, len(b.Breakdown))
	for _, item := range b.Breakdown {
		byID[item.ID] = item
	}
	for _, item := range a.Breakdown {
		other, ok := byID[item.ID]
		if !ok || !item.Current.Equal(other.Current) || !item.Purchased.Equal(other.Purchased) {
			return false
		}
	}
	return true
}
