package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/balance"
)

func (g Grant) Interval() balance.Interval {
	return balance.Interval(g.ResetInterval)
}

// Row converts the grant into a planner row.
func (g Grant) Row() balance.Row {
	row := balance.Row{
		ID:           g.ID.String(),
		Kind:         balance.RowKindGrant,
		GrantID:      g.ID.String(),
		Interval:     g.Interval(),
		NextResetAt:  g.NextResetAt,
		ExpiresAt:    g.ExpiresAt,
		CreatedAt:    g.CreatedAt,
		Granted:      g.GrantedBalance,
		Current:      g.CurrentBalance,
		Purchased:    g.PurchasedBalance,
		Usage:        g.Usage,
		Unlimited:    g.Unlimited,
		UsageAllowed: g.UsageAllowed,
		ResetVersion: g.ResetVersion,
	}
	if g.EntityID != nil {
		row.EntityID = *g.EntityID
	}
	if g.UsageLimit.Valid {
		limit := g.UsageLimit.Decimal
		row.UsageLimit = &limit
	}
	return row
}

// RolloverPolicy returns the carry policy of the grant, nil when it has none.
func (g Grant) RolloverPolicy() *balance.RolloverPolicy {
	if !g.RolloverMax.Valid || !g.RolloverMax.Decimal.IsPositive() {
		return nil
	}
	return &balance.RolloverPolicy{Max: g.RolloverMax.Decimal, Length: g.RolloverLength}
}

// Row converts a rollover into a planner row inheriting scope from its grant.
func (r Rollover) Row(parent Grant) balance.Row {
	row := balance.Row{
		ID:          r.ID.String(),
		Kind:        balance.RowKindRollover,
		GrantID:     parent.ID.String(),
		Interval:    parent.Interval(),
		NextResetAt: parent.NextResetAt,
		ExpiresAt:   r.ExpiresAt,
		CreatedAt:   r.CreatedAt,
		Granted:     r.Balance.Add(r.Usage),
		Current:     r.Balance,
		Purchased:   decimal.Zero,
		Usage:       r.Usage,
	}
	if parent.EntityID != nil {
		row.EntityID = *parent.EntityID
	}
	return row
}

// BuildRows converts grants and their rollovers into planner rows, dropping
// anything expired at now. Rollovers of unknown grants are skipped.
func BuildRows(grants []Grant, rollovers []Rollover, now time.Time) []balance.Row {
	byID := make(map[string]Grant, len(grants))
	rows := make([]balance.Row, 0, len(grants)+len(rollovers))
	for _, g := range grants {
		byID[g.ID.String()] = g
		rows = append(rows, g.Row())
	}
	for _, r := range rollovers {
		parent, ok := byID[r.GrantID.String()]
		if !ok {
			continue
		}
		rows = append(rows, r.Row(parent))
	}
	return balance.Active(rows, now)
}

// ApplyRow copies a planned row state back onto the grant.
func (g *Grant) ApplyRow(row balance.Row) {
	g.GrantedBalance = row.Granted
	g.CurrentBalance = row.Current
	g.PurchasedBalance = row.Purchased
	g.Usage = row.Usage
}

// ApplyRow copies a planned row state back onto the rollover.
func (r *Rollover) ApplyRow(row balance.Row) {
	r.Balance = row.Current
	r.Usage = row.Usage
}
