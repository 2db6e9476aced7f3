package balance

import (
	"time"

	"github.com/shopspring/decimal"
)

// RolloverPolicy caps the balance carried into future cycles.
type RolloverPolicy struct {
	Max    decimal.Decimal
	Length int
}

// ResetResult is the new state of a grant and its rollovers after a reset.
type ResetResult struct {
	Grant     Row
	Rollovers []Row
	Removed   []string
	Carried   *Row
}

// Reset restores a grant to its granted amount. With a rollover policy the
// unused positive balance is carried (capped at Max) into a new rollover row
// expiring Length intervals from now; older rollovers are pruned when expired
// or empty and trimmed oldest-first so the total never exceeds Max.
func Reset(grant Row, rollovers []Row, policy *RolloverPolicy, now time.Time, newID string, intervalCount int) ResetResult {
	res := ResetResult{Grant: grant}

	kept := make([]Row, 0, len(rollovers))
	for _, r := range rollovers {
		if r.expired(now) || !r.Current.IsPositive() {
			res.Removed = append(res.Removed, r.ID)
			continue
		}
		kept = append(kept, r)
	}
	sortRollovers(kept)

	if policy != nil && policy.Max.IsPositive() {
		carry := decimal.Min(decimal.Max(grant.Current, decimal.Zero), policy.Max)
		if carry.IsPositive() {
			excess := carry.Sub(policy.Max)
			for _, r := range kept {
				excess = excess.Add(r.Current)
			}
			for i := 0; i < len(kept) && excess.IsPositive(); i++ {
				take := decimal.Min(excess, kept[i].Current)
				kept[i].Current = kept[i].Current.Sub(take)
				kept[i].syncUsage()
				excess = excess.Sub(take)
			}

			length := policy.Length
			if length <= 0 {
				length = 1
			}
			count := intervalCount
			if count <= 0 {
				count = 1
			}
			expires := grant.Interval.Add(now, count*length)
			res.Carried = &Row{
				ID:          newID,
				Kind:        RowKindRollover,
				GrantID:     grant.ID,
				EntityID:    grant.EntityID,
				Interval:    grant.Interval,
				NextResetAt: grant.NextResetAt,
				ExpiresAt:   &expires,
				CreatedAt:   now,
				Granted:     carry,
				Current:     carry,
				Purchased:   decimal.Zero,
				Usage:       decimal.Zero,
			}
		}

		trimmed := kept[:0]
		for _, r := range kept {
			if !r.Current.IsPositive() {
				res.Removed = append(res.Removed, r.ID)
				continue
			}
			trimmed = append(trimmed, r)
		}
		kept = trimmed
	}

	g := &res.Grant
	g.Current = g.Granted
	g.Purchased = decimal.Zero
	g.Usage = decimal.Zero
	g.ResetVersion++
	if g.NextResetAt != nil {
		next := g.Interval.NextResetAfter(*g.NextResetAt, intervalCount, now)
		g.NextResetAt = &next
	}

	res.Rollovers = kept
	if res.Carried != nil {
		res.Carried.NextResetAt = g.NextResetAt
		res.Rollovers = append(res.Rollovers, *res.Carried)
	}
	return res
}
