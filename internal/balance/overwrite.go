package balance

import "github.com/shopspring/decimal"

// Overwrite back-solves rows so their summed current balance equals target.
// Rows must already be scoped (and interval-filtered). A non-negative target
// clears purchased balances; a negative target on an allocated feature floors
// every row at zero and moves the deficit into purchased on the most specific
// grant.
func Overwrite(rows []Row, target decimal.Decimal, allocated bool) (Plan, error) {
	ordered := Order(cloneRows(rows))
	first := firstGrant(ordered)
	if first < 0 {
		return Plan{}, ErrNoRows
	}
	plan := Plan{Requested: target, Rows: ordered}

	before := decimal.Zero
	for _, row := range ordered {
		before = before.Add(row.Current)
	}

	switch {
	case !target.IsNegative():
		for i := range ordered {
			ordered[i].Purchased = decimal.Zero
		}
		diff := target.Sub(before)
		if diff.IsNegative() {
			remaining := diff.Neg()
			for i := range ordered {
				if !remaining.IsPositive() {
					break
				}
				take := decimal.Min(remaining, decimal.Max(ordered[i].Current, decimal.Zero))
				ordered[i].Current = ordered[i].Current.Sub(take)
				remaining = remaining.Sub(take)
			}
		} else if diff.IsPositive() {
			ordered[first].Current = ordered[first].Current.Add(diff)
			ordered[first].Granted = decimal.Max(ordered[first].Granted, ordered[first].Current)
		}
	case allocated:
		for i := range ordered {
			ordered[i].Current = decimal.Zero
			ordered[i].Purchased = decimal.Zero
		}
		target := mostSpecific(ordered)[0]
		ordered[target].Purchased = plan.Requested.Neg()
	default:
		for i := range ordered {
			ordered[i].Current = decimal.Zero
			ordered[i].Purchased = decimal.Zero
		}
		ordered[first].Current = target
	}

	after := decimal.Zero
	for i := range ordered {
		ordered[i].syncUsage()
		after = after.Add(ordered[i].Current)
		plan.Changed = append(plan.Changed, ordered[i].ID)
	}
	plan.Applied = before.Sub(after)
	return plan, nil
}

func firstGrant(rows []Row) int {
	for i, row := range rows {
		if row.IsGrant() {
			return i
		}
	}
	return -1
}
