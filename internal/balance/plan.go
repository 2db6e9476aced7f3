package balance

import (
	"github.com/shopspring/decimal"
)

// Request describes a signed amount to apply against ordered rows.
// Positive amounts are usage, negative amounts are credits.
type Request struct {
	Amount    decimal.Decimal
	Behavior  OverageBehavior
	Allocated bool
}

// Plan is the outcome of applying a request. Rows holds every input row in
// deduction order with its new state.
type Plan struct {
	Requested decimal.Decimal
	Applied   decimal.Decimal
	Rows      []Row
	Changed   []string
	Unlimited bool
	Partial   bool
}

func (p Plan) Remaining() decimal.Decimal {
	return p.Requested.Sub(p.Applied)
}

// Apply plans a deduction (or credit) without touching the input slice.
// Rows must already be filtered to the scope being charged.
func Apply(rows []Row, req Request) (Plan, error) {
	if req.Behavior == "" {
		req.Behavior = OverageCap
	}
	ordered := Order(cloneRows(rows))
	plan := Plan{Requested: req.Amount, Applied: decimal.Zero, Rows: ordered}

	if req.Amount.IsZero() {
		return plan, nil
	}
	for _, row := range ordered {
		if row.Unlimited {
			plan.Unlimited = true
			plan.Applied = req.Amount
			return plan, nil
		}
	}
	if len(ordered) == 0 {
		if req.Amount.IsNegative() || req.Behavior == OverageCap {
			plan.Partial = req.Amount.IsPositive()
			return plan, nil
		}
		return Plan{}, ErrInsufficientBalance
	}

	changed := map[string]bool{}
	if req.Amount.IsNegative() {
		plan.Applied = credit(ordered, req.Amount.Neg(), changed).Neg()
	} else {
		applied, remaining := deduct(ordered, req.Amount, req.Allocated, changed)
		if remaining.IsPositive() {
			if req.Behavior == OverageReject {
				return Plan{}, ErrInsufficientBalance
			}
			plan.Partial = true
		}
		plan.Applied = applied
	}

	for _, row := range ordered {
		if changed[row.ID] {
			plan.Changed = append(plan.Changed, row.ID)
		}
	}
	return plan, nil
}

func deduct(rows []Row, amount decimal.Decimal, allocated bool, changed map[string]bool) (decimal.Decimal, decimal.Decimal) {
	remaining := drawCurrent(rows, amount, changed)
	if remaining.IsPositive() {
		remaining = drawOverage(rows, remaining, allocated, changed)
	}
	return amount.Sub(remaining), remaining
}

// drawCurrent takes from positive balances in row order and returns what is
// left.
func drawCurrent(rows []Row, amount decimal.Decimal, changed map[string]bool) decimal.Decimal {
	remaining := amount
	for i := range rows {
		if !remaining.IsPositive() {
			break
		}
		available := decimal.Max(rows[i].Current, decimal.Zero)
		take := decimal.Min(remaining, available)
		if !take.IsPositive() {
			continue
		}
		rows[i].Current = rows[i].Current.Sub(take)
		rows[i].syncUsage()
		changed[rows[i].ID] = true
		remaining = remaining.Sub(take)
	}
	return remaining
}

// drawOverage pushes the rest into overage on grants that allow it, most
// specific first, up to their usage limit.
func drawOverage(rows []Row, amount decimal.Decimal, allocated bool, changed map[string]bool) decimal.Decimal {
	remaining := amount
	for _, i := range mostSpecific(rows) {
		if !remaining.IsPositive() {
			break
		}
		if !rows[i].UsageAllowed {
			continue
		}
		take := remaining
		if rows[i].UsageLimit != nil {
			headroom := rows[i].UsageLimit.Sub(rows[i].Usage)
			if !headroom.IsPositive() {
				continue
			}
			take = decimal.Min(take, headroom)
		}
		if allocated {
			rows[i].Purchased = rows[i].Purchased.Add(take)
		} else {
			rows[i].Current = rows[i].Current.Sub(take)
		}
		rows[i].syncUsage()
		changed[rows[i].ID] = true
		remaining = remaining.Sub(take)
	}
	return remaining
}

// credit returns usage: first unwinding overage on the most specific grants,
// then refilling rows up to their granted amount starting from the last row
// drawn. Anything beyond that is dropped.
func credit(rows []Row, amount decimal.Decimal, changed map[string]bool) decimal.Decimal {
	remaining := amount

	for _, i := range mostSpecific(rows) {
		if !remaining.IsPositive() {
			break
		}
		if rows[i].Purchased.IsPositive() {
			take := decimal.Min(remaining, rows[i].Purchased)
			rows[i].Purchased = rows[i].Purchased.Sub(take)
			remaining = remaining.Sub(take)
			changed[rows[i].ID] = true
		}
		if remaining.IsPositive() && rows[i].Current.IsNegative() {
			take := decimal.Min(remaining, rows[i].Current.Neg())
			rows[i].Current = rows[i].Current.Add(take)
			remaining = remaining.Sub(take)
			changed[rows[i].ID] = true
		}
		rows[i].syncUsage()
	}

	for i := len(rows) - 1; i >= 0 && remaining.IsPositive(); i-- {
		room := rows[i].Granted.Sub(rows[i].Current)
		if !room.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, room)
		rows[i].Current = rows[i].Current.Add(take)
		rows[i].syncUsage()
		remaining = remaining.Sub(take)
		changed[rows[i].ID] = true
	}

	return amount.Sub(remaining)
}

// Available is the amount that can still be drawn without rejection. The
// boolean is true when no upper bound exists (unlimited or uncapped overage).
func Available(rows []Row) (decimal.Decimal, bool) {
	total := decimal.Zero
	unbounded := false
	for _, row := range rows {
		if row.Unlimited {
			return decimal.Zero, true
		}
		total = total.Add(decimal.Max(row.Current, decimal.Zero))
		if row.IsGrant() && row.UsageAllowed {
			if row.UsageLimit == nil {
				unbounded = true
				continue
			}
			headroom := row.UsageLimit.Sub(row.Usage)
			// usage still grows by what is left in current before overage starts
			headroom = headroom.Sub(decimal.Max(row.Current, decimal.Zero))
			if headroom.IsPositive() {
				total = total.Add(headroom)
			}
		}
	}
	return total, unbounded
}
