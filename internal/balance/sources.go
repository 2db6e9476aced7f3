package balance

import (
	"github.com/shopspring/decimal"
)

// Source is one feature drawn by a deduction. Cost converts a unit of the
// requested amount into units of this source; zero means one.
type Source struct {
	Key       string
	Rows      []Row
	Cost      decimal.Decimal
	Allocated bool
}

// Split is the outcome of applying a request across sources. Plans[i] belongs
// to the i-th source and is expressed in that source's units; Requested and
// Applied are in requested units.
type Split struct {
	Requested decimal.Decimal
	Applied   decimal.Decimal
	Plans     []Plan
	Unlimited bool
	Partial   bool
}

// ApplySources deducts a positive amount from several sources in order, such
// as a metered feature followed by the credit systems pricing it. Remaining
// balances of every source are drawn before any source goes into overage.
// An unlimited row in any source covers the whole amount.
func ApplySources(sources []Source, req Request) (Split, error) {
	if req.Amount.IsNegative() {
		return Split{}, ErrInvalidAmount
	}
	if req.Behavior == "" {
		req.Behavior = OverageCap
	}

	split := Split{Requested: req.Amount, Applied: decimal.Zero, Plans: make([]Plan, len(sources))}
	costs := make([]decimal.Decimal, len(sources))
	changed := make([]map[string]bool, len(sources))
	for i, src := range sources {
		split.Plans[i] = Plan{Requested: decimal.Zero, Applied: decimal.Zero, Rows: Order(cloneRows(src.Rows))}
		costs[i] = src.Cost
		if !costs[i].IsPositive() {
			costs[i] = decimal.NewFromInt(1)
		}
		changed[i] = map[string]bool{}
	}
	if req.Amount.IsZero() {
		return split, nil
	}

	for i := range split.Plans {
		for _, row := range split.Plans[i].Rows {
			if row.Unlimited {
				split.Unlimited = true
				split.Applied = req.Amount
				split.Plans[i].Unlimited = true
				return split, nil
			}
		}
	}

	remaining := req.Amount
	for i := range split.Plans {
		rows := split.Plans[i].Rows
		remaining = drawScaled(remaining, costs[i], &split.Plans[i], func(in decimal.Decimal) decimal.Decimal {
			return drawCurrent(rows, in, changed[i])
		})
	}
	for i := range split.Plans {
		rows, allocated := split.Plans[i].Rows, sources[i].Allocated
		remaining = drawScaled(remaining, costs[i], &split.Plans[i], func(in decimal.Decimal) decimal.Decimal {
			return drawOverage(rows, in, allocated, changed[i])
		})
	}

	if remaining.IsPositive() {
		if req.Behavior == OverageReject {
			return Split{}, ErrInsufficientBalance
		}
		split.Partial = true
	}
	split.Applied = req.Amount.Sub(remaining)

	for i := range split.Plans {
		plan := &split.Plans[i]
		plan.Requested = plan.Applied
		for _, row := range plan.Rows {
			if changed[i][row.ID] {
				plan.Changed = append(plan.Changed, row.ID)
			}
		}
	}
	return split, nil
}

// drawScaled converts the remaining amount into source units, draws it and
// returns what is left in requested units.
func drawScaled(remaining, cost decimal.Decimal, plan *Plan, draw func(decimal.Decimal) decimal.Decimal) decimal.Decimal {
	if !remaining.IsPositive() {
		return remaining
	}
	in := remaining.Mul(cost)
	left := draw(in)
	plan.Applied = plan.Applied.Add(in.Sub(left))
	if !left.IsPositive() {
		return decimal.Zero
	}
	return left.Div(cost)
}

// AvailableIn converts the drawable amount of rows priced at cost into
// requested units.
func AvailableIn(rows []Row, cost decimal.Decimal) (decimal.Decimal, bool) {
	available, unbounded := Available(rows)
	if !cost.IsPositive() {
		return available, unbounded
	}
	return available.Div(cost), unbounded
}
