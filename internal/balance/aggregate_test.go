package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeTotalsAndEarliestReset(t *testing.T) {
	weekly := grant("weekly", IntervalWeek, "10")
	monthly := grant("monthly", IntervalMonth, "100")
	monthly.UsageAllowed = true
	rows := []Row{monthly, weekly, grant("lifetime", IntervalLifetime, "5")}

	agg := Summarize("messages", "", rows)
	assertDecimal(t, "115", agg.Current, "current")
	assertDecimal(t, "115", agg.Granted, "granted")
	assert.True(t, agg.UsageAllowed)
	assert.False(t, agg.Unlimited)
	assert.Equal(t, *weekly.NextResetAt, *agg.NextResetAt)
	assert.Equal(t, "weekly", agg.Breakdown[0].ID)
	assert.True(t, agg.Consistent())
}

func TestSameBalances(t *testing.T) {
	rows := []Row{grant("a", IntervalMonth, "10"), grant("b", IntervalLifetime, "5")}
	a := Summarize("f", "", rows)
	b := Summarize("f", "", rows)
	assert.True(t, SameBalances(a, b))

	plan, err := Apply(rows, Request{Amount: d("1")})
	assert.NoError(t, err)
	assert.False(t, SameBalances(a, Summarize("f", "", plan.Rows)))
}

func TestAvailableUnbounded(t *testing.T) {
	g := grant("monthly", IntervalMonth, "10")
	g.UsageAllowed = true
	_, unbounded := Available([]Row{g})
	assert.True(t, unbounded)

	u := grant("unlimited", IntervalLifetime, "0")
	u.Unlimited = true
	_, unbounded = Available([]Row{u})
	assert.True(t, unbounded)
}
