package balance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usedGrant(id string, interval Interval, granted, current string) Row {
	g := grant(id, interval, granted)
	g.Current = d(current)
	g.syncUsage()
	return g
}

func TestOverwriteRaisesFirstGrant(t *testing.T) {
	rows := []Row{
		grant("lifetime", IntervalLifetime, "50"),
		usedGrant("monthly", IntervalMonth, "100", "60"),
	}

	plan, err := Overwrite(rows, d("200"), false)
	require.NoError(t, err)

	monthly := rowByID(t, plan.Rows, "monthly")
	assertDecimal(t, "150", monthly.Current, "monthly current")
	assertDecimal(t, "150", monthly.Granted, "monthly granted")
	assertDecimal(t, "0", monthly.Usage, "monthly usage")
	assertDecimal(t, "50", rowByID(t, plan.Rows, "lifetime").Current, "lifetime")
	assertDecimal(t, "-90", plan.Applied, "applied")
}

func TestOverwriteLowersInDeductionOrder(t *testing.T) {
	rows := []Row{
		grant("lifetime", IntervalLifetime, "50"),
		usedGrant("monthly", IntervalMonth, "100", "60"),
	}

	plan, err := Overwrite(rows, d("30"), false)
	require.NoError(t, err)
	assertDecimal(t, "0", rowByID(t, plan.Rows, "monthly").Current, "monthly")
	assertDecimal(t, "30", rowByID(t, plan.Rows, "lifetime").Current, "lifetime")
	assertDecimal(t, "80", plan.Applied, "applied")

	agg := Summarize("f", "", plan.Rows)
	assertDecimal(t, "30", agg.Current, "aggregate")
}

func TestOverwriteNegativeAllocatedMovesDeficitToPurchased(t *testing.T) {
	shared := grant("shared", IntervalLifetime, "5")
	seat := grant("seat", IntervalLifetime, "2")
	seat.EntityID = "user_1"

	plan, err := Overwrite([]Row{shared, seat}, d("-3"), true)
	require.NoError(t, err)

	got := rowByID(t, plan.Rows, "seat")
	assertDecimal(t, "0", got.Current, "seat current")
	assertDecimal(t, "3", got.Purchased, "seat purchased")
	assertDecimal(t, "5", got.Usage, "seat usage")
	assertDecimal(t, "0", rowByID(t, plan.Rows, "shared").Current, "shared current")
	for _, row := range plan.Rows {
		assert.False(t, row.Current.IsNegative(), "row %s went negative", row.ID)
	}
}

func TestOverwriteNegativeMeteredGoesNegative(t *testing.T) {
	plan, err := Overwrite([]Row{grant("calls", IntervalMonth, "10")}, d("-3"), false)
	require.NoError(t, err)
	assertDecimal(t, "-3", rowByID(t, plan.Rows, "calls").Current, "current")
	assertDecimal(t, "13", rowByID(t, plan.Rows, "calls").Usage, "usage")
}

func TestOverwriteClearsPurchased(t *testing.T) {
	seats := grant("seats", IntervalLifetime, "5")
	seats.Current = d("0")
	seats.Purchased = d("2")
	seats.syncUsage()

	plan, err := Overwrite([]Row{seats}, d("4"), true)
	require.NoError(t, err)
	got := rowByID(t, plan.Rows, "seats")
	assertDecimal(t, "0", got.Purchased, "purchased")
	assertDecimal(t, "4", got.Current, "current")
}

func TestOverwriteWithoutGrant(t *testing.T) {
	_, err := Overwrite(nil, d("10"), false)
	assert.ErrorIs(t, err, ErrNoRows)
}
