package balance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ids(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ID)
	}
	return out
}

func TestOrderIntervalBeforeLifetime(t *testing.T) {
	rows := []Row{
		grant("lifetime", IntervalLifetime, "200"),
		grant("oneoff", IntervalOneOff, "10"),
		grant("monthly", IntervalMonth, "100"),
	}
	got := ids(Order(rows))
	assert.Equal(t, "monthly", got[0])
	assert.ElementsMatch(t, []string{"lifetime", "oneoff"}, got[1:])
}

func TestOrderRolloversPrecedeParentOldestFirst(t *testing.T) {
	monthly := grant("monthly", IntervalMonth, "100")
	yearly := grant("yearly", IntervalYear, "100")
	rows := []Row{
		yearly,
		monthly,
		rollover("r-new", "monthly", "5", t0.AddDate(0, 2, 0)),
		rollover("r-old", "monthly", "5", t0.AddDate(0, 1, 0)),
		rollover("r-year", "yearly", "5", t0.AddDate(0, 1, 0)),
	}

	got := ids(Order(rows))
	assert.Equal(t, []string{"r-old", "r-new", "monthly", "r-year", "yearly"}, got)
}

func TestOrderEntityBeforeCustomerWide(t *testing.T) {
	shared := grant("shared", IntervalMonth, "100")
	seat := grant("seat", IntervalMonth, "100")
	seat.EntityID = "user_1"
	seatLifetime := grant("seat-lifetime", IntervalLifetime, "50")
	seatLifetime.EntityID = "user_1"

	got := ids(Order([]Row{shared, seatLifetime, seat}))
	// interval precedence outranks entity precedence
	assert.Equal(t, []string{"seat", "shared", "seat-lifetime"}, got)
}

func TestOrderTieBreaksByResetThenCreated(t *testing.T) {
	a := grant("a", IntervalMonth, "1")
	b := grant("b", IntervalMonth, "1")
	c := grant("c", IntervalMonth, "1")
	b.NextResetAt = ptrTime(t0.AddDate(0, 0, 10))
	c.CreatedAt = t0.Add(-time.Hour)

	got := ids(Order([]Row{a, b, c}))
	assert.Equal(t, []string{"b", "c", "a"}, got)
}

func TestOrderKeepsOrphanRolloversFirst(t *testing.T) {
	rows := []Row{
		grant("g", IntervalMonth, "10"),
		rollover("orphan", "missing", "3", t0.AddDate(0, 1, 0)),
	}
	assert.Equal(t, []string{"orphan", "g"}, ids(Order(rows)))
}
