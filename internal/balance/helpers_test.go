package balance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func ptrTime(t time.Time) *time.Time { return &t }

func grant(id string, interval Interval, granted string) Row {
	g := Row{
		ID:        id,
		Kind:      RowKindGrant,
		GrantID:   id,
		Interval:  interval,
		CreatedAt: t0,
		Granted:   d(granted),
		Current:   d(granted),
		Purchased: decimal.Zero,
		Usage:     decimal.Zero,
	}
	if interval.Bounded() {
		g.NextResetAt = ptrTime(interval.Add(t0, 1))
	}
	return g
}

func rollover(id, grantID string, balance string, expires time.Time) Row {
	return Row{
		ID:        id,
		Kind:      RowKindRollover,
		GrantID:   grantID,
		ExpiresAt: ptrTime(expires),
		CreatedAt: t0,
		Granted:   d(balance),
		Current:   d(balance),
		Purchased: decimal.Zero,
		Usage:     decimal.Zero,
	}
}

func rowByID(t *testing.T, rows []Row, id string) Row {
	t.Helper()
	for _, row := range rows {
		if row.ID == id {
			return row
		}
	}
	t.Fatalf("row %s not found", id)
	return Row{}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Fatalf("%s: expected %s, got %s", msg, want, got.String())
	}
}
