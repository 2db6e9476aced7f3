package balance

import (
	"sort"
	"time"
)

// Order returns rows in deduction order. Grants are ranked interval-bounded
// before lifetime, then entity-scoped before customer-wide, then by reset
// boundary, expiry, creation and id. Each grant is preceded by its rollovers,
// oldest-expiring first.
func Order(rows []Row) []Row {
	grants := make([]Row, 0, len(rows))
	rollovers := map[string][]Row{}
	for _, row := range rows {
		if row.IsGrant() {
			grants = append(grants, row)
			continue
		}
		rollovers[row.GrantID] = append(rollovers[row.GrantID], row)
	}

	sort.SliceStable(grants, func(i, j int) bool {
		return grantLess(grants[i], grants[j])
	})

	out := make([]Row, 0, len(rows))
	seen := make(map[string]bool, len(grants))
	for _, grant := range grants {
		seen[grant.ID] = true
		children := rollovers[grant.ID]
		sortRollovers(children)
		out = append(out, children...)
		out = append(out, grant)
	}

	// rollovers whose grant is out of scope still drain first
	var orphans []Row
	for grantID, children := range rollovers {
		if !seen[grantID] {
			orphans = append(orphans, children...)
		}
	}
	if len(orphans) > 0 {
		sortRollovers(orphans)
		out = append(orphans, out...)
	}
	return out
}

func grantLess(a, b Row) bool {
	if a.Interval.Bounded() != b.Interval.Bounded() {
		return a.Interval.Bounded()
	}
	if a.EntityScoped() != b.EntityScoped() {
		return a.EntityScoped()
	}
	if c := compareTimes(a.NextResetAt, b.NextResetAt); c != 0 {
		return c < 0
	}
	if c := compareTimes(a.ExpiresAt, b.ExpiresAt); c != 0 {
		return c < 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortRollovers(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := compareTimes(rows[i].ExpiresAt, rows[j].ExpiresAt); c != 0 {
			return c < 0
		}
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
}

// compareTimes orders nil after any concrete time.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	default:
		return 0
	}
}

// mostSpecific returns indexes of grant rows in overage preference:
// entity-scoped grants first, deduction order otherwise.
func mostSpecific(ordered []Row) []int {
	idx := make([]int, 0, len(ordered))
	for i, row := range ordered {
		if row.IsGrant() && row.EntityScoped() {
			idx = append(idx, i)
		}
	}
	for i, row := range ordered {
		if row.IsGrant() && !row.EntityScoped() {
			idx = append(idx, i)
		}
	}
	return idx
}
