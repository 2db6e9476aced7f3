package balance

import (
	"time"

	"github.com/shopspring/decimal"
)

type RowKind string

const (
	RowKindGrant    RowKind = "grant"
	RowKindRollover RowKind = "rollover"
)

type OverageBehavior string

const (
	OverageCap    OverageBehavior = "cap"
	OverageReject OverageBehavior = "reject"
)

func ParseOverageBehavior(value string) (OverageBehavior, bool) {
	switch OverageBehavior(value) {
	case "":
		return OverageCap, true
	case OverageCap, OverageReject:
		return OverageBehavior(value), true
	default:
		return "", false
	}
}

// Row is one deductible balance source: a grant or one of its rollovers.
// Rollovers inherit the entity, interval and reset boundary of their grant.
type Row struct {
	ID          string          `json:"id"`
	Kind        RowKind         `json:"kind"`
	GrantID     string          `json:"grant_id"`
	EntityID    string          `json:"entity_id,omitempty"`
	Interval    Interval        `json:"interval"`
	NextResetAt *time.Time      `json:"next_reset_at,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Granted     decimal.Decimal `json:"granted"`
	Current     decimal.Decimal `json:"current"`
	Purchased   decimal.Decimal `json:"purchased"`
	Usage       decimal.Decimal `json:"usage"`

	Unlimited    bool             `json:"unlimited,omitempty"`
	UsageAllowed bool             `json:"usage_allowed,omitempty"`
	UsageLimit   *decimal.Decimal `json:"usage_limit,omitempty"`
	ResetVersion int64            `json:"reset_version"`
}

func (r Row) IsGrant() bool { return r.Kind == RowKindGrant }

func (r Row) EntityScoped() bool { return r.EntityID != "" }

// syncUsage keeps usage = granted - current + purchased.
func (r *Row) syncUsage() {
	r.Usage = r.Granted.Sub(r.Current).Add(r.Purchased)
}

func (r Row) expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// InScope keeps the rows visible to an entity: its own rows plus customer-wide
// rows. Without an entity every row of the customer is visible, so customer
// level reads and deductions span all entities.
func InScope(rows []Row, entityID string) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if entityID == "" || row.EntityID == "" || row.EntityID == entityID {
			out = append(out, row)
		}
	}
	return out
}

// Active drops rows whose expiry has passed.
func Active(rows []Row, now time.Time) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if row.expired(now) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// FilterInterval keeps grants (and their rollovers) of a given interval.
func FilterInterval(rows []Row, interval Interval) []Row {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if row.Interval == interval {
			out = append(out, row)
		}
	}
	return out
}

// Versions returns the reset version observed for each grant in rows.
func Versions(rows []Row) map[string]int64 {
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		if row.IsGrant() {
			out[row.ID] = row.ResetVersion
		}
	}
	return out
}

func cloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	copy(out, rows)
	return out
}
