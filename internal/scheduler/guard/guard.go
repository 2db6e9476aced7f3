package guard

import (
	"errors"
	"time"

	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
)

var (
	ErrGrantNotActive = errors.New("grant_not_active")
	ErrGrantUnbounded = errors.New("grant_interval_unbounded")
	ErrGrantNotDue    = errors.New("grant_not_due")
)

// EnsureGrantCanReset reports why a grant listed as due must be skipped.
func EnsureGrantCanReset(g grantdomain.Grant, now time.Time) error {
	if g.Status != grantdomain.StatusActive {
		return ErrGrantNotActive
	}
	if !g.Interval().Bounded() {
		return ErrGrantUnbounded
	}
	if g.NextResetAt == nil || g.NextResetAt.After(now) {
		return ErrGrantNotDue
	}
	return nil
}
