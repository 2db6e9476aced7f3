// Package testing moves grant and rollover deadlines so scheduler jobs can be
// exercised without waiting for real cycle boundaries.
package testing

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	"gorm.io/gorm"
)

// TimeAccelerator rewrites schedule columns relative to a reference time.
type TimeAccelerator struct {
	db  *gorm.DB
	now func() time.Time
}

func NewTimeAccelerator(db *gorm.DB, now func() time.Time) *TimeAccelerator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TimeAccelerator{db: db, now: now}
}

// FastForwardGrant makes an active grant due one minute ago.
func (ta *TimeAccelerator) FastForwardGrant(ctx context.Context, grantID snowflake.ID) error {
	now := ta.now()
	return ta.db.WithContext(ctx).Exec(
		`UPDATE customer_grants
		 SET next_reset_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND next_reset_at IS NOT NULL`,
		now.Add(-1*time.Minute),
		now,
		grantID,
		grantdomain.StatusActive,
	).Error
}

// FastForwardCustomer makes every scheduled grant of a customer due.
func (ta *TimeAccelerator) FastForwardCustomer(ctx context.Context, customerID snowflake.ID) (int64, error) {
	now := ta.now()
	result := ta.db.WithContext(ctx).Exec(
		`UPDATE customer_grants
		 SET next_reset_at = ?, updated_at = ?
		 WHERE customer_id = ? AND status = ? AND next_reset_at > ?`,
		now.Add(-1*time.Minute),
		now,
		customerID,
		grantdomain.StatusActive,
		now,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ExpireRollovers moves the expiry of every rollover of a grant into the past.
func (ta *TimeAccelerator) ExpireRollovers(ctx context.Context, grantID snowflake.ID) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE grant_rollovers SET expires_at = ? WHERE grant_id = ?`,
		ta.now().Add(-1*time.Minute),
		grantID,
	).Error
}
