package rls

import (
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
)

// WithTenant scopes row level security policies to an organization for the
// rest of the transaction. Only postgres understands the setting.
func WithTenant(tx *gorm.DB, tenantID int64) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(
		"SELECT set_config('app.current_org_id', ?, true)",
		strconv.FormatInt(tenantID, 10),
	).Error
}

// WithLockTimeout bounds how long the transaction waits on row locks. The
// returned func must run on tx before the transaction ends: mysql only has a
// session-level setting, which would otherwise stay on the pooled connection.
func WithLockTimeout(tx *gorm.DB, timeout time.Duration) (func() error, error) {
	restore := func() error { return nil }
	if timeout <= 0 {
		return restore, nil
	}
	switch tx.Dialector.Name() {
	case "postgres":
		return restore, tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = %d", timeout.Milliseconds())).Error
	case "mysql":
		seconds := int64(timeout.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		if err := tx.Exec(fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", seconds)).Error; err != nil {
			return restore, err
		}
		return func() error {
			return tx.Exec("SET SESSION innodb_lock_wait_timeout = DEFAULT").Error
		}, nil
	default:
		return restore, nil
	}
}
