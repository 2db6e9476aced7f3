package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsLockTimeoutErr(t *testing.T) {
	assert.True(t, IsLockTimeoutErr(&pgconn.PgError{Code: "55P03"}))
	assert.True(t, IsLockTimeoutErr(fmt.Errorf("apply: %w", &pgconn.PgError{Code: "40P01"})))
	assert.True(t, IsLockTimeoutErr(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsLockTimeoutErr(errors.New("boom")))
	assert.False(t, IsLockTimeoutErr(nil))
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: balance_events.id")))
	assert.False(t, IsDuplicateKeyErr(errors.New("boom")))
}

func TestIsRetryableTxErr(t *testing.T) {
	assert.True(t, IsRetryableTxErr(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsRetryableTxErr(&pgconn.PgError{Code: "23505"}))
}
