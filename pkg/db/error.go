package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgCodeUniqueViolation      = "23505"
	pgCodeLockNotAvailable     = "55P03"
	pgCodeSerializationFailure = "40001"
	pgCodeDeadlockDetected     = "40P01"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if hasPGCode(err, pgCodeUniqueViolation) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsLockTimeoutErr reports errors caused by waiting on a row lock.
func IsLockTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if hasPGCode(err, pgCodeLockNotAvailable) || hasPGCode(err, pgCodeDeadlockDetected) {
		return true
	}
	msg := err.Error()
	// MySQL 1205, SQLite busy
	return strings.Contains(msg, "Error 1205") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "lock timeout")
}

// IsRetryableTxErr reports transaction errors that succeed when retried.
func IsRetryableTxErr(err error) bool {
	return IsLockTimeoutErr(err) || hasPGCode(err, pgCodeSerializationFailure)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
