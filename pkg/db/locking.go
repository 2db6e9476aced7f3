package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate adds a row lock to the statement. SQLite has no row locks and
// serializes writers instead, so the clause is skipped there.
func ForUpdate(stmt *gorm.DB) *gorm.DB {
	if IsSQLite(stmt) {
		return stmt
	}
	return stmt.Clauses(clause.Locking{Strength: "UPDATE"})
}
