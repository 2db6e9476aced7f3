package rls

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// renamed reports another dialect name while running on sqlite.
type renamed struct {
	gorm.Dialector
	name string
}

func (r renamed) Name() string { return r.name }

// recordingDB builds statements without executing them and records each one.
func recordingDB(t *testing.T, name string) (*gorm.DB, *[]string) {
	t.Helper()
	conn, err := gorm.Open(renamed{Dialector: sqlite.Open(":memory:"), name: name}, &gorm.Config{
		DryRun: true,
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	var statements []string
	require.NoError(t, conn.Callback().Raw().After("gorm:raw").Register("rls:record", func(db *gorm.DB) {
		statements = append(statements, db.Statement.SQL.String())
	}))
	return conn, &statements
}

func TestWithLockTimeoutRestoresMySQLSession(t *testing.T) {
	conn, statements := recordingDB(t, "mysql")

	restore, err := WithLockTimeout(conn, 750*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, restore())

	assert.Equal(t, []string{
		"SET SESSION innodb_lock_wait_timeout = 1",
		"SET SESSION innodb_lock_wait_timeout = DEFAULT",
	}, *statements)
}

func TestWithLockTimeoutIsTransactionScopedOnPostgres(t *testing.T) {
	conn, statements := recordingDB(t, "postgres")

	restore, err := WithLockTimeout(conn, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, restore())

	assert.Equal(t, []string{"SET LOCAL lock_timeout = 2000"}, *statements)
}

func TestWithLockTimeoutNoop(t *testing.T) {
	conn, statements := recordingDB(t, "sqlite")

	restore, err := WithLockTimeout(conn, time.Second)
	require.NoError(t, err)
	require.NoError(t, restore())

	restore, err = WithLockTimeout(conn, 0)
	require.NoError(t, err)
	require.NoError(t, restore())
	assert.Empty(t, *statements)
}
