package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type GrantFilter struct {
	OrgID             snowflake.ID
	Env               string
	CustomerID        snowflake.ID
	FeatureID         *snowflake.ID
	CustomerProductID string
	ActiveOnly        bool
	// Lock takes row locks; only meaningful inside a transaction.
	Lock bool
}

type Repository interface {
	InsertGrant(ctx context.Context, db *gorm.DB, grant *Grant) error
	FindGrant(ctx context.Context, db *gorm.DB, id snowflake.ID, lock bool) (*Grant, error)
	ListGrants(ctx context.Context, db *gorm.DB, filter GrantFilter) ([]Grant, error)
	UpdateBalances(ctx context.Context, db *gorm.DB, grant *Grant) error
	UpdateReset(ctx context.Context, db *gorm.DB, grant *Grant) error
	UpdateStatus(ctx context.Context, db *gorm.DB, ids []snowflake.ID, status Status, at time.Time) error
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, after DueCursor, limit int) ([]Grant, error)

	ListRollovers(ctx context.Context, db *gorm.DB, grantIDs []snowflake.ID, lock bool) ([]Rollover, error)
	InsertRollover(ctx context.Context, db *gorm.DB, rollover *Rollover) error
	UpdateRollover(ctx context.Context, db *gorm.DB, rollover *Rollover) error
	DeleteRollovers(ctx context.Context, db *gorm.DB, ids []snowflake.ID) error
	ListExpiredRollovers(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]ExpiredRollover, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *BalanceEvent) error
	UpdateEvent(ctx context.Context, db *gorm.DB, event *BalanceEvent) error
	FindEvent(ctx context.Context, db *gorm.DB, id string) (*BalanceEvent, error)
}
