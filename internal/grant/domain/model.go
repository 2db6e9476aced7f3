package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
)

// Grant is one balance row of a customer for a feature, owned by a product
// attachment. EntityID nil means the grant is shared by the whole customer.
type Grant struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	OrgID             snowflake.ID `gorm:"not null;index:ix_customer_grants_scope,priority:1"`
	Env               string       `gorm:"type:text;not null;default:live;index:ix_customer_grants_scope,priority:2"`
	CustomerID        snowflake.ID `gorm:"not null;index:ix_customer_grants_scope,priority:3"`
	FeatureID         snowflake.ID `gorm:"not null;index:ix_customer_grants_scope,priority:4"`
	CustomerProductID string       `gorm:"type:text;not null;index"`
	EntityID          *string      `gorm:"type:text"`

	GrantedBalance   decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0"`
	CurrentBalance   decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0"`
	PurchasedBalance decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0"`
	Usage            decimal.Decimal `gorm:"column:usage_amount;type:numeric(24,8);not null;default:0"`

	ResetInterval string     `gorm:"type:text;not null;default:''"`
	IntervalCount int        `gorm:"not null;default:1"`
	NextResetAt   *time.Time `gorm:"index"`
	LastResetAt   *time.Time
	ResetVersion  int64 `gorm:"not null;default:0"`

	Unlimited      bool                `gorm:"not null;default:false"`
	UsageAllowed   bool                `gorm:"not null;default:false"`
	UsageLimit     decimal.NullDecimal `gorm:"type:numeric(24,8)"`
	RolloverMax    decimal.NullDecimal `gorm:"type:numeric(24,8)"`
	RolloverLength int                 `gorm:"not null;default:1"`
	ExpiresAt      *time.Time
	Status         Status `gorm:"type:text;not null;default:active"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Grant) TableName() string { return "customer_grants" }

// Rollover is unused balance carried out of a grant at reset.
type Rollover struct {
	ID        snowflake.ID    `gorm:"primaryKey"`
	GrantID   snowflake.ID    `gorm:"not null;index"`
	Balance   decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0"`
	Usage     decimal.Decimal `gorm:"column:usage_amount;type:numeric(24,8);not null;default:0"`
	ExpiresAt *time.Time
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Rollover) TableName() string { return "grant_rollovers" }

type EventStatus string

const (
	EventApplied   EventStatus = "applied"
	EventDiscarded EventStatus = "discarded"
	// EventDuplicate is never stored; it reports an event id seen before.
	EventDuplicate EventStatus = "duplicate"
)

// BalanceEvent marks a sync item as processed and keeps an audit trail.
type BalanceEvent struct {
	ID         string          `gorm:"primaryKey;type:text"`
	OrgID      snowflake.ID    `gorm:"not null"`
	Env        string          `gorm:"type:text;not null;default:live"`
	CustomerID snowflake.ID    `gorm:"not null"`
	FeatureID  snowflake.ID    `gorm:"not null"`
	EntityID   *string         `gorm:"type:text"`
	Delta      decimal.Decimal `gorm:"type:numeric(24,8);not null"`
	Applied    decimal.Decimal `gorm:"type:numeric(24,8);not null;default:0"`
	Status     EventStatus     `gorm:"type:text;not null"`
	Reason     string          `gorm:"type:text;not null;default:''"`
	CreatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (BalanceEvent) TableName() string { return "balance_events" }

// ExpiredRollover is a rollover past its expiry with the owner it belongs to.
type ExpiredRollover struct {
	ID         snowflake.ID
	GrantID    snowflake.ID
	OrgID      snowflake.ID
	Env        string
	CustomerID snowflake.ID
}
