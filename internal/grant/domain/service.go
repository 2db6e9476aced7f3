package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/balance"
	"github.com/smallbiznis/autumn/internal/orgcontext"
)

// Service is the durable balance store.
type Service interface {
	GetAggregate(ctx context.Context, scope orgcontext.Scope, req AggregateRequest) (balance.Aggregate, error)
	LoadCustomer(ctx context.Context, scope orgcontext.Scope, customerID snowflake.ID) (Snapshot, error)
	ApplyDeduction(ctx context.Context, scope orgcontext.Scope, req DeductionRequest) (DeductionResult, error)
	Overwrite(ctx context.Context, scope orgcontext.Scope, req OverwriteRequest) (balance.Aggregate, error)

	ResetGrant(ctx context.Context, grantID snowflake.ID, now time.Time) (*ResetOutcome, error)
	// ListDue pages through grants whose cycle ended, oldest boundary first.
	ListDue(ctx context.Context, now time.Time, after DueCursor, limit int) ([]Grant, error)
	ExpireRollovers(ctx context.Context, now time.Time, limit int) ([]CustomerRef, error)

	Attach(ctx context.Context, scope orgcontext.Scope, req AttachRequest) ([]Grant, error)
	Terminate(ctx context.Context, scope orgcontext.Scope, customerProductID string) ([]CustomerRef, error)
}

// DueCursor is the (next_reset_at, id) position after the last due grant read.
// The zero cursor starts from the beginning.
type DueCursor struct {
	ResetAt time.Time
	ID      snowflake.ID
}

func (c DueCursor) IsZero() bool { return c.ID == 0 }

// After returns the cursor positioned past a due grant.
func (c DueCursor) After(g Grant) DueCursor {
	if g.NextResetAt == nil {
		return c
	}
	return DueCursor{ResetAt: *g.NextResetAt, ID: g.ID}
}

// CustomerRef identifies a customer whose cached balances must be refreshed.
type CustomerRef struct {
	Scope      orgcontext.Scope
	CustomerID snowflake.ID
}

type AggregateRequest struct {
	CustomerID snowflake.ID
	FeatureID  snowflake.ID
	EntityID   string
}

// Snapshot is every active balance row of a customer keyed by feature id.
type Snapshot struct {
	CustomerID snowflake.ID
	Features   map[string][]balance.Row
	LoadedAt   time.Time
}

type DeductionRequest struct {
	CustomerID snowflake.ID
	FeatureID  snowflake.ID
	EntityID   string
	Amount     decimal.Decimal
	Behavior   balance.OverageBehavior
	Allocated  bool

	// EventID makes the deduction idempotent through balance_events.
	EventID string
	// ObservedVersions and CachedAt describe the snapshot the amount was
	// planned against. A reset after that snapshot discards the deduction.
	ObservedVersions map[string]int64
	CachedAt         *time.Time
	LockTimeout      time.Duration
}

type DeductionResult struct {
	Status    EventStatus
	Reason    string
	Plan      balance.Plan
	Aggregate balance.Aggregate
}

type OverwriteRequest struct {
	CustomerID snowflake.ID
	FeatureID  snowflake.ID
	EntityID   string
	Target     decimal.Decimal
	Interval   *balance.Interval
	Allocated  bool
}

type ResetOutcome struct {
	Grant    Grant
	Carried  *Rollover
	Removed  int
	Customer CustomerRef
}

type GrantSpec struct {
	FeatureID      snowflake.ID
	Amount         decimal.Decimal
	Interval       balance.Interval
	IntervalCount  int
	Unlimited      bool
	UsageAllowed   bool
	UsageLimit     *decimal.Decimal
	RolloverMax    *decimal.Decimal
	RolloverLength int
	ExpiresAt      *time.Time
}

type AttachRequest struct {
	CustomerID        snowflake.ID
	CustomerProductID string
	// EntityIDs creates one grant per entity; empty means customer-wide.
	EntityIDs []string
	Grants    []GrantSpec
	AnchorAt  *time.Time
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidAttachment   = errors.New("invalid_attachment")
	ErrAlreadyAttached     = errors.New("attachment_already_exists")
	ErrAttachmentNotFound  = errors.New("attachment_not_found")
	ErrGrantNotFound       = errors.New("grant_not_found")
	ErrNoGrants            = errors.New("no_grants")
)
