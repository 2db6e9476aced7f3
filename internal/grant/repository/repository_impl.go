package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/smallbiznis/autumn/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertGrant(ctx context.Context, conn *gorm.DB, grant *domain.Grant) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO customer_grants (
			id, org_id, env, customer_id, feature_id, customer_product_id, entity_id,
			granted_balance, current_balance, purchased_balance, usage_amount,
			reset_interval, interval_count, next_reset_at, last_reset_at, reset_version,
			unlimited, usage_allowed, usage_limit, rollover_max, rollover_length, expires_at,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		grant.ID,
		grant.OrgID,
		grant.Env,
		grant.CustomerID,
		grant.FeatureID,
		grant.CustomerProductID,
		grant.EntityID,
		grant.GrantedBalance,
		grant.CurrentBalance,
		grant.PurchasedBalance,
		grant.Usage,
		grant.ResetInterval,
		grant.IntervalCount,
		grant.NextResetAt,
		grant.LastResetAt,
		grant.ResetVersion,
		grant.Unlimited,
		grant.UsageAllowed,
		grant.UsageLimit,
		grant.RolloverMax,
		grant.RolloverLength,
		grant.ExpiresAt,
		grant.Status,
		grant.CreatedAt,
		grant.UpdatedAt,
	).Error
}

func (r *repo) FindGrant(ctx context.Context, conn *gorm.DB, id snowflake.ID, lock bool) (*domain.Grant, error) {
	stmt := conn.WithContext(ctx).Model(&domain.Grant{}).Where("id = ?", id)
	if lock {
		stmt = db.ForUpdate(stmt)
	}
	var grants []domain.Grant
	if err := stmt.Limit(1).Find(&grants).Error; err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, nil
	}
	return &grants[0], nil
}

func (r *repo) ListGrants(ctx context.Context, conn *gorm.DB, filter domain.GrantFilter) ([]domain.Grant, error) {
	stmt := conn.WithContext(ctx).
		Model(&domain.Grant{}).
		Where("org_id = ? AND env = ?", filter.OrgID, filter.Env)
	if filter.CustomerID != 0 {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.FeatureID != nil {
		stmt = stmt.Where("feature_id = ?", *filter.FeatureID)
	}
	if filter.CustomerProductID != "" {
		stmt = stmt.Where("customer_product_id = ?", filter.CustomerProductID)
	}
	if filter.ActiveOnly {
		stmt = stmt.Where("status = ?", domain.StatusActive)
	}
	if filter.Lock {
		stmt = db.ForUpdate(stmt)
	}

	var grants []domain.Grant
	if err := stmt.Order("id asc").Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repo) UpdateBalances(ctx context.Context, conn *gorm.DB, grant *domain.Grant) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE customer_grants
		 SET granted_balance = ?, current_balance = ?, purchased_balance = ?, usage_amount = ?, reset_version = ?, updated_at = ?
		 WHERE id = ?`,
		grant.GrantedBalance,
		grant.CurrentBalance,
		grant.PurchasedBalance,
		grant.Usage,
		grant.ResetVersion,
		grant.UpdatedAt,
		grant.ID,
	).Error
}

func (r *repo) UpdateReset(ctx context.Context, conn *gorm.DB, grant *domain.Grant) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE customer_grants
		 SET granted_balance = ?, current_balance = ?, purchased_balance = ?, usage_amount = ?,
		     next_reset_at = ?, last_reset_at = ?, reset_version = ?, updated_at = ?
		 WHERE id = ?`,
		grant.GrantedBalance,
		grant.CurrentBalance,
		grant.PurchasedBalance,
		grant.Usage,
		grant.NextResetAt,
		grant.LastResetAt,
		grant.ResetVersion,
		grant.UpdatedAt,
		grant.ID,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, ids []snowflake.ID, status domain.Status, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return conn.WithContext(ctx).Exec(
		`UPDATE customer_grants SET status = ?, updated_at = ? WHERE id IN ?`,
		status,
		at,
		ids,
	).Error
}

func (r *repo) ListDue(ctx context.Context, conn *gorm.DB, now time.Time, after domain.DueCursor, limit int) ([]domain.Grant, error) {
	stmt := conn.WithContext(ctx).
		Model(&domain.Grant{}).
		Where("status = ? AND next_reset_at IS NOT NULL AND next_reset_at <= ?", domain.StatusActive, now)
	if !after.IsZero() {
		stmt = stmt.Where("(next_reset_at > ? OR (next_reset_at = ? AND id > ?))", after.ResetAt, after.ResetAt, after.ID)
	}
	stmt = stmt.Order("next_reset_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var grants []domain.Grant
	if err := stmt.Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repo) ListRollovers(ctx context.Context, conn *gorm.DB, grantIDs []snowflake.ID, lock bool) ([]domain.Rollover, error) {
	if len(grantIDs) == 0 {
		return nil, nil
	}
	stmt := conn.WithContext(ctx).
		Model(&domain.Rollover{}).
		Where("grant_id IN ?", grantIDs).
		Order("expires_at asc, id asc")
	if lock {
		stmt = db.ForUpdate(stmt)
	}

	var rollovers []domain.Rollover
	if err := stmt.Find(&rollovers).Error; err != nil {
		return nil, err
	}
	return rollovers, nil
}

func (r *repo) InsertRollover(ctx context.Context, conn *gorm.DB, rollover *domain.Rollover) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO grant_rollovers (id, grant_id, balance, usage_amount, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rollover.ID,
		rollover.GrantID,
		rollover.Balance,
		rollover.Usage,
		rollover.ExpiresAt,
		rollover.CreatedAt,
	).Error
}

func (r *repo) UpdateRollover(ctx context.Context, conn *gorm.DB, rollover *domain.Rollover) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE grant_rollovers SET balance = ?, usage_amount = ? WHERE id = ?`,
		rollover.Balance,
		rollover.Usage,
		rollover.ID,
	).Error
}

func (r *repo) DeleteRollovers(ctx context.Context, conn *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return conn.WithContext(ctx).Exec(`DELETE FROM grant_rollovers WHERE id IN ?`, ids).Error
}

func (r *repo) ListExpiredRollovers(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.ExpiredRollover, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows []domain.ExpiredRollover
	err := conn.WithContext(ctx).Raw(
		`SELECT r.id AS id, r.grant_id AS grant_id, g.org_id AS org_id, g.env AS env, g.customer_id AS customer_id
		 FROM grant_rollovers r
		 JOIN customer_grants g ON g.id = r.grant_id
		 WHERE r.expires_at IS NOT NULL AND r.expires_at <= ?
		 ORDER BY r.expires_at ASC, r.id ASC
		 LIMIT ?`,
		now,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) InsertEvent(ctx context.Context, conn *gorm.DB, event *domain.BalanceEvent) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO balance_events (id, org_id, env, customer_id, feature_id, entity_id, delta, applied, status, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.OrgID,
		event.Env,
		event.CustomerID,
		event.FeatureID,
		event.EntityID,
		event.Delta,
		event.Applied,
		event.Status,
		event.Reason,
		event.CreatedAt,
	).Error
}

func (r *repo) UpdateEvent(ctx context.Context, conn *gorm.DB, event *domain.BalanceEvent) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE balance_events SET applied = ?, status = ?, reason = ? WHERE id = ?`,
		event.Applied,
		event.Status,
		event.Reason,
		event.ID,
	).Error
}

func (r *repo) FindEvent(ctx context.Context, conn *gorm.DB, id string) (*domain.BalanceEvent, error) {
	var event domain.BalanceEvent
	err := conn.WithContext(ctx).Raw(
		`SELECT id, org_id, env, customer_id, feature_id, entity_id, delta, applied, status, reason, created_at
		 FROM balance_events WHERE id = ?`,
		id,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == "" {
		return nil, nil
	}
	return &event, nil
}
