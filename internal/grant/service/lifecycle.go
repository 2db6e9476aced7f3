package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/balance"
	"github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"github.com/smallbiznis/autumn/pkg/rls"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResetGrant runs the cycle transition of one grant under its row lock.
// It returns nil when the grant is not (or no longer) due.
func (s *Service) ResetGrant(ctx context.Context, grantID snowflake.ID, now time.Time) (*domain.ResetOutcome, error) {
	var outcome *domain.ResetOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := s.repo.FindGrant(ctx, tx, grantID, true)
		if err != nil {
			return err
		}
		if g == nil {
			return domain.ErrGrantNotFound
		}
		if g.Status != domain.StatusActive || g.NextResetAt == nil || g.NextResetAt.After(now) || !g.Interval().Bounded() {
			return nil
		}
		if err := rls.WithTenant(tx, g.OrgID.Int64()); err != nil {
			return err
		}

		rollovers, err := s.repo.ListRollovers(ctx, tx, []snowflake.ID{g.ID}, true)
		if err != nil {
			return err
		}
		byID := make(map[string]*domain.Rollover, len(rollovers))
		rows := make([]balance.Row, 0, len(rollovers))
		for i := range rollovers {
			byID[rollovers[i].ID.String()] = &rollovers[i]
			rows = append(rows, rollovers[i].Row(*g))
		}

		carryID := s.genID.Generate()
		res := balance.Reset(g.Row(), rows, g.RolloverPolicy(), now, carryID.String(), g.IntervalCount)

		removed := make([]snowflake.ID, 0, len(res.Removed))
		for _, id := range res.Removed {
			if r, ok := byID[id]; ok {
				removed = append(removed, r.ID)
			}
		}
		if err := s.repo.DeleteRollovers(ctx, tx, removed); err != nil {
			return err
		}

		var carried *domain.Rollover
		for _, row := range res.Rollovers {
			if res.Carried != nil && row.ID == res.Carried.ID {
				carried = &domain.Rollover{
					ID:        carryID,
					GrantID:   g.ID,
					Balance:   row.Current,
					Usage:     decimal.Zero,
					ExpiresAt: row.ExpiresAt,
					CreatedAt: now,
				}
				if err := s.repo.InsertRollover(ctx, tx, carried); err != nil {
					return err
				}
				continue
			}
			r, ok := byID[row.ID]
			if !ok || r.Balance.Equal(row.Current) {
				continue
			}
			r.ApplyRow(row)
			if err := s.repo.UpdateRollover(ctx, tx, r); err != nil {
				return err
			}
		}

		g.ApplyRow(res.Grant)
		g.NextResetAt = res.Grant.NextResetAt
		g.LastResetAt = &now
		g.ResetVersion = res.Grant.ResetVersion
		g.UpdatedAt = now
		if err := s.repo.UpdateReset(ctx, tx, g); err != nil {
			return err
		}

		outcome = &domain.ResetOutcome{
			Grant:   *g,
			Carried: carried,
			Removed: len(removed),
			Customer: domain.CustomerRef{
				Scope:      orgcontext.Scope{OrgID: g.OrgID, Env: g.Env},
				CustomerID: g.CustomerID,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcome != nil {
		fields := []zap.Field{
			zap.String("grant_id", grantID.String()),
			zap.String("customer_id", outcome.Grant.CustomerID.String()),
			zap.Int64("reset_version", outcome.Grant.ResetVersion),
			zap.Int("rollovers_removed", outcome.Removed),
		}
		if outcome.Carried != nil {
			fields = append(fields, zap.String("carried", outcome.Carried.Balance.String()))
		}
		s.log.Debug("grant reset", fields...)
	}
	return outcome, nil
}

// ExpireRollovers deletes rollovers past their expiry and returns the
// customers whose balances changed.
func (s *Service) ExpireRollovers(ctx context.Context, now time.Time, limit int) ([]domain.CustomerRef, error) {
	var refs []domain.CustomerRef
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired, err := s.repo.ListExpiredRollovers(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}

		ids := lo.Map(expired, func(r domain.ExpiredRollover, _ int) snowflake.ID { return r.ID })
		if err := s.repo.DeleteRollovers(ctx, tx, ids); err != nil {
			return err
		}

		refs = lo.UniqBy(lo.Map(expired, func(r domain.ExpiredRollover, _ int) domain.CustomerRef {
			return domain.CustomerRef{
				Scope:      orgcontext.Scope{OrgID: r.OrgID, Env: r.Env},
				CustomerID: r.CustomerID,
			}
		}), func(ref domain.CustomerRef) snowflake.ID { return ref.CustomerID })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// Attach creates the grants of a product attachment. With entities, each
// entity gets its own grant per feature.
func (s *Service) Attach(ctx context.Context, scope orgcontext.Scope, req domain.AttachRequest) ([]domain.Grant, error) {
	if !scope.Valid() {
		return nil, domain.ErrInvalidOrganization
	}
	productID := strings.TrimSpace(req.CustomerProductID)
	if productID == "" || req.CustomerID == 0 || len(req.Grants) == 0 {
		return nil, domain.ErrInvalidAttachment
	}

	now := s.clock.Now()
	anchor := now
	if req.AnchorAt != nil {
		anchor = req.AnchorAt.UTC()
	}

	entities := lo.Uniq(lo.Compact(req.EntityIDs))
	if len(entities) == 0 {
		entities = []string{""}
	}

	var created []domain.Grant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, scope.OrgID.Int64()); err != nil {
			return err
		}

		existing, err := s.repo.ListGrants(ctx, tx, domain.GrantFilter{
			OrgID:             scope.OrgID,
			Env:               scope.Env,
			CustomerProductID: productID,
			ActiveOnly:        true,
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return domain.ErrAlreadyAttached
		}

		for _, spec := range req.Grants {
			if spec.FeatureID == 0 || spec.Amount.IsNegative() {
				return domain.ErrInvalidAttachment
			}
			for _, entityID := range entities {
				g := newGrant(s.genID.Generate(), scope, req.CustomerID, productID, entityID, spec, anchor, now)
				if err := s.repo.InsertGrant(ctx, tx, &g); err != nil {
					return err
				}
				created = append(created, g)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("attachment created",
		zap.String("org_id", scope.OrgID.String()),
		zap.String("customer_id", req.CustomerID.String()),
		zap.String("customer_product_id", productID),
		zap.Int("grants", len(created)),
	)
	return created, nil
}

func newGrant(id snowflake.ID, scope orgcontext.Scope, customerID snowflake.ID, productID, entityID string, spec domain.GrantSpec, anchor, now time.Time) domain.Grant {
	count := spec.IntervalCount
	if count <= 0 {
		count = 1
	}
	length := spec.RolloverLength
	if length <= 0 {
		length = 1
	}

	g := domain.Grant{
		ID:                id,
		OrgID:             scope.OrgID,
		Env:               scope.Env,
		CustomerID:        customerID,
		FeatureID:         spec.FeatureID,
		CustomerProductID: productID,
		EntityID:          lo.EmptyableToPtr(entityID),
		GrantedBalance:    spec.Amount,
		CurrentBalance:    spec.Amount,
		PurchasedBalance:  decimal.Zero,
		Usage:             decimal.Zero,
		ResetInterval:     string(spec.Interval),
		IntervalCount:     count,
		Unlimited:         spec.Unlimited,
		UsageAllowed:      spec.UsageAllowed,
		RolloverLength:    length,
		ExpiresAt:         spec.ExpiresAt,
		Status:            domain.StatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if spec.Interval.Bounded() {
		next := spec.Interval.NextResetAfter(anchor, count, now)
		g.NextResetAt = &next
	}
	if spec.UsageLimit != nil {
		g.UsageLimit = decimal.NewNullDecimal(*spec.UsageLimit)
	}
	if spec.RolloverMax != nil {
		g.RolloverMax = decimal.NewNullDecimal(*spec.RolloverMax)
	}
	return g
}

// Terminate ends every active grant of an attachment.
func (s *Service) Terminate(ctx context.Context, scope orgcontext.Scope, customerProductID string) ([]domain.CustomerRef, error) {
	if !scope.Valid() {
		return nil, domain.ErrInvalidOrganization
	}
	productID := strings.TrimSpace(customerProductID)
	if productID == "" {
		return nil, domain.ErrInvalidAttachment
	}

	var refs []domain.CustomerRef
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, scope.OrgID.Int64()); err != nil {
			return err
		}

		grants, err := s.repo.ListGrants(ctx, tx, domain.GrantFilter{
			OrgID:             scope.OrgID,
			Env:               scope.Env,
			CustomerProductID: productID,
			ActiveOnly:        true,
			Lock:              true,
		})
		if err != nil {
			return err
		}
		if len(grants) == 0 {
			return domain.ErrAttachmentNotFound
		}

		ids := lo.Map(grants, func(g domain.Grant, _ int) snowflake.ID { return g.ID })
		if err := s.repo.UpdateStatus(ctx, tx, ids, domain.StatusTerminated, s.clock.Now()); err != nil {
			return err
		}

		customers := lo.Uniq(lo.Map(grants, func(g domain.Grant, _ int) snowflake.ID { return g.CustomerID }))
		refs = lo.Map(customers, func(id snowflake.ID, _ int) domain.CustomerRef {
			return domain.CustomerRef{Scope: scope, CustomerID: id}
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}
