package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/autumn/internal/balance"
	"github.com/smallbiznis/autumn/internal/clock"
	"github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"github.com/smallbiznis/autumn/pkg/db"
	"github.com/smallbiznis/autumn/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errDuplicateEvent = errors.New("duplicate_event")

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("grant.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// ledger is the locked (or plain) view of a customer's grants for one
// feature, indexed for writing planned rows back.
type ledger struct {
	grants    map[string]*domain.Grant
	rollovers map[string]*domain.Rollover
	rows      []balance.Row
}

func (s *Service) loadLedger(ctx context.Context, tx *gorm.DB, scope orgcontext.Scope, customerID snowflake.ID, featureID *snowflake.ID, lock bool, now time.Time) (*ledger, error) {
	grants, err := s.repo.ListGrants(ctx, tx, domain.GrantFilter{
		OrgID:      scope.OrgID,
		Env:        scope.Env,
		CustomerID: customerID,
		FeatureID:  featureID,
		ActiveOnly: true,
		Lock:       lock,
	})
	if err != nil {
		return nil, err
	}

	ids := lo.Map(grants, func(g domain.Grant, _ int) snowflake.ID { return g.ID })
	rollovers, err := s.repo.ListRollovers(ctx, tx, ids, lock)
	if err != nil {
		return nil, err
	}

	l := &ledger{
		grants:    make(map[string]*domain.Grant, len(grants)),
		rollovers: make(map[string]*domain.Rollover, len(rollovers)),
		rows:      domain.BuildRows(grants, rollovers, now),
	}
	for i := range grants {
		l.grants[grants[i].ID.String()] = &grants[i]
	}
	for i := range rollovers {
		l.rollovers[rollovers[i].ID.String()] = &rollovers[i]
	}
	return l, nil
}

// persist writes the changed rows of a plan. bumpVersion marks the grants as
// administratively rewritten so in-flight deductions against them are dropped.
func (s *Service) persist(ctx context.Context, tx *gorm.DB, l *ledger, rows []balance.Row, changed []string, bumpVersion bool, now time.Time) error {
	byID := lo.KeyBy(rows, func(row balance.Row) string { return row.ID })
	for _, id := range changed {
		row, ok := byID[id]
		if !ok {
			continue
		}
		if g, ok := l.grants[id]; ok {
			g.ApplyRow(row)
			if bumpVersion {
				g.ResetVersion++
			}
			g.UpdatedAt = now
			if err := s.repo.UpdateBalances(ctx, tx, g); err != nil {
				return err
			}
			continue
		}
		if r, ok := l.rollovers[id]; ok {
			r.ApplyRow(row)
			if err := s.repo.UpdateRollover(ctx, tx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) GetAggregate(ctx context.Context, scope orgcontext.Scope, req domain.AggregateRequest) (balance.Aggregate, error) {
	if !scope.Valid() {
		return balance.Aggregate{}, domain.ErrInvalidOrganization
	}

	l, err := s.loadLedger(ctx, s.db, scope, req.CustomerID, &req.FeatureID, false, s.clock.Now())
	if err != nil {
		return balance.Aggregate{}, err
	}
	rows := balance.InScope(l.rows, req.EntityID)
	return balance.Summarize(req.FeatureID.String(), req.EntityID, rows), nil
}

func (s *Service) LoadCustomer(ctx context.Context, scope orgcontext.Scope, customerID snowflake.ID) (domain.Snapshot, error) {
	if !scope.Valid() {
		return domain.Snapshot{}, domain.ErrInvalidOrganization
	}

	now := s.clock.Now()
	grants, err := s.repo.ListGrants(ctx, s.db, domain.GrantFilter{
		OrgID:      scope.OrgID,
		Env:        scope.Env,
		CustomerID: customerID,
		ActiveOnly: true,
	})
	if err != nil {
		return domain.Snapshot{}, err
	}

	ids := lo.Map(grants, func(g domain.Grant, _ int) snowflake.ID { return g.ID })
	rollovers, err := s.repo.ListRollovers(ctx, s.db, ids, false)
	if err != nil {
		return domain.Snapshot{}, err
	}

	byGrant := lo.GroupBy(rollovers, func(r domain.Rollover) snowflake.ID { return r.GrantID })
	snapshot := domain.Snapshot{
		CustomerID: customerID,
		Features:   map[string][]balance.Row{},
		LoadedAt:   now,
	}
	for featureID, featureGrants := range lo.GroupBy(grants, func(g domain.Grant) snowflake.ID { return g.FeatureID }) {
		var featureRollovers []domain.Rollover
		for _, g := range featureGrants {
			featureRollovers = append(featureRollovers, byGrant[g.ID]...)
		}
		snapshot.Features[featureID.String()] = domain.BuildRows(featureGrants, featureRollovers, now)
	}
	return snapshot, nil
}

func (s *Service) ApplyDeduction(ctx context.Context, scope orgcontext.Scope, req domain.DeductionRequest) (domain.DeductionResult, error) {
	if !scope.Valid() {
		return domain.DeductionResult{}, domain.ErrInvalidOrganization
	}

	now := s.clock.Now()
	var result domain.DeductionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) (err error) {
		if err := rls.WithTenant(tx, scope.OrgID.Int64()); err != nil {
			return err
		}
		restore, err := rls.WithLockTimeout(tx, req.LockTimeout)
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, restore()) }()

		var event *domain.BalanceEvent
		if req.EventID != "" {
			event = &domain.BalanceEvent{
				ID:         req.EventID,
				OrgID:      scope.OrgID,
				Env:        scope.Env,
				CustomerID: req.CustomerID,
				FeatureID:  req.FeatureID,
				EntityID:   lo.EmptyableToPtr(req.EntityID),
				Delta:      req.Amount,
				Status:     domain.EventApplied,
				CreatedAt:  now,
			}
			if err := s.repo.InsertEvent(ctx, tx, event); err != nil {
				if db.IsDuplicateKeyErr(err) {
					return errDuplicateEvent
				}
				return err
			}
		}

		l, err := s.loadLedger(ctx, tx, scope, req.CustomerID, &req.FeatureID, true, now)
		if err != nil {
			return err
		}
		rows := balance.InScope(l.rows, req.EntityID)

		if reason := staleReason(rows, l, req); reason != "" {
			result = domain.DeductionResult{
				Status:    domain.EventDiscarded,
				Reason:    reason,
				Aggregate: balance.Summarize(req.FeatureID.String(), req.EntityID, rows),
			}
			if event == nil {
				return nil
			}
			event.Status = domain.EventDiscarded
			event.Reason = reason
			return s.repo.UpdateEvent(ctx, tx, event)
		}

		plan, err := balance.Apply(rows, balance.Request{
			Amount:    req.Amount,
			Behavior:  req.Behavior,
			Allocated: req.Allocated,
		})
		if err != nil {
			return err
		}
		if err := s.persist(ctx, tx, l, plan.Rows, plan.Changed, false, now); err != nil {
			return err
		}

		result = domain.DeductionResult{
			Status:    domain.EventApplied,
			Plan:      plan,
			Aggregate: balance.Summarize(req.FeatureID.String(), req.EntityID, plan.Rows),
		}
		if event == nil {
			return nil
		}
		event.Applied = plan.Applied
		return s.repo.UpdateEvent(ctx, tx, event)
	})
	if errors.Is(err, errDuplicateEvent) {
		return domain.DeductionResult{Status: domain.EventDuplicate, Reason: "already_processed"}, nil
	}
	if err != nil {
		return domain.DeductionResult{}, err
	}
	return result, nil
}

// staleReason reports why a deduction planned against an older snapshot must
// not be applied: a grant in scope was reset after the snapshot was taken.
// Observed reset versions decide when present; the snapshot time is only a
// fallback for requests that carry none.
func staleReason(rows []balance.Row, l *ledger, req domain.DeductionRequest) string {
	for _, row := range rows {
		if !row.IsGrant() {
			continue
		}
		if req.ObservedVersions != nil {
			if observed, ok := req.ObservedVersions[row.ID]; ok && observed != row.ResetVersion {
				return "reset_version_changed"
			}
			continue
		}
		// Snapshots carry millisecond timestamps; compare at that precision.
		if req.CachedAt != nil {
			if g := l.grants[row.ID]; g != nil && g.LastResetAt != nil && g.LastResetAt.Truncate(time.Millisecond).After(*req.CachedAt) {
				return "reset_after_snapshot"
			}
		}
	}
	return ""
}

func (s *Service) Overwrite(ctx context.Context, scope orgcontext.Scope, req domain.OverwriteRequest) (balance.Aggregate, error) {
	if !scope.Valid() {
		return balance.Aggregate{}, domain.ErrInvalidOrganization
	}

	now := s.clock.Now()
	var agg balance.Aggregate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, scope.OrgID.Int64()); err != nil {
			return err
		}

		l, err := s.loadLedger(ctx, tx, scope, req.CustomerID, &req.FeatureID, true, now)
		if err != nil {
			return err
		}
		rows := balance.InScope(l.rows, req.EntityID)
		target := rows
		if req.Interval != nil {
			target = balance.FilterInterval(rows, *req.Interval)
		}

		plan, err := balance.Overwrite(target, req.Target, req.Allocated)
		if errors.Is(err, balance.ErrNoRows) {
			return domain.ErrNoGrants
		}
		if err != nil {
			return err
		}
		if err := s.persist(ctx, tx, l, plan.Rows, plan.Changed, true, now); err != nil {
			return err
		}

		updated := lo.KeyBy(plan.Rows, func(row balance.Row) string { return row.ID })
		merged := lo.Map(rows, func(row balance.Row, _ int) balance.Row {
			if next, ok := updated[row.ID]; ok {
				return next
			}
			return row
		})
		agg = balance.Summarize(req.FeatureID.String(), req.EntityID, merged)
		return nil
	})
	if err != nil {
		return balance.Aggregate{}, err
	}

	s.log.Info("balance overwritten",
		zap.String("org_id", scope.OrgID.String()),
		zap.String("customer_id", req.CustomerID.String()),
		zap.String("feature_id", req.FeatureID.String()),
		zap.String("target", req.Target.String()),
	)
	return agg, nil
}

// ListDue reads without row locks; ResetGrant locks and re-checks each grant.
func (s *Service) ListDue(ctx context.Context, now time.Time, after domain.DueCursor, limit int) ([]domain.Grant, error) {
	return s.repo.ListDue(ctx, s.db, now, after, limit)
}
