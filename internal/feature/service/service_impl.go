package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/autumn/internal/feature/domain"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"github.com/smallbiznis/autumn/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("feature.service"),
		repo:  p.Repo,
		genID: p.GenID,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Response, error) {
	scope, ok := orgcontext.ScopeFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	filter := domain.ListRequest{
		Name:        strings.TrimSpace(req.Name),
		Code:        strings.TrimSpace(req.Code),
		FeatureType: req.FeatureType,
		Active:      req.Active,
		SortBy:      strings.TrimSpace(req.SortBy),
		OrderBy:     strings.TrimSpace(req.OrderBy),
	}

	items, err := s.repo.List(ctx, s.db, scope.OrgID, scope.Env, filter)
	if err != nil {
		return nil, err
	}

	eventName := strings.TrimSpace(req.EventName)
	resp := make([]domain.Response, 0, len(items))
	for _, item := range items {
		if eventName != "" && !item.MatchesEvent(eventName) {
			continue
		}
		resp = append(resp, s.toResponse(&item))
	}

	return resp, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	scope, ok := orgcontext.ScopeFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	featureType, err := normalizeFeatureType(req.FeatureType)
	if err != nil {
		return nil, err
	}
	schema, err := s.creditSchema(ctx, scope, featureType, req.CreditSchema)
	if err != nil {
		return nil, err
	}

	description := strings.TrimSpace(ptrToString(req.Description))
	var descriptionPtr *string
	if description != "" {
		descriptionPtr = &description
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := time.Now().UTC()
	record := &domain.Feature{
		ID:           s.genID.Generate(),
		OrgID:        scope.OrgID,
		Env:          scope.Env,
		Code:         code,
		Name:         name,
		Description:  descriptionPtr,
		Type:         featureType,
		EventNames:   normalizeEventNames(req.EventNames),
		CreditSchema: schema,
		Active:       active,
		Metadata:     datatypes.JSONMap{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Metadata != nil {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Create(ctx, s.db, record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateCode
		}
		return nil, err
	}

	resp := s.toResponse(record)
	return &resp, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateRequest) (*domain.Response, error) {
	item, err := s.load(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidName
		}
		item.Name = name
	}
	if req.Description != nil {
		description := strings.TrimSpace(*req.Description)
		if description == "" {
			item.Description = nil
		} else {
			item.Description = &description
		}
	}
	if req.FeatureType != nil {
		featureType, err := normalizeFeatureType(*req.FeatureType)
		if err != nil {
			return nil, err
		}
		if featureType != item.Type {
			grants, err := s.repo.CountGrants(ctx, s.db, item.ID)
			if err != nil {
				return nil, err
			}
			if grants > 0 {
				return nil, domain.ErrFeatureInUse
			}
			item.Type = featureType
		}
	}
	if req.EventNames != nil {
		item.EventNames = normalizeEventNames(req.EventNames)
	}
	if req.CreditSchema != nil || req.FeatureType != nil {
		entries := req.CreditSchema
		if entries == nil && item.Type == domain.FeatureTypeCreditSystem {
			entries = item.CreditSchema
		}
		scope, _ := orgcontext.ScopeFromContext(ctx)
		schema, err := s.creditSchema(ctx, scope, item.Type, entries)
		if err != nil {
			return nil, err
		}
		item.CreditSchema = schema
	}
	if req.Active != nil {
		item.Active = *req.Active
	}
	if req.Metadata != nil {
		item.Metadata = datatypes.JSONMap(req.Metadata)
	}

	item.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}

	resp := s.toResponse(item)
	return &resp, nil
}

func (s *Service) Archive(ctx context.Context, id string) (*domain.Response, error) {
	item, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	item.Active = false
	item.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, s.db, item); err != nil {
		return nil, err
	}

	resp := s.toResponse(item)
	return &resp, nil
}

func (s *Service) Resolve(ctx context.Context, scope orgcontext.Scope, code string) (*domain.Feature, error) {
	if !scope.Valid() {
		return nil, domain.ErrInvalidOrganization
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}

	item, err := s.repo.FindByCode(ctx, s.db, scope.OrgID, scope.Env, code)
	if err != nil {
		return nil, err
	}
	if item == nil || !item.Active {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *Service) ResolveEvent(ctx context.Context, scope orgcontext.Scope, eventName string) ([]domain.Feature, error) {
	if !scope.Valid() {
		return nil, domain.ErrInvalidOrganization
	}
	eventName = strings.TrimSpace(eventName)
	if eventName == "" {
		return nil, domain.ErrInvalidCode
	}

	active := true
	items, err := s.repo.List(ctx, s.db, scope.OrgID, scope.Env, domain.ListRequest{Active: &active})
	if err != nil {
		return nil, err
	}
	matched := lo.Filter(items, func(item domain.Feature, _ int) bool {
		return item.MatchesEvent(eventName)
	})
	if len(matched) == 0 {
		return nil, domain.ErrNotFound
	}
	return matched, nil
}

func (s *Service) ResolveCreditSystems(ctx context.Context, scope orgcontext.Scope, code string) ([]domain.Feature, error) {
	if !scope.Valid() {
		return nil, domain.ErrInvalidOrganization
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}

	active := true
	creditSystem := domain.FeatureTypeCreditSystem
	items, err := s.repo.List(ctx, s.db, scope.OrgID, scope.Env, domain.ListRequest{Active: &active, FeatureType: &creditSystem})
	if err != nil {
		return nil, err
	}
	return lo.Filter(items, func(item domain.Feature, _ int) bool {
		_, ok := item.CostOf(code)
		return ok
	}), nil
}

// creditSchema validates the pricing of a credit system: every entry names an
// existing metered feature once, at a positive credit amount. Other feature
// types carry no schema.
func (s *Service) creditSchema(ctx context.Context, scope orgcontext.Scope, featureType domain.FeatureType, entries []domain.CreditCost) (datatypes.JSONSlice[domain.CreditCost], error) {
	if featureType != domain.FeatureTypeCreditSystem {
		if len(entries) > 0 {
			return nil, domain.ErrInvalidCreditSchema
		}
		return nil, nil
	}
	if len(entries) == 0 {
		return nil, domain.ErrInvalidCreditSchema
	}

	out := make(datatypes.JSONSlice[domain.CreditCost], 0, len(entries))
	seen := map[string]bool{}
	for _, entry := range entries {
		code := strings.TrimSpace(entry.FeatureCode)
		if code == "" || seen[code] || !entry.CreditAmount.IsPositive() {
			return nil, domain.ErrInvalidCreditSchema
		}
		metered, err := s.repo.FindByCode(ctx, s.db, scope.OrgID, scope.Env, code)
		if err != nil {
			return nil, err
		}
		if metered == nil || metered.Type != domain.FeatureTypeMetered {
			return nil, domain.ErrInvalidCreditSchema
		}
		seen[code] = true
		out = append(out, domain.CreditCost{FeatureCode: code, CreditAmount: entry.CreditAmount})
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id string) (*domain.Feature, error) {
	scope, ok := orgcontext.ScopeFromContext(ctx)
	if !ok {
		return nil, domain.ErrInvalidOrganization
	}

	featureID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || featureID == 0 {
		return nil, domain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, s.db, scope.OrgID, scope.Env, featureID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *Service) toResponse(f *domain.Feature) domain.Response {
	resp := domain.Response{
		ID:             f.ID.String(),
		OrganizationID: f.OrgID.String(),
		Env:            f.Env,
		Code:           f.Code,
		Name:           f.Name,
		Description:    f.Description,
		FeatureType:    f.Type,
		EventNames:     []string(f.EventNames),
		Active:         f.Active,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
	if resp.EventNames == nil {
		resp.EventNames = []string{}
	}
	if len(f.CreditSchema) > 0 {
		resp.CreditSchema = []domain.CreditCost(f.CreditSchema)
	}
	if len(f.Metadata) > 0 {
		resp.Metadata = map[string]any(f.Metadata)
	}
	return resp
}

func normalizeFeatureType(value domain.FeatureType) (domain.FeatureType, error) {
	switch strings.ToLower(strings.TrimSpace(string(value))) {
	case string(domain.FeatureTypeBoolean):
		return domain.FeatureTypeBoolean, nil
	case string(domain.FeatureTypeMetered), "single_use":
		return domain.FeatureTypeMetered, nil
	case string(domain.FeatureTypeContinuousUse), "allocated":
		return domain.FeatureTypeContinuousUse, nil
	case string(domain.FeatureTypeCreditSystem):
		return domain.FeatureTypeCreditSystem, nil
	default:
		return "", domain.ErrInvalidType
	}
}

func normalizeEventNames(names []string) datatypes.JSONSlice[string] {
	out := lo.Uniq(lo.FilterMap(names, func(name string, _ int) (string, bool) {
		name = strings.TrimSpace(name)
		return name, name != ""
	}))
	return datatypes.JSONSlice[string](out)
}

func ptrToString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
