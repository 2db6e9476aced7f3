package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/autumn/internal/customer/domain"
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
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("customer.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateCustomerRequest) (domain.Customer, error) {
	scope, ok := orgcontext.ScopeFromContext(ctx)
	if !ok {
		return domain.Customer{}, domain.ErrInvalidOrganization
	}

	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return domain.Customer{}, domain.ErrInvalidID
	}

	email := strings.TrimSpace(req.Email)
	if email != "" && !strings.Contains(email, "@") {
		return domain.Customer{}, domain.ErrInvalidEmail
	}

	now := time.Now().UTC()
	customer := domain.Customer{
		ID:         s.genID.Generate(),
		OrgID:      scope.OrgID,
		Env:        scope.Env,
		ExternalID: externalID,
		Name:       strings.TrimSpace(req.Name),
		Email:      email,
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Metadata != nil {
		customer.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Insert(ctx, s.db, &customer); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Customer{}, domain.ErrAlreadyExists
		}
		return domain.Customer{}, err
	}

	return customer, nil
}

func (s *Service) List(ctx context.Context, req domain.ListCustomerRequest) (domain.ListCustomerResponse, error) {
	scope, ok := orgcontext.ScopeFromContext(ctx)
	if !ok {
		return domain.ListCustomerResponse{}, domain.ErrInvalidOrganization
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, scope.OrgID, scope.Env, domain.ListCustomerFilter{
		Limit:       int(pageSize),
		Name:        strings.TrimSpace(req.Name),
		Email:       strings.TrimSpace(req.Email),
		CreatedFrom: req.CreatedFrom,
		CreatedTo:   req.CreatedTo,
	})
	if err != nil {
		return domain.ListCustomerResponse{}, err
	}

	customers := make([]domain.Customer, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		customers = append(customers, *item)
	}

	return domain.ListCustomerResponse{Customers: customers}, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetCustomerRequest) (domain.Customer, error) {
	scope, ok := orgcontext.ScopeFromContext(ctx)
	if !ok {
		return domain.Customer{}, domain.ErrInvalidOrganization
	}

	item, err := s.Resolve(ctx, scope, req.ID)
	if err != nil {
		return domain.Customer{}, err
	}
	return *item, nil
}

func (s *Service) CreateEntity(ctx context.Context, req domain.CreateEntityRequest) (domain.Entity, error) {
	scope, ok := orgcontext.ScopeFromContext(ctx)
	if !ok {
		return domain.Entity{}, domain.ErrInvalidOrganization
	}

	customer, err := s.Resolve(ctx, scope, req.CustomerID)
	if err != nil {
		return domain.Entity{}, err
	}

	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return domain.Entity{}, domain.ErrInvalidID
	}

	now := time.Now().UTC()
	entity := domain.Entity{
		ID:         s.genID.Generate(),
		OrgID:      customer.OrgID,
		Env:        customer.Env,
		CustomerID: customer.ID,
		ExternalID: externalID,
		Name:       strings.TrimSpace(req.Name),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.InsertEntity(ctx, s.db, &entity); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Entity{}, domain.ErrEntityExists
		}
		return domain.Entity{}, err
	}

	s.log.Debug("entity created",
		zap.String("customer_id", customer.ExternalID),
		zap.String("entity_id", externalID),
	)
	return entity, nil
}

func (s *Service) Resolve(ctx context.Context, scope orgcontext.Scope, customerID string) (*domain.Customer, error) {
	if !scope.Valid() {
		return nil, domain.ErrInvalidOrganization
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, domain.ErrInvalidID
	}

	item, err := s.repo.FindByExternalID(ctx, s.db, scope.OrgID, scope.Env, customerID)
	if err != nil {
		return nil, err
	}
	if item != nil {
		return item, nil
	}

	if id, err := snowflake.ParseString(customerID); err == nil && id != 0 {
		item, err = s.repo.FindByID(ctx, s.db, scope.OrgID, scope.Env, id)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Service) ResolveEntity(ctx context.Context, customer *domain.Customer, entityID string) (*domain.Entity, error) {
	if customer == nil {
		return nil, domain.ErrNotFound
	}
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, domain.ErrInvalidID
	}

	entity, err := s.repo.FindEntity(ctx, s.db, customer.ID, entityID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, domain.ErrEntityNotFound
	}
	return entity, nil
}
