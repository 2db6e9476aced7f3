package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/autumn/internal/customer/domain"
	"gorm.io/gorm"
)

const customerColumns = `id, org_id, env, external_id, name, email, metadata, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (`+customerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.OrgID,
		customer.Env,
		customer.ExternalID,
		customer.Name,
		customer.Email,
		customer.Metadata,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, env string, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+` FROM customers WHERE org_id = ? AND env = ? AND id = ?`,
		orgID,
		env,
		id,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, env, externalID string) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+` FROM customers WHERE org_id = ? AND env = ? AND external_id = ?`,
		orgID,
		env,
		externalID,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, env string, filter domain.ListCustomerFilter) ([]*domain.Customer, error) {
	var customers []*domain.Customer
	stmt := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("org_id = ? AND env = ?", orgID, env)
	if filter.Name != "" {
		stmt = stmt.Where("name = ?", filter.Name)
	}
	if filter.Email != "" {
		stmt = stmt.Where("email = ?", filter.Email)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", *filter.CreatedTo)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	err := stmt.
		Order("created_at desc, id desc").
		Find(&customers).Error
	if err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *repo) InsertEntity(ctx context.Context, db *gorm.DB, entity *domain.Entity) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO entities (id, org_id, env, customer_id, external_id, name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entity.ID,
		entity.OrgID,
		entity.Env,
		entity.CustomerID,
		entity.ExternalID,
		entity.Name,
		entity.CreatedAt,
		entity.UpdatedAt,
	).Error
}

func (r *repo) FindEntity(ctx context.Context, db *gorm.DB, customerID snowflake.ID, externalID string) (*domain.Entity, error) {
	var entity domain.Entity
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, env, customer_id, external_id, name, created_at, updated_at
		 FROM entities WHERE customer_id = ? AND external_id = ?`,
		customerID,
		externalID,
	).Scan(&entity).Error
	if err != nil {
		return nil, err
	}
	if entity.ID == 0 {
		return nil, nil
	}
	return &entity, nil
}

func (r *repo) ListEntities(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]domain.Entity, error) {
	var entities []domain.Entity
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, env, customer_id, external_id, name, created_at, updated_at
		 FROM entities WHERE customer_id = ? ORDER BY created_at ASC, id ASC`,
		customerID,
	).Scan(&entities).Error
	if err != nil {
		return nil, err
	}
	return entities, nil
}
