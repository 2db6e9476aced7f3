package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, env string, id snowflake.ID) (*Customer, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, env, externalID string) (*Customer, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, env string, filter ListCustomerFilter) ([]*Customer, error)

	InsertEntity(ctx context.Context, db *gorm.DB, entity *Entity) error
	FindEntity(ctx context.Context, db *gorm.DB, customerID snowflake.ID, externalID string) (*Entity, error)
	ListEntities(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]Entity, error)
}
