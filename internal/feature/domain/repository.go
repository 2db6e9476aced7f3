package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, db *gorm.DB, feature *Feature) error
	FindByID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, env string, id snowflake.ID) (*Feature, error)
	FindByCode(ctx context.Context, db *gorm.DB, orgID snowflake.ID, env, code string) (*Feature, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, env string, filter ListRequest) ([]Feature, error)
	ListByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]Feature, error)
	Update(ctx context.Context, db *gorm.DB, feature *Feature) error
	CountGrants(ctx context.Context, db *gorm.DB, featureID snowflake.ID) (int64, error)
}
