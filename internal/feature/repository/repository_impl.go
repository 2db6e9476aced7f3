package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/autumn/internal/feature/domain"
	"gorm.io/gorm"
)

const featureColumns = `id, org_id, env, code, name, description, feature_type, event_names, credit_schema, active, metadata, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO features (`+featureColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feature.ID,
		feature.OrgID,
		feature.Env,
		feature.Code,
		feature.Name,
		feature.Description,
		feature.Type,
		feature.EventNames,
		feature.CreditSchema,
		feature.Active,
		feature.Metadata,
		feature.CreatedAt,
		feature.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, env string, id snowflake.ID) (*domain.Feature, error) {
	var f domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT `+featureColumns+` FROM features WHERE org_id = ? AND env = ? AND id = ?`,
		orgID,
		env,
		id,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, orgID snowflake.ID, env, code string) (*domain.Feature, error) {
	var f domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT `+featureColumns+` FROM features WHERE org_id = ? AND env = ? AND code = ?`,
		orgID,
		env,
		code,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

var sortable = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
	"code":       true,
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, env string, filter domain.ListRequest) ([]domain.Feature, error) {
	var items []domain.Feature
	stmt := db.WithContext(ctx).
		Model(&domain.Feature{}).
		Where("org_id = ? AND env = ?", orgID, env)

	if filter.Name != "" {
		stmt = stmt.Where("name = ?", filter.Name)
	}
	if filter.Code != "" {
		stmt = stmt.Where("code = ?", filter.Code)
	}
	if filter.FeatureType != nil {
		stmt = stmt.Where("feature_type = ?", *filter.FeatureType)
	}
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}

	sortBy := strings.ToLower(filter.SortBy)
	if !sortable[sortBy] {
		sortBy = "created_at"
	}
	direction := "asc"
	if strings.EqualFold(filter.OrderBy, "desc") {
		direction = "desc"
	}
	stmt = stmt.Order(sortBy + " " + direction).Order("id asc")

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) ([]domain.Feature, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT `+featureColumns+` FROM features WHERE org_id = ? AND id IN ?`,
		orgID,
		ids,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	if feature == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE features
		 SET name = ?, description = ?, feature_type = ?, event_names = ?, credit_schema = ?, active = ?, metadata = ?, updated_at = ?
		 WHERE org_id = ? AND env = ? AND id = ?`,
		feature.Name,
		feature.Description,
		feature.Type,
		feature.EventNames,
		feature.CreditSchema,
		feature.Active,
		feature.Metadata,
		feature.UpdatedAt,
		feature.OrgID,
		feature.Env,
		feature.ID,
	).Error
}

func (r *repo) CountGrants(ctx context.Context, db *gorm.DB, featureID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM customer_grants WHERE feature_id = ?`,
		featureID,
	).Scan(&count).Error
	return count, err
}
