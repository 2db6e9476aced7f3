package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Customer struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID      `gorm:"not null;uniqueIndex:ux_customers_org_env_external,priority:1" json:"organization_id"`
	Env        string            `gorm:"type:text;not null;default:live;uniqueIndex:ux_customers_org_env_external,priority:2" json:"env"`
	ExternalID string            `gorm:"type:text;not null;uniqueIndex:ux_customers_org_env_external,priority:3" json:"external_id"`
	Name       string            `gorm:"not null;default:''" json:"name"`
	Email      string            `gorm:"not null;default:''" json:"email"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }

// Entity is a sub-scope of a customer such as a seat or a workspace.
type Entity struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID `gorm:"not null" json:"organization_id"`
	Env        string       `gorm:"type:text;not null;default:live" json:"env"`
	CustomerID snowflake.ID `gorm:"not null;uniqueIndex:ux_entities_customer_external,priority:1" json:"customer_id"`
	ExternalID string       `gorm:"type:text;not null;uniqueIndex:ux_entities_customer_external,priority:2" json:"external_id"`
	Name       string       `gorm:"not null;default:''" json:"name"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Entity) TableName() string { return "entities" }
