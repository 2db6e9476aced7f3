package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type FeatureType string

const (
	FeatureTypeBoolean FeatureType = "boolean"
	FeatureTypeMetered FeatureType = "metered"
	// FeatureTypeContinuousUse is an allocated feature (seats, workspaces).
	// Its balance never goes below zero; overage is tracked as purchased.
	FeatureTypeContinuousUse FeatureType = "continuous_use"
	// FeatureTypeCreditSystem is a pool of credits that metered features draw
	// from at a fixed price per unit.
	FeatureTypeCreditSystem FeatureType = "credit_system"
)

// CreditCost prices one unit of a metered feature in credits.
type CreditCost struct {
	FeatureCode  string          `json:"metered_feature_id"`
	CreditAmount decimal.Decimal `json:"credit_amount"`
}

type Feature struct {
	ID    snowflake.ID `gorm:"primaryKey"`
	OrgID snowflake.ID `gorm:"column:org_id;not null;uniqueIndex:ux_features_org_env_code,priority:1"`
	Env   string       `gorm:"type:text;not null;default:live;uniqueIndex:ux_features_org_env_code,priority:2"`
	Code  string       `gorm:"type:text;not null;uniqueIndex:ux_features_org_env_code,priority:3"`

	Name         string                          `gorm:"type:text;not null"`
	Description  *string                         `gorm:"type:text"`
	Type         FeatureType                     `gorm:"column:feature_type;type:text;not null"`
	EventNames   datatypes.JSONSlice[string]     `gorm:"column:event_names;type:jsonb"`
	CreditSchema datatypes.JSONSlice[CreditCost] `gorm:"column:credit_schema;type:jsonb"`
	Active       bool                            `gorm:"not null;default:true"`
	Metadata     datatypes.JSONMap               `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Feature) TableName() string { return "features" }

// Allocated reports whether usage is held rather than consumed.
func (f Feature) Allocated() bool { return f.Type == FeatureTypeContinuousUse }

// Trackable reports whether usage can be deducted against the feature.
func (f Feature) Trackable() bool { return f.Type != FeatureTypeBoolean }

// CostOf returns the credits one unit of a metered feature draws from this
// credit system.
func (f Feature) CostOf(code string) (decimal.Decimal, bool) {
	if f.Type != FeatureTypeCreditSystem {
		return decimal.Zero, false
	}
	for _, cost := range f.CreditSchema {
		if cost.FeatureCode == code {
			return cost.CreditAmount, true
		}
	}
	return decimal.Zero, false
}

// MatchesEvent reports whether an event name resolves to this feature.
func (f Feature) MatchesEvent(name string) bool {
	for _, event := range f.EventNames {
		if event == name {
			return true
		}
	}
	return false
}
