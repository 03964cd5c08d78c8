package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Unit describes what a feature counts. The engine treats every unit as a
// plain decimal amount.
type Unit string

const (
	UnitMinute  Unit = "minute"
	UnitGeneral Unit = "unit"
	UnitAccess  Unit = "access"
	UnitRequest Unit = "request"
	UnitStorage Unit = "storage"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitMinute, UnitGeneral, UnitAccess, UnitRequest, UnitStorage:
		return true
	default:
		return false
	}
}

type Plan struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null;uniqueIndex:ux_plans_name" json:"name"`
	Active    bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

type Feature struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name        string            `gorm:"type:text;not null;uniqueIndex:ux_features_name" json:"name"`
	Unit        Unit              `gorm:"type:text;not null" json:"unit"`
	Description *string           `gorm:"type:text" json:"description,omitempty"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Feature) TableName() string { return "features" }

// PlanFeature caps a feature for a plan. A plan without a row for a feature
// grants it without limit.
type PlanFeature struct {
	ID        snowflake.ID    `gorm:"primaryKey" json:"id"`
	PlanID    snowflake.ID    `gorm:"not null;uniqueIndex:ux_plan_features_plan_feature,priority:1" json:"plan_id"`
	FeatureID snowflake.ID    `gorm:"not null;uniqueIndex:ux_plan_features_plan_feature,priority:2" json:"feature_id"`
	Limit     decimal.Decimal `gorm:"column:usage_limit;type:numeric(20,6);not null" json:"limit"`
	CreatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (PlanFeature) TableName() string { return "plan_features" }
