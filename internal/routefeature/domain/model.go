package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// MethodAny matches every HTTP method of an operation without an exact mapping.
const MethodAny = "*"

// Mapping ties an operation (optionally one HTTP method of it) to the feature
// it consumes.
type Mapping struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OperationID string       `gorm:"type:text;not null;uniqueIndex:ux_route_feature_operation_method,priority:1"`
	Method      string       `gorm:"type:text;not null;uniqueIndex:ux_route_feature_operation_method,priority:2"`
	FeatureID   snowflake.ID `gorm:"not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Mapping) TableName() string { return "route_feature_mappings" }

type Response struct {
	ID          string    `json:"id"`
	Operation   string    `json:"operation"`
	Namespace   string    `json:"namespace"`
	Method      string    `json:"method"`
	FeatureID   string    `json:"feature_id"`
	FeatureName string    `json:"feature"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
