package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	CreatePlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)

	CreateFeature(ctx context.Context, db *gorm.DB, feature *Feature) error
	FindFeatureByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Feature, error)
	FindFeatureByName(ctx context.Context, db *gorm.DB, name string) (*Feature, error)
	ListFeaturesByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Feature, error)

	UpsertPlanFeature(ctx context.Context, db *gorm.DB, pf *PlanFeature) error
	FindPlanFeature(ctx context.Context, db *gorm.DB, planID, featureID snowflake.ID) (*PlanFeature, error)
	ListPlanFeatures(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]PlanFeature, error)
}
