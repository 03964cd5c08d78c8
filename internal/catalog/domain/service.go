package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Service interface {
	CreatePlan(ctx context.Context, req CreatePlanRequest) (*Plan, error)
	CreateFeature(ctx context.Context, req CreateFeatureRequest) (*Feature, error)
	SetPlanFeatureLimit(ctx context.Context, req SetPlanFeatureLimitRequest) (*PlanFeature, error)

	GetPlan(ctx context.Context, id snowflake.ID) (*Plan, error)

	GetFeatureByID(ctx context.Context, id snowflake.ID) (*Feature, error)
	GetFeatureByName(ctx context.Context, name string) (*Feature, error)
	ListFeaturesByIDs(ctx context.Context, ids []snowflake.ID) ([]Feature, error)
	// GetLimit returns nil when the plan does not cap the feature.
	GetLimit(ctx context.Context, planID, featureID snowflake.ID) (*decimal.Decimal, error)
	ListPlanFeatures(ctx context.Context, planID snowflake.ID) ([]PlanFeature, error)
}

type CreatePlanRequest struct {
	Name   string `json:"name"`
	Active *bool  `json:"active"`
}

type CreateFeatureRequest struct {
	Name        string         `json:"name"`
	Unit        Unit           `json:"unit"`
	Description *string        `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

type SetPlanFeatureLimitRequest struct {
	PlanID      string          `json:"plan_id"`
	FeatureName string          `json:"feature"`
	Limit       decimal.Decimal `json:"limit"`
}

var (
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidUnit     = errors.New("invalid_unit")
	ErrInvalidLimit    = errors.New("invalid_limit")
	ErrInvalidPlanID   = errors.New("invalid_plan_id")
	ErrPlanNotFound    = errors.New("plan_not_found")
	ErrFeatureNotFound = errors.New("feature_not_found")
	ErrAlreadyExists   = errors.New("already_exists")
)
