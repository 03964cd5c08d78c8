package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/allowance/internal/catalog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CreatePlan(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (id, name, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Name,
		plan.Active,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, active, created_at, updated_at FROM plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) CreateFeature(ctx context.Context, db *gorm.DB, feature *domain.Feature) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO features (id, name, unit, description, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		feature.ID,
		feature.Name,
		feature.Unit,
		feature.Description,
		feature.Metadata,
		feature.CreatedAt,
		feature.UpdatedAt,
	).Error
}

func (r *repo) FindFeatureByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Feature, error) {
	return r.findFeature(ctx, db, "id = ?", id)
}

func (r *repo) FindFeatureByName(ctx context.Context, db *gorm.DB, name string) (*domain.Feature, error) {
	return r.findFeature(ctx, db, "name = ?", name)
}

func (r *repo) findFeature(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Feature, error) {
	var f domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, unit, description, metadata, created_at, updated_at
		 FROM features WHERE `+where,
		arg,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

func (r *repo) ListFeaturesByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Feature, error) {
	if len(ids) == 0 {
		return []domain.Feature{}, nil
	}
	var items []domain.Feature
	if err := db.WithContext(ctx).
		Model(&domain.Feature{}).
		Where("id IN ?", ids).
		Order("name ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// UpsertPlanFeature replaces the limit of an existing (plan, feature) row and
// keeps its id.
func (r *repo) UpsertPlanFeature(ctx context.Context, db *gorm.DB, pf *domain.PlanFeature) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plan_id"}, {Name: "feature_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"usage_limit", "updated_at"}),
		}).
		Create(pf).Error
}

func (r *repo) FindPlanFeature(ctx context.Context, db *gorm.DB, planID, featureID snowflake.ID) (*domain.PlanFeature, error) {
	var pf domain.PlanFeature
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan_id, feature_id, usage_limit, created_at, updated_at
		 FROM plan_features WHERE plan_id = ? AND feature_id = ?`,
		planID,
		featureID,
	).Scan(&pf).Error
	if err != nil {
		return nil, err
	}
	if pf.ID == 0 {
		return nil, nil
	}
	return &pf, nil
}

func (r *repo) ListPlanFeatures(ctx context.Context, db *gorm.DB, planID snowflake.ID) ([]domain.PlanFeature, error) {
	var items []domain.PlanFeature
	if err := db.WithContext(ctx).
		Model(&domain.PlanFeature{}).
		Where("plan_id = ?", planID).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
