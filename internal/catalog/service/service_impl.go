package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/allowance/internal/catalog/domain"
	"github.com/smallbiznis/allowance/internal/quantity"
	"github.com/smallbiznis/allowance/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("catalog.service"),
		repo:  p.Repo,
		genID: p.GenID,
	}
}

func (s *Service) CreatePlan(ctx context.Context, req domain.CreatePlanRequest) (*domain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := time.Now().UTC()
	plan := &domain.Plan{
		ID:        s.genID.Generate(),
		Name:      name,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreatePlan(ctx, s.db, plan); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, err
	}

	s.log.Info("plan created", zap.String("plan_id", plan.ID.String()), zap.String("name", name))
	return plan, nil
}

func (s *Service) CreateFeature(ctx context.Context, req domain.CreateFeatureRequest) (*domain.Feature, error) {
	name := normalizeFeatureName(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	unit := domain.Unit(strings.ToLower(strings.TrimSpace(string(req.Unit))))
	if !unit.Valid() {
		return nil, domain.ErrInvalidUnit
	}

	var description *string
	if req.Description != nil {
		if trimmed := strings.TrimSpace(*req.Description); trimmed != "" {
			description = &trimmed
		}
	}

	now := time.Now().UTC()
	feature := &domain.Feature{
		ID:          s.genID.Generate(),
		Name:        name,
		Unit:        unit,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(req.Metadata) > 0 {
		feature.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.CreateFeature(ctx, s.db, feature); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, err
	}

	s.log.Info("feature created", zap.String("feature_id", feature.ID.String()), zap.String("name", name))
	return feature, nil
}

func (s *Service) SetPlanFeatureLimit(ctx context.Context, req domain.SetPlanFeatureLimitRequest) (*domain.PlanFeature, error) {
	planID, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
	if err != nil || planID == 0 {
		return nil, domain.ErrInvalidPlanID
	}
	if !quantity.Fits(req.Limit) {
		return nil, domain.ErrInvalidLimit
	}

	plan, err := s.repo.FindPlanByID(ctx, s.db, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	feature, err := s.GetFeatureByName(ctx, req.FeatureName)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pf := &domain.PlanFeature{
		ID:        s.genID.Generate(),
		PlanID:    plan.ID,
		FeatureID: feature.ID,
		Limit:     req.Limit,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.UpsertPlanFeature(ctx, s.db, pf); err != nil {
		return nil, err
	}

	stored, err := s.repo.FindPlanFeature(ctx, s.db, plan.ID, feature.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, domain.ErrFeatureNotFound
	}

	s.log.Info("plan feature limit set",
		zap.String("plan_id", plan.ID.String()),
		zap.String("feature", feature.Name),
		zap.String("limit", stored.Limit.String()),
	)
	return stored, nil
}

func (s *Service) GetPlan(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	if id == 0 {
		return nil, domain.ErrInvalidPlanID
	}
	plan, err := s.repo.FindPlanByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, domain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) GetFeatureByID(ctx context.Context, id snowflake.ID) (*domain.Feature, error) {
	if id == 0 {
		return nil, domain.ErrFeatureNotFound
	}
	feature, err := s.repo.FindFeatureByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, domain.ErrFeatureNotFound
	}
	return feature, nil
}

func (s *Service) GetFeatureByName(ctx context.Context, name string) (*domain.Feature, error) {
	name = normalizeFeatureName(name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	feature, err := s.repo.FindFeatureByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, domain.ErrFeatureNotFound
	}
	return feature, nil
}

func (s *Service) ListFeaturesByIDs(ctx context.Context, ids []snowflake.ID) ([]domain.Feature, error) {
	return s.repo.ListFeaturesByIDs(ctx, s.db, ids)
}

func (s *Service) GetLimit(ctx context.Context, planID, featureID snowflake.ID) (*decimal.Decimal, error) {
	pf, err := s.repo.FindPlanFeature(ctx, s.db, planID, featureID)
	if err != nil {
		return nil, err
	}
	if pf == nil {
		return nil, nil
	}
	limit := pf.Limit
	return &limit, nil
}

func (s *Service) ListPlanFeatures(ctx context.Context, planID snowflake.ID) ([]domain.PlanFeature, error) {
	return s.repo.ListPlanFeatures(ctx, s.db, planID)
}

func normalizeFeatureName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
