package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
	"github.com/smallbiznis/allowance/internal/clock"
	"github.com/smallbiznis/allowance/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	CatalogSvc catalogdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository

	catalogsvc catalogdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		catalogsvc: p.CatalogSvc,
	}
}

// Create activates a subscription for the workspace. Any previously active
// subscription is deactivated in the same transaction.
func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Subscription, error) {
	workspaceID, err := parseID(req.WorkspaceID, domain.ErrInvalidWorkspace)
	if err != nil {
		return nil, err
	}
	planID, err := parseID(req.PlanID, domain.ErrInvalidPlan)
	if err != nil {
		return nil, err
	}
	if _, err := s.catalogsvc.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	startedAt := now
	if req.StartedAt != nil && !req.StartedAt.IsZero() {
		startedAt = req.StartedAt.UTC()
	}
	var endsAt *time.Time
	if req.EndsAt != nil {
		end := req.EndsAt.UTC()
		if !end.After(startedAt) {
			return nil, domain.ErrInvalidPeriod
		}
		endsAt = &end
	}

	sub := &domain.Subscription{
		ID:          s.genID.Generate(),
		WorkspaceID: workspaceID,
		PlanID:      planID,
		StartedAt:   startedAt,
		EndsAt:      endsAt,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var replaced int64
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.repo.DeactivateByWorkspace(ctx, tx, workspaceID, now)
		if err != nil {
			return err
		}
		replaced = n
		return s.repo.Insert(ctx, tx, sub)
	}); err != nil {
		return nil, err
	}

	s.log.Info("subscription activated",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("workspace_id", workspaceID.String()),
		zap.String("plan_id", planID.String()),
		zap.Time("started_at", startedAt),
		zap.Int64("replaced", replaced),
	)
	return sub, nil
}

func (s *Service) Deactivate(ctx context.Context, id string) (*domain.Subscription, error) {
	subID, err := parseID(id, domain.ErrInvalidSubscription)
	if err != nil {
		return nil, err
	}

	sub, err := s.repo.FindByID(ctx, s.db, subID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrNotFound
	}
	if !sub.IsActive {
		return sub, nil
	}

	now := s.clock.Now().UTC()
	if err := s.repo.Deactivate(ctx, s.db, subID, now); err != nil {
		return nil, err
	}

	s.log.Info("subscription deactivated",
		zap.String("subscription_id", subID.String()),
		zap.String("workspace_id", sub.WorkspaceID.String()),
	)
	return s.repo.FindByID(ctx, s.db, subID)
}

func (s *Service) GetActive(ctx context.Context, workspaceID snowflake.ID) (*domain.Subscription, error) {
	if workspaceID == 0 {
		return nil, domain.ErrInvalidWorkspace
	}
	return s.repo.FindActiveByWorkspace(ctx, s.db, workspaceID, s.clock.Now().UTC())
}

func parseID(value string, invalidErr error) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, invalidErr
	}
	id, err := snowflake.ParseString(trimmed)
	if err != nil || id <= 0 {
		return 0, invalidErr
	}
	return id, nil
}
