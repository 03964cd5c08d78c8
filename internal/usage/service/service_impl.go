package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/allowance/internal/billingcycle"
	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
	"github.com/smallbiznis/allowance/internal/clock"
	"github.com/smallbiznis/allowance/internal/config"
	obslogger "github.com/smallbiznis/allowance/internal/observability/logger"
	"github.com/smallbiznis/allowance/internal/observability/metrics"
	"github.com/smallbiznis/allowance/internal/quantity"
	routefeaturedomain "github.com/smallbiznis/allowance/internal/routefeature/domain"
	subscriptiondomain "github.com/smallbiznis/allowance/internal/subscription/domain"
	"github.com/smallbiznis/allowance/internal/usage/domain"
	"github.com/smallbiznis/allowance/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            domain.Repository
	Resolver        routefeaturedomain.Resolver
	SubscriptionSvc subscriptiondomain.Service
	CatalogSvc      catalogdomain.Service
	EnforcementCfg  *config.EnforcementConfigHolder
	Metrics         *metrics.Metrics `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository

	resolver   routefeaturedomain.Resolver
	subsvc     subscriptiondomain.Service
	catalogsvc catalogdomain.Service
	cfg        *config.EnforcementConfigHolder
	metrics    *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("usage.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		resolver:   p.Resolver,
		subsvc:     p.SubscriptionSvc,
		catalogsvc: p.CatalogSvc,
		cfg:        p.EnforcementCfg,
		metrics:    p.Metrics,
	}
}

func (s *Service) EnforceAndRecord(ctx context.Context, req domain.EnforceRequest) (*domain.EnforceResult, error) {
	started := time.Now()

	if !quantity.Fits(req.Amount) {
		return nil, domain.ErrInvalidAmount
	}
	if err := req.Operation.Validate(); err != nil {
		return nil, err
	}
	if req.WorkspaceID <= 0 {
		return nil, domain.ErrInvalidWorkspace
	}

	log := obslogger.ForEnforcement(ctx, s.log, req.WorkspaceID.String(), req.Operation.String(), req.Method)

	feature, err := s.resolver.Resolve(ctx, req.Operation, req.Method)
	if err != nil {
		s.metrics.RecordEnforcement(ctx, "", metrics.OutcomeError, time.Since(started))
		return nil, err
	}
	if feature == nil {
		s.metrics.RecordEnforcement(ctx, "", metrics.OutcomeUnmetered, time.Since(started))
		return &domain.EnforceResult{Metered: false}, nil
	}

	sub, err := s.subsvc.GetActive(ctx, req.WorkspaceID)
	if err != nil {
		s.metrics.RecordEnforcement(ctx, feature.Name, metrics.OutcomeError, time.Since(started))
		return nil, err
	}
	if sub == nil {
		cfgErr := &domain.ConfigurationError{WorkspaceID: req.WorkspaceID, Feature: feature.Name}
		s.metrics.RecordEnforcement(ctx, feature.Name, metrics.OutcomeNoSubscription, time.Since(started))
		if s.cfg.Get().FailOpen() {
			log.Error("metering skipped for workspace without active subscription",
				obslogger.Feature(feature.Name),
				zap.String("policy", string(config.PolicyFailOpen)),
			)
			return &domain.EnforceResult{Metered: false, Feature: feature.Name}, nil
		}
		return nil, cfgErr
	}

	period, err := billingcycle.WindowFor(*sub, s.clock.Now())
	if err != nil {
		s.metrics.RecordEnforcement(ctx, feature.Name, metrics.OutcomeError, time.Since(started))
		return nil, err
	}
	container, err := s.ensureContainer(ctx, sub, period)
	if err != nil {
		s.metrics.RecordEnforcement(ctx, feature.Name, metrics.OutcomeError, time.Since(started))
		return nil, err
	}
	counter, err := s.ensureCounter(ctx, container.ID, feature.ID)
	if err != nil {
		s.metrics.RecordEnforcement(ctx, feature.Name, metrics.OutcomeError, time.Since(started))
		return nil, err
	}
	limit, err := s.catalogsvc.GetLimit(ctx, sub.PlanID, feature.ID)
	if err != nil {
		s.metrics.RecordEnforcement(ctx, feature.Name, metrics.OutcomeError, time.Since(started))
		return nil, err
	}

	result := &domain.EnforceResult{
		Metered:     true,
		Feature:     feature.Name,
		Used:        counter.Used,
		Limit:       limit,
		ExtraCredit: container.ExtraCredit,
		Unlimited:   limit == nil,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
	}

	if req.Amount.IsZero() {
		result.Remaining = domain.Remaining(limit, result.Used)
		s.metrics.RecordEnforcement(ctx, feature.Name, metrics.OutcomeAllowed, time.Since(started))
		return result, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.LockCounter(ctx, tx, counter.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return fmt.Errorf("usage counter %s disappeared", counter.ID)
		}
		current, err := s.repo.GetContainer(ctx, tx, container.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("usage container %s disappeared", container.ID)
		}

		projected := locked.Used.Add(req.Amount)
		if !quantity.Fits(projected) {
			return domain.ErrCounterOverflow
		}
		if limit != nil && projected.GreaterThan(limit.Add(current.ExtraCredit)) {
			return &domain.QuotaExceededError{
				Feature:     feature.Name,
				Used:        locked.Used,
				Requested:   req.Amount,
				Limit:       *limit,
				ExtraCredit: current.ExtraCredit,
			}
		}
		if err := s.repo.UpdateCounterUsed(ctx, tx, locked.ID, projected, s.clock.Now().UTC()); err != nil {
			return err
		}
		result.Used = projected
		result.ExtraCredit = current.ExtraCredit
		return nil
	})
	if err != nil {
		var quotaErr *domain.QuotaExceededError
		if errors.As(err, &quotaErr) {
			s.metrics.RecordEnforcement(ctx, feature.Name, metrics.OutcomeDenied, time.Since(started))
			log.Info("quota exceeded",
				obslogger.Feature(feature.Name),
				zap.String("used", quotaErr.Used.String()),
				zap.String("requested", quotaErr.Requested.String()),
				zap.String("limit", quotaErr.Limit.String()),
			)
			return nil, quotaErr
		}
		if db.IsLockContention(err) {
			log.Warn("usage counter lock contention", obslogger.Feature(feature.Name), zap.Error(err))
		}
		s.metrics.RecordEnforcement(ctx, feature.Name, metrics.OutcomeError, time.Since(started))
		return nil, err
	}

	result.Remaining = domain.Remaining(limit, result.Used)
	s.metrics.RecordEnforcement(ctx, feature.Name, metrics.OutcomeAllowed, time.Since(started))
	log.Debug("usage recorded",
		obslogger.Feature(feature.Name),
		zap.String("amount", req.Amount.String()),
		zap.String("used", result.Used.String()),
		zap.Bool("unlimited", result.Unlimited),
	)
	return result, nil
}

func (s *Service) GetFeatureUsageStatus(ctx context.Context, workspaceID snowflake.ID, featureName string) (*domain.FeatureUsageStatus, error) {
	if workspaceID <= 0 {
		return nil, domain.ErrInvalidWorkspace
	}
	feature, err := s.catalogsvc.GetFeatureByName(ctx, featureName)
	if err != nil {
		return nil, err
	}
	sub, period, container, err := s.currentContainer(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	counter, err := s.ensureCounter(ctx, container.ID, feature.ID)
	if err != nil {
		return nil, err
	}
	limit, err := s.catalogsvc.GetLimit(ctx, sub.PlanID, feature.ID)
	if err != nil {
		return nil, err
	}
	status := buildStatus(feature, counter.Used, limit, container.ExtraCredit, period)
	return &status, nil
}

func (s *Service) ListUsageStatus(ctx context.Context, workspaceID snowflake.ID) (*domain.UsageSummary, error) {
	if workspaceID <= 0 {
		return nil, domain.ErrInvalidWorkspace
	}
	sub, period, container, err := s.currentContainer(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	planFeatures, err := s.catalogsvc.ListPlanFeatures(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	limits := make(map[snowflake.ID]decimal.Decimal, len(planFeatures))
	for _, pf := range planFeatures {
		limits[pf.FeatureID] = pf.Limit
		if _, err := s.ensureCounter(ctx, container.ID, pf.FeatureID); err != nil {
			return nil, err
		}
	}

	counters, err := s.repo.ListCounters(ctx, s.db, container.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(counters))
	for _, c := range counters {
		ids = append(ids, c.FeatureID)
	}
	features, err := s.catalogsvc.ListFeaturesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]*catalogdomain.Feature, len(features))
	for i := range features {
		byID[features[i].ID] = &features[i]
	}

	statuses := make([]domain.FeatureUsageStatus, 0, len(counters))
	for _, c := range counters {
		feature, ok := byID[c.FeatureID]
		if !ok {
			continue
		}
		var limit *decimal.Decimal
		if l, ok := limits[c.FeatureID]; ok {
			limit = &l
		}
		statuses = append(statuses, buildStatus(feature, c.Used, limit, container.ExtraCredit, period))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Feature < statuses[j].Feature })

	return &domain.UsageSummary{
		WorkspaceID:    workspaceID.String(),
		SubscriptionID: sub.ID.String(),
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		ExtraCredit:    container.ExtraCredit,
		Features:       statuses,
	}, nil
}

func (s *Service) AddExtraCredit(ctx context.Context, workspaceID snowflake.ID, amount decimal.Decimal) (*domain.ExtraCreditResult, error) {
	if !quantity.Fits(amount) {
		return nil, domain.ErrInvalidAmount
	}
	if workspaceID <= 0 {
		return nil, domain.ErrInvalidWorkspace
	}
	_, period, container, err := s.currentContainer(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	total := container.ExtraCredit
	if amount.IsPositive() {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			locked, err := s.repo.LockContainer(ctx, tx, container.ID)
			if err != nil {
				return err
			}
			if locked == nil {
				return fmt.Errorf("usage container %s disappeared", container.ID)
			}
			total = locked.ExtraCredit.Add(amount)
			if !quantity.Fits(total) {
				return domain.ErrCounterOverflow
			}
			return s.repo.UpdateExtraCredit(ctx, tx, locked.ID, total, s.clock.Now().UTC())
		})
		if err != nil {
			return nil, err
		}
		s.log.Info("extra credit added",
			obslogger.Workspace(workspaceID.String()),
			zap.String("amount", amount.String()),
			zap.String("extra_credit", total.String()),
			zap.Time("period_start", period.Start),
		)
	}

	return &domain.ExtraCreditResult{
		WorkspaceID: workspaceID.String(),
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		ExtraCredit: total,
	}, nil
}

// currentContainer resolves the active subscription and its current period
// container. Missing subscriptions are reported regardless of policy.
func (s *Service) currentContainer(ctx context.Context, workspaceID snowflake.ID) (*subscriptiondomain.Subscription, billingcycle.Period, *domain.UsageContainer, error) {
	sub, err := s.subsvc.GetActive(ctx, workspaceID)
	if err != nil {
		return nil, billingcycle.Period{}, nil, err
	}
	if sub == nil {
		return nil, billingcycle.Period{}, nil, &domain.ConfigurationError{WorkspaceID: workspaceID}
	}
	period, err := billingcycle.WindowFor(*sub, s.clock.Now())
	if err != nil {
		return nil, billingcycle.Period{}, nil, err
	}
	container, err := s.ensureContainer(ctx, sub, period)
	if err != nil {
		return nil, billingcycle.Period{}, nil, err
	}
	return sub, period, container, nil
}

func (s *Service) ensureContainer(ctx context.Context, sub *subscriptiondomain.Subscription, period billingcycle.Period) (*domain.UsageContainer, error) {
	existing, err := s.repo.FindContainer(ctx, s.db, sub.WorkspaceID, period.Start, period.End)
	if err != nil || existing != nil {
		return existing, err
	}

	now := s.clock.Now().UTC()
	candidate := &domain.UsageContainer{
		ID:             s.genID.Generate(),
		WorkspaceID:    sub.WorkspaceID,
		SubscriptionID: sub.ID,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		ExtraCredit:    decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.InsertContainer(ctx, s.db, candidate); err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	created, err := s.repo.FindContainer(ctx, s.db, sub.WorkspaceID, period.Start, period.End)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("usage container for workspace %s missing after insert", sub.WorkspaceID)
	}
	return created, nil
}

func (s *Service) ensureCounter(ctx context.Context, containerID, featureID snowflake.ID) (*domain.FeatureUsageCounter, error) {
	existing, err := s.repo.FindCounter(ctx, s.db, containerID, featureID)
	if err != nil || existing != nil {
		return existing, err
	}

	now := s.clock.Now().UTC()
	candidate := &domain.FeatureUsageCounter{
		ID:          s.genID.Generate(),
		ContainerID: containerID,
		FeatureID:   featureID,
		Used:        decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertCounter(ctx, s.db, candidate); err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	created, err := s.repo.FindCounter(ctx, s.db, containerID, featureID)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("usage counter for feature %s missing after insert", featureID)
	}
	return created, nil
}

func buildStatus(feature *catalogdomain.Feature, used decimal.Decimal, limit *decimal.Decimal, extraCredit decimal.Decimal, period billingcycle.Period) domain.FeatureUsageStatus {
	return domain.FeatureUsageStatus{
		Feature:     feature.Name,
		Unit:        string(feature.Unit),
		Used:        used,
		Limit:       limit,
		Remaining:   domain.Remaining(limit, used),
		ExtraCredit: extraCredit,
		Unlimited:   limit == nil,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
	}
}
