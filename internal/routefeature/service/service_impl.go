package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/allowance/internal/cache"
	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
	"github.com/smallbiznis/allowance/internal/clock"
	"github.com/smallbiznis/allowance/internal/observability/metrics"
	"github.com/smallbiznis/allowance/internal/operation"
	"github.com/smallbiznis/allowance/internal/routefeature/domain"
	"github.com/smallbiznis/allowance/pkg/db"
	"github.com/smallbiznis/allowance/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	Cache       cache.RouteFeatureCache
	Invalidator cache.Invalidator
	CatalogSvc  catalogdomain.Service
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	cache       cache.RouteFeatureCache
	invalidator cache.Invalidator
	catalogsvc  catalogdomain.Service
	metrics     *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("routefeature.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		cache:       p.Cache,
		invalidator: p.Invalidator,
		catalogsvc:  p.CatalogSvc,
		metrics:     p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Response, error) {
	op, err := operation.Parse(strings.TrimSpace(req.Operation))
	if err != nil {
		return nil, err
	}
	method, err := domain.NormalizeMethod(req.Method)
	if err != nil {
		return nil, err
	}
	feature, err := s.catalogsvc.GetFeatureByName(ctx, req.Feature)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	mapping := &domain.Mapping{
		ID:          s.genID.Generate(),
		OperationID: op.String(),
		Method:      method,
		FeatureID:   feature.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, mapping); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, err
	}

	s.invalidate(ctx, mapping.OperationID)
	s.log.Info("route feature mapping created",
		zap.String("mapping_id", mapping.ID.String()),
		zap.String("operation", mapping.OperationID),
		zap.String("method", method),
		zap.String("feature", feature.Name),
	)
	return toResponse(mapping, feature), nil
}

func (s *Service) Update(ctx context.Context, id string, req domain.UpdateRequest) (*domain.Response, error) {
	if req.Method == nil && req.Feature == nil {
		return nil, domain.ErrEmptyUpdate
	}
	mapping, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	method := mapping.Method
	if req.Method != nil {
		if method, err = domain.NormalizeMethod(*req.Method); err != nil {
			return nil, err
		}
	}

	var feature *catalogdomain.Feature
	if req.Feature != nil {
		feature, err = s.catalogsvc.GetFeatureByName(ctx, *req.Feature)
	} else {
		feature, err = s.catalogsvc.GetFeatureByID(ctx, mapping.FeatureID)
	}
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	if err := s.repo.Update(ctx, s.db, mapping.ID, method, feature.ID, now); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, err
	}
	mapping.Method = method
	mapping.FeatureID = feature.ID
	mapping.UpdatedAt = now

	s.invalidate(ctx, mapping.OperationID)
	s.log.Info("route feature mapping updated",
		zap.String("mapping_id", mapping.ID.String()),
		zap.String("operation", mapping.OperationID),
		zap.String("method", method),
		zap.String("feature", feature.Name),
	)
	return toResponse(mapping, feature), nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	mapping, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, s.db, mapping.ID); err != nil {
		return err
	}

	s.invalidate(ctx, mapping.OperationID)
	s.log.Info("route feature mapping deleted",
		zap.String("mapping_id", mapping.ID.String()),
		zap.String("operation", mapping.OperationID),
		zap.String("method", mapping.Method),
	)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Response, error) {
	mapping, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	feature, err := s.catalogsvc.GetFeatureByID(ctx, mapping.FeatureID)
	if err != nil {
		return nil, err
	}
	return toResponse(mapping, feature), nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (*domain.ListResponse, error) {
	filter := domain.ListFilter{Page: req.Pagination}
	if raw := strings.TrimSpace(req.Operation); raw != "" {
		op, err := operation.Parse(raw)
		if err != nil {
			return nil, err
		}
		filter.OperationID = op.String()
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		afterID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		filter.AfterID = afterID
	}

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	rows, pageInfo := pagination.BuildCursorPageInfo(rows, req.Size(), func(m *domain.Mapping) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: m.ID.String()})
		return token
	})

	ids := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.FeatureID)
	}
	features, err := s.catalogsvc.ListFeaturesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]*catalogdomain.Feature, len(features))
	for i := range features {
		byID[features[i].ID] = &features[i]
	}

	items := make([]domain.Response, 0, len(rows))
	for _, row := range rows {
		items = append(items, *toResponse(row, byID[row.FeatureID]))
	}
	return &domain.ListResponse{Items: items, PageInfo: pageInfo}, nil
}

func (s *Service) find(ctx context.Context, id string) (*domain.Mapping, error) {
	mappingID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || mappingID <= 0 {
		return nil, domain.ErrInvalidMappingID
	}
	mapping, err := s.repo.FindByID(ctx, s.db, mappingID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, domain.ErrNotFound
	}
	return mapping, nil
}

// invalidate drops the operation locally, then tells other replicas. A failed
// broadcast is logged; their entries expire with the route cache TTL.
func (s *Service) invalidate(ctx context.Context, operationID string) {
	removed := s.cache.InvalidateOperation(operationID)
	s.metrics.RecordInvalidation(ctx, "local")

	if s.invalidator == nil {
		return
	}
	err := s.invalidator.Publish(ctx, cache.InvalidationMessage{
		Action:      cache.ActionInvalidateOperation,
		OperationID: operationID,
		Origin:      s.invalidator.Origin(),
		Timestamp:   time.Now().UnixNano(),
	})
	if err != nil {
		s.log.Warn("route cache invalidation broadcast failed",
			zap.String("operation", operationID),
			zap.Int("removed_local", removed),
			zap.Error(err),
		)
	}
}

func toResponse(m *domain.Mapping, feature *catalogdomain.Feature) *domain.Response {
	resp := &domain.Response{
		ID:        m.ID.String(),
		Operation: m.OperationID,
		Method:    m.Method,
		FeatureID: m.FeatureID.String(),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if op, err := operation.Parse(m.OperationID); err == nil {
		resp.Namespace = string(op.Namespace)
	}
	if feature != nil {
		resp.FeatureName = feature.Name
	}
	return resp
}
