package service

import (
	"context"

	"github.com/smallbiznis/allowance/internal/cache"
	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
	"github.com/smallbiznis/allowance/internal/observability/metrics"
	"github.com/smallbiznis/allowance/internal/operation"
	"github.com/smallbiznis/allowance/internal/routefeature/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ResolverParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       domain.Repository
	Cache      cache.RouteFeatureCache
	CatalogSvc catalogdomain.Service
	Metrics    *metrics.Metrics `optional:"true"`
}

type Resolver struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	cache      cache.RouteFeatureCache
	catalogsvc catalogdomain.Service
	metrics    *metrics.Metrics
}

func NewResolver(p ResolverParams) domain.Resolver {
	return &Resolver{
		db:         p.DB,
		log:        p.Log.Named("routefeature.resolver"),
		repo:       p.Repo,
		cache:      p.Cache,
		catalogsvc: p.CatalogSvc,
		metrics:    p.Metrics,
	}
}

// Resolve tries the exact (operation, method) mapping, then the operation's
// wildcard mapping. Both hits and misses are cached unless a mapping write
// invalidated the operation while the lookup ran.
func (r *Resolver) Resolve(ctx context.Context, op operation.ID, method string) (*catalogdomain.Feature, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	method, err := domain.NormalizeMethod(method)
	if err != nil {
		return nil, err
	}
	opID := op.String()

	if feature, ok := r.cache.Get(method, opID); ok {
		r.metrics.RecordRouteCacheLookup(ctx, true)
		return feature, nil
	}
	r.metrics.RecordRouteCacheLookup(ctx, false)
	gen := r.cache.Generation(opID)

	mapping, err := r.repo.FindByOperation(ctx, r.db, opID, method)
	if err != nil {
		return nil, err
	}
	if mapping == nil && method != domain.MethodAny {
		mapping, err = r.repo.FindByOperation(ctx, r.db, opID, domain.MethodAny)
		if err != nil {
			return nil, err
		}
	}

	var feature *catalogdomain.Feature
	if mapping != nil {
		feature, err = r.catalogsvc.GetFeatureByID(ctx, mapping.FeatureID)
		if err != nil {
			return nil, err
		}
	}

	if !r.cache.SetIfCurrent(method, opID, feature, gen) {
		r.log.Debug("route mapping changed during lookup; result not cached",
			zap.String("operation", opID),
			zap.String("method", method),
		)
	}
	if feature != nil {
		r.log.Debug("route feature resolved",
			zap.String("operation", opID),
			zap.String("method", method),
			zap.String("feature", feature.Name),
		)
	}
	return feature, nil
}
