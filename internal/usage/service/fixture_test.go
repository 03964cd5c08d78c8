package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/allowance/internal/cache"
	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/allowance/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/allowance/internal/catalog/service"
	"github.com/smallbiznis/allowance/internal/clock"
	"github.com/smallbiznis/allowance/internal/config"
	routefeaturedomain "github.com/smallbiznis/allowance/internal/routefeature/domain"
	routefeaturerepo "github.com/smallbiznis/allowance/internal/routefeature/repository"
	routefeatureservice "github.com/smallbiznis/allowance/internal/routefeature/service"
	subscriptiondomain "github.com/smallbiznis/allowance/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/allowance/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/allowance/internal/subscription/service"
	"github.com/smallbiznis/allowance/internal/usage/domain"
	"github.com/smallbiznis/allowance/internal/usage/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	testNow    = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	testAnchor = time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	cfg      *config.EnforcementConfigHolder
	catalog  catalogdomain.Service
	subs     subscriptiondomain.Service
	mappings routefeaturedomain.Service
	resolver routefeaturedomain.Resolver
	usage    domain.Service
	plan     *catalogdomain.Plan
}

func newFixture(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()
	return newFixtureWithPolicy(t, db, config.PolicyFailClosed)
}

func newFixtureWithPolicy(t *testing.T, db *gorm.DB, policy config.NoSubscriptionPolicy) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	fake := clock.NewFakeClock(testNow)
	cfg := config.NewStaticEnforcementConfig(config.EnforcementConfig{
		NoSubscriptionPolicy: policy,
		RouteCacheTTL:        time.Minute,
	})

	catalogSvc := catalogservice.New(catalogservice.Params{DB: db, Log: log, GenID: node, Repo: catalogrepo.Provide()})
	subSvc := subscriptionservice.New(subscriptionservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake,
		Repo: subscriptionrepo.Provide(), CatalogSvc: catalogSvc,
	})

	routeCache := cache.NewRouteFeatureCache(cfg)
	mappingRepo := routefeaturerepo.Provide()
	mappingSvc := routefeatureservice.New(routefeatureservice.Params{
		DB: db, Log: log, GenID: node, Clock: fake, Repo: mappingRepo,
		Cache: routeCache, Invalidator: cache.NewNoopInvalidator("test"), CatalogSvc: catalogSvc,
	})
	resolver := routefeatureservice.NewResolver(routefeatureservice.ResolverParams{
		DB: db, Log: log, Repo: mappingRepo, Cache: routeCache, CatalogSvc: catalogSvc,
	})

	f := &fixture{
		db:       db,
		clock:    fake,
		cfg:      cfg,
		catalog:  catalogSvc,
		subs:     subSvc,
		mappings: mappingSvc,
		resolver: resolver,
	}
	f.usage = f.newUsage(t, resolver)

	plan, err := catalogSvc.CreatePlan(context.Background(), catalogdomain.CreatePlanRequest{Name: "starter"})
	require.NoError(t, err)
	f.plan = plan
	return f
}

func (f *fixture) newUsage(t *testing.T, resolver routefeaturedomain.Resolver) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return New(Params{
		DB:              f.db,
		Log:             zap.NewNop(),
		GenID:           node,
		Clock:           f.clock,
		Repo:            repository.Provide(),
		Resolver:        resolver,
		SubscriptionSvc: f.subs,
		CatalogSvc:      f.catalog,
		EnforcementCfg:  f.cfg,
	})
}

// meter creates a feature mapped from operation (all methods) with an
// optional plan limit.
func (f *fixture) meter(t *testing.T, featureName, op string, limit *decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	_, err := f.catalog.CreateFeature(ctx, catalogdomain.CreateFeatureRequest{Name: featureName, Unit: catalogdomain.UnitGeneral})
	require.NoError(t, err)
	if limit != nil {
		_, err = f.catalog.SetPlanFeatureLimit(ctx, catalogdomain.SetPlanFeatureLimitRequest{
			PlanID:      f.plan.ID.String(),
			FeatureName: featureName,
			Limit:       *limit,
		})
		require.NoError(t, err)
	}
	_, err = f.mappings.Create(ctx, routefeaturedomain.CreateRequest{Operation: op, Method: "*", Feature: featureName})
	require.NoError(t, err)
}

func (f *fixture) subscribe(t *testing.T, workspaceID snowflake.ID) {
	t.Helper()
	anchor := testAnchor
	_, err := f.subs.Create(context.Background(), subscriptiondomain.CreateRequest{
		WorkspaceID: workspaceID.String(),
		PlanID:      f.plan.ID.String(),
		StartedAt:   &anchor,
	})
	require.NoError(t, err)
}

func (f *fixture) countRows(t *testing.T, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Table(table).Count(&n).Error)
	return n
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}
