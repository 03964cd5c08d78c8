package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/allowance/internal/cache"
	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/allowance/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/allowance/internal/catalog/service"
	"github.com/smallbiznis/allowance/internal/clock"
	"github.com/smallbiznis/allowance/internal/config"
	"github.com/smallbiznis/allowance/internal/operation"
	"github.com/smallbiznis/allowance/internal/routefeature/domain"
	"github.com/smallbiznis/allowance/internal/routefeature/repository"
	"github.com/smallbiznis/allowance/internal/testdb"
	"github.com/smallbiznis/allowance/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingInvalidator struct {
	mu       sync.Mutex
	messages []cache.InvalidationMessage
}

func (r *recordingInvalidator) Publish(_ context.Context, msg cache.InvalidationMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingInvalidator) Subscribe(ctx context.Context, _ func(cache.InvalidationMessage)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *recordingInvalidator) Origin() string { return "test" }
func (r *recordingInvalidator) Close() error   { return nil }

func (r *recordingInvalidator) published() []cache.InvalidationMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cache.InvalidationMessage(nil), r.messages...)
}

type adminFixture struct {
	svc         domain.Service
	resolver    domain.Resolver
	invalidator *recordingInvalidator
	leads       *catalogdomain.Feature
	calls       *catalogdomain.Feature
}

func newAdminFixture(t *testing.T) adminFixture {
	t.Helper()
	db := testdb.OpenSQLite(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	catalogSvc := catalogservice.New(catalogservice.Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: catalogrepo.Provide()})
	ctx := context.Background()
	leads, err := catalogSvc.CreateFeature(ctx, catalogdomain.CreateFeatureRequest{Name: "leads", Unit: catalogdomain.UnitGeneral})
	require.NoError(t, err)
	calls, err := catalogSvc.CreateFeature(ctx, catalogdomain.CreateFeatureRequest{Name: "call_minutes", Unit: catalogdomain.UnitMinute})
	require.NoError(t, err)

	routeCache := cache.NewRouteFeatureCache(config.NewStaticEnforcementConfig(config.EnforcementConfig{
		NoSubscriptionPolicy: config.PolicyFailClosed,
		RouteCacheTTL:        time.Hour,
	}))
	repo := repository.Provide()
	inv := &recordingInvalidator{}

	svc := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clock.NewSystemClock(),
		Repo:        repo,
		Cache:       routeCache,
		Invalidator: inv,
		CatalogSvc:  catalogSvc,
	})
	resolver := NewResolver(ResolverParams{
		DB:         db,
		Log:        zap.NewNop(),
		Repo:       repo,
		Cache:      routeCache,
		CatalogSvc: catalogSvc,
	})
	return adminFixture{svc: svc, resolver: resolver, invalidator: inv, leads: leads, calls: calls}
}

func TestMappingWritesInvalidateCachedResolution(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	op := operation.Route("/api/leads")

	// Cache a miss before the mapping exists.
	feature, err := f.resolver.Resolve(ctx, op, "GET")
	require.NoError(t, err)
	assert.Nil(t, feature)

	created, err := f.svc.Create(ctx, domain.CreateRequest{Operation: "/api/leads", Method: "", Feature: "leads"})
	require.NoError(t, err)
	assert.Equal(t, domain.MethodAny, created.Method)
	assert.Equal(t, "route", created.Namespace)

	feature, err = f.resolver.Resolve(ctx, op, "GET")
	require.NoError(t, err)
	require.NotNil(t, feature, "create must drop the cached miss")
	assert.Equal(t, f.leads.ID, feature.ID)

	other := "call_minutes"
	_, err = f.svc.Update(ctx, created.ID, domain.UpdateRequest{Feature: &other})
	require.NoError(t, err)
	feature, err = f.resolver.Resolve(ctx, op, "GET")
	require.NoError(t, err)
	require.NotNil(t, feature)
	assert.Equal(t, f.calls.ID, feature.ID, "update must drop the cached hit")

	require.NoError(t, f.svc.Delete(ctx, created.ID))
	feature, err = f.resolver.Resolve(ctx, op, "GET")
	require.NoError(t, err)
	assert.Nil(t, feature, "delete must drop the cached hit")

	published := f.invalidator.published()
	require.Len(t, published, 3)
	for _, msg := range published {
		assert.Equal(t, cache.ActionInvalidateOperation, msg.Action)
		assert.Equal(t, "/api/leads", msg.OperationID)
	}
}

func TestCreateVirtualOperationMapping(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, domain.CreateRequest{Operation: "internal:call_duration_used", Method: "*", Feature: "call_minutes"})
	require.NoError(t, err)
	assert.Equal(t, "internal", created.Namespace)

	feature, err := f.resolver.Resolve(ctx, operation.Internal("call_duration_used"), "")
	require.NoError(t, err)
	require.NotNil(t, feature)
	assert.Equal(t, "call_minutes", feature.Name)

	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "call_minutes", got.FeatureName)
}

func TestCreateMappingErrors(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, domain.CreateRequest{Operation: "/api/leads", Method: "GET", Feature: "leads"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, domain.CreateRequest{Operation: "/api/leads", Method: "get", Feature: "leads"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = f.svc.Create(ctx, domain.CreateRequest{Operation: "internal:", Feature: "leads"})
	assert.ErrorIs(t, err, operation.ErrInvalidOperation)
	assert.True(t, domain.IsValidationError(err))

	_, err = f.svc.Create(ctx, domain.CreateRequest{Operation: "/api/leads", Method: "TRACE", Feature: "leads"})
	assert.ErrorIs(t, err, domain.ErrInvalidMethod)

	_, err = f.svc.Create(ctx, domain.CreateRequest{Operation: "/api/leads", Method: "POST", Feature: "missing"})
	assert.ErrorIs(t, err, catalogdomain.ErrFeatureNotFound)

	_, err = f.svc.Update(ctx, "1", domain.UpdateRequest{})
	assert.ErrorIs(t, err, domain.ErrEmptyUpdate)

	err = f.svc.Delete(ctx, "424242")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPaginatesById(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	for _, method := range []string{"GET", "POST", "PUT"} {
		_, err := f.svc.Create(ctx, domain.CreateRequest{Operation: "/api/leads", Method: method, Feature: "leads"})
		require.NoError(t, err)
	}
	_, err := f.svc.Create(ctx, domain.CreateRequest{Operation: "worker:calendar_sync", Feature: "call_minutes"})
	require.NoError(t, err)

	first, err := f.svc.List(ctx, domain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		Operation:  "/api/leads",
	})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.True(t, first.PageInfo.HasMore)
	assert.Equal(t, "leads", first.Items[0].FeatureName)

	second, err := f.svc.List(ctx, domain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.PageInfo.NextPageToken},
		Operation:  "/api/leads",
	})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.False(t, second.PageInfo.HasMore)
	assert.Equal(t, "PUT", second.Items[0].Method)

	all, err := f.svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Items, 4)

	_, err = f.svc.List(ctx, domain.ListRequest{Pagination: pagination.Pagination{PageToken: "!!"}})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}
