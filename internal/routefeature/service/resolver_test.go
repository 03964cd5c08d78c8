package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/allowance/internal/cache"
	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
	"github.com/smallbiznis/allowance/internal/config"
	"github.com/smallbiznis/allowance/internal/operation"
	"github.com/smallbiznis/allowance/internal/routefeature/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Insert(ctx context.Context, db *gorm.DB, mapping *domain.Mapping) error {
	return m.Called(mapping).Error(0)
}

func (m *mockRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Mapping, error) {
	args := m.Called(id)
	mapping, _ := args.Get(0).(*domain.Mapping)
	return mapping, args.Error(1)
}

func (m *mockRepo) FindByOperation(ctx context.Context, db *gorm.DB, operationID, method string) (*domain.Mapping, error) {
	args := m.Called(operationID, method)
	mapping, _ := args.Get(0).(*domain.Mapping)
	return mapping, args.Error(1)
}

func (m *mockRepo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Mapping, error) {
	args := m.Called(filter)
	rows, _ := args.Get(0).([]*domain.Mapping)
	return rows, args.Error(1)
}

func (m *mockRepo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, method string, featureID snowflake.ID, now time.Time) error {
	return m.Called(id, method, featureID).Error(0)
}

func (m *mockRepo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return m.Called(id).Error(0)
}

// featureLookup serves GetFeatureByID from a fixed set; other catalog calls
// are not used by the resolver.
type featureLookup struct {
	catalogdomain.Service
	features map[snowflake.ID]*catalogdomain.Feature
}

func (f featureLookup) GetFeatureByID(_ context.Context, id snowflake.ID) (*catalogdomain.Feature, error) {
	if feature, ok := f.features[id]; ok {
		return feature, nil
	}
	return nil, catalogdomain.ErrFeatureNotFound
}

func newTestResolver(repo domain.Repository, features ...*catalogdomain.Feature) *Resolver {
	lookup := featureLookup{features: map[snowflake.ID]*catalogdomain.Feature{}}
	for _, f := range features {
		lookup.features[f.ID] = f
	}
	return NewResolver(ResolverParams{
		Log:        zap.NewNop(),
		Repo:       repo,
		Cache:      cache.NewRouteFeatureCache(config.NewStaticEnforcementConfig(config.DefaultEnforcementConfig())),
		CatalogSvc: lookup,
	}).(*Resolver)
}

func TestResolveExactMatchWinsOverWildcard(t *testing.T) {
	leads := &catalogdomain.Feature{ID: 1, Name: "leads"}
	repo := &mockRepo{}
	repo.On("FindByOperation", "/api/leads", "POST").Return(&domain.Mapping{ID: 10, FeatureID: 1}, nil).Once()

	r := newTestResolver(repo, leads)
	feature, err := r.Resolve(context.Background(), operation.Route("/api/leads"), "post")
	require.NoError(t, err)
	assert.Equal(t, leads, feature)
	repo.AssertExpectations(t)
}

func TestResolveFallsBackToWildcard(t *testing.T) {
	calls := &catalogdomain.Feature{ID: 2, Name: "call_minutes"}
	repo := &mockRepo{}
	repo.On("FindByOperation", "internal:call_duration_used", "GET").Return(nil, nil).Once()
	repo.On("FindByOperation", "internal:call_duration_used", "*").Return(&domain.Mapping{ID: 11, FeatureID: 2}, nil).Once()

	r := newTestResolver(repo, calls)
	feature, err := r.Resolve(context.Background(), operation.Internal("call_duration_used"), "GET")
	require.NoError(t, err)
	assert.Equal(t, calls, feature)
	repo.AssertExpectations(t)
}

func TestResolveCachesHitsAndMisses(t *testing.T) {
	leads := &catalogdomain.Feature{ID: 1, Name: "leads"}
	repo := &mockRepo{}
	repo.On("FindByOperation", "/api/leads", "GET").Return(&domain.Mapping{ID: 10, FeatureID: 1}, nil).Once()
	repo.On("FindByOperation", "/api/health", "GET").Return(nil, nil).Once()
	repo.On("FindByOperation", "/api/health", "*").Return(nil, nil).Once()

	r := newTestResolver(repo, leads)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		feature, err := r.Resolve(ctx, operation.Route("/api/leads"), "GET")
		require.NoError(t, err)
		assert.Equal(t, leads, feature)

		feature, err = r.Resolve(ctx, operation.Route("/api/health"), "GET")
		require.NoError(t, err)
		assert.Nil(t, feature)
	}

	repo.AssertNumberOfCalls(t, "FindByOperation", 3)
}

func TestResolveRejectsMalformedOperation(t *testing.T) {
	repo := &mockRepo{}
	r := newTestResolver(repo)

	_, err := r.Resolve(context.Background(), operation.Route("bad op"), "GET")
	assert.ErrorIs(t, err, operation.ErrInvalidOperation)

	_, err = r.Resolve(context.Background(), operation.Route("/api/leads"), "FETCH")
	assert.ErrorIs(t, err, domain.ErrInvalidMethod)

	repo.AssertNotCalled(t, "FindByOperation", mock.Anything, mock.Anything)
}

func TestResolveDoesNotCacheResultInvalidatedMidLookup(t *testing.T) {
	leads := &catalogdomain.Feature{ID: 1, Name: "leads"}
	repo := &mockRepo{}
	var r *Resolver
	// the mapping is deleted (and the operation invalidated) after the
	// repository answered but before the result reaches the cache
	repo.On("FindByOperation", "/api/leads", "*").
		Run(func(mock.Arguments) { r.cache.InvalidateOperation("/api/leads") }).
		Return(&domain.Mapping{ID: 10, FeatureID: 1}, nil).Once()
	repo.On("FindByOperation", "/api/leads", "*").Return(nil, nil).Once()

	r = newTestResolver(repo, leads)
	ctx := context.Background()

	feature, err := r.Resolve(ctx, operation.Route("/api/leads"), "*")
	require.NoError(t, err)
	assert.Equal(t, leads, feature)

	feature, err = r.Resolve(ctx, operation.Route("/api/leads"), "*")
	require.NoError(t, err)
	assert.Nil(t, feature, "stale mapping must not be served from cache")
	repo.AssertExpectations(t)
}
