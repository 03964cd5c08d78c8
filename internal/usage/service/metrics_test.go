package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/allowance/internal/billingcycle"
	"github.com/smallbiznis/allowance/internal/observability/metrics"
	"github.com/smallbiznis/allowance/internal/operation"
	subscriptiondomain "github.com/smallbiznis/allowance/internal/subscription/domain"
	"github.com/smallbiznis/allowance/internal/testdb"
	"github.com/smallbiznis/allowance/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

// anchorlessSubscriptions hands out an active subscription with no billing
// anchor, which no period can be computed for.
type anchorlessSubscriptions struct {
	subscriptiondomain.Service
}

func (anchorlessSubscriptions) GetActive(_ context.Context, workspaceID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return &subscriptiondomain.Subscription{ID: 9, WorkspaceID: workspaceID, PlanID: 1, IsActive: true}, nil
}

func enforcementCount(t *testing.T, reader *sdkmetric.ManualReader, feature, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	want := attribute.NewSet(attribute.String("feature", feature), attribute.String("outcome", outcome))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "allowance_enforcement_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				if dp.Attributes.Equals(&want) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestWindowFailureCountsAsEnforcementError(t *testing.T) {
	f := newFixture(t, testdb.OpenSQLite(t))
	f.meter(t, "leads", "/api/leads", decPtr("3"))

	reader := sdkmetric.NewManualReader()
	m, err := metrics.New(metrics.Config{}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	svc := New(Params{
		DB:              f.db,
		Log:             zap.NewNop(),
		GenID:           node,
		Clock:           f.clock,
		Repo:            repository.Provide(),
		Resolver:        f.resolver,
		SubscriptionSvc: anchorlessSubscriptions{},
		CatalogSvc:      f.catalog,
		EnforcementCfg:  f.cfg,
		Metrics:         m,
	})

	_, err = enforce(svc, 1, operation.Route("/api/leads"), "1")
	require.ErrorIs(t, err, billingcycle.ErrMissingAnchor)
	assert.Equal(t, int64(1), enforcementCount(t, reader, "leads", metrics.OutcomeError))
	assert.Equal(t, int64(0), f.countRows(t, "usage_containers"))
}
