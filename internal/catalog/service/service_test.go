package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/allowance/internal/catalog/domain"
	"github.com/smallbiznis/allowance/internal/catalog/repository"
	"github.com/smallbiznis/allowance/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return New(Params{
		DB:    testdb.OpenSQLite(t),
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
}

func TestCreateFeatureNormalizesName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	desc := "  outbound call minutes "
	feature, err := svc.CreateFeature(ctx, domain.CreateFeatureRequest{
		Name:        "  Call_Minutes ",
		Unit:        "MINUTE",
		Description: &desc,
		Metadata:    map[string]any{"tier": "pro"},
	})
	require.NoError(t, err)
	assert.Equal(t, "call_minutes", feature.Name)
	assert.Equal(t, domain.UnitMinute, feature.Unit)

	found, err := svc.GetFeatureByName(ctx, "CALL_MINUTES")
	require.NoError(t, err)
	assert.Equal(t, feature.ID, found.ID)
	require.NotNil(t, found.Description)
	assert.Equal(t, "outbound call minutes", *found.Description)
	assert.Equal(t, "pro", found.Metadata["tier"])
}

func TestCreateFeatureValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateFeature(ctx, domain.CreateFeatureRequest{Name: " ", Unit: domain.UnitRequest})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = svc.CreateFeature(ctx, domain.CreateFeatureRequest{Name: "leads", Unit: "bytes"})
	assert.ErrorIs(t, err, domain.ErrInvalidUnit)

	_, err = svc.CreateFeature(ctx, domain.CreateFeatureRequest{Name: "leads", Unit: domain.UnitGeneral})
	require.NoError(t, err)
	_, err = svc.CreateFeature(ctx, domain.CreateFeatureRequest{Name: "Leads", Unit: domain.UnitGeneral})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestSetPlanFeatureLimitUpserts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	plan, err := svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "starter"})
	require.NoError(t, err)
	assert.True(t, plan.Active)
	feature, err := svc.CreateFeature(ctx, domain.CreateFeatureRequest{Name: "leads", Unit: domain.UnitGeneral})
	require.NoError(t, err)

	first, err := svc.SetPlanFeatureLimit(ctx, domain.SetPlanFeatureLimitRequest{
		PlanID:      plan.ID.String(),
		FeatureName: "leads",
		Limit:       decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	second, err := svc.SetPlanFeatureLimit(ctx, domain.SetPlanFeatureLimitRequest{
		PlanID:      plan.ID.String(),
		FeatureName: "leads",
		Limit:       decimal.RequireFromString("12.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Limit.Equal(decimal.RequireFromString("12.5")), "limit %s", second.Limit)

	limit, err := svc.GetLimit(ctx, plan.ID, feature.ID)
	require.NoError(t, err)
	require.NotNil(t, limit)
	assert.True(t, limit.Equal(decimal.RequireFromString("12.5")))

	items, err := svc.ListPlanFeatures(ctx, plan.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSetPlanFeatureLimitErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	plan, err := svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "starter"})
	require.NoError(t, err)

	cases := []struct {
		name string
		req  domain.SetPlanFeatureLimitRequest
		want error
	}{
		{"bad plan id", domain.SetPlanFeatureLimitRequest{PlanID: "abc", FeatureName: "leads"}, domain.ErrInvalidPlanID},
		{"negative limit", domain.SetPlanFeatureLimitRequest{PlanID: plan.ID.String(), FeatureName: "leads", Limit: decimal.NewFromInt(-1)}, domain.ErrInvalidLimit},
		{"limit finer than ledger scale", domain.SetPlanFeatureLimitRequest{PlanID: plan.ID.String(), FeatureName: "leads", Limit: decimal.RequireFromString("10.0000001")}, domain.ErrInvalidLimit},
		{"limit beyond ledger range", domain.SetPlanFeatureLimitRequest{PlanID: plan.ID.String(), FeatureName: "leads", Limit: decimal.New(1, 14)}, domain.ErrInvalidLimit},
		{"unknown plan", domain.SetPlanFeatureLimitRequest{PlanID: "42", FeatureName: "leads"}, domain.ErrPlanNotFound},
		{"unknown feature", domain.SetPlanFeatureLimitRequest{PlanID: plan.ID.String(), FeatureName: "leads"}, domain.ErrFeatureNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SetPlanFeatureLimit(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestGetLimitWithoutRowIsUnlimited(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	plan, err := svc.CreatePlan(ctx, domain.CreatePlanRequest{Name: "enterprise"})
	require.NoError(t, err)
	feature, err := svc.CreateFeature(ctx, domain.CreateFeatureRequest{Name: "calls", Unit: domain.UnitMinute})
	require.NoError(t, err)

	limit, err := svc.GetLimit(ctx, plan.ID, feature.ID)
	require.NoError(t, err)
	assert.Nil(t, limit)
}

func TestListFeaturesByIDs(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.CreateFeature(ctx, domain.CreateFeatureRequest{Name: "b_feature", Unit: domain.UnitGeneral})
	require.NoError(t, err)
	b, err := svc.CreateFeature(ctx, domain.CreateFeatureRequest{Name: "a_feature", Unit: domain.UnitGeneral})
	require.NoError(t, err)

	items, err := svc.ListFeaturesByIDs(ctx, []snowflake.ID{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a_feature", items[0].Name)

	empty, err := svc.ListFeaturesByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
