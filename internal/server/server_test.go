package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/allowance/internal/cache"
	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/allowance/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/allowance/internal/catalog/service"
	"github.com/smallbiznis/allowance/internal/clock"
	"github.com/smallbiznis/allowance/internal/config"
	"github.com/smallbiznis/allowance/internal/observability"
	obsmetrics "github.com/smallbiznis/allowance/internal/observability/metrics"
	routefeaturedomain "github.com/smallbiznis/allowance/internal/routefeature/domain"
	routefeaturerepo "github.com/smallbiznis/allowance/internal/routefeature/repository"
	routefeatureservice "github.com/smallbiznis/allowance/internal/routefeature/service"
	subscriptiondomain "github.com/smallbiznis/allowance/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/allowance/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/allowance/internal/subscription/service"
	"github.com/smallbiznis/allowance/internal/testdb"
	usagedomain "github.com/smallbiznis/allowance/internal/usage/domain"
	usagerepo "github.com/smallbiznis/allowance/internal/usage/repository"
	usageservice "github.com/smallbiznis/allowance/internal/usage/service"
	"github.com/smallbiznis/allowance/internal/usage/virtual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testAdminToken = "s3cret-admin-token"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	server   *Server
	catalog  catalogdomain.Service
	subs     subscriptiondomain.Service
	mappings routefeaturedomain.Service
	usage    usagedomain.Service
	plan     *catalogdomain.Plan
}

func newTestEnv(t *testing.T, adminHash string) *testEnv {
	t.Helper()
	conn := testdb.OpenSQLite(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC))
	enforcement := config.NewStaticEnforcementConfig(config.EnforcementConfig{
		NoSubscriptionPolicy: config.PolicyFailClosed,
		RouteCacheTTL:        time.Minute,
	})

	catalogSvc := catalogservice.New(catalogservice.Params{DB: conn, Log: log, GenID: node, Repo: catalogrepo.Provide()})
	subSvc := subscriptionservice.New(subscriptionservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake,
		Repo: subscriptionrepo.Provide(), CatalogSvc: catalogSvc,
	})
	routeCache := cache.NewRouteFeatureCache(enforcement)
	mappingRepo := routefeaturerepo.Provide()
	mappingSvc := routefeatureservice.New(routefeatureservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, Repo: mappingRepo,
		Cache: routeCache, Invalidator: cache.NewNoopInvalidator("test"), CatalogSvc: catalogSvc,
	})
	resolver := routefeatureservice.NewResolver(routefeatureservice.ResolverParams{
		DB: conn, Log: log, Repo: mappingRepo, Cache: routeCache, CatalogSvc: catalogSvc,
	})
	usageSvc := usageservice.New(usageservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, Repo: usagerepo.Provide(),
		Resolver: resolver, SubscriptionSvc: subSvc, CatalogSvc: catalogSvc, EnforcementCfg: enforcement,
	})

	engine := NewEngine(observability.Config{Environment: "test", LogLevel: "info"},
		obsmetrics.NewHTTPMetricsWith(prometheus.NewRegistry()))
	srv := NewServer(ServerParams{
		Gin:             engine,
		Cfg:             config.Config{AdminTokenHash: adminHash},
		Log:             log,
		CatalogSvc:      catalogSvc,
		SubscriptionSvc: subSvc,
		RouteFeatureSvc: mappingSvc,
		Usagesvc:        usageSvc,
		Meter:           virtual.NewMeter(virtual.Params{Usage: usageSvc, Log: log}),
	})
	srv.API().GET("/leads", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": []string{}})
	})

	plan, err := catalogSvc.CreatePlan(context.Background(), catalogdomain.CreatePlanRequest{Name: "starter"})
	require.NoError(t, err)

	return &testEnv{
		server:   srv,
		catalog:  catalogSvc,
		subs:     subSvc,
		mappings: mappingSvc,
		usage:    usageSvc,
		plan:     plan,
	}
}

func adminHash(t *testing.T) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminToken), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func (e *testEnv) meter(t *testing.T, feature, op string, limit string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.catalog.CreateFeature(ctx, catalogdomain.CreateFeatureRequest{Name: feature, Unit: catalogdomain.UnitGeneral})
	require.NoError(t, err)
	_, err = e.catalog.SetPlanFeatureLimit(ctx, catalogdomain.SetPlanFeatureLimitRequest{
		PlanID:      e.plan.ID.String(),
		FeatureName: feature,
		Limit:       decimal.RequireFromString(limit),
	})
	require.NoError(t, err)
	_, err = e.mappings.Create(ctx, routefeaturedomain.CreateRequest{Operation: op, Method: "*", Feature: feature})
	require.NoError(t, err)
}

func (e *testEnv) subscribe(t *testing.T, workspaceID string) {
	t.Helper()
	started := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
	_, err := e.subs.Create(context.Background(), subscriptiondomain.CreateRequest{
		WorkspaceID: workspaceID,
		PlanID:      e.plan.ID.String(),
		StartedAt:   &started,
	})
	require.NoError(t, err)
}

func (e *testEnv) do(method, path, workspace, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if workspace != "" {
		req.Header.Set(HeaderWorkspace, workspace)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestEnforceQuotaRejectsOverLimit(t *testing.T) {
	env := newTestEnv(t, "")
	env.meter(t, "leads", "/api/leads", "2")
	env.subscribe(t, "1001")

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodGet, "/api/leads", "1001", "", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := env.do(http.MethodGet, "/api/leads", "1001", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "quota_exceeded", body["error"])
	assert.Equal(t, "leads", body["feature"])
	assert.Equal(t, "2", body["used"])
	assert.Equal(t, "2", body["limit"])
}

func TestEnforceQuotaBypassesWithoutWorkspace(t *testing.T) {
	env := newTestEnv(t, "")
	env.meter(t, "leads", "/api/leads", "0")

	rec := env.do(http.MethodGet, "/api/leads", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	status, err := env.usage.ListUsageStatus(context.Background(), 1001)
	assert.Nil(t, status)
	assert.ErrorIs(t, err, usagedomain.ErrNoActiveSubscription)
}

func TestEnforceQuotaWithoutSubscription(t *testing.T) {
	env := newTestEnv(t, "")
	env.meter(t, "leads", "/api/leads", "5")

	rec := env.do(http.MethodGet, "/api/leads", "2002", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "no_active_subscription", decodeBody(t, rec)["error"])
}

func TestResolveWorkspaceRejectsMalformedHeader(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodGet, "/api/leads", "not-a-number", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	payload := body["error"].(map[string]any)
	assert.Equal(t, "validation_error", payload["type"])
}

func TestUsageStatusEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	env.meter(t, "leads", "/api/leads", "10")
	env.subscribe(t, "1001")

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/leads", "1001", "", nil).Code)

	rec := env.do(http.MethodGet, "/api/usage/features/leads", "1001", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "leads", data["feature"])
	assert.Equal(t, "1", data["used"])
	assert.Equal(t, "9", data["remaining"])

	rec = env.do(http.MethodGet, "/api/usage", "1001", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decodeBody(t, rec)["data"].(map[string]any)
	assert.Len(t, summary["features"], 1)

	rec = env.do(http.MethodGet, "/api/usage", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/usage/features/unknown", "1001", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, adminHash(t))
	_, err := env.catalog.CreateFeature(context.Background(), catalogdomain.CreateFeatureRequest{Name: "leads", Unit: catalogdomain.UnitGeneral})
	require.NoError(t, err)

	body := map[string]any{"operation": "/api/leads", "method": "post", "feature": "leads"}

	rec := env.do(http.MethodPost, "/admin/route-features", "", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/admin/route-features", "", "wrong", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/admin/route-features", "", testAdminToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "POST", data["method"])
	assert.Equal(t, "leads", data["feature"])

	rec = env.do(http.MethodPost, "/admin/route-features", "", testAdminToken, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminRoutesDisabledWithoutHash(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodPost, "/admin/plans", "", testAdminToken, map[string]any{"name": "pro"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminProvisioningFlow(t *testing.T) {
	env := newTestEnv(t, adminHash(t))

	rec := env.do(http.MethodPost, "/admin/plans", "", testAdminToken, map[string]any{"name": "pro"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	planID := decodeBody(t, rec)["data"].(map[string]any)["id"].(string)

	rec = env.do(http.MethodPost, "/admin/features", "", testAdminToken, map[string]any{"name": "Call_Minutes", "unit": "minute"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "call_minutes", decodeBody(t, rec)["data"].(map[string]any)["name"])

	rec = env.do(http.MethodPut, "/admin/plans/"+planID+"/features/call_minutes", "", testAdminToken, map[string]any{"limit": "1.5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPut, "/admin/plans/"+planID+"/features/call_minutes", "", testAdminToken, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/admin/route-features", "", testAdminToken,
		map[string]any{"operation": "internal:call_duration_used", "feature": "call_minutes"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/admin/subscriptions", "", testAdminToken,
		map[string]any{"workspace_id": "3003", "plan_id": planID, "started_at": "2024-01-31T00:00:00Z"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	subID := decodeBody(t, rec)["data"].(map[string]any)["id"].(string)

	record := map[string]any{"workspace_id": "3003", "operation": "internal:call_duration_used", "amount": "1"}
	rec = env.do(http.MethodPost, "/internal/usage/record", "", testAdminToken, record)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/internal/usage/record", "", testAdminToken, record)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "quota_exceeded", decodeBody(t, rec)["error"].(map[string]any)["type"])

	rec = env.do(http.MethodPost, "/admin/workspaces/3003/extra-credit", "", testAdminToken, map[string]any{"amount": "1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/internal/usage/record", "", testAdminToken, record)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/admin/subscriptions/"+subID+"/deactivate", "", testAdminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/internal/usage/record", "", testAdminToken, record)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "no_active_subscription", decodeBody(t, rec)["error"].(map[string]any)["type"])
}

func TestRecordUsageRejectsUnstorableAmounts(t *testing.T) {
	env := newTestEnv(t, adminHash(t))

	for _, amount := range []string{"-1", "0.0000004", "100000000000000"} {
		t.Run(amount, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/internal/usage/record", "", testAdminToken,
				map[string]any{"workspace_id": "1", "operation": "internal:sync", "amount": amount})
			require.Equal(t, http.StatusBadRequest, rec.Code)
			payload := decodeBody(t, rec)["error"].(map[string]any)
			errs := payload["errors"].([]any)
			assert.Equal(t, "invalid_amount", errs[0].(map[string]any)["code"])
		})
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"validation", usagedomain.ErrInvalidAmount, http.StatusBadRequest, "validation_error"},
		{"counter overflow", usagedomain.ErrCounterOverflow, http.StatusBadRequest, "validation_error"},
		{"route validation", routefeaturedomain.ErrInvalidMethod, http.StatusBadRequest, "validation_error"},
		{"catalog conflict", catalogdomain.ErrAlreadyExists, http.StatusConflict, "conflict"},
		{"mapping missing", routefeaturedomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"subscription missing", subscriptiondomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"quota", &usagedomain.QuotaExceededError{Feature: "leads"}, http.StatusForbidden, "quota_exceeded"},
		{"no subscription", &usagedomain.ConfigurationError{WorkspaceID: 1}, http.StatusForbidden, "no_active_subscription"},
		{"unauthorized", ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typ, payload.Type)
		})
	}
}
