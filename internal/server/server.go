package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/allowance/internal/cache"
	"github.com/smallbiznis/allowance/internal/catalog"
	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
	"github.com/smallbiznis/allowance/internal/config"
	"github.com/smallbiznis/allowance/internal/observability"
	obslogger "github.com/smallbiznis/allowance/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/allowance/internal/observability/metrics"
	obstracing "github.com/smallbiznis/allowance/internal/observability/tracing"
	"github.com/smallbiznis/allowance/internal/routefeature"
	routefeaturedomain "github.com/smallbiznis/allowance/internal/routefeature/domain"
	"github.com/smallbiznis/allowance/internal/subscription"
	subscriptiondomain "github.com/smallbiznis/allowance/internal/subscription/domain"
	"github.com/smallbiznis/allowance/internal/usage"
	usagedomain "github.com/smallbiznis/allowance/internal/usage/domain"
	"github.com/smallbiznis/allowance/internal/usage/virtual"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	cache.Module,
	catalog.Module,
	subscription.Module,
	routefeature.Module,
	usage.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	api    *gin.RouterGroup
	cfg    config.Config
	log    *zap.Logger

	catalogSvc      catalogdomain.Service
	subscriptionSvc subscriptiondomain.Service
	routeFeatureSvc routefeaturedomain.Service
	usagesvc        usagedomain.Service
	meter           *virtual.Meter
	httpMetrics     *obsmetrics.HTTPMetrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	CatalogSvc      catalogdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	RouteFeatureSvc routefeaturedomain.Service
	Usagesvc        usagedomain.Service
	Meter           *virtual.Meter
	HTTPMetrics     *obsmetrics.HTTPMetrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		catalogSvc:      p.CatalogSvc,
		subscriptionSvc: p.SubscriptionSvc,
		routeFeatureSvc: p.RouteFeatureSvc,
		usagesvc:        p.Usagesvc,
		meter:           p.Meter,
		httpMetrics:     p.HTTPMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerInternalRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// API returns the workspace-scoped route group. Handlers registered on it are
// metered against the feature mapped to their route template.
func (s *Server) API() *gin.RouterGroup {
	return s.api
}

func (s *Server) registerAPIRoutes() {
	s.api = s.engine.Group("/api", s.ResolveWorkspace(), s.EnforceQuota())

	s.api.GET("/usage", s.ListUsage)
	s.api.GET("/usage/features/:feature", s.GetFeatureUsage)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.AdminTokenRequired())

	internal.POST("/usage/record", s.RecordUsage)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.AdminTokenRequired())

	// -------- Route Features --------
	admin.GET("/route-features", s.ListRouteFeatures)
	admin.POST("/route-features", s.CreateRouteFeature)
	admin.GET("/route-features/:id", s.GetRouteFeature)
	admin.PATCH("/route-features/:id", s.UpdateRouteFeature)
	admin.DELETE("/route-features/:id", s.DeleteRouteFeature)

	// -------- Catalog --------
	admin.POST("/plans", s.CreatePlan)
	admin.POST("/features", s.CreateFeature)
	admin.PUT("/plans/:id/features/:feature", s.SetPlanFeatureLimit)

	// -------- Subscriptions --------
	admin.POST("/subscriptions", s.CreateSubscription)
	admin.POST("/subscriptions/:id/deactivate", s.DeactivateSubscription)

	// -------- Extra Credit --------
	admin.POST("/workspaces/:id/extra-credit", s.AddExtraCredit)
}
