package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/autumn/internal/cache"
	"github.com/smallbiznis/autumn/internal/config"
	customerdomain "github.com/smallbiznis/autumn/internal/customer/domain"
	"github.com/smallbiznis/autumn/internal/deduction"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
	"github.com/smallbiznis/autumn/internal/observability"
	obsmiddleware "github.com/smallbiznis/autumn/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/autumn/internal/observability/metrics"
	obstracing "github.com/smallbiznis/autumn/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
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

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
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
	engine      *gin.Engine
	cfg         config.Config
	featureSvc  featuredomain.Service
	customerSvc customerdomain.Service
	deduction   *deduction.Service
	resolver    cache.ResolverCache
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	FeatureSvc  featuredomain.Service
	CustomerSvc customerdomain.Service
	Deduction   *deduction.Service
	Resolver    cache.ResolverCache `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		featureSvc:  p.FeatureSvc,
		customerSvc: p.CustomerSvc,
		deduction:   p.Deduction,
		resolver:    p.Resolver,
	}

	svc.registerAPIRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", OrgContext())

	// -------- Balances --------
	api.POST("/track", s.Track)
	api.POST("/check", s.Check)
	api.POST("/balances/update", s.UpdateBalance)
	api.GET("/customers/:id/balances/:feature_id", s.GetBalance)

	// -------- Features --------
	api.POST("/features", s.CreateFeature)
	api.GET("/features", s.ListFeatures)
	api.PATCH("/features/:id", s.UpdateFeature)
	api.POST("/features/:id/archive", s.ArchiveFeature)

	// -------- Customers --------
	api.POST("/customers", s.CreateCustomer)
	api.GET("/customers", s.ListCustomers)
	api.GET("/customers/:id", s.GetCustomerByID)
	api.POST("/customers/:id/entities", s.CreateEntity)

	// -------- Attachments --------
	api.POST("/attachments", s.Attach)
	api.DELETE("/attachments/:id", s.Terminate)
}

// purgeResolver drops cached feature lookups after a catalog change.
func (s *Server) purgeResolver() {
	if s.resolver != nil {
		s.resolver.Purge()
	}
}
