// Package api wires the HTTP surface of the pipeline engine.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/catalog"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/circuitbreaker"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/dlq"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/storage"
	"github.com/therealutkarshpriyadarshi/pipeline/internal/versions"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/dto"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/handlers"
	"github.com/therealutkarshpriyadarshi/pipeline/pkg/api/middleware"
)

// Engine is the executor surface the API needs
type Engine interface {
	handlers.Executor
	ActiveRuns() int
}

// RouterConfig holds everything the router serves
type RouterConfig struct {
	Version  string
	Store    *versions.Store
	Repos    *storage.Repositories
	Catalog  *catalog.Catalog
	Engine   Engine
	Gatherer prometheus.Gatherer
	Logger   logrus.FieldLogger

	// Breakers, when set, reports step service breakers on /health
	Breakers *circuitbreaker.Set

	// History, when set, serves recorded run transitions
	History handlers.HistoryReader

	// DeadLetters, when set, enables the admin dead letter routes
	DeadLetters *dlq.Queue

	// JWTSecret enables bearer-token auth on /api/v1 when set
	JWTSecret   string
	RateLimiter *middleware.RateLimiter
}

// NewRouter builds the gin engine with every route registered
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(middleware.ErrorHandler())
	if cfg.Logger != nil {
		router.Use(middleware.Logger(cfg.Logger))
	}

	router.GET("/health", func(c *gin.Context) {
		resp := dto.HealthResponse{
			Status:     "healthy",
			Version:    cfg.Version,
			ActiveRuns: cfg.Engine.ActiveRuns(),
		}
		if cfg.Breakers != nil {
			for _, s := range cfg.Breakers.States() {
				if resp.Services == nil {
					resp.Services = make(map[string]string)
				}
				resp.Services[s.Endpoint] = s.State
			}
		}
		c.JSON(http.StatusOK, resp)
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	var jwtConfig *middleware.JWTConfig
	if cfg.JWTSecret != "" {
		jwtConfig = middleware.NewJWTConfig(cfg.JWTSecret)
	}
	admin := middleware.RequireRole(jwtConfig, middleware.RoleAdmin)
	operator := middleware.RequireRole(jwtConfig, middleware.RoleAdmin, middleware.RoleOperator)

	executeChain := []gin.HandlerFunc{operator}
	if cfg.RateLimiter != nil {
		executeChain = append(executeChain, cfg.RateLimiter.RateLimit())
	}

	pipelines := handlers.NewPipelineHandler(cfg.Store)
	versionsHandler := handlers.NewVersionHandler(cfg.Store, cfg.Engine)
	runs := handlers.NewRunHandler(cfg.Repos, cfg.Engine)
	if cfg.History != nil {
		runs.WithHistory(cfg.History)
	}
	steps := handlers.NewStepHandler(cfg.Catalog)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtConfig))
	{
		v1.GET("/pipelines", pipelines.ListPipelines)
		v1.POST("/pipelines", admin, pipelines.CreatePipeline)
		v1.GET("/pipelines/:id", pipelines.GetPipeline)
		v1.GET("/pipelines/:id/versions", pipelines.ListVersions)
		v1.POST("/pipelines/:id/versions", admin, pipelines.CreateVersion)

		v1.GET("/versions/:id", versionsHandler.GetVersion)
		v1.PATCH("/versions/:id", admin, versionsHandler.PatchVersion)
		v1.POST("/versions/:id/activate", admin, versionsHandler.ActivateVersion)
		v1.POST("/versions/:id/execute", append(executeChain, versionsHandler.Execute)...)
		v1.GET("/versions/:id/runs", runs.ListRuns)

		v1.GET("/runs/:id", runs.GetRun)
		v1.GET("/runs/:id/history", runs.GetRunHistory)
		v1.POST("/runs/:id/cancel", operator, runs.CancelRun)

		v1.GET("/steps", steps.ListSteps)
		v1.GET("/steps/:id/schemas", steps.ListSchemas)

		if cfg.DeadLetters != nil {
			dead := handlers.NewDeadLetterHandler(cfg.DeadLetters)
			v1.GET("/dead-letters", admin, dead.ListDeadLetters)
			v1.POST("/dead-letters/replay", admin, dead.ReplayAll)
			v1.POST("/dead-letters/:id/replay", admin, dead.ReplayDeadLetter)
			v1.DELETE("/dead-letters/:id", admin, dead.DeleteDeadLetter)
		}
	}

	return router
}
