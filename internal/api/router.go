package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"freightaudit/internal/logger"
	"freightaudit/pkg/health"
	"freightaudit/pkg/middleware"
	"freightaudit/pkg/ratelimit"
	"freightaudit/pkg/tracing"
)

type RouterOptions struct {
	ServiceName string
	Tracing     bool
	// Limiter throttles /api routes per client IP. Nil disables limiting.
	Limiter *ratelimit.Limiter
	Health  *health.CheckerRegistry
}

func NewRouter(h *Handler, opts RouterOptions, log logger.Logger) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	if opts.Tracing {
		router.Use(tracing.GinMiddleware(opts.ServiceName))
	}
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))

	api := router.Group("/")
	if opts.Limiter != nil {
		api.Use(opts.Limiter.Middleware())
	}
	h.RegisterRoutes(api)

	registry := opts.Health
	if registry == nil {
		registry = health.NewCheckerRegistry()
	}
	router.GET("/health", func(c *gin.Context) {
		status := registry.Check(c.Request.Context())
		code := http.StatusOK
		if status.Status == health.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
