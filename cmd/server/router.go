package main

import (
	"context"
	"net/http"
	"time"

	"worldvote/shared/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const readyTimeout = 2 * time.Second

// readinessCheck is one dependency probed by /ready.
type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

// newRouter builds the ops router. instrument hooks (e.g. the Prometheus middleware)
// run before any route is registered; gin only wraps routes added after Use.
func newRouter(logger *zap.Logger, checks []readinessCheck, cacheStats func() any, instrument ...func(*gin.Engine)) *gin.Engine {
	router := gin.New()
	router.Use(middleware.GinZapLogger(logger))
	router.Use(gin.Recovery())
	for _, hook := range instrument {
		hook(router)
	}

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
		defer cancel()

		failed := gin.H{}
		for _, rc := range checks {
			if err := rc.check(ctx); err != nil {
				failed[rc.name] = err.Error()
			}
		}
		if len(failed) > 0 {
			logger.Warn("Readiness check failed", zap.Any("failed", failed))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	router.GET("/debug/cache", func(c *gin.Context) {
		c.JSON(http.StatusOK, cacheStats())
	})
	return router
}
