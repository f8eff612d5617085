package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wagerpay/settlement_service/internal/api/handlers"
)

// Setup wires the service's HTTP surface: probes, Prometheus metrics
// and the operator endpoints. There is no public API; deposits arrive
// on-chain, not over HTTP.
func Setup(
	router *gin.Engine,
	health *handlers.HealthHandler,
	admin *handlers.AdminHandler,
	logger *zap.Logger,
) {
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health/liveness", health.Liveness)
	router.GET("/health/readiness", health.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	adminGroup := router.Group("/admin")
	{
		adminGroup.GET("/settlements/redrivable", admin.ListRedrivable)
		adminGroup.POST("/settlements/:id/redrive", admin.Redrive)
		adminGroup.POST("/sweep", admin.Sweep)
		adminGroup.POST("/withdraw", admin.Withdraw)
	}
}

// requestLogger logs each request with latency and status.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
