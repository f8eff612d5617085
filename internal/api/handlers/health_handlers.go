package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/wagerpay/settlement_service/internal/infrastructure/cache"
	"github.com/wagerpay/settlement_service/internal/infrastructure/database"
)

// QueueStats exposes the settlement queue's live depth.
type QueueStats interface {
	Depth() int
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db        *sqlx.DB
	redis     cache.RedisClient
	queue     QueueStats
	logger    *zap.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *sqlx.DB, redis cache.RedisClient, queue QueueStats, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		redis:     redis,
		queue:     queue,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Liveness returns 200 as long as the process is serving requests.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

// Readiness returns 200 only when the database and cache answer.
func (h *HealthHandler) Readiness(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if err := database.HealthCheck(h.db); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.redis.Ping(c.Request.Context()); err != nil {
		checks["redis"] = err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	checks["queue_depth"] = h.queue.Depth()

	statusCode := http.StatusOK
	status := "ok"
	if !healthy {
		statusCode = http.StatusServiceUnavailable
		status = "unhealthy"
		h.logger.Warn("Readiness check failed", zap.Any("checks", checks))
	}

	c.JSON(statusCode, gin.H{
		"status": status,
		"checks": checks,
	})
}
