package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/ticket-rush/pkg/middleware"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// RouterConfig holds the handlers mounted by NewRouter
type RouterConfig struct {
	Queue        *QueueHandler
	Reservations *ReservationHandler
	Health       *HealthHandler
	// Idempotency guards settle. Nil disables it.
	Idempotency *middleware.IdempotencyConfig
	// RateLimit throttles token issuance per user. Nil disables it.
	RateLimit *middleware.RateLimitConfig
}

// NewRouter builds the HTTP API
func NewRouter(cfg *RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(telemetry.TracingMiddleware())

	router.GET("/health", cfg.Health.Health)
	router.GET("/ready", cfg.Health.Ready)

	v1 := router.Group("/api/v1")
	v1.Use(UserIDMiddleware())
	{
		sales := v1.Group("/sales/:saleId/queue")
		if cfg.RateLimit != nil {
			sales.POST("/tokens", middleware.RateLimiter(cfg.RateLimit), cfg.Queue.IssueToken)
		} else {
			sales.POST("/tokens", cfg.Queue.IssueToken)
		}
		sales.GET("/tokens/:tokenId", cfg.Queue.QueueStatus)

		reservations := v1.Group("/reservations")
		reservations.POST("", cfg.Reservations.ClaimSeat)
		if cfg.Idempotency != nil {
			reservations.POST("/:id/settle", middleware.Idempotency(cfg.Idempotency), cfg.Reservations.Settle)
		} else {
			reservations.POST("/:id/settle", cfg.Reservations.Settle)
		}
	}

	return router
}
