// Package handler serves readiness/liveness for load balancers and CI.
package handler

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handler reports process health. db and rdb may be nil in tests.
type Handler struct {
	db  *sql.DB
	rdb *redis.Client
}

// NewHandler returns a health Handler.
func NewHandler(db *sql.DB, rdb *redis.Client) *Handler {
	return &Handler{db: db, rdb: rdb}
}

// RegisterRoutes mounts the health endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", h.Live)
	r.GET("/api/v1/health", h.Ready)
}

// Live reports process liveness only.
func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready checks the backing stores.
func (h *Handler) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	deps := gin.H{}
	healthy := true
	if h.db != nil {
		start := time.Now()
		if err := h.db.PingContext(ctx); err != nil {
			deps["postgres"] = "down"
			healthy = false
		} else {
			deps["postgres"] = time.Since(start).Round(time.Millisecond).String()
		}
	}
	if h.rdb != nil {
		start := time.Now()
		if err := h.rdb.Ping(ctx).Err(); err != nil {
			deps["redis"] = "down"
			healthy = false
		} else {
			deps["redis"] = time.Since(start).Round(time.Millisecond).String()
		}
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "deps": deps})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "deps": deps})
}
