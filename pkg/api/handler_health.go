package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/recaphq/recap/pkg/database"
)

// handleHealth reports database reachability and worker pool state.
// Degraded components yield 503 so load balancers stop routing here.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, dbErr := database.Health(ctx, s.deps.DB.DB)

	body := gin.H{
		"status":   "healthy",
		"database": dbHealth,
	}
	healthy := dbErr == nil

	if s.deps.Pool != nil {
		pool := s.deps.Pool.Health()
		body["pool"] = pool
		healthy = healthy && pool.IsHealthy
	}
	if s.deps.Events != nil {
		body["ws_connections"] = s.deps.Events.ActiveConnections()
	}

	if !healthy {
		body["status"] = "unhealthy"
		if dbErr != nil {
			body["error"] = dbErr.Error()
		}
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
