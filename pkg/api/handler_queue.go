package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleQueueStats serves job counts by status and type plus queue timing
// aggregates.
func (s *Server) handleQueueStats(c *gin.Context) {
	stats, err := s.deps.Queue.Stats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
