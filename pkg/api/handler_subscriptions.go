package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleSubscriptions serves the subscription manager snapshot plus the
// recent lifecycle event trail. 503 when the manager is not running (one-off
// CLI modes).
func (s *Server) handleSubscriptions(c *gin.Context) {
	if s.deps.Subs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "subscription manager not running"})
		return
	}

	status, err := s.deps.Subs.Status(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	body := gin.H{"status": status}
	if s.deps.SubEvents != nil {
		events, err := s.deps.SubEvents.Recent(c.Request.Context(), 20)
		if err != nil {
			s.writeError(c, err)
			return
		}
		body["recent_events"] = events
	}
	c.JSON(http.StatusOK, body)
}
