package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/store"
)

// writeError maps store and queue errors onto HTTP statuses. Anything not
// recognised is an internal error; the detail goes to the log, not the
// client.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, queue.ErrChainExists):
		c.JSON(http.StatusConflict, gin.H{"error": "meeting already has active jobs"})
	default:
		s.log.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
