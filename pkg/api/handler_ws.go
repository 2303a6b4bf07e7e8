package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// handleWebSocket upgrades the connection and hands it to the event
// connection manager, which blocks until the socket closes.
func (s *Server) handleWebSocket(c *gin.Context) {
	if s.deps.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not available"})
		return
	}

	opts := &websocket.AcceptOptions{}
	if s.cfg != nil && s.cfg.API != nil && len(s.cfg.API.AllowedWSOrigins) > 0 {
		opts.OriginPatterns = s.cfg.API.AllowedWSOrigins
	} else {
		opts.InsecureSkipVerify = true
	}

	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	s.deps.Events.HandleConnection(c.Request.Context(), conn)
}
