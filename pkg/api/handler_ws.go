package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsTaskHandler handles GET /analysis/ws/task/:id. It upgrades the
// connection and hands it to the ConnectionManager, which sends the
// connection_established handshake and then forwards every progress
// event for the task. Blocks until the client closes.
func (s *Server) wsTaskHandler(c *echo.Context) error {
	if s.connManager == nil {
		return fail(c, http.StatusServiceUnavailable, "progress channel not available")
	}
	taskID := c.Param("id")
	if taskID == "" {
		return fail(c, http.StatusBadRequest, "task id is required")
	}

	opts := &websocket.AcceptOptions{}
	if patterns := s.cfg.Server.AllowedWSOrigins; len(patterns) > 0 {
		opts.OriginPatterns = patterns
	} else {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		return err
	}

	// HandleConnection blocks until the WebSocket closes. A disconnect
	// only drops the subscription; the task keeps running.
	s.connManager.HandleConnection(c.Request().Context(), conn, taskID)
	return nil
}
