package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/quantflow/argus/pkg/database"
	"github.com/quantflow/argus/pkg/mcp"
	"github.com/quantflow/argus/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string                      `json:"status"`
	Version     string                      `json:"version"`
	Database    *database.HealthStatus      `json:"database,omitempty"`
	MCPServers  map[string]*mcp.ServerState `json:"mcp_servers,omitempty"`
	Subscribers int                         `json:"ws_connections"`
	Error       string                      `json:"error,omitempty"`
}

// healthHandler handles GET /health. Only the process's own dependencies
// gate the status: a broken MCP server is reported but never flips the
// answer, so an orchestrator probe does not restart the whole service
// over an external tool outage.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:  healthStatusHealthy,
		Version: version.Full(),
	}
	if s.connManager != nil {
		resp.Subscribers = s.connManager.ActiveConnections()
	}
	if s.bridge != nil {
		resp.MCPServers = s.bridge.ServerStates()
	}

	if s.dbClient == nil {
		resp.Status = healthStatusUnhealthy
		resp.Error = "database not configured"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
	resp.Database = dbHealth
	if err != nil {
		resp.Status = healthStatusUnhealthy
		resp.Error = err.Error()
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
