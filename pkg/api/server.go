// Package api is the HTTP surface: analysis task submission and lookup,
// the per-task progress WebSocket, agent record configuration, and the
// admin endpoints for providers and MCP servers.
package api

import (
	"context"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/quantflow/argus/pkg/agents"
	"github.com/quantflow/argus/pkg/config"
	"github.com/quantflow/argus/pkg/database"
	"github.com/quantflow/argus/pkg/events"
	"github.com/quantflow/argus/pkg/market"
	"github.com/quantflow/argus/pkg/mcp"
	"github.com/quantflow/argus/pkg/tasks"
	"github.com/quantflow/argus/pkg/tools"
)

// Server wires the component facades behind the HTTP routes. Optional
// collaborators (bridge, orchestrator, registry, connManager) may be nil;
// their endpoints then answer with empty data or 503.
type Server struct {
	echo    *echo.Echo
	httpSrv *http.Server

	cfg         *config.Config
	dbClient    *database.Client
	manager     *tasks.Manager
	records     *agents.Store
	connManager *events.ConnectionManager
	orch        *market.Orchestrator
	registry    *tools.Registry
	bridge      *mcp.Bridge

	logger *slog.Logger
}

// NewServer assembles the echo application and registers all routes.
func NewServer(cfg *config.Config, dbClient *database.Client, manager *tasks.Manager,
	records *agents.Store, connManager *events.ConnectionManager) *Server {
	s := &Server{
		echo:        echo.New(),
		cfg:         cfg,
		dbClient:    dbClient,
		manager:     manager,
		records:     records,
		connManager: connManager,
		logger:      slog.Default().With("component", "api"),
	}
	s.echo.Use(requestLogger(), recoverPanics(), corsHeaders(cfg.Server.AllowedOrigins), securityHeaders())
	s.registerRoutes()
	return s
}

// SetOrchestrator enables the /admin/providers endpoint.
func (s *Server) SetOrchestrator(o *market.Orchestrator) { s.orch = o }

// SetToolRegistry enables the /admin/tools listing.
func (s *Server) SetToolRegistry(r *tools.Registry) { s.registry = r }

// SetBridge enables the MCP admin endpoints.
func (s *Server) SetBridge(b *mcp.Bridge) { s.bridge = b }

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/health", s.healthHandler)

	analysis := e.Group("/analysis")
	analysis.POST("/single", s.submitSingleHandler)
	analysis.POST("/batch", s.submitBatchHandler)
	analysis.GET("/tasks", s.listTasksHandler)
	analysis.GET("/tasks/all", s.listAllTasksHandler)
	analysis.GET("/tasks/:id/status", s.taskStatusHandler)
	analysis.GET("/tasks/:id/result", s.taskResultHandler)
	analysis.POST("/tasks/:id/cancel", s.cancelTaskHandler)
	analysis.POST("/tasks/:id/mark-failed", s.markFailedHandler)
	analysis.DELETE("/tasks/:id", s.deleteTaskHandler)
	analysis.GET("/user/history", s.historyHandler)
	analysis.GET("/admin/zombie-tasks", s.listZombiesHandler)
	analysis.POST("/admin/cleanup-zombie-tasks", s.cleanupZombiesHandler)
	analysis.GET("/ws/task/:id", s.wsTaskHandler)

	e.GET("/agent-configs/:phase", s.getAgentConfigHandler)
	e.PUT("/agent-configs/:phase", s.putAgentConfigHandler)

	admin := e.Group("/admin")
	admin.GET("/tools", s.listToolsHandler)
	admin.GET("/providers", s.providersHandler)
	admin.GET("/mcp/servers", s.mcpServersHandler)
	admin.POST("/mcp/servers/:name/restart", s.mcpRestartHandler)
	admin.POST("/mcp/servers/:name/toggle", s.mcpToggleHandler)
	admin.POST("/mcp/reload", s.mcpReloadHandler)
}

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ServeHTTP makes the server mountable under httptest for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
