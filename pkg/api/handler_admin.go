package api

import (
	"net/http"
	"sort"

	echo "github.com/labstack/echo/v5"
)

// listToolsHandler handles GET /admin/tools: local and external tools,
// deduplicated by {server}:{name}.
func (s *Server) listToolsHandler(c *echo.Context) error {
	if s.registry == nil {
		return ok(c, map[string]any{"tools": []any{}, "total": 0})
	}
	tools := s.registry.ListAllTools(c.Request().Context())
	return ok(c, map[string]any{"tools": tools, "total": len(tools)})
}

// providersHandler handles GET /admin/providers: each adapter's effective
// priority, where that priority came from, and a live availability probe.
func (s *Server) providersHandler(c *echo.Context) error {
	if s.orch == nil {
		return ok(c, map[string]any{"providers": []any{}})
	}
	return ok(c, map[string]any{"providers": s.orch.AdapterStatus(c.Request().Context())})
}

// mcpServersHandler handles GET /admin/mcp/servers.
func (s *Server) mcpServersHandler(c *echo.Context) error {
	if s.bridge == nil {
		return ok(c, map[string]any{"servers": []any{}})
	}
	states := s.bridge.ServerStates()
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	servers := make([]any, 0, len(ids))
	for _, id := range ids {
		servers = append(servers, states[id])
	}
	return ok(c, map[string]any{"servers": servers})
}

// mcpRestartHandler handles POST /admin/mcp/servers/:name/restart.
// Restarts are manual and budgeted; an exhausted budget is a 429.
func (s *Server) mcpRestartHandler(c *echo.Context) error {
	if !s.isAdmin(c) {
		return fail(c, http.StatusForbidden, "admin access required")
	}
	if s.bridge == nil {
		return fail(c, http.StatusServiceUnavailable, "MCP bridge not available")
	}
	name := c.Param("name")
	if name == "" {
		return fail(c, http.StatusBadRequest, "server name is required")
	}
	if err := s.bridge.RestartServer(c.Request().Context(), name); err != nil {
		return failErr(c, err)
	}
	return okMessage(c, nil, "server restarted")
}

// ToggleRequest flips one server on or off without touching the file.
type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// mcpToggleHandler handles POST /admin/mcp/servers/:name/toggle.
func (s *Server) mcpToggleHandler(c *echo.Context) error {
	if !s.isAdmin(c) {
		return fail(c, http.StatusForbidden, "admin access required")
	}
	if s.bridge == nil {
		return fail(c, http.StatusServiceUnavailable, "MCP bridge not available")
	}
	name := c.Param("name")
	if name == "" {
		return fail(c, http.StatusBadRequest, "server name is required")
	}
	var req ToggleRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	if err := s.bridge.ToggleServer(c.Request().Context(), name, req.Enabled); err != nil {
		return failErr(c, err)
	}
	return okMessage(c, map[string]any{"enabled": req.Enabled}, "server toggled")
}

// mcpReloadHandler handles POST /admin/mcp/reload: full teardown,
// config re-read, re-dial.
func (s *Server) mcpReloadHandler(c *echo.Context) error {
	if !s.isAdmin(c) {
		return fail(c, http.StatusForbidden, "admin access required")
	}
	if s.bridge == nil {
		return fail(c, http.StatusServiceUnavailable, "MCP bridge not available")
	}
	if err := s.bridge.ReloadConfig(c.Request().Context()); err != nil {
		return failErr(c, err)
	}
	return okMessage(c, map[string]any{"servers": s.bridge.ServerStates()}, "config reloaded")
}
