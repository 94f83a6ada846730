package api

import (
	echo "github.com/labstack/echo/v5"
)

// defaultUserID identifies callers that did not send X-User-ID.
// Authentication proper lives in front of this service; the header is
// the thin contract with that layer.
const defaultUserID = "anonymous"

func extractUserID(c *echo.Context) string {
	if user := c.Request().Header.Get("X-User-ID"); user != "" {
		return user
	}
	return defaultUserID
}

// isAdmin guards the admin endpoints. An empty configured admin id
// leaves them open (single-operator deployments).
func (s *Server) isAdmin(c *echo.Context) bool {
	admin := s.cfg.Server.AdminUserID
	return admin == "" || extractUserID(c) == admin
}
