package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/quantflow/argus/pkg/agents"
	"github.com/quantflow/argus/pkg/mcp"
	"github.com/quantflow/argus/pkg/store"
)

// failErr maps component errors to HTTP error responses: validation
// failures are the caller's fault, missing records are 404, an exhausted
// restart budget is a rate problem, anything else is a 500.
func failErr(c *echo.Context, err error) error {
	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		return fail(c, http.StatusBadRequest, validErr.Error())
	}
	var recordErr *agents.ValidationError
	if errors.As(err, &recordErr) {
		return fail(c, http.StatusBadRequest, recordErr.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return fail(c, http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, mcp.ErrRestartBudgetExhausted) {
		return fail(c, http.StatusTooManyRequests, err.Error())
	}

	slog.Error("Unexpected handler error", "path", c.Request().URL.Path, "error", err)
	return fail(c, http.StatusInternalServerError, "internal server error")
}
