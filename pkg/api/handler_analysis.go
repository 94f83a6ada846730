package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/quantflow/argus/pkg/models"
)

// BatchSubmitRequest carries the symbol list plus the shared run knobs.
// The embedded Symbol field is ignored; each task gets one list entry.
type BatchSubmitRequest struct {
	models.AnalysisParams
	Symbols []string `json:"symbols"`
}

// submitSingleHandler handles POST /analysis/single.
func (s *Server) submitSingleHandler(c *echo.Context) error {
	var params models.AnalysisParams
	if err := c.Bind(&params); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(params.Symbol) == "" {
		return fail(c, http.StatusBadRequest, "stock_symbol is required")
	}

	task, err := s.manager.Submit(c.Request().Context(), extractUserID(c), params)
	if err != nil {
		return failErr(c, err)
	}
	return okMessage(c, task, "分析任务已创建")
}

// submitBatchHandler handles POST /analysis/batch. All tasks launch
// concurrently; the mapping returns as soon as every record is persisted.
func (s *Server) submitBatchHandler(c *echo.Context) error {
	var req BatchSubmitRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	if len(req.Symbols) == 0 {
		return fail(c, http.StatusBadRequest, "symbols list is required")
	}

	result, err := s.manager.SubmitBatch(c.Request().Context(), extractUserID(c), req.Symbols, req.AnalysisParams)
	if err != nil {
		return failErr(c, err)
	}
	return okMessage(c, result, "批量分析任务已创建")
}

// taskStatusHandler handles GET /analysis/tasks/:id/status.
func (s *Server) taskStatusHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return fail(c, http.StatusBadRequest, "task id is required")
	}
	view, err := s.manager.Status(c.Request().Context(), taskID)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, view)
}

// taskResultHandler handles GET /analysis/tasks/:id/result.
func (s *Server) taskResultHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return fail(c, http.StatusBadRequest, "task id is required")
	}
	result, err := s.manager.Result(c.Request().Context(), taskID)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, result)
}

// cancelTaskHandler handles POST /analysis/tasks/:id/cancel.
func (s *Server) cancelTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return fail(c, http.StatusBadRequest, "task id is required")
	}
	if err := s.manager.Cancel(c.Request().Context(), taskID); err != nil {
		return failErr(c, err)
	}
	return okMessage(c, nil, "取消请求已接收")
}

// markFailedHandler handles POST /analysis/tasks/:id/mark-failed.
func (s *Server) markFailedHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return fail(c, http.StatusBadRequest, "task id is required")
	}
	if err := s.manager.MarkFailed(c.Request().Context(), taskID); err != nil {
		return failErr(c, err)
	}
	return okMessage(c, nil, "任务已标记为失败")
}

// deleteTaskHandler handles DELETE /analysis/tasks/:id.
func (s *Server) deleteTaskHandler(c *echo.Context) error {
	taskID := c.Param("id")
	if taskID == "" {
		return fail(c, http.StatusBadRequest, "task id is required")
	}
	if err := s.manager.Delete(c.Request().Context(), taskID); err != nil {
		return failErr(c, err)
	}
	return okMessage(c, nil, "任务已删除")
}

// listTasksHandler handles GET /analysis/tasks — the caller's own tasks.
func (s *Server) listTasksHandler(c *echo.Context) error {
	filters, err := parseTaskFilters(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	resp, err := s.manager.ListUserTasks(c.Request().Context(), extractUserID(c), filters)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, resp)
}

// listAllTasksHandler handles GET /analysis/tasks/all — admin view across users.
func (s *Server) listAllTasksHandler(c *echo.Context) error {
	if !s.isAdmin(c) {
		return fail(c, http.StatusForbidden, "admin access required")
	}
	filters, err := parseTaskFilters(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	resp, err := s.manager.ListAllTasks(c.Request().Context(), filters)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, resp)
}

// HistoryPage is the paginated history shape.
type HistoryPage struct {
	Items    []*models.AnalysisReport `json:"items"`
	Total    int                      `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
}

// historyHandler handles GET /analysis/user/history. Filters are pushed
// down into the report store's SQL.
func (s *Server) historyHandler(c *echo.Context) error {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}

	filters := models.ReportFilters{
		UserID:     extractUserID(c),
		Symbol:     strings.TrimSpace(c.QueryParam("symbol")),
		MarketType: strings.TrimSpace(c.QueryParam("market_type")),
		Status:     strings.TrimSpace(c.QueryParam("status")),
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	}
	if v := c.QueryParam("analysis_date"); v != "" {
		if _, err := time.Parse("2006-01-02", v); err != nil {
			return fail(c, http.StatusBadRequest, "invalid analysis_date: expected YYYY-MM-DD")
		}
		filters.AnalysisDate = v
	}

	resp, err := s.manager.History(c.Request().Context(), filters)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, &HistoryPage{
		Items:    resp.Reports,
		Total:    resp.TotalCount,
		Page:     page,
		PageSize: pageSize,
	})
}

// listZombiesHandler handles GET /analysis/admin/zombie-tasks.
func (s *Server) listZombiesHandler(c *echo.Context) error {
	if !s.isAdmin(c) {
		return fail(c, http.StatusForbidden, "admin access required")
	}
	hours, err := parseHours(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	zombies, err := s.manager.ZombieTasks(c.Request().Context(), hours)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]any{"zombie_tasks": zombies, "total": len(zombies)})
}

// cleanupZombiesHandler handles POST /analysis/admin/cleanup-zombie-tasks.
func (s *Server) cleanupZombiesHandler(c *echo.Context) error {
	if !s.isAdmin(c) {
		return fail(c, http.StatusForbidden, "admin access required")
	}
	hours, err := parseHours(c)
	if err != nil {
		return fail(c, http.StatusBadRequest, err.Error())
	}
	cleaned, err := s.manager.CleanupZombieTasks(c.Request().Context(), hours)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, map[string]any{"total_cleaned": cleaned})
}

// --- query parsing helpers ---

func parseTaskFilters(c *echo.Context) (models.TaskFilters, error) {
	filters := models.TaskFilters{Limit: 20}

	if v := c.QueryParam("status"); v != "" {
		switch models.TaskStatus(v) {
		case models.TaskStatusPending, models.TaskStatusRunning,
			models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
			filters.Status = models.TaskStatus(v)
		default:
			return filters, &queryError{"invalid status: " + v}
		}
	}
	filters.Symbol = strings.TrimSpace(c.QueryParam("symbol"))
	filters.MarketType = strings.TrimSpace(c.QueryParam("market_type"))

	if v := c.QueryParam("start_date"); v != "" {
		t, err := parseDateParam(v)
		if err != nil {
			return filters, &queryError{"invalid start_date: " + v}
		}
		filters.After = &t
	}
	if v := c.QueryParam("end_date"); v != "" {
		t, err := parseDateParam(v)
		if err != nil {
			return filters, &queryError{"invalid end_date: " + v}
		}
		filters.Before = &t
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return filters, &queryError{"invalid limit: must be 1-100"}
		}
		filters.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filters, &queryError{"invalid offset"}
		}
		filters.Offset = n
	}
	return filters, nil
}

func parsePagination(c *echo.Context) (page, pageSize int, err error) {
	page, pageSize = 1, 20
	if v := c.QueryParam("page"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			return 0, 0, &queryError{"invalid page"}
		}
		page = n
	}
	if v := c.QueryParam("page_size"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 || n > 100 {
			return 0, 0, &queryError{"invalid page_size: must be 1-100"}
		}
		pageSize = n
	}
	return page, pageSize, nil
}

func parseHours(c *echo.Context) (float64, error) {
	const defaultHours = 24
	v := c.QueryParam("max_running_hours")
	if v == "" {
		return defaultHours, nil
	}
	hours, err := strconv.ParseFloat(v, 64)
	if err != nil || hours <= 0 {
		return 0, &queryError{"invalid max_running_hours"}
	}
	return hours, nil
}

// parseDateParam accepts RFC3339 or bare dates.
func parseDateParam(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

type queryError struct{ msg string }

func (e *queryError) Error() string { return e.msg }
