package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/windrose-labs/conductor/internal/domain"
)

// CreateRun creates a run for a task and enqueues it for a worker.
// POST /v1/runs
func (h *Handler) CreateRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.TaskID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "task_id is required"})
	}
	if req.ProjectID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "project_id is required"})
	}
	if req.RepoID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "repo_id is required"})
	}

	resp, err := h.service.CreateRun(ctx, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// ListRuns lists runs, optionally filtered to one project.
// GET /v1/runs
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		}
		limit = val
	}

	runs, err := h.service.ListRuns(ctx, c.QueryParam("project_id"), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// GetRun returns a run with its artifacts, actions, and tool invocations.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	ctx := c.Request().Context()

	detail, err := h.service.GetRunDetail(ctx, c.Param("run_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// ApplyAction applies an operator action to a run.
// POST /v1/runs/:run_id/actions
func (h *Handler) ApplyAction(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.ActionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.Action == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "action is required"})
	}
	if req.Operator == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "operator is required"})
	}
	if req.Action == domain.ActionRejectRun && req.Justification == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "justification is required to reject a run"})
	}
	if req.Action == domain.ActionGrantPolicyException && req.Override == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "override is required to grant a policy exception"})
	}

	resp, err := h.service.ApplyAction(ctx, c.Param("run_id"), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
