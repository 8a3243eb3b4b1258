package internalapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/windrose-labs/conductor/internal/domain"
)

// InvokeTool runs the policy check for a tool call and records the attempt.
// A denial is a 403 carrying the blocking policy; a required denial also
// parks the run for an operator.
// POST /internal/runs/:run_id/tools/invoke
func (h *Handler) InvokeTool(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.ToolInvokeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Tool == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "tool is required"})
	}

	resp, err := h.service.InvokeTool(ctx, c.Param("run_id"), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// SubmitInvocationResult records the outcome of an executed tool call. A
// result for an already finalized invocation returns the stored state.
// POST /internal/tool_invocations/:invocation_id/result
func (h *Handler) SubmitInvocationResult(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.InvocationResultRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Status != "completed" && req.Status != "failed" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be completed or failed"})
	}

	resp, err := h.service.SubmitInvocationResult(ctx, c.Param("invocation_id"), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
