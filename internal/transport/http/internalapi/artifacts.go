package internalapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/windrose-labs/conductor/internal/domain"
)

// SubmitArtifact accepts a plan, diff, review, or test report from the agent
// layer. Invalid content is stored and marked, never silently discarded.
// POST /internal/runs/:run_id/artifacts
func (h *Handler) SubmitArtifact(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.SubmitArtifactRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Type == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "type is required"})
	}

	resp, err := h.service.SubmitArtifact(ctx, c.Param("run_id"), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
