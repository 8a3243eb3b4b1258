package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/windrose-labs/conductor/internal/domain"
)

// CreateOverride grants a standalone override, outside any run's exception
// flow.
// POST /v1/overrides
func (h *Handler) CreateOverride(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.CreateOverrideRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if req.Kind == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "kind is required"})
	}
	if req.Scope == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "scope is required"})
	}
	if req.ProjectID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "project_id is required"})
	}
	if req.Operator == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "operator is required"})
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "expires_at is in the past"})
	}

	override, err := h.service.CreateOverride(ctx, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, override)
}

// ListOverrides lists a project's overrides, expired ones included.
// GET /v1/overrides
func (h *Handler) ListOverrides(c echo.Context) error {
	ctx := c.Request().Context()

	projectID := c.QueryParam("project_id")
	if projectID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "project_id is required"})
	}

	overrides, err := h.service.ListOverrides(ctx, projectID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"overrides": overrides})
}
