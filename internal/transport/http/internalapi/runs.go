package internalapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/windrose-labs/conductor/internal/domain"
)

// TransitionPhase applies a collaborator-driven phase transition. The
// request carries the phase the caller believes the run is in; a stale
// belief is a conflict, not an overwrite.
// POST /internal/runs/:run_id/phase
func (h *Handler) TransitionPhase(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.TransitionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.From == "" || req.To == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "from and to are required"})
	}

	run, err := h.service.TransitionPhase(ctx, c.Param("run_id"), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// EvaluateGates evaluates the current phase's gates and advances or blocks
// the run accordingly. Safe to call at any time.
// POST /internal/runs/:run_id/evaluate
func (h *Handler) EvaluateGates(c echo.Context) error {
	ctx := c.Request().Context()

	run, err := h.service.EvaluateGatesAndTransition(ctx, c.Param("run_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}
