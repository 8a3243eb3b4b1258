// Package internalapi provides HTTP handlers for the collaborator-facing
// API: phase transitions, artifact intake, and guarded tool execution. These
// routes are only reachable from the agent runtime, never from operators.
package internalapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/service"
)

// Handler handles internal HTTP requests from the agent runtime.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new internal API handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers internal routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Run state machine
	e.POST("/internal/runs/:run_id/phase", h.TransitionPhase)
	e.POST("/internal/runs/:run_id/evaluate", h.EvaluateGates)

	// Artifact intake
	e.POST("/internal/runs/:run_id/artifacts", h.SubmitArtifact)

	// Guarded tool execution
	e.POST("/internal/runs/:run_id/tools/invoke", h.InvokeTool)
	e.POST("/internal/tool_invocations/:invocation_id/result", h.SubmitInvocationResult)

	e.GET("/internal/healthz", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// writeError maps service errors onto HTTP status codes, mirroring the
// external API's mapping so collaborators and operators see the same
// contract.
func writeError(c echo.Context, err error) error {
	var policyErr *domain.PolicyBlockedError
	switch {
	case errors.Is(err, domain.ErrRunNotFound),
		errors.Is(err, domain.ErrInvocationNotFound),
		errors.Is(err, domain.ErrArtifactNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrStaleTransition),
		errors.Is(err, domain.ErrRunTerminal),
		errors.Is(err, domain.ErrActionNotAllowed):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.As(err, &policyErr):
		return c.JSON(http.StatusForbidden, map[string]interface{}{
			"error":     policyErr.Error(),
			"policy_id": policyErr.PolicyID,
		})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
