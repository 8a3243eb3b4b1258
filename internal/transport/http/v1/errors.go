package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/windrose-labs/conductor/internal/domain"
)

// writeError maps service errors onto HTTP status codes. A stale
// compare-and-set and state preconditions are conflicts the caller can
// observe and retry from; a policy block is a forbidden with the policy
// attached so clients can offer the exception flow.
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
