// Package http provides the two HTTP listeners of the control plane.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/windrose-labs/conductor/internal/service"
	"github.com/windrose-labs/conductor/internal/transport/http/internalapi"
	v1 "github.com/windrose-labs/conductor/internal/transport/http/v1"
)

// NewExternalServer creates and configures the external-facing HTTP server.
// This server handles the operator API: run lifecycle, actions, overrides,
// and the event stream.
func NewExternalServer(svc *service.Service, streams *v1.StreamHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	streams.RegisterRoutes(e)

	return e
}

// NewInternalServer creates and configures the internal-facing HTTP server.
// This server handles requests from the agent runtime and exposes metrics.
func NewInternalServer(svc *service.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Handlers
	internalHandler := internalapi.NewHandler(svc)

	// Register Routes
	internalHandler.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
