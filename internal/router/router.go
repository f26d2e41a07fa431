package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/handler"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	// Used by load balancers and monitoring to verify the service is up.
	e.GET("/healthz", handler.Health)
}

// RegisterPublic registers the unauthenticated slot catalogue.  The
// cache middleware is optional; pass nil middlewares to serve uncached.
func RegisterPublic(e *echo.Echo, s *handler.SlotHandler, mw ...echo.MiddlewareFunc) {
	g := e.Group("/v1/slots", mw...)
	g.GET("", s.List)
	g.GET("/:id", s.Get)
}
