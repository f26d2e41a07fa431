package router

import (
	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/handler"
	"github.com/drivetime/lesson-booking/internal/middleware"
)

// RegisterBookings registers the student booking lifecycle under /v1.
// Every route requires a valid JWT; mutations additionally pass the
// admission rate limit so one client cannot monopolize contended slots.
func RegisterBookings(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, rateLimit echo.MiddlewareFunc) {
	g := e.Group("/v1/bookings", middleware.JWTAuth(jwtSecret))

	g.GET("", h.List)
	g.GET("/:id/history", h.History)

	g.POST("", h.Create, rateLimit)
	g.POST("/:id/cancel", h.Cancel, rateLimit)
	g.POST("/:id/restore", h.Restore, rateLimit)
	g.POST("/:id/reschedule", h.Reschedule, rateLimit)
}
