package router

import (
	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/handler"
	"github.com/drivetime/lesson-booking/internal/middleware"
	"github.com/drivetime/lesson-booking/internal/model"
)

// RegisterAdmin registers the operator console under /v1/admin.  All
// routes require a JWT carrying the instructor or admin role.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleInstructor, model.RoleAdmin),
	)

	g.GET("/dashboard", h.Dashboard)

	g.GET("/slots", h.ListSlots)
	g.POST("/slots", h.CreateSlot)
	g.PUT("/slots/:id", h.UpdateSlot)
	g.DELETE("/slots/:id", h.DeleteSlot)
	g.GET("/slots/:id/attendees", h.Attendees)

	g.POST("/bookings", h.CreateBooking)
	g.POST("/bookings/:id/cancel", h.CancelBooking)

	g.GET("/users", h.ListUsers)
	g.GET("/users/:id/bookings", h.UserBookings)

	g.POST("/calendar/resync", h.ResyncCalendar)
}
