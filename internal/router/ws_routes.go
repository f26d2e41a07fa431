package router

import (
	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/handler"
	"github.com/drivetime/lesson-booking/internal/middleware"
	"github.com/drivetime/lesson-booking/internal/model"
)

// RegisterWS registers the realtime availability sockets.  The student
// socket is open to any authenticated principal; the instructor socket
// is limited to override roles.
func RegisterWS(e *echo.Echo, h *handler.WSHandler, jwtSecret string) {
	g := e.Group("/ws", middleware.JWTAuth(jwtSecret))
	g.GET("/student", h.Student)
	g.GET("/instructor", h.Instructor,
		middleware.RequireRole(model.RoleInstructor, model.RoleAdmin))
}
