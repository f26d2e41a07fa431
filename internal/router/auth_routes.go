package router

import (
	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/handler"
	"github.com/drivetime/lesson-booking/internal/middleware"
)

// RegisterAuth registers the authentication endpoints.  Register, login
// and refresh live under /v1/auth and need no session; /v1/me requires
// a valid access token.  Logout accepts either a refresh token in the
// body or a bearer token, so it is reachable both ways.  Credential
// endpoints sit behind the admission rate limit to slow guessing.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, rateLimit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register, rateLimit)
	g.POST("/login", a.Login, rateLimit)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
	auth.POST("/logout", a.Logout)
}
