package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/model"
)

// RequireRole enforces that the authenticated caller holds one of the
// given roles.  It assumes JWTAuth ran earlier in the chain; a request
// with no role in context is treated as the least privileged role and
// rejected unless that role is allowed.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	allowed := make(map[model.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !allowed[Role(c)] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
			}
			return next(c)
		}
	}
}
