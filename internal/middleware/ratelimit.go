package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/config"
	"github.com/drivetime/lesson-booking/internal/ratelimit"
)

// NewRateLimit returns an Echo middleware enforcing the booking
// admission window.  Requests are keyed per principal and route, so one
// client hammering POST /v1/bookings cannot starve another client or
// another endpoint.  Unauthenticated requests fall back to the client
// IP.  A denied request does not consume window budget.
func NewRateLimit(cfg config.RateLimitConfig, limiter *ratelimit.Limiter) echo.MiddlewareFunc {
	if !cfg.Enabled || limiter == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}
	retryAfter := strconv.Itoa(int(math.Ceil(cfg.Window.Seconds())))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(c)
			if !limiter.CheckAndRecord(key, cfg.Count, cfg.Window) {
				c.Response().Header().Set("Retry-After", retryAfter)
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       "too_many_requests",
					"message":     "rate limit exceeded",
					"retry_after": retryAfter,
				})
			}
			return next(c)
		}
	}
}

func rateKey(c echo.Context) string {
	who := c.RealIP()
	if uid := UserID(c); uid != 0 {
		who = fmt.Sprintf("u%d", uid)
	}
	return who + "|" + c.Request().Method + " " + c.Path()
}
