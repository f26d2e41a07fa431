package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/config"
	"github.com/drivetime/lesson-booking/internal/ratelimit"
)

func limitedEcho(cfg config.RateLimitConfig) *echo.Echo {
	e := echo.New()
	e.POST("/v1/bookings", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	}, NewRateLimit(cfg, ratelimit.New()))
	return e
}

func post(e *echo.Echo, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/bookings", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitBlocksOverBudget(t *testing.T) {
	e := limitedEcho(config.RateLimitConfig{Enabled: true, Count: 2, Window: 10 * time.Second})

	for i := 0; i < 2; i++ {
		if rec := post(e, "10.0.0.1:5000"); rec.Code != http.StatusCreated {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
	rec := post(e, "10.0.0.1:5000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "10" {
		t.Fatalf("Retry-After = %q, want 10", got)
	}
}

func TestRateLimitKeysPerClient(t *testing.T) {
	e := limitedEcho(config.RateLimitConfig{Enabled: true, Count: 1, Window: 10 * time.Second})

	if rec := post(e, "10.0.0.1:5000"); rec.Code != http.StatusCreated {
		t.Fatalf("first client: status = %d", rec.Code)
	}
	if rec := post(e, "10.0.0.1:5000"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("first client second call: status = %d", rec.Code)
	}
	// A different client address has its own window.
	if rec := post(e, "10.0.0.2:5000"); rec.Code != http.StatusCreated {
		t.Fatalf("second client: status = %d", rec.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	e := limitedEcho(config.RateLimitConfig{Enabled: false, Count: 1, Window: 10 * time.Second})
	for i := 0; i < 5; i++ {
		if rec := post(e, "10.0.0.1:5000"); rec.Code != http.StatusCreated {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
}
