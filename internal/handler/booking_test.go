package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/engine"
)

func TestBookingErrorStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", engine.ErrNotFound, http.StatusNotFound},
		{"duplicate", engine.ErrDuplicate, http.StatusConflict},
		{"slot full", engine.ErrSlotFull, http.StatusConflict},
		{"same slot", engine.ErrSameSlot, http.StatusConflict},
		{"forbidden", engine.ErrForbidden, http.StatusForbidden},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	e := echo.New()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := bookingError(c, tc.err); err != nil {
				t.Fatalf("bookingError returned %v", err)
			}
			if rec.Code != tc.want {
				t.Fatalf("%v mapped to %d, want %d", tc.err, rec.Code, tc.want)
			}
		})
	}
}
