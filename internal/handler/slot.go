package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/engine"
	"github.com/drivetime/lesson-booking/internal/repository"
)

// SlotHandler serves the public slot catalogue.  Responses include live
// availability so clients can render seat counts without a second call.
type SlotHandler struct {
	Slots *repository.SlotRepository
}

func NewSlotHandler(slots *repository.SlotRepository) *SlotHandler {
	return &SlotHandler{Slots: slots}
}

type slotResp struct {
	ID        uint64    `json:"id"`
	Title     string    `json:"title"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Capacity  int       `json:"capacity"`
	Booked    int       `json:"booked"`
	Available int       `json:"available"`
}

func toSlotResp(v repository.SlotWithAvailability) slotResp {
	return slotResp{
		ID:        v.ID,
		Title:     v.Title,
		StartsAt:  v.StartsAt,
		EndsAt:    v.EndsAt,
		Capacity:  v.Capacity,
		Booked:    v.Booked,
		Available: v.Available,
	}
}

// List returns upcoming slots, soonest first, with paging metadata.
// Optional ?start= and ?end= (RFC 3339) bound the slot start times.
func (h *SlotHandler) List(c echo.Context) error {
	page, per := pageParams(c)
	var filter repository.SlotFilter
	if v := c.QueryParam("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "start must be RFC 3339"})
		}
		filter.From = &t
	}
	if v := c.QueryParam("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "end must be RFC 3339"})
		}
		filter.To = &t
	}
	items, total, err := h.Slots.ListUpcoming(c.Request().Context(), time.Now().UTC(), filter, page, per)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list slots failed"})
	}
	out := make([]slotResp, 0, len(items))
	for _, v := range items {
		out = append(out, toSlotResp(v))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"items":       out,
		"page":        page,
		"per":         per,
		"total":       total,
		"total_pages": (total + per - 1) / per,
	})
}

// Get returns a single slot with availability.
func (h *SlotHandler) Get(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	v, err := h.Slots.GetByIDWithAvailability(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "slot not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load slot failed"})
	}
	return c.JSON(http.StatusOK, toSlotResp(*v))
}
