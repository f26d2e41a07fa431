package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/engine"
	"github.com/drivetime/lesson-booking/internal/middleware"
	"github.com/drivetime/lesson-booking/internal/model"
	"github.com/drivetime/lesson-booking/internal/repository"
)

// BookingHandler exposes the student-facing booking lifecycle.  All
// decisions live in the engine; the handler binds requests, resolves
// the caller and translates engine errors to HTTP statuses.
type BookingHandler struct {
	Engine *engine.Engine
	Store  *repository.BookingStore
	Audit  *repository.AuditRepository
}

func NewBookingHandler(e *engine.Engine, store *repository.BookingStore, audit *repository.AuditRepository) *BookingHandler {
	return &BookingHandler{Engine: e, Store: store, Audit: audit}
}

type createBookingReq struct {
	SlotID          uint64  `json:"slot_id"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	PickupLocation  *string `json:"pickup_location,omitempty"`
	PickupSource    *string `json:"pickup_source,omitempty"`
}

type rescheduleReq struct {
	SlotID uint64 `json:"slot_id"`
}

type bookingResp struct {
	ID              uint64     `json:"id"`
	SlotID          uint64     `json:"slot_id"`
	UserID          uint64     `json:"user_id"`
	Status          string     `json:"status"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	ActualEndsAt    *time.Time `json:"actual_ends_at,omitempty"`
	PickupLocation  *string    `json:"pickup_location,omitempty"`
	PickupSource    *string    `json:"pickup_source,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toBookingResp(b *model.Booking) bookingResp {
	return bookingResp{
		ID:              b.ID,
		SlotID:          b.SlotID,
		UserID:          b.UserID,
		Status:          string(b.State()),
		DurationMinutes: b.DurationMinutes,
		ActualEndsAt:    b.ActualEndsAt,
		PickupLocation:  b.PickupLocation,
		PickupSource:    b.PickupSource,
		CreatedAt:       b.CreatedAt,
	}
}

// Create books a seat on a slot for the caller.
func (h *BookingHandler) Create(c echo.Context) error {
	var req createBookingReq
	if err := c.Bind(&req); err != nil || req.SlotID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "slot_id required"})
	}
	if req.DurationMinutes != nil && *req.DurationMinutes < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "duration_minutes must be positive"})
	}

	b, err := h.Engine.Create(c.Request().Context(), middleware.UserID(c), req.SlotID, engine.CreateOptions{
		DurationMinutes: req.DurationMinutes,
		PickupLocation:  req.PickupLocation,
		PickupSource:    req.PickupSource,
	})
	if err != nil {
		return bookingError(c, err)
	}
	return c.JSON(http.StatusCreated, toBookingResp(b))
}

// Cancel releases the caller's booking.  Cancelling a booking that is
// missing or already cancelled succeeds with no effect.
func (h *BookingHandler) Cancel(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	err := h.Engine.Cancel(c.Request().Context(), middleware.UserID(c), id, middleware.Role(c).CanOverride())
	if err != nil {
		return bookingError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Restore re-activates a cancelled booking if the slot still has room.
func (h *BookingHandler) Restore(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	err := h.Engine.Restore(c.Request().Context(), middleware.UserID(c), id, middleware.Role(c).CanOverride())
	if err != nil {
		return bookingError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Reschedule moves the caller's booking to another slot.
func (h *BookingHandler) Reschedule(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	var req rescheduleReq
	if err := c.Bind(&req); err != nil || req.SlotID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "slot_id required"})
	}
	err := h.Engine.Reschedule(c.Request().Context(), middleware.UserID(c), id, req.SlotID, middleware.Role(c).CanOverride())
	if err != nil {
		return bookingError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// List returns the caller's bookings filtered by ?scope= and paged.
func (h *BookingHandler) List(c echo.Context) error {
	page, per := pageParams(c)
	pageData, err := h.Engine.List(c.Request().Context(), engine.ListFilter{
		UserID: middleware.UserID(c),
		Scope:  engine.ParseScope(c.QueryParam("scope")),
		Page:   page,
		Per:    per,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list bookings failed"})
	}
	return c.JSON(http.StatusOK, pageData)
}

// History returns the audit trail for one booking.  Students only see
// their own bookings; override roles see any.
func (h *BookingHandler) History(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}

	b, err := h.Store.Booking(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load booking failed"})
	}
	if b.UserID != middleware.UserID(c) && !middleware.Role(c).CanOverride() {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}

	entries, err := h.Audit.ListByBooking(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load history failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"booking_id": id, "events": entries})
}

// bookingError maps engine sentinels onto HTTP statuses.
func bookingError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, engine.ErrDuplicate):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already booked"})
	case errors.Is(err, engine.ErrSlotFull):
		return c.JSON(http.StatusConflict, echo.Map{"error": "slot full"})
	case errors.Is(err, engine.ErrSameSlot):
		// A no-op move is a conflict like duplicate/full: the caller
		// may retry with a different target.
		return c.JSON(http.StatusConflict, echo.Map{"error": "already on that slot"})
	case errors.Is(err, engine.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "booking operation failed"})
	}
}
