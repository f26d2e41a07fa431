package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/calendar"
	"github.com/drivetime/lesson-booking/internal/engine"
	"github.com/drivetime/lesson-booking/internal/middleware"
	"github.com/drivetime/lesson-booking/internal/model"
	"github.com/drivetime/lesson-booking/internal/repository"
)

// AdminHandler serves the operator console: slot management, bookings
// on behalf of students, and the calendar importer.  Routes are guarded
// by RequireRole(instructor, admin) in the router.
type AdminHandler struct {
	Engine *engine.Engine
	Slots  *repository.SlotRepository
	Store  *repository.BookingStore
	Audit  *repository.AuditRepository
	Users  *repository.UserRepo
	Syncer *calendar.Syncer // nil when no feed is configured
}

func NewAdminHandler(e *engine.Engine, slots *repository.SlotRepository, store *repository.BookingStore,
	audit *repository.AuditRepository, users *repository.UserRepo, syncer *calendar.Syncer) *AdminHandler {
	return &AdminHandler{Engine: e, Slots: slots, Store: store, Audit: audit, Users: users, Syncer: syncer}
}

// ----- DTOs -----

type slotReq struct {
	Title    string    `json:"title"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Capacity int       `json:"capacity"`
}

func (r slotReq) validate() string {
	if r.Title == "" {
		return "title required"
	}
	if r.StartsAt.IsZero() || r.EndsAt.IsZero() || !r.EndsAt.After(r.StartsAt) {
		return "ends_at must be after starts_at"
	}
	if r.Capacity < 1 {
		return "capacity must be at least 1"
	}
	return ""
}

type adminCreateBookingReq struct {
	UserID          uint64  `json:"user_id"`
	SlotID          uint64  `json:"slot_id"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	PickupLocation  *string `json:"pickup_location,omitempty"`
	PickupSource    *string `json:"pickup_source,omitempty"`
}

// Dashboard summarizes service activity for operators.
func (h *AdminHandler) Dashboard(c echo.Context) error {
	ctx := c.Request().Context()
	total, active, cancelled, err := h.Store.BookingTotals(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load totals failed"})
	}
	slotTotal, slotUpcoming, err := h.Slots.Counts(ctx, time.Now().UTC())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load slot totals failed"})
	}
	recent, err := h.Audit.ListRecent(ctx, 20)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load audit failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"slots":    echo.Map{"total": slotTotal, "upcoming": slotUpcoming},
		"bookings": echo.Map{"total": total, "active": active, "cancelled": cancelled},
		"recent":   recent,
	})
}

// ListSlots returns slots with availability for the operator console.
// ?available_only=true hides fully booked slots.
func (h *AdminHandler) ListSlots(c echo.Context) error {
	page, per := pageParams(c)
	filter := repository.SlotFilter{
		AvailableOnly: c.QueryParam("available_only") == "true" || c.QueryParam("availableOnly") == "true",
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
		"items": out,
		"page":  page,
		"per":   per,
		"total": total,
	})
}

// CreateSlot adds a bookable slot.
func (h *AdminHandler) CreateSlot(c echo.Context) error {
	var req slotReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	slot := model.Slot{Title: req.Title, StartsAt: req.StartsAt, EndsAt: req.EndsAt, Capacity: req.Capacity}
	if err := h.Slots.Create(c.Request().Context(), &slot); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create slot failed"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"id": slot.ID})
}

// UpdateSlot rewrites a slot.  Shrinking capacity under the number of
// active bookings is refused; cancel bookings first.
func (h *AdminHandler) UpdateSlot(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	var req slotReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if msg := req.validate(); msg != "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
	}

	slot := model.Slot{ID: id, Title: req.Title, StartsAt: req.StartsAt, EndsAt: req.EndsAt, Capacity: req.Capacity}
	err := h.Slots.Update(c.Request().Context(), &slot)
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, engine.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "slot not found"})
	case errors.Is(err, repository.ErrCapacityBelowActive):
		return c.JSON(http.StatusConflict, echo.Map{"error": "capacity below active bookings"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update slot failed"})
	}
}

// DeleteSlot removes a slot with no active bookings.
func (h *AdminHandler) DeleteSlot(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	err := h.Slots.Delete(c.Request().Context(), id)
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, engine.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "slot not found"})
	case errors.Is(err, repository.ErrSlotHasBookings):
		return c.JSON(http.StatusConflict, echo.Map{"error": "slot has active bookings"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete slot failed"})
	}
}

// Attendees lists who holds the active bookings on a slot.
func (h *AdminHandler) Attendees(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid slot id"})
	}
	if _, err := h.Slots.GetByID(c.Request().Context(), id); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "slot not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load slot failed"})
	}
	attendees, err := h.Store.Attendees(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load attendees failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"slot_id": id, "attendees": attendees})
}

// CreateBooking books a slot on behalf of a student.
func (h *AdminHandler) CreateBooking(c echo.Context) error {
	var req adminCreateBookingReq
	if err := c.Bind(&req); err != nil || req.UserID == 0 || req.SlotID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id and slot_id required"})
	}
	if req.DurationMinutes != nil && *req.DurationMinutes < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "duration_minutes must be positive"})
	}

	b, err := h.Engine.Create(c.Request().Context(), req.UserID, req.SlotID, engine.CreateOptions{
		DurationMinutes: req.DurationMinutes,
		PickupLocation:  req.PickupLocation,
		PickupSource:    req.PickupSource,
	})
	if err != nil {
		return bookingError(c, err)
	}
	return c.JSON(http.StatusCreated, toBookingResp(b))
}

// CancelBooking cancels any booking, recorded as an operator action.
func (h *AdminHandler) CancelBooking(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	if err := h.Engine.Cancel(c.Request().Context(), middleware.UserID(c), id, true); err != nil {
		return bookingError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UserBookings lists one student's bookings for operators.
func (h *AdminHandler) UserBookings(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid user id"})
	}
	page, per := pageParams(c)
	pageData, err := h.Engine.List(c.Request().Context(), engine.ListFilter{
		UserID: id,
		Scope:  engine.ParseScope(c.QueryParam("scope")),
		Page:   page,
		Per:    per,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list bookings failed"})
	}
	return c.JSON(http.StatusOK, pageData)
}

// ListUsers returns all accounts without credential material.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	users, err := h.Users.List(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list users failed"})
	}
	out := make([]userPart, 0, len(users))
	for _, u := range users {
		out = append(out, userPart{ID: u.ID, Email: u.Email, Role: string(u.Role)})
	}
	return c.JSON(http.StatusOK, echo.Map{"users": out})
}

// ResyncCalendar pulls the ICS feed and imports unseen events as slots.
func (h *AdminHandler) ResyncCalendar(c echo.Context) error {
	if h.Syncer == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "calendar feed not configured"})
	}
	res, err := h.Syncer.Resync(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "calendar sync failed"})
	}
	return c.JSON(http.StatusOK, res)
}
