package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/drivetime/lesson-booking/internal/hub"
	"github.com/drivetime/lesson-booking/internal/model"
)

// Recorder appends a lifecycle event to the audit trail.  Failures are
// the recorder's problem: the booking mutation has already committed
// and is the system of record, so Record never returns an error.
type Recorder interface {
	Record(ctx context.Context, ev model.AuditEvent)
}

// Broadcaster fans a message out to live subscribers.  Publish must
// never block on slow clients and never fails the calling operation.
type Broadcaster interface {
	Publish(aud hub.Audience, msg hub.Message)
}

// Engine implements the booking lifecycle over a Store.  One instance
// is created at startup and shared by all request handlers; it holds no
// per-request state.
type Engine struct {
	store Store
	audit Recorder
	hub   Broadcaster
	now   func() time.Time
}

// New wires an Engine.  audit and broadcaster may not be nil; pass
// no-op implementations when a side channel is not wanted.
func New(store Store, audit Recorder, broadcaster Broadcaster) *Engine {
	if store == nil || audit == nil || broadcaster == nil {
		panic("nil dependency passed to engine.New")
	}
	return &Engine{store: store, audit: audit, hub: broadcaster, now: time.Now}
}

// CreateOptions carries the optional per-booking fields a caller may
// set at creation time.
type CreateOptions struct {
	DurationMinutes *int
	PickupLocation  *string
	PickupSource    *string
}

// Create books a seat on a slot for the given user.  Within one store
// transaction it locks the slot row, rejects duplicates (ErrDuplicate)
// and full slots (ErrSlotFull), then inserts the active booking.  On
// success an audit event and a slot.booked broadcast are emitted.
func (e *Engine) Create(ctx context.Context, userID, slotID uint64, opts CreateOptions) (*model.Booking, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	slot, err := tx.SlotForUpdate(ctx, slotID)
	if err != nil {
		return nil, err
	}

	dup, err := tx.HasActiveBooking(ctx, userID, slotID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, ErrDuplicate
	}

	active, err := tx.ActiveCount(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if active >= slot.Capacity {
		return nil, ErrSlotFull
	}

	b := &model.Booking{
		SlotID:          slotID,
		UserID:          userID,
		DurationMinutes: opts.DurationMinutes,
		PickupLocation:  opts.PickupLocation,
		PickupSource:    opts.PickupSource,
		CreatedAt:       e.now().UTC(),
	}
	if opts.DurationMinutes != nil {
		end := slot.StartsAt.Add(time.Duration(*opts.DurationMinutes) * time.Minute)
		b.ActualEndsAt = &end
	}
	// The partial unique index on active (user_id, slot_id) is the
	// backstop for create/create races the lock did not cover.
	if err := tx.InsertBooking(ctx, b); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.audit.Record(ctx, model.AuditEvent{
		Type:      model.AuditBooked,
		UserID:    &userID,
		SlotID:    &slotID,
		BookingID: &b.ID,
	})
	e.hub.Publish(hub.AudienceAll, slotMessage(hub.ActionSlotBooked, slot))
	return b, nil
}

// Cancel soft-cancels a booking.  Missing or already-cancelled bookings
// are treated as success (idempotent cancel); in that case no audit
// event or broadcast is emitted.  Requester must own the booking or
// hold override privilege.
func (e *Engine) Cancel(ctx context.Context, requesterID, bookingID uint64, override bool) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	b, err := tx.BookingByID(ctx, bookingID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if b.UserID != requesterID && !override {
		return ErrForbidden
	}
	if b.Cancellation != nil {
		return nil
	}

	slot, err := tx.Slot(ctx, b.SlotID)
	if err != nil {
		return err
	}
	if err := tx.MarkCancelled(ctx, b.ID, model.Cancellation{At: e.now().UTC(), By: requesterID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	evType := model.AuditStudentCancelled
	if requesterID != b.UserID {
		evType = model.AuditAdminCancelled
	}
	e.audit.Record(ctx, model.AuditEvent{
		Type:      evType,
		UserID:    &b.UserID,
		SlotID:    &b.SlotID,
		BookingID: &b.ID,
	})
	// Freeing a seat changes slot-level availability too, so the slot
	// is re-advertised right after the cancellation notice.
	e.hub.Publish(hub.AudienceAll, slotMessage(hub.ActionSlotCancelled, slot))
	e.hub.Publish(hub.AudienceAll, slotMessage(hub.ActionSlotCreated, slot))
	return nil
}

// Restore reactivates a cancelled booking after re-checking the slot's
// current occupancy.  Missing or already-active bookings are success
// no-ops; a full slot yields ErrSlotFull.
func (e *Engine) Restore(ctx context.Context, requesterID, bookingID uint64, override bool) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	b, err := tx.BookingByID(ctx, bookingID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if b.UserID != requesterID && !override {
		return ErrForbidden
	}
	if b.Cancellation == nil {
		return nil
	}

	slot, err := tx.SlotForUpdate(ctx, b.SlotID)
	if err != nil {
		return err
	}
	active, err := tx.ActiveCount(ctx, b.SlotID)
	if err != nil {
		return err
	}
	if active >= slot.Capacity {
		return ErrSlotFull
	}
	if err := tx.MarkActive(ctx, b.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	e.audit.Record(ctx, model.AuditEvent{
		Type:      model.AuditRestored,
		UserID:    &b.UserID,
		SlotID:    &b.SlotID,
		BookingID: &b.ID,
	})
	e.hub.Publish(hub.AudienceAll, slotMessage(hub.ActionSlotBooked, slot))
	return nil
}

// Reschedule retargets an active booking onto a new slot as a single
// store mutation, so the booking is observed on exactly one slot at all
// times.  The target slot's capacity and the requester's existing
// bookings on it are checked under the target's row lock.
func (e *Engine) Reschedule(ctx context.Context, requesterID, bookingID, newSlotID uint64, override bool) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	b, err := tx.BookingByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if b.UserID != requesterID && !override {
		return ErrForbidden
	}
	if b.Cancellation != nil {
		return ErrNotFound
	}
	if b.SlotID == newSlotID {
		return ErrSameSlot
	}

	// The vacated slot only loses a booking, which cannot violate the
	// capacity invariant, so it is read without a lock.
	oldSlot, err := tx.Slot(ctx, b.SlotID)
	if err != nil {
		return err
	}
	newSlot, err := tx.SlotForUpdate(ctx, newSlotID)
	if err != nil {
		return err
	}

	dup, err := tx.HasActiveBooking(ctx, b.UserID, newSlotID)
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicate
	}
	active, err := tx.ActiveCount(ctx, newSlotID)
	if err != nil {
		return err
	}
	if active >= newSlot.Capacity {
		return ErrSlotFull
	}

	var actualEnd *time.Time
	if b.DurationMinutes != nil {
		end := newSlot.StartsAt.Add(time.Duration(*b.DurationMinutes) * time.Minute)
		actualEnd = &end
	}
	if err := tx.Retarget(ctx, b.ID, newSlotID, actualEnd); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	e.audit.Record(ctx, model.AuditEvent{
		Type:      model.AuditRescheduled,
		UserID:    &b.UserID,
		SlotID:    &newSlotID,
		BookingID: &b.ID,
	})
	e.hub.Publish(hub.AudienceAll, slotMessage(hub.ActionSlotCreated, oldSlot))
	e.hub.Publish(hub.AudienceAll, slotMessage(hub.ActionSlotBooked, newSlot))
	return nil
}

// List returns one page of bookings for a user or slot.  Page and per
// are clamped to sane bounds before hitting the store.
func (e *Engine) List(ctx context.Context, f ListFilter) (BookingPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Per < 1 {
		f.Per = 20
	}
	if f.Per > 100 {
		f.Per = 100
	}
	if f.Now.IsZero() {
		f.Now = e.now().UTC()
	}
	if f.Scope == "" {
		f.Scope = ScopeUpcoming
	}
	return e.store.ListBookings(ctx, f)
}

func slotMessage(action string, s *model.Slot) hub.Message {
	starts, ends := s.StartsAt, s.EndsAt
	return hub.Message{
		Action:   action,
		SlotID:   s.ID,
		Title:    s.Title,
		StartsAt: &starts,
		EndsAt:   &ends,
		Capacity: s.Capacity,
	}
}

// NopRecorder discards audit events.  Used in tests and tooling.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, model.AuditEvent) {}

// LogRecorder is the fallback recorder when the audit store is
// unavailable: events go to the process log instead of vanishing.
type LogRecorder struct{}

func (LogRecorder) Record(_ context.Context, ev model.AuditEvent) {
	log.Printf("audit (no store): type=%s booking=%v slot=%v user=%v", ev.Type, ev.BookingID, ev.SlotID, ev.UserID)
}
