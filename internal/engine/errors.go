// Package engine owns the booking lifecycle: creating, cancelling,
// restoring and rescheduling bookings while maintaining the slot
// capacity invariant.  All mutations run inside a single store
// transaction so that concurrent requests racing for the last seat are
// serialized by the store, never by optimistic pre-checks.
package engine

import "errors"

// Sentinel errors returned by engine operations.  Handlers translate
// these into HTTP status codes with errors.Is; raw store errors never
// cross the engine boundary for expected races.
var (
	// ErrNotFound signals a missing slot, booking or user.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate signals an active booking already exists for the
	// same (user, slot) pair.  Store-level unique violations on the
	// active-booking index are converted to this error.
	ErrDuplicate = errors.New("already booked")
	// ErrSlotFull signals the slot's capacity is exhausted.
	ErrSlotFull = errors.New("slot full")
	// ErrSameSlot rejects a reschedule onto the booking's current slot.
	ErrSameSlot = errors.New("booking already on that slot")
	// ErrForbidden signals the requester is neither the owning subject
	// nor privileged to override.
	ErrForbidden = errors.New("forbidden")
)
