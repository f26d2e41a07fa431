package model

import "time"

// BookingState is the closed set of booking lifecycle states.
type BookingState string

const (
	// BookingActive marks a live reservation that counts against the
	// slot's capacity.
	BookingActive BookingState = "active"
	// BookingCancelled marks a soft-cancelled reservation.  Cancelled
	// bookings keep their row so they can be restored and audited.
	BookingCancelled BookingState = "cancelled"
)

// Cancellation records who cancelled a booking and when.  A booking is
// cancelled if and only if it carries a Cancellation; the pair can never
// be half-set, which keeps "cancelled_at set but still active" states
// unrepresentable.
type Cancellation struct {
	At time.Time // bookings.cancelled_at
	By uint64    // bookings.cancelled_by
}

// Booking is a subject's reservation against exactly one slot.
//
// Fields:
//  ID              – primary key identifier.
//  SlotID          – slot being reserved.
//  UserID          – owning subject (creator).
//  Cancellation    – nil while active, set when cancelled.
//  DurationMinutes – optional per-booking lesson length override.
//  ActualEndsAt    – effective end when a duration override is set
//                    (slot start + override); nil otherwise.
//  PickupLocation  – optional pickup address for the lesson.
//  PickupSource    – which saved address was chosen (home/work/...).
//  CreatedAt       – creation timestamp.
type Booking struct {
	ID              uint64        // bookings.id
	SlotID          uint64        // bookings.slot_id
	UserID          uint64        // bookings.user_id
	Cancellation    *Cancellation // bookings.cancelled_at / cancelled_by
	DurationMinutes *int          // bookings.duration_minutes (nullable)
	ActualEndsAt    *time.Time    // bookings.actual_ends_at (nullable)
	PickupLocation  *string       // bookings.pickup_location (nullable)
	PickupSource    *string       // bookings.pickup_source (nullable)
	CreatedAt       time.Time     // bookings.created_at
}

// State derives the lifecycle state from the cancellation marker.
func (b *Booking) State() BookingState {
	if b.Cancellation != nil {
		return BookingCancelled
	}
	return BookingActive
}

// EffectiveEndsAt returns the booking's end time for scope partitioning:
// the per-booking override end when present, else the slot's end.
func (b *Booking) EffectiveEndsAt(slotEndsAt time.Time) time.Time {
	if b.ActualEndsAt != nil {
		return *b.ActualEndsAt
	}
	return slotEndsAt
}
