package engine

import (
	"context"
	"strings"
	"time"

	"github.com/drivetime/lesson-booking/internal/model"
)

// Store is the durable slot/booking store consumed by the engine.  The
// MySQL implementation lives in internal/repository; tests supply an
// in-memory fake.  Begin must hand back a transaction whose reads see a
// consistent snapshot and whose SlotForUpdate acquires an exclusive
// write guard on the slot row, so that concurrent capacity checks are
// serialized per slot.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	ListBookings(ctx context.Context, f ListFilter) (BookingPage, error)
}

// Tx is a single unit of work against the store.  Implementations must
// roll back on Rollback even after a failed statement, and Rollback
// after Commit must be a no-op so callers can defer it unconditionally.
type Tx interface {
	// Slot loads a slot without locking it.
	Slot(ctx context.Context, slotID uint64) (*model.Slot, error)
	// SlotForUpdate loads a slot and takes an exclusive lock on its
	// row for the remainder of the transaction.
	SlotForUpdate(ctx context.Context, slotID uint64) (*model.Slot, error)
	// ActiveCount counts active (non-cancelled) bookings on a slot.
	ActiveCount(ctx context.Context, slotID uint64) (int, error)
	// HasActiveBooking reports whether the user already holds an
	// active booking on the slot.
	HasActiveBooking(ctx context.Context, userID, slotID uint64) (bool, error)
	// BookingByID loads a booking including cancelled ones.
	BookingByID(ctx context.Context, bookingID uint64) (*model.Booking, error)
	// InsertBooking persists a new active booking and fills in its ID.
	// A unique-index violation on (user_id, slot_id, active) must come
	// back as ErrDuplicate.
	InsertBooking(ctx context.Context, b *model.Booking) error
	// MarkCancelled transitions a booking to the cancelled state.
	MarkCancelled(ctx context.Context, bookingID uint64, c model.Cancellation) error
	// MarkActive clears the cancellation marker, restoring the booking.
	MarkActive(ctx context.Context, bookingID uint64) error
	// Retarget moves a booking to a new slot in one mutation.  The
	// booking must never be observable on both slots or on neither.
	Retarget(ctx context.Context, bookingID, newSlotID uint64, actualEndsAt *time.Time) error

	Commit() error
	Rollback() error
}

// Scope selects which partition of a subject's bookings to list.
type Scope string

const (
	ScopeUpcoming  Scope = "upcoming"
	ScopePast      Scope = "past"
	ScopeCancelled Scope = "cancelled"
	ScopeAll       Scope = "all"
)

// ParseScope normalizes a query value onto the closed scope set,
// defaulting to upcoming.
func ParseScope(raw string) Scope {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case ScopePast:
		return ScopePast
	case ScopeCancelled:
		return ScopeCancelled
	case ScopeAll:
		return ScopeAll
	default:
		return ScopeUpcoming
	}
}

// ListFilter narrows a booking listing.  Exactly one of UserID/SlotID
// is expected to be non-zero.  Upcoming/past partition by the effective
// end time (actual_ends_at when set, else the slot's ends_at) relative
// to Now.
type ListFilter struct {
	UserID uint64
	SlotID uint64
	Scope  Scope
	Now    time.Time
	Page   int
	Per    int
}

// BookingView is the read-model row returned by listings: the booking
// joined with its slot.
type BookingView struct {
	ID          uint64     `json:"id"`
	SlotID      uint64     `json:"slot_id"`
	UserID      uint64     `json:"user_id"`
	SlotTitle   string     `json:"slot_title"`
	StartsAt    time.Time  `json:"starts_at"`
	EndsAt      time.Time  `json:"ends_at"`
	Status      string     `json:"status"`
	BookedAt    time.Time  `json:"booked_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// BookingPage is one page of a listing plus paging metadata.
type BookingPage struct {
	Items      []BookingView `json:"items"`
	Page       int           `json:"page"`
	Per        int           `json:"per"`
	Total      int           `json:"total"`
	TotalPages int           `json:"total_pages"`
}
