package model

import "time"

// Slot represents a bookable lesson window with a finite seat capacity.
// Slots are created by administrators or imported from an external
// calendar feed.  Capacity is read at booking-decision time; the engine
// never caches it.
//
// Fields:
//  ID          – primary key identifier.
//  Title       – short human-readable label (e.g. lesson type).
//  StartsAt    – when the slot begins (UTC).
//  EndsAt      – when the slot ends (must be after StartsAt, UTC).
//  Capacity    – maximum number of active bookings (>= 1).
//  CalendarTag – name of the calendar the slot was imported from.
//  CreatedAt   – creation timestamp.
//  UpdatedAt   – last update timestamp.
type Slot struct {
	ID          uint64    // slots.id
	Title       string    // slots.title
	StartsAt    time.Time // slots.starts_at
	EndsAt      time.Time // slots.ends_at
	Capacity    int       // slots.capacity
	CalendarTag string    // slots.calendar_tag
	CreatedAt   time.Time // slots.created_at
	UpdatedAt   time.Time // slots.updated_at
}
