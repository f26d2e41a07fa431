package model

import "time"

// Audit event types written by the booking engine.  The set is closed;
// consumers may rely on it.
const (
	AuditBooked           = "booked"
	AuditStudentCancelled = "student.cancelled"
	AuditAdminCancelled   = "admin.cancelled"
	AuditRestored         = "restored"
	AuditRescheduled      = "rescheduled"
)

// AuditEvent is an append-only record of a booking lifecycle change.
// Rows are never mutated or deleted.  The actor and slot references are
// optional so partial context (e.g. a cancel of an already-deleted
// booking) can still be recorded.
type AuditEvent struct {
	ID        uint64    // audit_events.id
	Type      string    // audit_events.type
	UserID    *uint64   // audit_events.user_id (nullable)
	SlotID    *uint64   // audit_events.slot_id (nullable)
	BookingID *uint64   // audit_events.booking_id (nullable)
	CreatedAt time.Time // audit_events.created_at
}
