package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/drivetime/lesson-booking/internal/model"
)

// AuditRepository persists the append-only trail of booking lifecycle
// transitions.  Rows are never updated or deleted.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository { return &AuditRepository{db: db} }

// Insert appends one audit event.
func (r *AuditRepository) Insert(ctx context.Context, e *model.AuditEvent) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_events (type, user_id, slot_id, booking_id)
		 VALUES (?, ?, ?, ?)`,
		e.Type, e.UserID, e.SlotID, e.BookingID)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// AuditEntry is one audit row joined with the acting user's email for
// display in booking histories.
type AuditEntry struct {
	ID         uint64    `json:"id"`
	Type       string    `json:"type"`
	ActorID    *uint64   `json:"actor_id,omitempty"`
	ActorEmail *string   `json:"actor_email,omitempty"`
	SlotID     *uint64   `json:"slot_id,omitempty"`
	BookingID  *uint64   `json:"booking_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListByBooking returns the trail for one booking, oldest first.
func (r *AuditRepository) ListByBooking(ctx context.Context, bookingID uint64) ([]AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.type, a.user_id, u.email, a.slot_id, a.booking_id, a.created_at
		 FROM audit_events a LEFT JOIN users u ON u.id = a.user_id
		 WHERE a.booking_id = ?
		 ORDER BY a.created_at ASC, a.id ASC`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

// ListRecent returns the newest events across all bookings, for the
// admin dashboard feed.
func (r *AuditRepository) ListRecent(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.type, a.user_id, u.email, a.slot_id, a.booking_id, a.created_at
		 FROM audit_events a LEFT JOIN users u ON u.id = a.user_id
		 ORDER BY a.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAuditEntries(rows)
}

func scanAuditEntries(rows *sql.Rows) ([]AuditEntry, error) {
	out := make([]AuditEntry, 0)
	for rows.Next() {
		var (
			e     AuditEntry
			email sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.ActorID, &email, &e.SlotID, &e.BookingID, &e.CreatedAt); err != nil {
			return nil, err
		}
		if email.Valid {
			v := email.String
			e.ActorEmail = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
