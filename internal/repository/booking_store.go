package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/drivetime/lesson-booking/internal/engine"
	"github.com/drivetime/lesson-booking/internal/model"
)

// BookingStore is the MySQL implementation of the engine's durable
// store.  Conflicting writers on one slot are serialized by SELECT ...
// FOR UPDATE on the slot row; a generated-column unique index on active
// (user_id, slot_id) pairs backstops duplicate races, surfacing as
// MySQL error 1062 which is converted to engine.ErrDuplicate here so the
// engine never sees a raw driver error for an expected race.
type BookingStore struct {
	db *sql.DB
}

func NewBookingStore(db *sql.DB) *BookingStore { return &BookingStore{db: db} }

// DB exposes the underlying handle for callers that need to share a
// transaction with other repositories.
func (s *BookingStore) DB() *sql.DB { return s.db }

// Begin opens one unit of work.  The default isolation level
// (REPEATABLE READ) plus the explicit row locks taken by SlotForUpdate
// are what uphold the capacity invariant under concurrency.
func (s *BookingStore) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &storeTx{tx: tx}, nil
}

type storeTx struct {
	tx *sql.Tx
}

func (t *storeTx) Commit() error { return t.tx.Commit() }

func (t *storeTx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

const slotColumns = `id, title, starts_at, ends_at, capacity, calendar_tag, created_at, updated_at`

func scanSlot(row *sql.Row) (*model.Slot, error) {
	var s model.Slot
	err := row.Scan(&s.ID, &s.Title, &s.StartsAt, &s.EndsAt, &s.Capacity, &s.CalendarTag, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *storeTx) Slot(ctx context.Context, slotID uint64) (*model.Slot, error) {
	return scanSlot(t.tx.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = ?`, slotID))
}

func (t *storeTx) SlotForUpdate(ctx context.Context, slotID uint64) (*model.Slot, error) {
	return scanSlot(t.tx.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = ? FOR UPDATE`, slotID))
}

func (t *storeTx) ActiveCount(ctx context.Context, slotID uint64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE slot_id = ? AND cancelled_at IS NULL`,
		slotID).Scan(&n)
	return n, err
}

func (t *storeTx) HasActiveBooking(ctx context.Context, userID, slotID uint64) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx,
		`SELECT 1 FROM bookings WHERE user_id = ? AND slot_id = ? AND cancelled_at IS NULL LIMIT 1`,
		userID, slotID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *storeTx) BookingByID(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	var (
		b           model.Booking
		cancelledAt sql.NullTime
		cancelledBy sql.NullInt64
		duration    sql.NullInt64
		actualEnds  sql.NullTime
		pickupLoc   sql.NullString
		pickupSrc   sql.NullString
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, slot_id, user_id, cancelled_at, cancelled_by, duration_minutes,
		        actual_ends_at, pickup_location, pickup_source, created_at
		 FROM bookings WHERE id = ?`, bookingID).Scan(
		&b.ID, &b.SlotID, &b.UserID, &cancelledAt, &cancelledBy, &duration,
		&actualEnds, &pickupLoc, &pickupSrc, &b.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if cancelledAt.Valid {
		b.Cancellation = &model.Cancellation{At: cancelledAt.Time, By: uint64(cancelledBy.Int64)}
	}
	if duration.Valid {
		d := int(duration.Int64)
		b.DurationMinutes = &d
	}
	if actualEnds.Valid {
		at := actualEnds.Time
		b.ActualEndsAt = &at
	}
	if pickupLoc.Valid {
		v := pickupLoc.String
		b.PickupLocation = &v
	}
	if pickupSrc.Valid {
		v := pickupSrc.String
		b.PickupSource = &v
	}
	return &b, nil
}

func (t *storeTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO bookings (slot_id, user_id, duration_minutes, actual_ends_at,
		                       pickup_location, pickup_source)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.SlotID, b.UserID, b.DurationMinutes, b.ActualEndsAt, b.PickupLocation, b.PickupSource)
	if err != nil {
		if isDuplicateKey(err) {
			return engine.ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

func (t *storeTx) MarkCancelled(ctx context.Context, bookingID uint64, c model.Cancellation) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE bookings SET cancelled_at = ?, cancelled_by = ? WHERE id = ? AND cancelled_at IS NULL`,
		c.At, c.By, bookingID)
	return err
}

func (t *storeTx) MarkActive(ctx context.Context, bookingID uint64) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE bookings SET cancelled_at = NULL, cancelled_by = NULL WHERE id = ?`,
		bookingID)
	return err
}

// Retarget moves the booking in a single UPDATE so no reader ever sees
// it on both slots or on neither.
func (t *storeTx) Retarget(ctx context.Context, bookingID, newSlotID uint64, actualEndsAt *time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE bookings SET slot_id = ?, actual_ends_at = ? WHERE id = ? AND cancelled_at IS NULL`,
		newSlotID, actualEndsAt, bookingID)
	if err != nil {
		if isDuplicateKey(err) {
			return engine.ErrDuplicate
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

// ListBookings assembles one page of the booking read-model.  The
// effective end time COALESCE(actual_ends_at, slots.ends_at) drives the
// upcoming/past partition; cancelled requires the soft-deleted rows the
// other scopes exclude.
func (s *BookingStore) ListBookings(ctx context.Context, f engine.ListFilter) (engine.BookingPage, error) {
	where := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)
	if f.UserID != 0 {
		where = append(where, "b.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.SlotID != 0 {
		where = append(where, "b.slot_id = ?")
		args = append(args, f.SlotID)
	}

	var order string
	switch f.Scope {
	case engine.ScopePast:
		where = append(where, "b.cancelled_at IS NULL", "COALESCE(b.actual_ends_at, s.ends_at) < ?")
		args = append(args, f.Now)
		order = "COALESCE(b.actual_ends_at, s.ends_at) DESC"
	case engine.ScopeCancelled:
		where = append(where, "b.cancelled_at IS NOT NULL")
		order = "b.cancelled_at DESC"
	case engine.ScopeAll:
		order = "b.created_at DESC"
	default: // upcoming
		where = append(where, "b.cancelled_at IS NULL", "COALESCE(b.actual_ends_at, s.ends_at) >= ?")
		args = append(args, f.Now)
		order = "s.starts_at ASC"
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQ := `SELECT COUNT(*) FROM bookings b JOIN slots s ON s.id = b.slot_id` + cond
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return engine.BookingPage{}, err
	}

	q := `SELECT b.id, b.slot_id, b.user_id, s.title, s.starts_at,
	             COALESCE(b.actual_ends_at, s.ends_at), b.cancelled_at, b.created_at
	      FROM bookings b JOIN slots s ON s.id = b.slot_id` + cond +
		` ORDER BY ` + order + ` LIMIT ? OFFSET ?`
	args = append(args, f.Per, (f.Page-1)*f.Per)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return engine.BookingPage{}, err
	}
	defer rows.Close()

	items := make([]engine.BookingView, 0, f.Per)
	for rows.Next() {
		var (
			v           engine.BookingView
			cancelledAt sql.NullTime
		)
		if err := rows.Scan(&v.ID, &v.SlotID, &v.UserID, &v.SlotTitle, &v.StartsAt,
			&v.EndsAt, &cancelledAt, &v.BookedAt); err != nil {
			return engine.BookingPage{}, err
		}
		v.Status = string(model.BookingActive)
		if cancelledAt.Valid {
			v.Status = string(model.BookingCancelled)
			at := cancelledAt.Time
			v.CancelledAt = &at
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return engine.BookingPage{}, err
	}

	totalPages := (total + f.Per - 1) / f.Per
	return engine.BookingPage{
		Items: items, Page: f.Page, Per: f.Per, Total: total, TotalPages: totalPages,
	}, nil
}

// Booking reads one booking outside any transaction, for ownership
// checks on read paths.
func (s *BookingStore) Booking(ctx context.Context, bookingID uint64) (*model.Booking, error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return tx.BookingByID(ctx, bookingID)
}

// Attendee is one active booking on a slot with its owner, for the
// operator console.
type Attendee struct {
	BookingID uint64 `json:"booking_id"`
	UserID    uint64 `json:"user_id"`
	Email     string `json:"email"`
}

// Attendees lists the active bookings on one slot with owner emails.
func (s *BookingStore) Attendees(ctx context.Context, slotID uint64) ([]Attendee, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.id, b.user_id, u.email
		 FROM bookings b JOIN users u ON u.id = b.user_id
		 WHERE b.slot_id = ? AND b.cancelled_at IS NULL
		 ORDER BY b.created_at ASC`, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Attendee, 0)
	for rows.Next() {
		var a Attendee
		if err := rows.Scan(&a.BookingID, &a.UserID, &a.Email); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// BookingTotals returns total/active/cancelled booking counts for the
// admin dashboard.
func (s *BookingStore) BookingTotals(ctx context.Context) (total, active, cancelled int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(cancelled_at IS NULL), 0),
		        COALESCE(SUM(cancelled_at IS NOT NULL), 0)
		 FROM bookings`).Scan(&total, &active, &cancelled)
	return
}

// isDuplicateKey detects MySQL error 1062 (duplicate entry).
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "1062")
}
