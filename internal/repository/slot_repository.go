package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/drivetime/lesson-booking/internal/engine"
	"github.com/drivetime/lesson-booking/internal/model"
)

// ErrCapacityBelowActive is returned when an update would shrink a
// slot's capacity under its current number of active bookings.
var ErrCapacityBelowActive = errors.New("capacity below active bookings")

// ErrSlotHasBookings is returned when deleting a slot that still has
// active bookings.
var ErrSlotHasBookings = errors.New("slot has active bookings")

// SlotRepository provides access to the slots table.
type SlotRepository struct {
	db *sql.DB
}

func NewSlotRepository(db *sql.DB) *SlotRepository { return &SlotRepository{db: db} }

// SlotWithAvailability is a slot joined with its live booking count.
type SlotWithAvailability struct {
	model.Slot
	Booked    int
	Available int
}

// Create inserts a new slot and fills in its generated ID.
func (r *SlotRepository) Create(ctx context.Context, s *model.Slot) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO slots (title, starts_at, ends_at, capacity, calendar_tag)
		 VALUES (?, ?, ?, ?, ?)`,
		s.Title, s.StartsAt, s.EndsAt, s.Capacity, s.CalendarTag)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// GetByID fetches one slot. Returns engine.ErrNotFound when missing.
func (r *SlotRepository) GetByID(ctx context.Context, id uint64) (*model.Slot, error) {
	return scanSlot(r.db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE id = ?`, id))
}

// GetByIDWithAvailability fetches one slot along with its active
// booking count.
func (r *SlotRepository) GetByIDWithAvailability(ctx context.Context, id uint64) (*SlotWithAvailability, error) {
	var v SlotWithAvailability
	err := r.db.QueryRowContext(ctx,
		`SELECT s.id, s.title, s.starts_at, s.ends_at, s.capacity, s.calendar_tag,
		        s.created_at, s.updated_at,
		        (SELECT COUNT(*) FROM bookings b WHERE b.slot_id = s.id AND b.cancelled_at IS NULL)
		 FROM slots s WHERE s.id = ?`, id).Scan(
		&v.ID, &v.Title, &v.StartsAt, &v.EndsAt, &v.Capacity, &v.CalendarTag,
		&v.CreatedAt, &v.UpdatedAt, &v.Booked)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Available = v.Capacity - v.Booked
	if v.Available < 0 {
		v.Available = 0
	}
	return &v, nil
}

// SlotFilter narrows a slot listing.  From/To bound starts_at when
// set; AvailableOnly drops slots with no remaining capacity.
type SlotFilter struct {
	From          *time.Time
	To            *time.Time
	AvailableOnly bool
}

const activeCountSub = `(SELECT COUNT(*) FROM bookings b WHERE b.slot_id = s.id AND b.cancelled_at IS NULL)`

// ListUpcoming returns one page of slots that have not yet ended,
// soonest first, each with its live availability.
func (r *SlotRepository) ListUpcoming(ctx context.Context, now time.Time, f SlotFilter, page, per int) ([]SlotWithAvailability, int, error) {
	where := `s.ends_at >= ?`
	args := []interface{}{now}
	if f.From != nil {
		where += ` AND s.starts_at >= ?`
		args = append(args, *f.From)
	}
	if f.To != nil {
		where += ` AND s.starts_at <= ?`
		args = append(args, *f.To)
	}
	if f.AvailableOnly {
		where += ` AND s.capacity > ` + activeCountSub
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM slots s WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.title, s.starts_at, s.ends_at, s.capacity, s.calendar_tag,
		        s.created_at, s.updated_at, `+activeCountSub+`
		 FROM slots s
		 WHERE `+where+`
		 ORDER BY s.starts_at ASC
		 LIMIT ? OFFSET ?`, append(args, per, (page-1)*per)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]SlotWithAvailability, 0, per)
	for rows.Next() {
		var v SlotWithAvailability
		if err := rows.Scan(&v.ID, &v.Title, &v.StartsAt, &v.EndsAt, &v.Capacity,
			&v.CalendarTag, &v.CreatedAt, &v.UpdatedAt, &v.Booked); err != nil {
			return nil, 0, err
		}
		v.Available = v.Capacity - v.Booked
		if v.Available < 0 {
			v.Available = 0
		}
		out = append(out, v)
	}
	return out, total, rows.Err()
}

// Counts returns total and not-yet-ended slot counts for the admin
// dashboard.
func (r *SlotRepository) Counts(ctx context.Context, now time.Time) (total, upcoming int, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(ends_at >= ?), 0) FROM slots`, now).Scan(&total, &upcoming)
	return
}

// Update rewrites a slot's mutable fields.  The slot row is locked
// first so a capacity reduction cannot race a concurrent booking under
// the new, smaller limit.
func (r *SlotRepository) Update(ctx context.Context, s *model.Slot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var id uint64
	err = tx.QueryRowContext(ctx, `SELECT id FROM slots WHERE id = ? FOR UPDATE`, s.ID).Scan(&id)
	if err == sql.ErrNoRows {
		return engine.ErrNotFound
	}
	if err != nil {
		return err
	}

	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE slot_id = ? AND cancelled_at IS NULL`,
		s.ID).Scan(&active); err != nil {
		return err
	}
	if s.Capacity < active {
		return ErrCapacityBelowActive
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE slots SET title = ?, starts_at = ?, ends_at = ?, capacity = ?, updated_at = NOW()
		 WHERE id = ?`,
		s.Title, s.StartsAt, s.EndsAt, s.Capacity, s.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Delete removes a slot that has no active bookings left.
func (r *SlotRepository) Delete(ctx context.Context, id uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Lock the slot row so a concurrent booking cannot land between the
	// active-count check and the delete.
	var locked uint64
	err = tx.QueryRowContext(ctx, `SELECT id FROM slots WHERE id = ? FOR UPDATE`, id).Scan(&locked)
	if err == sql.ErrNoRows {
		return engine.ErrNotFound
	}
	if err != nil {
		return err
	}

	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE slot_id = ? AND cancelled_at IS NULL`,
		id).Scan(&active); err != nil {
		return err
	}
	if active > 0 {
		return ErrSlotHasBookings
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE id = ?`, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// FindByCalendarKey looks a slot up by its import identity, the
// (calendar_tag, starts_at) pair the feed sync deduplicates on.
func (r *SlotRepository) FindByCalendarKey(ctx context.Context, tag string, startsAt time.Time) (*model.Slot, error) {
	s, err := scanSlot(r.db.QueryRowContext(ctx,
		`SELECT `+slotColumns+` FROM slots WHERE calendar_tag = ? AND starts_at = ?`,
		tag, startsAt))
	if errors.Is(err, engine.ErrNotFound) {
		return nil, nil
	}
	return s, err
}
