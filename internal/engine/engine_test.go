package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/drivetime/lesson-booking/internal/engine"
	"github.com/drivetime/lesson-booking/internal/hub"
	"github.com/drivetime/lesson-booking/internal/model"
)

// fakeStore is an in-memory engine.Store.  Begin takes the store mutex
// and holds it until Commit or Rollback, mirroring how the real store
// serializes conflicting writers on a slot, which makes concurrency
// tests meaningful.
type fakeStore struct {
	mu       sync.Mutex
	slots    map[uint64]*model.Slot
	bookings map[uint64]*model.Booking
	nextID   uint64
	lastList engine.ListFilter
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		slots:    make(map[uint64]*model.Slot),
		bookings: make(map[uint64]*model.Booking),
	}
}

func (s *fakeStore) addSlot(capacity int, startsAt time.Time) uint64 {
	s.nextID++
	id := s.nextID
	s.slots[id] = &model.Slot{
		ID:       id,
		Title:    "Lesson",
		StartsAt: startsAt,
		EndsAt:   startsAt.Add(time.Hour),
		Capacity: capacity,
	}
	return id
}

func (s *fakeStore) Begin(ctx context.Context) (engine.Tx, error) {
	s.mu.Lock()
	return &fakeTx{s: s}, nil
}

func (s *fakeStore) ListBookings(ctx context.Context, f engine.ListFilter) (engine.BookingPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastList = f
	return engine.BookingPage{Page: f.Page, Per: f.Per}, nil
}

type fakeTx struct {
	s    *fakeStore
	done bool
}

func (t *fakeTx) finish() {
	if !t.done {
		t.done = true
		t.s.mu.Unlock()
	}
}

func (t *fakeTx) Commit() error   { t.finish(); return nil }
func (t *fakeTx) Rollback() error { t.finish(); return nil }

func (t *fakeTx) Slot(_ context.Context, slotID uint64) (*model.Slot, error) {
	s, ok := t.s.slots[slotID]
	if !ok {
		return nil, engine.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (t *fakeTx) SlotForUpdate(ctx context.Context, slotID uint64) (*model.Slot, error) {
	return t.Slot(ctx, slotID)
}

func (t *fakeTx) ActiveCount(_ context.Context, slotID uint64) (int, error) {
	n := 0
	for _, b := range t.s.bookings {
		if b.SlotID == slotID && b.Cancellation == nil {
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) HasActiveBooking(_ context.Context, userID, slotID uint64) (bool, error) {
	for _, b := range t.s.bookings {
		if b.UserID == userID && b.SlotID == slotID && b.Cancellation == nil {
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) BookingByID(_ context.Context, bookingID uint64) (*model.Booking, error) {
	b, ok := t.s.bookings[bookingID]
	if !ok {
		return nil, engine.ErrNotFound
	}
	cp := *b
	if b.Cancellation != nil {
		c := *b.Cancellation
		cp.Cancellation = &c
	}
	return &cp, nil
}

func (t *fakeTx) InsertBooking(_ context.Context, b *model.Booking) error {
	for _, ex := range t.s.bookings {
		if ex.UserID == b.UserID && ex.SlotID == b.SlotID && ex.Cancellation == nil {
			return engine.ErrDuplicate
		}
	}
	t.s.nextID++
	b.ID = t.s.nextID
	cp := *b
	t.s.bookings[b.ID] = &cp
	return nil
}

func (t *fakeTx) MarkCancelled(_ context.Context, bookingID uint64, c model.Cancellation) error {
	b, ok := t.s.bookings[bookingID]
	if !ok {
		return engine.ErrNotFound
	}
	b.Cancellation = &c
	return nil
}

func (t *fakeTx) MarkActive(_ context.Context, bookingID uint64) error {
	b, ok := t.s.bookings[bookingID]
	if !ok {
		return engine.ErrNotFound
	}
	b.Cancellation = nil
	return nil
}

func (t *fakeTx) Retarget(_ context.Context, bookingID, newSlotID uint64, actualEndsAt *time.Time) error {
	b, ok := t.s.bookings[bookingID]
	if !ok || b.Cancellation != nil {
		return engine.ErrNotFound
	}
	for _, ex := range t.s.bookings {
		if ex.ID != b.ID && ex.UserID == b.UserID && ex.SlotID == newSlotID && ex.Cancellation == nil {
			return engine.ErrDuplicate
		}
	}
	b.SlotID = newSlotID
	b.ActualEndsAt = actualEndsAt
	return nil
}

// recorderFake collects audit events.
type recorderFake struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (r *recorderFake) Record(_ context.Context, ev model.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorderFake) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// hubFake collects published messages.
type hubFake struct {
	mu   sync.Mutex
	msgs []hub.Message
}

func (h *hubFake) Publish(_ hub.Audience, msg hub.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

func (h *hubFake) actions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.msgs))
	for i, m := range h.msgs {
		out[i] = m.Action
	}
	return out
}

func newTestEngine(store *fakeStore) (*engine.Engine, *recorderFake, *hubFake) {
	rec := &recorderFake{}
	h := &hubFake{}
	return engine.New(store, rec, h), rec, h
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateBooking(t *testing.T) {
	store := newFakeStore()
	slotID := store.addSlot(2, time.Now().Add(time.Hour))
	eng, rec, h := newTestEngine(store)

	b, err := eng.Create(context.Background(), 7, slotID, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.ID == 0 || b.SlotID != slotID || b.UserID != 7 {
		t.Fatalf("unexpected booking %+v", b)
	}
	if b.State() != model.BookingActive {
		t.Fatalf("state = %s, want active", b.State())
	}
	if got := rec.types(); !sameStrings(got, []string{model.AuditBooked}) {
		t.Fatalf("audit = %v", got)
	}
	if got := h.actions(); !sameStrings(got, []string{hub.ActionSlotBooked}) {
		t.Fatalf("broadcast = %v", got)
	}
}

func TestCreateDurationOverride(t *testing.T) {
	store := newFakeStore()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	slotID := store.addSlot(1, start)
	eng, _, _ := newTestEngine(store)

	dur := 90
	b, err := eng.Create(context.Background(), 1, slotID, engine.CreateOptions{DurationMinutes: &dur})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.ActualEndsAt == nil || !b.ActualEndsAt.Equal(start.Add(90*time.Minute)) {
		t.Fatalf("actual end = %v, want %v", b.ActualEndsAt, start.Add(90*time.Minute))
	}
}

func TestCreateDuplicate(t *testing.T) {
	store := newFakeStore()
	slotID := store.addSlot(5, time.Now().Add(time.Hour))
	eng, rec, _ := newTestEngine(store)

	if _, err := eng.Create(context.Background(), 1, slotID, engine.CreateOptions{}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := eng.Create(context.Background(), 1, slotID, engine.CreateOptions{})
	if !errors.Is(err, engine.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if got := rec.types(); len(got) != 1 {
		t.Fatalf("audit after failed create = %v", got)
	}
}

func TestCreateSlotFull(t *testing.T) {
	store := newFakeStore()
	slotID := store.addSlot(1, time.Now().Add(time.Hour))
	eng, _, h := newTestEngine(store)

	if _, err := eng.Create(context.Background(), 1, slotID, engine.CreateOptions{}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := eng.Create(context.Background(), 2, slotID, engine.CreateOptions{})
	if !errors.Is(err, engine.ErrSlotFull) {
		t.Fatalf("err = %v, want ErrSlotFull", err)
	}
	if got := h.actions(); len(got) != 1 {
		t.Fatalf("broadcast after failed create = %v", got)
	}
}

func TestCreateMissingSlot(t *testing.T) {
	store := newFakeStore()
	eng, _, _ := newTestEngine(store)
	_, err := eng.Create(context.Background(), 1, 42, engine.CreateOptions{})
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelOwn(t *testing.T) {
	store := newFakeStore()
	slotID := store.addSlot(1, time.Now().Add(time.Hour))
	eng, rec, h := newTestEngine(store)

	b, err := eng.Create(context.Background(), 5, slotID, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.Cancel(context.Background(), 5, b.ID, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if store.bookings[b.ID].Cancellation == nil {
		t.Fatal("booking still active")
	}
	if store.bookings[b.ID].Cancellation.By != 5 {
		t.Fatalf("cancelled by %d, want 5", store.bookings[b.ID].Cancellation.By)
	}
	wantAudit := []string{model.AuditBooked, model.AuditStudentCancelled}
	if got := rec.types(); !sameStrings(got, wantAudit) {
		t.Fatalf("audit = %v, want %v", got, wantAudit)
	}
	// A freed seat re-advertises the slot after the cancellation notice.
	wantActions := []string{hub.ActionSlotBooked, hub.ActionSlotCancelled, hub.ActionSlotCreated}
	if got := h.actions(); !sameStrings(got, wantActions) {
		t.Fatalf("broadcast = %v, want %v", got, wantActions)
	}
}

func TestCancelIdempotent(t *testing.T) {
	store := newFakeStore()
	slotID := store.addSlot(1, time.Now().Add(time.Hour))
	eng, rec, h := newTestEngine(store)

	// Missing booking: success, no side effects.
	if err := eng.Cancel(context.Background(), 1, 999, false); err != nil {
		t.Fatalf("cancel missing: %v", err)
	}
	if len(rec.types()) != 0 || len(h.actions()) != 0 {
		t.Fatal("side effects for missing booking")
	}

	b, err := eng.Create(context.Background(), 1, slotID, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.Cancel(context.Background(), 1, b.ID, false); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	auditBefore := len(rec.types())
	if err := eng.Cancel(context.Background(), 1, b.ID, false); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if len(rec.types()) != auditBefore {
		t.Fatal("second cancel emitted audit")
	}
}

func TestCancelForbiddenAndOverride(t *testing.T) {
	store := newFakeStore()
	slotID := store.addSlot(1, time.Now().Add(time.Hour))
	eng, rec, _ := newTestEngine(store)

	b, err := eng.Create(context.Background(), 1, slotID, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := eng.Cancel(context.Background(), 2, b.ID, false); !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}

	// An override cancel by someone else is recorded as admin action.
	if err := eng.Cancel(context.Background(), 2, b.ID, true); err != nil {
		t.Fatalf("override cancel: %v", err)
	}
	types := rec.types()
	if types[len(types)-1] != model.AuditAdminCancelled {
		t.Fatalf("audit = %v, want trailing %s", types, model.AuditAdminCancelled)
	}
}

func TestRestore(t *testing.T) {
	store := newFakeStore()
	slotID := store.addSlot(1, time.Now().Add(time.Hour))
	eng, rec, h := newTestEngine(store)

	b, err := eng.Create(context.Background(), 1, slotID, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.Cancel(context.Background(), 1, b.ID, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := eng.Restore(context.Background(), 1, b.ID, false); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if store.bookings[b.ID].Cancellation != nil {
		t.Fatal("booking still cancelled")
	}
	types := rec.types()
	if types[len(types)-1] != model.AuditRestored {
		t.Fatalf("audit = %v, want trailing %s", types, model.AuditRestored)
	}
	actions := h.actions()
	if actions[len(actions)-1] != hub.ActionSlotBooked {
		t.Fatalf("broadcast = %v, want trailing %s", actions, hub.ActionSlotBooked)
	}

	// Restoring an active booking is a success no-op.
	before := len(rec.types())
	if err := eng.Restore(context.Background(), 1, b.ID, false); err != nil {
		t.Fatalf("restore active: %v", err)
	}
	if len(rec.types()) != before {
		t.Fatal("no-op restore emitted audit")
	}
}

func TestRestoreSlotFull(t *testing.T) {
	store := newFakeStore()
	slotID := store.addSlot(1, time.Now().Add(time.Hour))
	eng, _, _ := newTestEngine(store)

	b1, err := eng.Create(context.Background(), 1, slotID, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.Cancel(context.Background(), 1, b1.ID, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// The freed seat is taken before the restore attempt.
	if _, err := eng.Create(context.Background(), 2, slotID, engine.CreateOptions{}); err != nil {
		t.Fatalf("refill: %v", err)
	}
	if err := eng.Restore(context.Background(), 1, b1.ID, false); !errors.Is(err, engine.ErrSlotFull) {
		t.Fatalf("err = %v, want ErrSlotFull", err)
	}
}

func TestReschedule(t *testing.T) {
	store := newFakeStore()
	oldSlot := store.addSlot(1, time.Now().Add(time.Hour))
	newStart := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	newSlot := store.addSlot(1, newStart)
	eng, rec, h := newTestEngine(store)

	dur := 45
	b, err := eng.Create(context.Background(), 1, oldSlot, engine.CreateOptions{DurationMinutes: &dur})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := eng.Reschedule(context.Background(), 1, b.ID, newSlot, false); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	moved := store.bookings[b.ID]
	if moved.SlotID != newSlot {
		t.Fatalf("slot = %d, want %d", moved.SlotID, newSlot)
	}
	// The duration override tracks the new slot's start.
	if moved.ActualEndsAt == nil || !moved.ActualEndsAt.Equal(newStart.Add(45*time.Minute)) {
		t.Fatalf("actual end = %v, want %v", moved.ActualEndsAt, newStart.Add(45*time.Minute))
	}

	types := rec.types()
	if types[len(types)-1] != model.AuditRescheduled {
		t.Fatalf("audit = %v, want trailing %s", types, model.AuditRescheduled)
	}
	// Old slot re-advertised, new slot announced as booked.
	actions := h.actions()
	tail := actions[len(actions)-2:]
	if !sameStrings(tail, []string{hub.ActionSlotCreated, hub.ActionSlotBooked}) {
		t.Fatalf("broadcast tail = %v", tail)
	}
}

func TestRescheduleErrors(t *testing.T) {
	store := newFakeStore()
	slotA := store.addSlot(1, time.Now().Add(time.Hour))
	slotB := store.addSlot(1, time.Now().Add(2*time.Hour))
	eng, _, _ := newTestEngine(store)

	b, err := eng.Create(context.Background(), 1, slotA, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := eng.Reschedule(context.Background(), 1, 999, slotB, false); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("missing booking: %v", err)
	}
	if err := eng.Reschedule(context.Background(), 2, b.ID, slotB, false); !errors.Is(err, engine.ErrForbidden) {
		t.Fatalf("foreign booking: %v", err)
	}
	if err := eng.Reschedule(context.Background(), 1, b.ID, slotA, false); !errors.Is(err, engine.ErrSameSlot) {
		t.Fatalf("same slot: %v", err)
	}

	// Target at capacity.
	if _, err := eng.Create(context.Background(), 2, slotB, engine.CreateOptions{}); err != nil {
		t.Fatalf("fill target: %v", err)
	}
	if err := eng.Reschedule(context.Background(), 1, b.ID, slotB, false); !errors.Is(err, engine.ErrSlotFull) {
		t.Fatalf("full target: %v", err)
	}

	// Cancelled bookings cannot be rescheduled.
	if err := eng.Cancel(context.Background(), 1, b.ID, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := eng.Reschedule(context.Background(), 1, b.ID, slotB, false); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("cancelled booking: %v", err)
	}
}

func TestConcurrentCreateRespectsCapacity(t *testing.T) {
	store := newFakeStore()
	slotID := store.addSlot(3, time.Now().Add(time.Hour))
	eng, _, _ := newTestEngine(store)

	const attempts = 10
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(user uint64) {
			defer wg.Done()
			_, err := eng.Create(context.Background(), user, slotID, engine.CreateOptions{})
			errs <- err
		}(uint64(i + 1))
	}
	wg.Wait()
	close(errs)

	ok, full := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, engine.ErrSlotFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 3 || full != attempts-3 {
		t.Fatalf("ok=%d full=%d, want 3/%d", ok, full, attempts-3)
	}
}

func TestConcurrentDuplicateCreate(t *testing.T) {
	store := newFakeStore()
	slotID := store.addSlot(10, time.Now().Add(time.Hour))
	eng, _, _ := newTestEngine(store)

	const attempts = 5
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Create(context.Background(), 1, slotID, engine.CreateOptions{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, dup := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, engine.ErrDuplicate):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != attempts-1 {
		t.Fatalf("ok=%d dup=%d, want 1/%d", ok, dup, attempts-1)
	}
}

func TestConcurrentRescheduleToContendedSlot(t *testing.T) {
	store := newFakeStore()
	slotA := store.addSlot(1, time.Now().Add(time.Hour))
	slotB := store.addSlot(1, time.Now().Add(2*time.Hour))
	target := store.addSlot(1, time.Now().Add(3*time.Hour))
	eng, _, _ := newTestEngine(store)

	b1, err := eng.Create(context.Background(), 1, slotA, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("create 1: %v", err)
	}
	b2, err := eng.Create(context.Background(), 2, slotB, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("create 2: %v", err)
	}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errs <- eng.Reschedule(context.Background(), 1, b1.ID, target, false) }()
	go func() { defer wg.Done(); errs <- eng.Reschedule(context.Background(), 2, b2.ID, target, false) }()
	wg.Wait()
	close(errs)

	ok, full := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, engine.ErrSlotFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || full != 1 {
		t.Fatalf("ok=%d full=%d, want 1/1", ok, full)
	}
	// The loser keeps its original booking untouched.
	onTarget := 0
	for _, b := range store.bookings {
		if b.SlotID == target && b.Cancellation == nil {
			onTarget++
		}
	}
	if onTarget != 1 {
		t.Fatalf("active bookings on target = %d, want 1", onTarget)
	}
}

func TestCancelThenRebookFreesSeat(t *testing.T) {
	store := newFakeStore()
	slotID := store.addSlot(1, time.Now().Add(time.Hour))
	eng, _, _ := newTestEngine(store)

	b, err := eng.Create(context.Background(), 1, slotID, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := eng.Create(context.Background(), 2, slotID, engine.CreateOptions{}); !errors.Is(err, engine.ErrSlotFull) {
		t.Fatalf("expected full slot, got %v", err)
	}
	if err := eng.Cancel(context.Background(), 1, b.ID, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := eng.Create(context.Background(), 2, slotID, engine.CreateOptions{}); err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}
}

func TestListClampsPaging(t *testing.T) {
	store := newFakeStore()
	eng, _, _ := newTestEngine(store)

	_, err := eng.List(context.Background(), engine.ListFilter{UserID: 1, Page: 0, Per: 500})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if store.lastList.Page != 1 || store.lastList.Per != 100 {
		t.Fatalf("page=%d per=%d, want 1/100", store.lastList.Page, store.lastList.Per)
	}
	if store.lastList.Scope != engine.ScopeUpcoming {
		t.Fatalf("scope = %q, want upcoming default", store.lastList.Scope)
	}
	if store.lastList.Now.IsZero() {
		t.Fatal("now not filled")
	}

	_, err = eng.List(context.Background(), engine.ListFilter{UserID: 1, Scope: engine.ScopeCancelled, Page: 2, Per: 0})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if store.lastList.Per != 20 {
		t.Fatalf("per = %d, want default 20", store.lastList.Per)
	}
	if store.lastList.Scope != engine.ScopeCancelled {
		t.Fatalf("scope = %q", store.lastList.Scope)
	}
}
