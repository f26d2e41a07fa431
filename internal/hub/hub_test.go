package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSender stands in for a websocket connection.  Delivered frames
// are exposed on a channel so tests can wait without sleeping.
type fakeSender struct {
	mu     sync.Mutex
	frames chan []byte
	err    error
	closed bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{frames: make(chan []byte, 64)}
}

func (f *fakeSender) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.frames <- data
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func recv(t *testing.T, f *fakeSender) Message {
	t.Helper()
	select {
	case data := <-f.frames:
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Message{}
	}
}

func expectSilence(t *testing.T, f *fakeSender) {
	t.Helper()
	select {
	case data := <-f.frames:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishAllSharesEventID(t *testing.T) {
	h := New()
	instructor := newFakeSender()
	student := newFakeSender()
	ci := h.Subscribe(AudienceInstructor, instructor)
	cs := h.Subscribe(AudienceStudent, student)
	defer h.Unsubscribe(ci)
	defer h.Unsubscribe(cs)

	h.Publish(AudienceAll, Message{Action: ActionSlotBooked, SlotID: 3})

	mi := recv(t, instructor)
	ms := recv(t, student)
	if mi.EventID == "" || mi.EventID != ms.EventID {
		t.Fatalf("event ids differ: %q vs %q", mi.EventID, ms.EventID)
	}
	if mi.Version != 1 {
		t.Fatalf("version = %d, want default 1", mi.Version)
	}
	if mi.Action != ActionSlotBooked || mi.SlotID != 3 {
		t.Fatalf("payload = %+v", mi)
	}
}

func TestPublishKeepsExplicitFields(t *testing.T) {
	h := New()
	ws := newFakeSender()
	c := h.Subscribe(AudienceStudent, ws)
	defer h.Unsubscribe(c)

	h.Publish(AudienceStudent, Message{Action: ActionSlotCreated, Version: 4, EventID: "fixed"})
	m := recv(t, ws)
	if m.Version != 4 || m.EventID != "fixed" {
		t.Fatalf("version=%d eventId=%q, want 4/fixed", m.Version, m.EventID)
	}
}

func TestPublishAudiencePartition(t *testing.T) {
	h := New()
	instructor := newFakeSender()
	student := newFakeSender()
	ci := h.Subscribe(AudienceInstructor, instructor)
	cs := h.Subscribe(AudienceStudent, student)
	defer h.Unsubscribe(ci)
	defer h.Unsubscribe(cs)

	h.Publish(AudienceInstructor, Message{Action: ActionSlotCancelled, SlotID: 9})

	m := recv(t, instructor)
	if m.SlotID != 9 {
		t.Fatalf("slot = %d, want 9", m.SlotID)
	}
	expectSilence(t, student)
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	h := New()
	// Registered without a write pump, so nothing drains the queue.
	c := newConn(newFakeSender())
	h.conns[c] = AudienceStudent

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer+10; i++ {
			h.Publish(AudienceStudent, Message{Action: ActionSlotBooked})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on stalled subscriber")
	}
	if got := len(c.send); got != sendBuffer {
		t.Fatalf("queued = %d, want %d", got, sendBuffer)
	}
}

func TestWriteFailurePrunesSubscriber(t *testing.T) {
	h := New()
	ws := newFakeSender()
	ws.mu.Lock()
	ws.err = errors.New("broken pipe")
	ws.mu.Unlock()
	h.Subscribe(AudienceStudent, ws)

	h.Publish(AudienceStudent, Message{Action: ActionSlotBooked})

	deadline := time.Now().Add(2 * time.Second)
	for h.Count(AudienceAll) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("failed subscriber was not pruned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !ws.isClosed() {
		t.Fatal("underlying connection not closed")
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	h := New()
	ws := newFakeSender()
	c := h.Subscribe(AudienceInstructor, ws)

	h.Unsubscribe(c)
	h.Unsubscribe(c) // second call must be harmless
	if got := h.Count(AudienceAll); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
	if !ws.isClosed() {
		t.Fatal("connection not closed")
	}
}

func TestCount(t *testing.T) {
	h := New()
	c1 := h.Subscribe(AudienceInstructor, newFakeSender())
	c2 := h.Subscribe(AudienceStudent, newFakeSender())
	c3 := h.Subscribe(AudienceStudent, newFakeSender())
	defer h.Unsubscribe(c1)
	defer h.Unsubscribe(c2)
	defer h.Unsubscribe(c3)

	if got := h.Count(AudienceStudent); got != 2 {
		t.Fatalf("students = %d, want 2", got)
	}
	if got := h.Count(AudienceAll); got != 3 {
		t.Fatalf("all = %d, want 3", got)
	}
}
