// Package audit records booking lifecycle transitions durably and
// fans them out to the message broker for offline consumers.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/drivetime/lesson-booking/internal/model"
	"github.com/drivetime/lesson-booking/internal/queue"
	"github.com/drivetime/lesson-booking/internal/repository"
	queue_publisher "github.com/drivetime/lesson-booking/internal/service"
)

// Recorder writes audit events to the database and, when publishing is
// enabled, mirrors each one onto the booking.events queue. Recording is
// best effort relative to the request that triggered it: a failed write
// is logged, never surfaced, because the booking transition has already
// committed.
type Recorder struct {
	repo    *repository.AuditRepository
	publish bool
}

func NewRecorder(repo *repository.AuditRepository, publishEvents bool) *Recorder {
	return &Recorder{repo: repo, publish: publishEvents}
}

func (r *Recorder) Record(ctx context.Context, e model.AuditEvent) {
	if err := r.repo.Insert(ctx, &e); err != nil {
		log.Printf("audit: insert %s event failed: %v", e.Type, err)
		return
	}
	if !r.publish {
		return
	}
	ev := queue.BookingEvent{
		EventID:    uuid.NewString(),
		Type:       e.Type,
		BookingID:  deref(e.BookingID),
		UserID:     deref(e.UserID),
		SlotID:     deref(e.SlotID),
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
	// Broker outages must not fail the request path.
	_ = queue_publisher.PublishBookingEvent(ctx, ev)
}

func deref(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}
