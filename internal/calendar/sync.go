package calendar

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/drivetime/lesson-booking/internal/hub"
	"github.com/drivetime/lesson-booking/internal/model"
	"github.com/drivetime/lesson-booking/internal/repository"
)

// Config holds the resolved feed settings.
type Config struct {
	FeedURL         string
	Location        *time.Location
	Tag             string
	DefaultCapacity int
}

// Syncer pulls the ICS feed and turns unseen events into slots. An
// event is identified by the (calendar tag, start time) pair; a slot
// that already exists for that pair is left untouched, so repeated
// resyncs are safe.
type Syncer struct {
	cfg    Config
	client *http.Client
	slots  *repository.SlotRepository
	hub    *hub.Hub
}

func NewSyncer(cfg Config, slots *repository.SlotRepository, h *hub.Hub) *Syncer {
	if cfg.DefaultCapacity < 1 {
		cfg.DefaultCapacity = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Syncer{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		slots:  slots,
		hub:    h,
	}
}

// Result summarizes one resync run.
type Result struct {
	Fetched int          `json:"fetched"`
	Created int          `json:"created"`
	Slots   []model.Slot `json:"slots"`
}

// Resync fetches the feed, inserts slots for events not seen before and
// broadcasts each new slot to connected clients.
func (s *Syncer) Resync(ctx context.Context) (*Result, error) {
	events, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{Fetched: len(events), Slots: make([]model.Slot, 0)}
	for _, ev := range events {
		existing, err := s.slots.FindByCalendarKey(ctx, s.cfg.Tag, ev.Start)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}
		slot := model.Slot{
			Title:       ev.Summary,
			StartsAt:    ev.Start,
			EndsAt:      ev.End,
			Capacity:    s.cfg.DefaultCapacity,
			CalendarTag: s.cfg.Tag,
		}
		if err := s.slots.Create(ctx, &slot); err != nil {
			return nil, err
		}
		res.Created++
		res.Slots = append(res.Slots, slot)

		starts, ends := slot.StartsAt, slot.EndsAt
		s.hub.Publish(hub.AudienceAll, hub.Message{
			Action:   hub.ActionSlotCreated,
			SlotID:   slot.ID,
			Title:    slot.Title,
			StartsAt: &starts,
			EndsAt:   &ends,
			Capacity: slot.Capacity,
		})
	}
	log.Printf("calendar: resync fetched %d event(s), created %d slot(s)", res.Fetched, res.Created)
	return res, nil
}

func (s *Syncer) fetch(ctx context.Context) ([]Event, error) {
	if s.cfg.FeedURL == "" {
		return nil, fmt.Errorf("calendar: feed URL not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.FeedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar: feed returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("calendar: read feed: %w", err)
	}
	return ParseEvents(string(body), s.cfg.Location), nil
}
