// Package queue defines message payloads exchanged over the message broker.
package queue

// BookingEvent is published after every committed booking lifecycle
// transition. It carries enough for downstream consumers to log or
// notify without querying the primary database. Optional references are
// zero when the transition did not involve them.
type BookingEvent struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"`
	BookingID  uint64 `json:"booking_id,omitempty"`
	UserID     uint64 `json:"user_id,omitempty"`
	SlotID     uint64 `json:"slot_id,omitempty"`
	SlotTitle  string `json:"slot_title,omitempty"`
	StartsAt   string `json:"starts_at,omitempty"`
	EndsAt     string `json:"ends_at,omitempty"`
	OccurredAt string `json:"occurred_at"`
}
