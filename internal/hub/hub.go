// Package hub implements the realtime availability broadcast: a
// fan-out of slot updates to live WebSocket subscribers, partitioned
// into instructor and student audiences.  Delivery is best-effort and
// at-most-once per connection; the hub never buffers messages for
// clients that are not connected.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Broadcast actions understood by subscribed clients.
const (
	ActionSlotCreated   = "slot.created"
	ActionSlotBooked    = "slot.booked"
	ActionSlotCancelled = "slot.cancelled"
)

// Audience partitions subscribers.  A publish targets one audience or
// all of them; a connection belongs to exactly one.
type Audience string

const (
	AudienceInstructor Audience = "instructor"
	AudienceStudent    Audience = "student"
	// AudienceAll is a publish target only, never a membership.
	AudienceAll Audience = "all"
)

// Message is the JSON payload delivered to subscribers.  Version and
// EventID are filled by Publish when unset: version defaults to 1, and
// EventID gets a fresh UUID per publish so clients receiving the same
// logical event twice (e.g. via two connections) can deduplicate.
type Message struct {
	Action   string     `json:"action"`
	SlotID   uint64     `json:"id,omitempty"`
	Title    string     `json:"title,omitempty"`
	StartsAt *time.Time `json:"startsAt,omitempty"`
	EndsAt   *time.Time `json:"endsAt,omitempty"`
	Capacity int        `json:"capacity,omitempty"`
	Version  int        `json:"version,omitempty"`
	EventID  string     `json:"eventId,omitempty"`
}

// sender is the slice of *websocket.Conn the hub needs.  Tests plug in
// fakes.
type sender interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// sendBuffer bounds the per-connection outbound queue.  A subscriber
// that cannot drain this many messages is considered stalled and loses
// the overflow rather than stalling booking operations.
const sendBuffer = 16

// Conn is one subscribed connection.  Writes happen on a dedicated
// goroutine so Publish never blocks on a slow peer.
type Conn struct {
	ws   sender
	send chan []byte
	once sync.Once
	done chan struct{}
}

func newConn(ws sender) *Conn {
	return &Conn{ws: ws, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
}

// close shuts the write pump down exactly once.
func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Hub is the process-wide broadcast fan-out.  It is created once in
// main and handed to the engine and the WebSocket handlers; there is no
// package-level instance.
type Hub struct {
	mu    sync.Mutex
	conns map[*Conn]Audience
}

func New() *Hub {
	return &Hub{conns: make(map[*Conn]Audience)}
}

// Subscribe registers a connection under an audience and starts its
// write pump.  The returned Conn must be passed to Unsubscribe when the
// peer goes away.
func (h *Hub) Subscribe(aud Audience, ws sender) *Conn {
	c := newConn(ws)
	h.mu.Lock()
	h.conns[c] = aud
	h.mu.Unlock()
	go h.writePump(c)
	return c
}

// Unsubscribe removes a connection and closes it.  Calling it more than
// once, or for a connection already pruned after a write failure, is a
// no-op.
func (h *Hub) Unsubscribe(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.close()
}

// Publish serializes msg once and queues it on every live connection in
// the target audience (or every connection, for AudienceAll).  The same
// eventId reaches all recipients of one publish.  Serialization errors
// are logged and swallowed; they never reach the caller.
func (h *Hub) Publish(aud Audience, msg Message) {
	if msg.Version == 0 {
		msg.Version = 1
	}
	if msg.EventID == "" {
		msg.EventID = uuid.NewString()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("hub: encode %s failed: %v", msg.Action, err)
		return
	}

	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.conns))
	for c, a := range h.conns {
		if aud == AudienceAll || a == aud {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Queue full: drop this message for this subscriber.
			log.Printf("hub: dropping %s for stalled subscriber", msg.Action)
		}
	}
}

// Count reports the number of live connections in an audience
// (all connections for AudienceAll).
func (h *Hub) Count(aud Audience) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if aud == AudienceAll {
		return len(h.conns)
	}
	n := 0
	for _, a := range h.conns {
		if a == aud {
			n++
		}
	}
	return n
}

// writePump drains the connection's queue.  A write failure prunes the
// connection; the failure never propagates to publishers.
func (h *Hub) writePump(c *Conn) {
	for {
		select {
		case data := <-c.send:
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("hub: write failed, dropping subscriber: %v", err)
				h.Unsubscribe(c)
				return
			}
		case <-c.done:
			return
		}
	}
}
