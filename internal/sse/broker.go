// Package sse implements a Server-Sent Events broker that streams catalog
// changes to clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Event types.
const (
	EventNodeUpdated    = "node.updated"
	EventCatalogUpdated = "catalog.updated"
)

const (
	clientBuffer     = 64
	defaultHeartbeat = 30 * time.Second
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NodeUpdate is the payload of a node.updated event.
type NodeUpdate struct {
	ID       string   `json:"id"`
	UpdateID uint64   `json:"updateId"`
	Fields   []string `json:"fields,omitempty"`
}

type update struct {
	node   NodeUpdate
	system uint64
}

// Broker fans catalog events out to connected clients.
//
// A single loop goroutine owns the client set, the event sequence and the
// catalog.updated moderation state; the public methods talk to it over
// channels. Every frame carries an increasing id so clients can tell when
// they missed events (a slow client's frames are dropped, not queued).
type Broker struct {
	moderation time.Duration
	heartbeat  time.Duration

	join    chan chan []byte
	leave   chan chan []byte
	events  chan Event
	updates chan update
	count   chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. catalog.updated events are sent at most once
// per moderation interval; the last value of a burst is always delivered.
func NewBroker(moderation time.Duration) *Broker {
	if moderation <= 0 {
		moderation = 2 * time.Second
	}
	b := &Broker{
		moderation: moderation,
		heartbeat:  defaultHeartbeat,
		join:       make(chan chan []byte),
		leave:      make(chan chan []byte),
		events:     make(chan Event, 256),
		updates:    make(chan update, 256),
		count:      make(chan chan int),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go b.loop()
	return b
}

// loopState is owned by the loop goroutine.
type loopState struct {
	clients map[chan []byte]struct{}
	seq     uint64

	lastSystem time.Time
	pending    uint64
	hasPending bool
	trailing   *time.Timer
}

func (s *loopState) send(event Event) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return
	}
	s.seq++
	frame := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", s.seq, event.Type, payload))
	for ch := range s.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (s *loopState) sendSystem(v uint64) {
	s.lastSystem = time.Now()
	s.hasPending = false
	s.send(Event{Type: EventCatalogUpdated, Data: map[string]uint64{"systemUpdateId": v}})
}

func (b *Broker) loop() {
	defer close(b.stopped)

	s := &loopState{clients: make(map[chan []byte]struct{})}
	var trailing <-chan time.Time

	for {
		select {
		case <-b.stopCh:
			if s.trailing != nil {
				s.trailing.Stop()
			}
			for ch := range s.clients {
				close(ch)
			}
			return

		case ch := <-b.join:
			s.clients[ch] = struct{}{}

		case ch := <-b.leave:
			if _, ok := s.clients[ch]; ok {
				delete(s.clients, ch)
				close(ch)
			}

		case ev := <-b.events:
			s.send(ev)

		case u := <-b.updates:
			s.send(Event{Type: EventNodeUpdated, Data: u.node})
			wait := b.moderation - time.Since(s.lastSystem)
			if wait <= 0 {
				s.sendSystem(u.system)
				continue
			}
			s.pending, s.hasPending = u.system, true
			if trailing == nil {
				s.trailing = time.NewTimer(wait)
				trailing = s.trailing.C
			}

		case <-trailing:
			trailing = nil
			if s.hasPending {
				s.sendSystem(s.pending)
			}

		case resp := <-b.count:
			resp <- len(s.clients)
		}
	}
}

// Close stops the loop and closes every client channel. It is safe to call
// more than once.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. The channel is closed by Unsubscribe or
// Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.join <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leave <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.count <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.events <- event:
	case <-b.stopped:
	}
}

// PublishUpdate publishes a node.updated event and a moderated
// catalog.updated event carrying systemUpdateID.
func (b *Broker) PublishUpdate(node NodeUpdate, systemUpdateID uint64) {
	if b.closed.Load() {
		return
	}
	select {
	case b.updates <- update{node: node, system: systemUpdateID}:
	case <-b.stopped:
	}
}

// ServeHTTP streams events to one client (GET /api/events). A comment line
// is written every heartbeat interval so idle proxies keep the stream open.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("retry: " + strconv.Itoa(int(b.moderation.Milliseconds())) + "\n\n"))
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
