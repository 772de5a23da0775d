// Package realtime owns the long-lived WebSocket side of the edge layer. It
// coordinates session registration, room-scoped event delivery, and
// connection cleanup via the Hub type.
package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Options bounds connection-level behavior for every session the hub owns.
type Options struct {
	IdleTimeout    time.Duration
	MaxMessageSize int64
	MessageBurst   int
	MessageRefill  time.Duration
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 512
	}
	if o.MessageBurst <= 0 {
		o.MessageBurst = 5
	}
	if o.MessageRefill <= 0 {
		o.MessageRefill = time.Second
	}
	return o
}

func (o Options) messageRate() rate.Limit {
	r := float64(o.MessageBurst) / o.MessageRefill.Seconds()
	if r <= 0 {
		r = float64(o.MessageBurst)
	}
	return rate.Limit(r)
}

// Event is one unit of delivery to active sessions. An empty Room targets
// every session; Sender, when set, is excluded from delivery.
type Event struct {
	Room    string
	Sender  *Session
	Payload []byte
}

// Handle is the capability exported to HTTP feature handlers so they can
// push events into active sessions without owning the hub itself.
type Handle interface {
	Publish(room string, payload []byte)
}

// Hub manages all realtime sessions and handles event delivery. It maintains
// session registration/unregistration and room membership, and ensures
// thread-safe operations through mutex protection. Each server process owns
// exactly one Hub; there is no package-level instance.
type Hub struct {
	sessions   map[*Session]bool
	rooms      map[string]map[*Session]bool
	broadcast  chan Event
	register   chan *Session
	unregister chan *Session
	opts       Options
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub ready to manage realtime sessions under the given
// connection options.
func NewHub(opts Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:   make(map[*Session]bool),
		rooms:      make(map[string]map[*Session]bool),
		broadcast:  make(chan Event),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		opts:       opts.withDefaults(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register hands a session to the hub event loop, which starts its pumps.
func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.ctx.Done():
	}
}

// Unregister removes a session from the hub and closes its send queue.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
	}
}

// Publish implements Handle. Delivery is in push order per session; no
// ordering holds across sessions. Publish never blocks past hub shutdown.
func (h *Hub) Publish(room string, payload []byte) {
	select {
	case h.broadcast <- Event{Room: room, Payload: payload}:
	case <-h.ctx.Done():
	}
}

// SessionCount reports the number of active sessions.
func (h *Hub) SessionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

func (h *Hub) safeSend(s *Session, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send so unregistration cannot race the
	// channel close.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.sessions[s]
	if !exists || s.closed {
		return false
	}

	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling session registration,
// unregistration, and event delivery. Call it in its own goroutine; it runs
// until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownSessions()
			return

		case s := <-h.register:
			if s == nil {
				log.Printf("Received nil session registration; skipping")
				continue
			}

			h.mutex.Lock()
			s.closed = false
			h.sessions[s] = true
			if s.room != "" {
				members := h.rooms[s.room]
				if members == nil {
					members = make(map[*Session]bool)
					h.rooms[s.room] = members
				}
				members[s] = true
			}
			count := len(h.sessions)
			h.mutex.Unlock()
			log.Printf("Session %s registered from %s (room %q). Total sessions: %d", s.id, s.addr, s.room, count)

			if s.conn != nil {
				h.wg.Add(2)
				go func() {
					defer h.wg.Done()
					s.writePump()
				}()
				go func() {
					defer h.wg.Done()
					s.readPump()
				}()
			}

		case s := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.sessions[s]; ok {
				h.removeLocked(s)
				count := len(h.sessions)
				h.mutex.Unlock()
				// Close the queue after releasing the lock.
				close(s.send)
				log.Printf("Session %s unregistered from %s. Total sessions: %d", s.id, s.addr, count)
			} else {
				h.mutex.Unlock()
			}

		case ev := <-h.broadcast:
			h.handleEvent(ev)
		}
	}
}

// removeLocked drops a session from the session and room maps. Callers must
// hold the write lock.
func (h *Hub) removeLocked(s *Session) {
	delete(h.sessions, s)
	s.closed = true
	if s.room == "" {
		return
	}
	if members := h.rooms[s.room]; members != nil {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, s.room)
		}
	}
}

// handleEvent delivers an event to its target sessions, skipping the sender.
func (h *Hub) handleEvent(ev Event) {
	targets := h.targetSnapshot(ev.Room)

	var failed []*Session
	for _, s := range targets {
		if ev.Sender != nil && s == ev.Sender {
			continue
		}
		if !h.safeSend(s, ev.Payload) {
			failed = append(failed, s)
		}
	}

	h.removeFailedSessions(failed)
}

// targetSnapshot returns a thread-safe snapshot of the sessions an event
// addresses: a room's members, or every session for the empty room.
func (h *Hub) targetSnapshot(room string) []*Session {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var src map[*Session]bool
	if room == "" {
		src = h.sessions
	} else {
		src = h.rooms[room]
	}

	targets := make([]*Session, 0, len(src))
	for s := range src {
		targets = append(targets, s)
	}
	return targets
}

// removeFailedSessions drops sessions whose send queues were full or closed.
func (h *Hub) removeFailedSessions(failed []*Session) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var queuesToClose []chan []byte
	for _, s := range failed {
		if _, exists := h.sessions[s]; exists {
			h.removeLocked(s)
			queuesToClose = append(queuesToClose, s.send)
			log.Printf("Session %s from %s removed due to full send queue", s.id, s.addr)
		}
	}
	h.mutex.Unlock()

	// Close queues after releasing the lock.
	for _, ch := range queuesToClose {
		close(ch)
	}
}

// shutdownSessions closes all active session connections.
func (h *Hub) shutdownSessions() {
	log.Println("Shutting down all realtime sessions...")

	h.mutex.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mutex.Unlock()

	for _, s := range sessions {
		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing session %s from %s: %v", s.id, s.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d realtime sessions", len(sessions))
}

// Shutdown initiates graceful shutdown of the hub and waits for all session
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
