package realtime

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const writeWait = 10 * time.Second

// Session represents one active realtime connection. It owns the connection
// state, the outbound send queue, and the per-connection message limiter.
type Session struct {
	id      uuid.UUID
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	addr    string
	room    string
	closed  bool
	limiter *rate.Limiter
	opts    Options
}

// NewSession creates a session for conn bound to the given room. The send
// queue is buffered so bursts of outbound events do not block the hub.
func NewSession(conn *websocket.Conn, hub *Hub, addr, room string) *Session {
	opts := hub.opts
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}

	return &Session{
		id:      uuid.New(),
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     hub,
		addr:    addr,
		room:    room,
		limiter: rate.NewLimiter(opts.messageRate(), opts.MessageBurst),
		opts:    opts,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Room returns the room key the session joined with.
func (s *Session) Room() string {
	return s.room
}

// SendQueue returns the session's outbound queue for reading pending events.
func (s *Session) SendQueue() <-chan []byte {
	return s.send
}

// setupReadConnection arms the idle deadline and refreshes it on every pong.
// A session that stays silent past the idle timeout is torn down.
func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", s.addr, err)
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", s.addr, err)
		}
		return nil
	})
}

// handleReadError logs the failure appropriately and reports whether the
// read loop should stop.
func (s *Session) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Printf("Message from %s exceeded maximum size of %d bytes", s.addr, s.opts.MaxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Printf("Session %s disconnected: %v", s.id, err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Printf("Session %s connection closed: %v", s.id, err)
		return true
	}

	log.Printf("WebSocket read error from %s: %v", s.addr, err)
	return true
}

// checkMessageLimit reports whether the inbound message is within the
// session's connection-level rate budget.
func (s *Session) checkMessageLimit() bool {
	if s.limiter != nil && !s.limiter.Allow() {
		log.Printf("Message rate exceeded for %s (%d messages per %s); discarding message", s.addr, s.opts.MessageBurst, s.opts.MessageRefill)
		return false
	}
	return true
}

// processMessage unmarshals, normalizes, and forwards a raw inbound message
// to the session's room.
func (s *Session) processMessage(raw []byte) bool {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("Invalid message from %s: %v", s.addr, err)
		return false
	}

	normalized, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error normalizing message from %s: %v", s.addr, err)
		return false
	}

	select {
	case s.hub.broadcast <- Event{Room: s.room, Sender: s, Payload: normalized}:
		return true
	case <-s.hub.ctx.Done():
		return false
	}
}

func (s *Session) readPump() {
	defer func() {
		s.hub.Unregister(s)
		if err := s.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error closing connection in readPump: %v", err)
			}
		}
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if s.handleReadError(err) {
				break
			}
		}

		if !s.checkMessageLimit() {
			continue
		}

		s.processMessage(raw)
	}
}

func (s *Session) writePump() {
	// Ping ahead of the idle deadline so healthy peers keep the session alive.
	ticker := time.NewTicker(s.opts.IdleTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when
// the pump should stop.
func (s *Session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case payload, ok := <-s.send:
		return s.handleOutbound(payload, ok)
	case <-ticker.C:
		return s.handlePing()
	}
}

func (s *Session) closeConnection() {
	if err := s.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}
}

// handleOutbound writes one queued event, draining any backlog into the same
// frame. A closed queue means the hub dropped the session.
func (s *Session) handleOutbound(payload []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", s.addr, err)
		return false
	}

	if !ok {
		if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error writing close message to %s: %v", s.addr, err)
			}
		}
		return false
	}

	w, err := s.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		log.Printf("Error creating writer for %s: %v", s.addr, err)
		return false
	}

	if _, err := w.Write(payload); err != nil {
		log.Printf("Error writing event to %s: %v", s.addr, err)
		return false
	}

	queued := len(s.send)
	for i := 0; i < queued; i++ {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			log.Printf("Error writing separator to %s: %v", s.addr, err)
			return false
		}
		if _, err := w.Write(<-s.send); err != nil {
			log.Printf("Error writing queued event to %s: %v", s.addr, err)
			return false
		}
	}

	if err := w.Close(); err != nil {
		log.Printf("Error closing writer for %s: %v", s.addr, err)
		return false
	}
	return true
}

// handlePing sends a ping frame to keep the connection alive.
func (s *Session) handlePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for ping to %s: %v", s.addr, err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Printf("Error writing ping message to %s: %v", s.addr, err)
		return false
	}
	return true
}
