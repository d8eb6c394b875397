package dispatch

import (
	"log"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/events"
)

// writeWait bounds a single write to a participant.
const writeWait = 5 * time.Second

// Conn is the part of *websocket.Conn a session writes through.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	Close() error
}

// WSSession represents a connected participant session
type WSSession struct {
	conn Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(e)
}

// WSRegistry holds participant sessions and forwards each event to the
// session of the participant it names. It is an events.Sink.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

// Add registers conn for participantID, closing any session it replaces.
func (r *WSRegistry) Add(participantID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[participantID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[participantID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[participantID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, participantID)
	}
}

// RemoveConn drops the session for participantID only while it still uses
// conn, so a replaced connection cannot evict its successor.
func (r *WSRegistry) RemoveConn(participantID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[participantID]; ok && s.conn == conn {
		_ = s.conn.Close()
		delete(r.sessions, participantID)
	}
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Write delivers e to its participant if connected. Events for
// participants without a session are skipped.
func (r *WSRegistry) Write(e events.Event) error {
	if e.ParticipantID == "" {
		return nil
	}
	if err := r.SendTo(e.ParticipantID, e); err != nil && err != ErrNoSession {
		return err
	}
	return nil
}

// SendTo writes e to the participant's session. A failed or timed out
// write leaves the connection unusable, so the session is dropped.
func (r *WSRegistry) SendTo(participantID string, e events.Event) error {
	r.mu.RLock()
	s, ok := r.sessions[participantID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(e); err != nil {
		log.Printf("ws send error: %v", err)
		r.RemoveConn(participantID, s.conn)
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
