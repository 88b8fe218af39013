package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Envelope is the wire frame for every gateway message, in both
// directions. AckID correlates a request with its acknowledgment.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	AckID string `json:"ackId,omitempty"`
}

// Session is one connected client. Writes are serialized by the
// session mutex; gorilla connections do not allow concurrent writers.
type Session struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) ID() string { return s.id }

// Send delivers a named event to this connection.
func (s *Session) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(Envelope{Event: event, Data: payload})
}

// Ack replies to a request carrying an ack id.
func (s *Session) Ack(ackID string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(Envelope{Event: "ack", Data: payload, AckID: ackID})
}

func (s *Session) close() error {
	return s.conn.Close()
}
