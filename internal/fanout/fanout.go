// Package fanout delivers dispatch events to addressed recipient sets:
// every connection, a room, or one specific connection.
package fanout

import (
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/observability"
)

// Sender is one live connection able to receive a named event.
type Sender interface {
	ID() string
	Send(event string, payload any) error
}

// ConnSource exposes the gateway's connection registry to the fanout.
type ConnSource interface {
	All() []Sender
	Room(id string) []Sender
	Connection(ref string) (Sender, bool)
}

type Fanout struct {
	conns ConnSource
	log   *slog.Logger

	// redeliver is how long after a critical delivery the backstop
	// re-delivery fires.
	redeliver time.Duration
}

func New(conns ConnSource, redeliver time.Duration, log *slog.Logger) *Fanout {
	return &Fanout{conns: conns, redeliver: redeliver, log: log}
}

// ToAll sends the event to every open connection. Send failures are
// logged and skipped; one dead connection never blocks the rest.
func (f *Fanout) ToAll(event string, payload any) {
	for _, s := range f.conns.All() {
		if err := s.Send(event, payload); err != nil {
			f.log.Debug("broadcast send failed", "event", event, "conn", s.ID(), "error", err)
		}
	}
	observability.FanoutDeliveries.WithLabelValues("all").Inc()
}

// ToRoom sends the event to every connection joined to the room.
func (f *Fanout) ToRoom(roomID, event string, payload any) {
	for _, s := range f.conns.Room(roomID) {
		if err := s.Send(event, payload); err != nil {
			f.log.Debug("room send failed", "room", roomID, "event", event, "conn", s.ID(), "error", err)
		}
	}
	observability.FanoutDeliveries.WithLabelValues("room").Inc()
}

// ToConnection sends the event to one specific connection.
func (f *Fanout) ToConnection(ref, event string, payload any) error {
	s, ok := f.conns.Connection(ref)
	if !ok {
		return ErrNoConnection
	}
	observability.FanoutDeliveries.WithLabelValues("connection").Inc()
	return s.Send(event, payload)
}

// DeliverCritical applies the layered at-least-once policy used for ride
// acceptance: publish to the room, deliver directly to each connection
// currently joined (covers room-membership propagation lag), then fire
// one redundant re-delivery after the configured delay. Consumers must
// treat the event as idempotent.
func (f *Fanout) DeliverCritical(roomID, event string, payload any) {
	f.ToRoom(roomID, event, payload)
	for _, s := range f.conns.Room(roomID) {
		if err := s.Send(event, payload); err != nil {
			f.log.Debug("direct critical send failed", "room", roomID, "conn", s.ID(), "error", err)
		}
	}
	time.AfterFunc(f.redeliver, func() {
		f.ToRoom(roomID, event, payload)
	})
}

var ErrNoConnection = errors.New("no such connection")
