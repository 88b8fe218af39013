package fanout

import (
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/logging"
)

type fakeSender struct {
	mu     sync.Mutex
	id     string
	events []string
}

func (s *fakeSender) ID() string { return s.id }

func (s *fakeSender) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSender) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

type fakeConns struct {
	senders map[string]*fakeSender
	rooms   map[string][]string
}

func (c *fakeConns) All() []Sender {
	out := make([]Sender, 0, len(c.senders))
	for _, s := range c.senders {
		out = append(out, s)
	}
	return out
}

func (c *fakeConns) Room(id string) []Sender {
	var out []Sender
	for _, ref := range c.rooms[id] {
		if s, ok := c.senders[ref]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *fakeConns) Connection(ref string) (Sender, bool) {
	s, ok := c.senders[ref]
	return s, ok
}

func newFakeConns() *fakeConns {
	return &fakeConns{
		senders: map[string]*fakeSender{
			"c1": {id: "c1"},
			"c2": {id: "c2"},
		},
		rooms: map[string][]string{"user-1": {"c1"}},
	}
}

func TestToAllReachesEveryConnection(t *testing.T) {
	conns := newFakeConns()
	f := New(conns, time.Millisecond, logging.NewLogger("error"))
	f.ToAll("driverLocationsUpdate", nil)
	if conns.senders["c1"].count("driverLocationsUpdate") != 1 || conns.senders["c2"].count("driverLocationsUpdate") != 1 {
		t.Fatal("broadcast missed a connection")
	}
}

func TestToRoomOnlyHitsMembers(t *testing.T) {
	conns := newFakeConns()
	f := New(conns, time.Millisecond, logging.NewLogger("error"))
	f.ToRoom("user-1", "rideCompleted", nil)
	if conns.senders["c1"].count("rideCompleted") != 1 {
		t.Fatal("room member not delivered")
	}
	if conns.senders["c2"].count("rideCompleted") != 0 {
		t.Fatal("non-member received room event")
	}
}

func TestDeliverCriticalIsAtLeastOnce(t *testing.T) {
	conns := newFakeConns()
	f := New(conns, 5*time.Millisecond, logging.NewLogger("error"))
	f.DeliverCritical("user-1", "rideAccepted", nil)

	// room layer + direct layer fire synchronously
	if got := conns.senders["c1"].count("rideAccepted"); got < 2 {
		t.Fatalf("expected at least 2 immediate deliveries, got %d", got)
	}

	// backstop re-delivery fires after the delay
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if conns.senders["c1"].count("rideAccepted") >= 3 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if got := conns.senders["c1"].count("rideAccepted"); got < 3 {
		t.Fatalf("expected backstop re-delivery, got %d total", got)
	}
	if conns.senders["c2"].count("rideAccepted") != 0 {
		t.Fatal("critical delivery leaked outside the room")
	}
}

func TestToConnectionUnknownRef(t *testing.T) {
	f := New(newFakeConns(), time.Millisecond, logging.NewLogger("error"))
	if err := f.ToConnection("nope", "x", nil); err == nil {
		t.Fatal("expected error for unknown connection")
	}
}
