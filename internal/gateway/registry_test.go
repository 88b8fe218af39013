package gateway

import "testing"

func TestRegistryRoomMembership(t *testing.T) {
	r := NewRegistry()
	r.Add("c1", nil)
	r.Add("c2", nil)

	r.Join("user-1", "c1")
	r.Join("user-1", "c1") // joining twice is harmless
	r.Join("user-1", "c2")

	if got := len(r.Room("user-1")); got != 2 {
		t.Fatalf("expected 2 members, got %d", got)
	}
	if got := len(r.Room("user-2")); got != 0 {
		t.Fatalf("expected empty room, got %d", got)
	}
	if got := len(r.All()); got != 2 {
		t.Fatalf("expected 2 sessions, got %d", got)
	}

	r.Remove("c1")
	if got := len(r.Room("user-1")); got != 1 {
		t.Fatalf("removal should clear memberships, got %d", got)
	}
	if _, ok := r.Connection("c1"); ok {
		t.Fatal("removed connection still resolvable")
	}
}

func TestRegistryJoinUnknownConnection(t *testing.T) {
	r := NewRegistry()
	r.Join("user-1", "ghost")
	if got := len(r.Room("user-1")); got != 0 {
		t.Fatalf("unknown connection must not join, got %d members", got)
	}
}
