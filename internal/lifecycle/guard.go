package lifecycle

import "sync"

// processingGuard tracks ride ids that are mid-creation so duplicate
// near-simultaneous bookings bearing the same freshly generated id are
// rejected. Entries live only for the duration of one booking call.
type processingGuard struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newProcessingGuard() *processingGuard {
	return &processingGuard{ids: make(map[string]struct{})}
}

func (g *processingGuard) tryAcquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.ids[id]; held {
		return false
	}
	g.ids[id] = struct{}{}
	return true
}

func (g *processingGuard) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ids, id)
}
