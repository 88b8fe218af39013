// Package sequence issues the sequential ride identifiers used by the
// dispatch core, backed by a durable atomic counter.
package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

const (
	prefix  = "RID"
	ceiling = 999999
	floor   = 100000
)

// Generator produces unique ride ids of the form RID###### (6 digits).
// The counter wraps from 999999 back to 100000; within one wraparound
// epoch every id is distinct.
type Generator struct {
	store storage.SequenceStore
	log   *slog.Logger

	// now is swappable for tests of the degraded path.
	now func() time.Time
}

func NewGenerator(store storage.SequenceStore, log *slog.Logger) *Generator {
	return &Generator{store: store, log: log, now: time.Now}
}

// Next returns the next ride identifier. It never fails: on durable
// counter errors it degrades to a locally derived id, trading global
// uniqueness for availability.
func (g *Generator) Next(ctx context.Context) string {
	v, err := g.store.IncrementSequence(ctx)
	if err != nil {
		observability.StorageFailures.WithLabelValues("increment_sequence").Inc()
		g.log.Warn("sequence increment failed, using local fallback id", "error", err)
		return g.fallback()
	}
	if v > ceiling {
		if err := g.store.ResetSequence(ctx, floor); err != nil {
			observability.StorageFailures.WithLabelValues("reset_sequence").Inc()
			g.log.Warn("sequence reset failed, using local fallback id", "error", err)
			return g.fallback()
		}
		v = floor
	}
	return fmt.Sprintf("%s%06d", prefix, v)
}

// fallback derives an id from the truncated current timestamp plus a
// random suffix. Still RID + 6 digits so downstream parsing holds.
func (g *Generator) fallback() string {
	ts := g.now().Unix() % 1000
	return fmt.Sprintf("%s%03d%03d", prefix, ts, rand.Intn(1000))
}
