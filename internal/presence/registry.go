// Package presence tracks which drivers are online, where they are, and
// whether they are free to take a ride. The registry is the authoritative
// live view; durable and Redis copies are derived, best-effort snapshots.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Broadcaster is the slice of the publisher the registry needs.
type Broadcaster interface {
	ToAll(event string, payload any)
}

// LocationSink receives location pings for downstream consumers
// (the Kafka ingest topic feeding the Redis geo mirror).
type LocationSink interface {
	PublishLocation(p models.LocationPing) error
}

type Registry struct {
	mu      sync.Mutex
	drivers map[string]*models.DriverPresence

	store storage.DriverStore
	sink  LocationSink // optional
	pub   Broadcaster
	log   *slog.Logger

	now func() time.Time
}

func NewRegistry(store storage.DriverStore, sink LocationSink, pub Broadcaster, log *slog.Logger) *Registry {
	return &Registry{
		drivers: make(map[string]*models.DriverPresence),
		store:   store,
		sink:    sink,
		pub:     pub,
		log:     log,
		now:     time.Now,
	}
}

// RegisterDriver inserts or replaces the presence entry and marks the
// driver online. Invalid registrations are logged and dropped without
// touching state; the caller gets false so it can confirm failure.
func (r *Registry) RegisterDriver(ctx context.Context, driverID, name string, loc models.Coord, vehicleType, connID string) bool {
	if driverID == "" || !validCoord(loc) {
		r.log.Warn("rejecting driver registration", "driverId", driverID, "lat", loc.Lat, "lng", loc.Lng)
		return false
	}
	now := r.now()
	r.mu.Lock()
	r.drivers[driverID] = &models.DriverPresence{
		DriverID:    driverID,
		DriverName:  name,
		Loc:         loc,
		VehicleType: vehicleType,
		Status:      models.DriverLive,
		Online:      true,
		LastUpdate:  now,
		ConnID:      connID,
	}
	r.mu.Unlock()

	r.afterLocationChange(ctx, driverID)
	return true
}

// UpdateLocation moves a known driver. Unknown drivers are a no-op:
// location pings never implicitly register.
func (r *Registry) UpdateLocation(ctx context.Context, driverID string, loc models.Coord, status models.DriverStatus) {
	r.mu.Lock()
	d, ok := r.drivers[driverID]
	if !ok {
		r.mu.Unlock()
		return
	}
	d.Loc = loc
	d.LastUpdate = r.now()
	d.Online = true
	if status != "" {
		d.Status = status
	}
	r.mu.Unlock()

	r.afterLocationChange(ctx, driverID)
}

// Heartbeat refreshes liveness without touching location.
func (r *Registry) Heartbeat(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.drivers[driverID]; ok {
		d.LastUpdate = r.now()
		d.Online = true
	}
}

// MarkOffline soft-deletes the entry: the record survives until the
// stale sweep reclaims it.
func (r *Registry) MarkOffline(ctx context.Context, driverID string) {
	r.mu.Lock()
	d, ok := r.drivers[driverID]
	if !ok {
		r.mu.Unlock()
		return
	}
	d.Online = false
	d.Status = models.DriverOffline
	d.LastUpdate = r.now()
	r.mu.Unlock()

	r.afterLocationChange(ctx, driverID)
}

// MarkOfflineByConn soft-deletes whichever driver is bound to the
// disconnecting gateway connection.
func (r *Registry) MarkOfflineByConn(ctx context.Context, connID string) {
	r.mu.Lock()
	var driverID string
	for id, d := range r.drivers {
		if d.ConnID == connID {
			driverID = id
			break
		}
	}
	r.mu.Unlock()
	if driverID != "" {
		r.MarkOffline(ctx, driverID)
	}
}

// SetStatus flips a driver between Live and OnRide; used by the ride
// lifecycle on acceptance, rejection and completion.
func (r *Registry) SetStatus(driverID string, status models.DriverStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.drivers[driverID]; ok {
		d.Status = status
	}
}

// Snapshot returns the public projection of one driver.
func (r *Registry) Snapshot(driverID string) (models.DriverSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drivers[driverID]
	if !ok {
		return models.DriverSnapshot{}, false
	}
	return project(d), true
}

// ListOnline returns public projections of every online driver,
// ordered by driver id for stable payloads.
func (r *Registry) ListOnline() []models.DriverSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.DriverSnapshot, 0, len(r.drivers))
	for _, d := range r.drivers {
		if d.Online {
			out = append(out, project(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out
}

// SweepStale hard-deletes entries that have been offline longer than
// ttl. Online entries are never touched, whatever their age.
func (r *Registry) SweepStale(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, d := range r.drivers {
		if !d.Online && now.Sub(d.LastUpdate) > ttl {
			delete(r.drivers, id)
			removed++
		}
	}
	return removed
}

// Run drives the periodic stale sweep until ctx is cancelled. Each
// iteration is independent; a failure never stops the ticker.
func (r *Registry) Run(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.SweepStale(now, ttl); n > 0 {
				r.log.Info("swept stale presence entries", "removed", n)
			}
		}
	}
}

// afterLocationChange runs the best-effort side effects of a presence
// mutation: durable snapshot, ingest ping, and the online-list
// broadcast. Failures are logged, never propagated.
func (r *Registry) afterLocationChange(ctx context.Context, driverID string) {
	r.mu.Lock()
	d, ok := r.drivers[driverID]
	if !ok {
		r.mu.Unlock()
		return
	}
	ping := models.LocationPing{
		DriverID:    d.DriverID,
		DriverName:  d.DriverName,
		Lat:         d.Loc.Lat,
		Lng:         d.Loc.Lng,
		VehicleType: d.VehicleType,
		Status:      d.Status,
		Online:      d.Online,
		Recorded:    d.LastUpdate,
	}
	online := 0
	for _, p := range r.drivers {
		if p.Online {
			online++
		}
	}
	r.mu.Unlock()

	observability.DriversOnline.Set(float64(online))

	if err := r.store.InsertLocationRecord(ctx, ping); err != nil {
		observability.StorageFailures.WithLabelValues("insert_location").Inc()
		r.log.Warn("location snapshot write failed", "driverId", driverID, "error", err)
	}
	if r.sink != nil {
		if err := r.sink.PublishLocation(ping); err != nil {
			r.log.Warn("location ingest publish failed", "driverId", driverID, "error", err)
		}
	}
	if r.pub != nil {
		r.pub.ToAll("driverLocationsUpdate", map[string]any{"drivers": r.ListOnline()})
	}
}

func project(d *models.DriverPresence) models.DriverSnapshot {
	return models.DriverSnapshot{
		DriverID:    d.DriverID,
		DriverName:  d.DriverName,
		Lat:         d.Loc.Lat,
		Lng:         d.Loc.Lng,
		VehicleType: d.VehicleType,
		Status:      d.Status,
		LastUpdate:  d.LastUpdate,
	}
}

func validCoord(c models.Coord) bool {
	if c.Lat == 0 && c.Lng == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}
