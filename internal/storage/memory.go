package storage

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore is an in-process Store used when no PG_DSN is configured
// and as the durable collaborator in tests.
type MemoryStore struct {
	mu        sync.Mutex
	rides     map[string]models.Ride
	drivers   map[string]models.DriverAccount
	locations []models.LocationPing
	seq       int64
	seeded    bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]models.Ride),
		drivers: make(map[string]models.DriverAccount),
	}
}

func (m *MemoryStore) FindRideByID(ctx context.Context, rideID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := r
	return &cp, nil
}

func (m *MemoryStore) UpsertRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.RideID] = *r
	return nil
}

func (m *MemoryStore) AcceptPending(ctx context.Context, rideID, driverID, driverName, driverMobile, otp string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != models.RidePending {
		return nil, ErrConflict
	}
	r.Status = models.RideAccepted
	r.DriverID = driverID
	r.DriverName = driverName
	r.DriverMobile = driverMobile
	r.OTP = otp
	m.rides[rideID] = r
	cp := r
	return &cp, nil
}

func (m *MemoryStore) FindDriverByID(ctx context.Context, driverID string) (*models.DriverAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := d
	return &cp, nil
}

// PutDriver seeds a driver account; used by tests and local runs.
func (m *MemoryStore) PutDriver(d models.DriverAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.DriverID] = d
}

func (m *MemoryStore) InsertLocationRecord(ctx context.Context, ping models.LocationPing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = append(m.locations, ping)
	return nil
}

// LocationCount reports how many pings have been recorded.
func (m *MemoryStore) LocationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locations)
}

func (m *MemoryStore) IncrementSequence(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.seeded {
		m.seq = sequenceSeed
		m.seeded = true
		return m.seq, nil
	}
	m.seq++
	return m.seq, nil
}

func (m *MemoryStore) ResetSequence(ctx context.Context, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = value
	m.seeded = true
	return nil
}
