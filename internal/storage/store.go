package storage

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

// Domain errors surfaced by every Store implementation. Callers branch on
// these rather than driver-specific error types.
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrConflict     = errors.New("conditional update lost")
)

// RideStore defines durable persistence for ride records.
type RideStore interface {
	FindRideByID(ctx context.Context, rideID string) (*models.Ride, error)
	UpsertRide(ctx context.Context, r *models.Ride) error
	// AcceptPending atomically transitions rideID from pending to accepted,
	// binding the driver fields, and returns the updated record. The
	// conditional update is the serialization point for racing acceptances:
	// exactly one caller wins, later callers get ErrConflict.
	AcceptPending(ctx context.Context, rideID, driverID, driverName, driverMobile, otp string) (*models.Ride, error)
}

// DriverStore defines durable driver lookups and the best-effort
// location history sink.
type DriverStore interface {
	FindDriverByID(ctx context.Context, driverID string) (*models.DriverAccount, error)
	InsertLocationRecord(ctx context.Context, ping models.LocationPing) error
}

// SequenceStore is the durable counter behind ride id generation.
type SequenceStore interface {
	// IncrementSequence atomically bumps the counter and returns the new
	// value. Concurrent callers never observe the same value.
	IncrementSequence(ctx context.Context) (int64, error)
	ResetSequence(ctx context.Context, value int64) error
}

// Store is the full durable collaborator consumed by the dispatch core.
type Store interface {
	RideStore
	DriverStore
	SequenceStore
}
