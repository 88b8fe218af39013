package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

const sequenceSeed = 100000

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const rideColumns = `ride_id, user_id, customer_id, user_name,
	pickup_addr, pickup_lat, pickup_lng, drop_addr, drop_lat, drop_lng,
	vehicle_type, fare, distance, otp, status, driver_id, driver_name, driver_mobile, created_at`

func (p *PostgresStore) FindRideByID(ctx context.Context, rideID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE ride_id=$1`, rideID)
	return scanRide(row)
}

func (p *PostgresStore) UpsertRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (ride_id) DO UPDATE SET
			status=EXCLUDED.status, otp=EXCLUDED.otp, fare=EXCLUDED.fare, distance=EXCLUDED.distance,
			driver_id=EXCLUDED.driver_id, driver_name=EXCLUDED.driver_name, driver_mobile=EXCLUDED.driver_mobile`,
		r.RideID, r.UserID, r.CustomerID, r.UserName,
		r.Pickup.Addr, r.Pickup.Lat, r.Pickup.Lng, r.Drop.Addr, r.Drop.Lat, r.Drop.Lng,
		r.VehicleType, r.Fare, r.Distance, r.OTP, string(r.Status),
		nullable(r.DriverID), nullable(r.DriverName), nullable(r.DriverMobile), r.CreatedAt)
	return mapPQError(err)
}

func (p *PostgresStore) AcceptPending(ctx context.Context, rideID, driverID, driverName, driverMobile, otp string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `UPDATE rides
		SET status=$2, driver_id=$3, driver_name=$4, driver_mobile=$5, otp=$6
		WHERE ride_id=$1 AND status=$7
		RETURNING `+rideColumns,
		rideID, string(models.RideAccepted), driverID, driverName, driverMobile, otp, string(models.RidePending))
	r, err := scanRide(row)
	if errors.Is(err, ErrNotFound) {
		// Either the ride does not exist or another driver already holds it.
		if _, ferr := p.FindRideByID(ctx, rideID); ferr == nil {
			return nil, ErrConflict
		}
		return nil, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) FindDriverByID(ctx context.Context, driverID string) (*models.DriverAccount, error) {
	var d models.DriverAccount
	err := p.db.QueryRowContext(ctx, `SELECT driver_id, name, mobile FROM drivers WHERE driver_id=$1`, driverID).
		Scan(&d.DriverID, &d.Name, &d.Mobile)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresStore) InsertLocationRecord(ctx context.Context, ping models.LocationPing) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO driver_locations(driver_id, driver_name, lat, lng, vehicle_type, status, online, recorded_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		ping.DriverID, ping.DriverName, ping.Lat, ping.Lng, ping.VehicleType, string(ping.Status), ping.Online, ping.Recorded)
	return mapPQError(err)
}

func (p *PostgresStore) IncrementSequence(ctx context.Context) (int64, error) {
	var v int64
	err := p.db.QueryRowContext(ctx, `INSERT INTO dispatch_sequence(id, value) VALUES('sequence', $1)
		ON CONFLICT (id) DO UPDATE SET value = dispatch_sequence.value + 1
		RETURNING value`, sequenceSeed).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("increment sequence: %w", err)
	}
	return v, nil
}

func (p *PostgresStore) ResetSequence(ctx context.Context, value int64) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO dispatch_sequence(id, value) VALUES('sequence', $1)
		ON CONFLICT (id) DO UPDATE SET value = $1`, value)
	return err
}

func scanRide(row *sql.Row) (*models.Ride, error) {
	var r models.Ride
	var status string
	var driverID, driverName, driverMobile sql.NullString
	err := row.Scan(&r.RideID, &r.UserID, &r.CustomerID, &r.UserName,
		&r.Pickup.Addr, &r.Pickup.Lat, &r.Pickup.Lng, &r.Drop.Addr, &r.Drop.Lat, &r.Drop.Lng,
		&r.VehicleType, &r.Fare, &r.Distance, &r.OTP, &status,
		&driverID, &driverName, &driverMobile, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.RideStatus(status)
	r.DriverID = driverID.String
	r.DriverName = driverName.String
	r.DriverMobile = driverMobile.String
	return &r, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func mapPQError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pqErr.Constraint)
	}
	return err
}
