package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Stop is a pickup or drop point with its display address.
type Stop struct {
	Addr string  `json:"addr"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// DriverStatus is the live dispatch state of a driver.
type DriverStatus string

const (
	DriverLive    DriverStatus = "Live"
	DriverOnRide  DriverStatus = "OnRide"
	DriverOffline DriverStatus = "Offline"
)

// DriverPresence is the in-memory live state of a connected driver.
// Owned by the presence registry; ConnID never leaves it.
type DriverPresence struct {
	DriverID    string
	DriverName  string
	Loc         Coord
	VehicleType string
	Status      DriverStatus
	Online      bool
	LastUpdate  time.Time
	ConnID      string
}

// DriverSnapshot is the public projection of a presence entry, safe to
// broadcast to clients.
type DriverSnapshot struct {
	DriverID    string       `json:"driverId"`
	DriverName  string       `json:"driverName"`
	Lat         float64      `json:"latitude"`
	Lng         float64      `json:"longitude"`
	VehicleType string       `json:"vehicleType"`
	Status      DriverStatus `json:"status"`
	LastUpdate  time.Time    `json:"timestamp"`

	// Distance in meters from the requester, filled only on nearby
	// query responses.
	Distance float64 `json:"distance,omitempty"`
}

type RideStatus string

const (
	RidePending   RideStatus = "pending"
	RideAccepted  RideStatus = "accepted"
	RideRejected  RideStatus = "rejected"
	RideCompleted RideStatus = "completed"
)

type Ride struct {
	RideID       string     `json:"rideId"`
	UserID       string     `json:"userId"`
	CustomerID   string     `json:"customerId"`
	UserName     string     `json:"userName"`
	Pickup       Stop       `json:"pickup"`
	Drop         Stop       `json:"drop"`
	VehicleType  string     `json:"vehicleType"`
	Fare         float64    `json:"fare"`
	Distance     float64    `json:"distance"`
	OTP          string     `json:"otp"`
	Status       RideStatus `json:"status"`
	DriverID     string     `json:"driverId,omitempty"`
	DriverName   string     `json:"driverName,omitempty"`
	DriverMobile string     `json:"driverMobile,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// DriverAccount is the durable driver record used for contact lookups.
type DriverAccount struct {
	DriverID string
	Name     string
	Mobile   string
}

// LocationPing is the denormalized presence snapshot written to durable
// storage and published to the ingest topic on every location update.
type LocationPing struct {
	DriverID    string       `json:"driverId"`
	DriverName  string       `json:"driverName"`
	Lat         float64      `json:"latitude"`
	Lng         float64      `json:"longitude"`
	VehicleType string       `json:"vehicleType"`
	Status      DriverStatus `json:"status"`
	Online      bool         `json:"online"`
	Recorded    time.Time    `json:"recorded"`
}
