package gateway

// Inbound event payloads. Each event name maps to exactly one of these
// closed shapes; decoding and field checks happen at the boundary so
// core packages never see loose maps.

type registerDriverEvent struct {
	DriverID    string  `json:"driverId"`
	DriverName  string  `json:"driverName"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	VehicleType string  `json:"vehicleType"`
}

type driverLocationEvent struct {
	DriverID  string  `json:"driverId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Status    string  `json:"status"`
}

type driverHeartbeatEvent struct {
	DriverID string `json:"driverId"`
}

type registerUserEvent struct {
	UserID     string `json:"userId"`
	UserMobile string `json:"userMobile"`
}

type joinRoomEvent struct {
	UserID string `json:"userId"`
}

type nearbyDriversEvent struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"` // accepted for wire compatibility, never filters
}

type acceptRideEvent struct {
	RideID     string `json:"rideId"`
	DriverID   string `json:"driverId"`
	DriverName string `json:"driverName"`
}

type rejectRideEvent struct {
	RideID   string `json:"rideId"`
	DriverID string `json:"driverId"`
}

type completeRideEvent struct {
	RideID   string  `json:"rideId"`
	DriverID string  `json:"driverId"`
	Distance float64 `json:"distance"`
}

type userLocationEvent struct {
	UserID    string  `json:"userId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RideID    string  `json:"rideId"`
}
