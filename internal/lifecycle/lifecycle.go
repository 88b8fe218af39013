// Package lifecycle implements the ride state machine: booking, the
// exactly-once acceptance race, rejection, completion, and the rider
// location relay. Transitions are pending → accepted → completed with
// pending → rejected as the alternate branch; completed and rejected
// are terminal.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/sequence"
	"github.com/example/ride-dispatch/internal/storage"
)

// Publisher is the slice of the fanout the lifecycle needs. User and
// driver rooms are keyed by their respective ids.
type Publisher interface {
	ToAll(event string, payload any)
	ToRoom(roomID, event string, payload any)
	DeliverCritical(roomID, event string, payload any)
}

// PresenceControl flips a driver between Live and OnRide.
type PresenceControl interface {
	SetStatus(driverID string, status models.DriverStatus)
}

type BookRequest struct {
	UserID      string      `json:"userId"`
	CustomerID  string      `json:"customerId"`
	UserName    string      `json:"userName"`
	Pickup      models.Stop `json:"pickup"`
	Drop        models.Stop `json:"drop"`
	VehicleType string      `json:"vehicleType"`
	Fare        float64     `json:"fare"`
	Distance    float64     `json:"distance"`
}

type BookResult struct {
	Success       bool     `json:"success"`
	RideID        string   `json:"rideId,omitempty"`
	RecordID      string   `json:"recordId,omitempty"`
	OTP           string   `json:"otp,omitempty"`
	Message       string   `json:"message,omitempty"`
	MissingFields []string `json:"missingFields,omitempty"`
}

type AcceptResult struct {
	Success bool         `json:"success"`
	RideID  string       `json:"rideId"`
	Message string       `json:"message,omitempty"`
	Ride    *models.Ride `json:"ride,omitempty"`
}

type Service struct {
	store    storage.Store
	ids      *sequence.Generator
	presence PresenceControl
	pub      Publisher
	log      *slog.Logger

	guard *processingGuard

	// working holds the in-memory copy of every active ride. Entries
	// are evicted grace after completion to allow late reads.
	mu      sync.Mutex
	working map[string]*models.Ride
	grace   time.Duration

	now func() time.Time
}

func NewService(store storage.Store, ids *sequence.Generator, pres PresenceControl, pub Publisher, grace time.Duration, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		ids:      ids,
		presence: pres,
		pub:      pub,
		log:      log,
		guard:    newProcessingGuard(),
		working:  make(map[string]*models.Ride),
		grace:    grace,
		now:      time.Now,
	}
}

// BookRide creates a pending ride and offers it to every driver
// connection. Retried submissions that land on an existing ride id get
// the original confirmation back instead of a duplicate record.
func (s *Service) BookRide(ctx context.Context, req BookRequest) BookResult {
	start := s.now()
	defer func() {
		observability.BookLatency.Observe(time.Since(start).Seconds())
	}()

	rideID := s.ids.Next(ctx)
	otp := deriveOTP(req.CustomerID)

	if !s.guard.tryAcquire(rideID) {
		return BookResult{Success: false, RideID: rideID, Message: "booking already in progress for this ride id"}
	}
	defer s.guard.release(rideID)

	// Idempotent retry safety: an existing record with this id means a
	// previous attempt already succeeded.
	if existing, err := s.store.FindRideByID(ctx, rideID); err == nil {
		s.log.Info("duplicate booking resolved to existing ride", "rideId", rideID)
		return BookResult{Success: true, RideID: existing.RideID, RecordID: existing.RideID, OTP: existing.OTP}
	}

	if missing := missingBookFields(req); len(missing) > 0 {
		return BookResult{
			Success:       false,
			Message:       "missing required fields: " + strings.Join(missing, ", "),
			MissingFields: missing,
		}
	}

	ride := &models.Ride{
		RideID:      rideID,
		UserID:      req.UserID,
		CustomerID:  req.CustomerID,
		UserName:    req.UserName,
		Pickup:      req.Pickup,
		Drop:        req.Drop,
		VehicleType: req.VehicleType,
		Fare:        req.Fare,
		Distance:    req.Distance,
		OTP:         otp,
		Status:      models.RidePending,
		CreatedAt:   start,
	}
	if err := s.store.UpsertRide(ctx, ride); err != nil {
		observability.StorageFailures.WithLabelValues("upsert_ride").Inc()
		s.log.Error("booking persist failed", "rideId", rideID, "error", err)
		return BookResult{Success: false, RideID: rideID, Message: "could not save the ride, please retry"}
	}

	s.mu.Lock()
	s.working[rideID] = ride
	s.mu.Unlock()

	s.pub.ToAll("newRideRequest", ride)
	observability.RidesBooked.Inc()
	s.log.Info("ride booked", "rideId", rideID, "userId", req.UserID)

	return BookResult{Success: true, RideID: rideID, RecordID: rideID, OTP: otp}
}

// AcceptRide resolves the acceptance race for a pending ride. The
// conditional durable update is the serialization point: exactly one
// driver wins, everyone else gets the already-accepted result and the
// losing-driver broadcast so stale offers disappear from their screens.
func (s *Service) AcceptRide(ctx context.Context, rideID, driverID, driverName string) AcceptResult {
	ride, err := s.store.FindRideByID(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		return AcceptResult{Success: false, RideID: rideID, Message: "ride not found"}
	}
	if err != nil {
		observability.StorageFailures.WithLabelValues("find_ride").Inc()
		s.log.Error("accept read failed", "rideId", rideID, "error", err)
		return AcceptResult{Success: false, RideID: rideID, Message: "could not load the ride, please retry"}
	}
	if ride.Status != models.RidePending {
		return s.loseAcceptance(rideID, driverID)
	}

	mobile := "N/A"
	if acct, err := s.store.FindDriverByID(ctx, driverID); err == nil && acct.Mobile != "" {
		mobile = acct.Mobile
	}

	otp := ride.OTP
	if otp == "" {
		otp = randomOTP()
	}

	accepted, err := s.store.AcceptPending(ctx, rideID, driverID, driverName, mobile, otp)
	if errors.Is(err, storage.ErrConflict) {
		return s.loseAcceptance(rideID, driverID)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return AcceptResult{Success: false, RideID: rideID, Message: "ride not found"}
	}
	if err != nil {
		observability.StorageFailures.WithLabelValues("accept_ride").Inc()
		s.log.Error("accept persist failed", "rideId", rideID, "error", err)
		return AcceptResult{Success: false, RideID: rideID, Message: "could not accept the ride, please retry"}
	}

	s.mu.Lock()
	s.working[rideID] = accepted
	s.mu.Unlock()

	s.presence.SetStatus(driverID, models.DriverOnRide)

	s.pub.DeliverCritical(accepted.UserID, "rideAccepted", map[string]any{
		"rideId":       accepted.RideID,
		"driverId":     driverID,
		"driverName":   driverName,
		"driverMobile": mobile,
		"otp":          otp,
		"vehicleType":  accepted.VehicleType,
	})
	s.pub.ToRoom(driverID, "userDataForDriver", accepted)
	s.pub.ToAll("rideAlreadyAccepted", map[string]any{
		"rideId":  rideID,
		"message": "ride already accepted by another driver",
	})

	observability.RidesAccepted.Inc()
	s.log.Info("ride accepted", "rideId", rideID, "driverId", driverID)
	return AcceptResult{Success: true, RideID: rideID, Ride: accepted}
}

func (s *Service) loseAcceptance(rideID, driverID string) AcceptResult {
	observability.AcceptConflicts.Inc()
	s.pub.ToAll("rideAlreadyAccepted", map[string]any{
		"rideId":  rideID,
		"message": "ride already accepted by another driver",
	})
	s.log.Info("acceptance lost", "rideId", rideID, "driverId", driverID)
	return AcceptResult{Success: false, RideID: rideID, Message: "ride already accepted"}
}

// RejectRide records the driver's decline on the working copy and frees
// the driver. The durable record stays untouched so the ride remains
// open to other drivers.
func (s *Service) RejectRide(ctx context.Context, rideID, driverID string) {
	s.mu.Lock()
	if r, ok := s.working[rideID]; ok {
		r.Status = models.RideRejected
	}
	s.mu.Unlock()

	s.presence.SetStatus(driverID, models.DriverLive)
	s.pub.ToRoom(driverID, "driverStatusUpdate", map[string]any{
		"driverId": driverID,
		"status":   models.DriverLive,
	})
	s.log.Info("ride rejected", "rideId", rideID, "driverId", driverID)
}

// CompleteRide closes out a ride: durable completion, driver back to
// Live, rider notified, and the working copy scheduled for eviction
// after the grace window.
func (s *Service) CompleteRide(ctx context.Context, rideID, driverID string, distance float64) {
	s.mu.Lock()
	ride, ok := s.working[rideID]
	s.mu.Unlock()
	if !ok {
		var err error
		ride, err = s.store.FindRideByID(ctx, rideID)
		if err != nil {
			s.log.Warn("completion for unknown ride", "rideId", rideID, "error", err)
			return
		}
	}

	ride.Status = models.RideCompleted
	ride.Distance = distance
	if err := s.store.UpsertRide(ctx, ride); err != nil {
		observability.StorageFailures.WithLabelValues("upsert_ride").Inc()
		s.log.Warn("completion persist failed", "rideId", rideID, "error", err)
	}

	s.presence.SetStatus(driverID, models.DriverLive)
	s.pub.ToRoom(ride.UserID, "rideCompleted", map[string]any{
		"rideId":   rideID,
		"distance": distance,
	})

	time.AfterFunc(s.grace, func() {
		s.mu.Lock()
		delete(s.working, rideID)
		s.mu.Unlock()
	})

	observability.RidesCompleted.Inc()
	s.log.Info("ride completed", "rideId", rideID, "driverId", driverID, "distance", distance)
}

// ForwardUserLocation relays the rider's live position to the one
// driver bound to the ride. Point-to-point, never broadcast.
func (s *Service) ForwardUserLocation(ctx context.Context, rideID string, loc models.Coord) {
	s.mu.Lock()
	ride, ok := s.working[rideID]
	s.mu.Unlock()
	if !ok || ride.DriverID == "" {
		return
	}
	s.pub.ToRoom(ride.DriverID, "userLiveLocationUpdate", map[string]any{
		"rideId":    rideID,
		"latitude":  loc.Lat,
		"longitude": loc.Lng,
	})
}

// WorkingCopy exposes the in-memory record for an active ride.
func (s *Service) WorkingCopy(rideID string) (*models.Ride, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.working[rideID]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

// ActiveCount reports how many working copies are held; used by the
// periodic status log.
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.working)
}

func missingBookFields(req BookRequest) []string {
	var missing []string
	if req.UserID == "" {
		missing = append(missing, "userId")
	}
	if req.CustomerID == "" {
		missing = append(missing, "customerId")
	}
	if req.UserName == "" {
		missing = append(missing, "userName")
	}
	if req.Pickup == (models.Stop{}) {
		missing = append(missing, "pickup")
	}
	if req.Drop == (models.Stop{}) {
		missing = append(missing, "drop")
	}
	return missing
}

// deriveOTP takes the trailing 4 characters of the customer identifier
// when available, otherwise a random 4-digit code.
func deriveOTP(customerID string) string {
	if len(customerID) >= 4 {
		return customerID[len(customerID)-4:]
	}
	return randomOTP()
}

func randomOTP() string {
	return fmt.Sprintf("%04d", rand.Intn(10000))
}
