// Package gateway is the real-time transport layer: it owns the
// WebSocket connections, binds each one to a user or driver identity,
// and routes named inbound events into the dispatch core.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/fanout"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NearbyMirror is the optional Redis-backed geo index consulted on
// nearby queries for a fresher location fix.
type NearbyMirror interface {
	Nearby(ctx context.Context, lat, lng float64, limit int) []models.DriverSnapshot
}

type Server struct {
	registry *Registry
	fan      *fanout.Fanout
	presence *presence.Registry
	rides    *lifecycle.Service
	mirror   NearbyMirror // optional, nil when Redis is not configured
	log      *slog.Logger
	router   *mux.Router
}

func NewServer(registry *Registry, fan *fanout.Fanout, pres *presence.Registry, rides *lifecycle.Service, mirror NearbyMirror, log *slog.Logger) *Server {
	s := &Server{
		registry: registry,
		fan:      fan,
		presence: pres,
		rides:    rides,
		mirror:   mirror,
		log:      log,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/ws", s.handleWS)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		s.log.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	connID := newConnID()
	sess := s.registry.Add(connID, conn)
	observability.ConnectionsActive.Set(float64(s.registry.Count()))
	s.log.Info("connection opened", "conn", connID, "remote", r.RemoteAddr)

	go s.readLoop(sess)
}

// inboundEnvelope defers payload decoding until the event is known.
type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	AckID string          `json:"ackId"`
}

func (s *Server) readLoop(sess *Session) {
	defer s.disconnect(sess)
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		var env inboundEnvelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			s.log.Debug("dropping malformed frame", "conn", sess.ID())
			continue
		}
		s.dispatch(sess, env)
	}
}

// dispatch routes one inbound event. Every handler runs behind a
// recover boundary: a bad payload or handler failure is a log line,
// never a crash.
func (s *Server) dispatch(sess *Session, env inboundEnvelope) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("handler panic recovered", "event", env.Event, "conn", sess.ID(), "panic", rec)
		}
	}()
	observability.EventsInbound.WithLabelValues(env.Event).Inc()
	ctx := context.Background()

	switch env.Event {
	case "registerDriver":
		var p registerDriverEvent
		if !decode(env.Data, &p) {
			s.confirmRegistration(sess, false, "malformed registration payload")
			return
		}
		ok := s.presence.RegisterDriver(ctx, p.DriverID, p.DriverName, models.Coord{Lat: p.Latitude, Lng: p.Longitude}, p.VehicleType, sess.ID())
		if ok {
			s.registry.Join(p.DriverID, sess.ID())
			s.confirmRegistration(sess, true, "driver registered")
		} else {
			s.confirmRegistration(sess, false, "driverId and location are required")
		}

	case "driverLocationUpdate":
		var p driverLocationEvent
		if !decode(env.Data, &p) {
			return
		}
		s.presence.UpdateLocation(ctx, p.DriverID, models.Coord{Lat: p.Latitude, Lng: p.Longitude}, models.DriverStatus(p.Status))
		if snap, ok := s.presence.Snapshot(p.DriverID); ok {
			s.fan.ToAll("driverLiveLocationUpdate", snap)
		}

	case "driverHeartbeat":
		var p driverHeartbeatEvent
		if decode(env.Data, &p) {
			s.presence.Heartbeat(p.DriverID)
		}

	case "registerUser":
		var p registerUserEvent
		if decode(env.Data, &p) && p.UserID != "" {
			s.registry.Join(p.UserID, sess.ID())
		}

	case "joinRoom":
		var p joinRoomEvent
		if decode(env.Data, &p) {
			s.registry.Join(p.UserID, sess.ID())
		}

	case "requestNearbyDrivers":
		var p nearbyDriversEvent
		if !decode(env.Data, &p) {
			return
		}
		_ = sess.Send("nearbyDriversResponse", map[string]any{"drivers": s.nearbyDrivers(ctx, p.Latitude, p.Longitude)})

	case "bookRide":
		var req lifecycle.BookRequest
		if !decode(env.Data, &req) {
			s.ack(sess, env.AckID, lifecycle.BookResult{Success: false, Message: "malformed booking payload"})
			return
		}
		s.ack(sess, env.AckID, s.rides.BookRide(ctx, req))

	case "acceptRide":
		var p acceptRideEvent
		if !decode(env.Data, &p) {
			s.ack(sess, env.AckID, lifecycle.AcceptResult{Success: false, Message: "malformed accept payload"})
			return
		}
		s.ack(sess, env.AckID, s.rides.AcceptRide(ctx, p.RideID, p.DriverID, p.DriverName))

	case "rejectRide":
		var p rejectRideEvent
		if decode(env.Data, &p) {
			s.rides.RejectRide(ctx, p.RideID, p.DriverID)
		}

	case "completeRide":
		var p completeRideEvent
		if decode(env.Data, &p) {
			s.rides.CompleteRide(ctx, p.RideID, p.DriverID, p.Distance)
		}

	case "userLocationUpdate":
		var p userLocationEvent
		if decode(env.Data, &p) && p.RideID != "" {
			s.rides.ForwardUserLocation(ctx, p.RideID, models.Coord{Lat: p.Latitude, Lng: p.Longitude})
		}

	default:
		s.log.Debug("unknown event", "event", env.Event, "conn", sess.ID())
	}
}

// nearbyLimit caps how many entries one mirror query returns.
const nearbyLimit = 100

// nearbyDrivers answers a nearby query with every online driver,
// nearest first. The radius carried by the request is advisory and
// never trims the listing. Membership comes from the presence
// registry; the mirror, when configured, contributes a fresher fix
// for drivers the ingest pipeline has indexed ahead of the socket.
func (s *Server) nearbyDrivers(ctx context.Context, lat, lng float64) []models.DriverSnapshot {
	drivers := s.presence.ListOnline()
	if s.mirror != nil && len(drivers) > 0 {
		indexed := make(map[string]models.DriverSnapshot, len(drivers))
		for _, d := range s.mirror.Nearby(ctx, lat, lng, nearbyLimit) {
			indexed[d.DriverID] = d
		}
		for i := range drivers {
			if m, ok := indexed[drivers[i].DriverID]; ok {
				drivers[i].Lat, drivers[i].Lng = m.Lat, m.Lng
				if !m.LastUpdate.IsZero() {
					drivers[i].LastUpdate = m.LastUpdate
				}
			}
		}
	}
	for i := range drivers {
		drivers[i].Distance = geo.Haversine(lat, lng, drivers[i].Lat, drivers[i].Lng)
	}
	sort.Slice(drivers, func(i, j int) bool { return drivers[i].Distance < drivers[j].Distance })
	return drivers
}

func (s *Server) disconnect(sess *Session) {
	s.presence.MarkOfflineByConn(context.Background(), sess.ID())
	s.registry.Remove(sess.ID())
	_ = sess.close()
	observability.ConnectionsActive.Set(float64(s.registry.Count()))
	s.log.Info("connection closed", "conn", sess.ID())
}

func (s *Server) confirmRegistration(sess *Session, success bool, message string) {
	_ = sess.Send("driverRegistrationConfirmed", map[string]any{
		"success": success,
		"message": message,
	})
}

func (s *Server) ack(sess *Session, ackID string, payload any) {
	if ackID == "" {
		// caller did not ask for an ack; deliver as a plain event
		_ = sess.Send("ack", payload)
		return
	}
	_ = sess.Ack(ackID, payload)
}

// RunStatusLog periodically reports a dispatch summary line. Each
// iteration is independent of the last.
func (s *Server) RunStatusLog(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.log.Info("dispatch status",
				"connections", s.registry.Count(),
				"driversOnline", len(s.presence.ListOnline()),
				"activeRides", s.rides.ActiveCount(),
			)
		}
	}
}

func decode(raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func newConnID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
