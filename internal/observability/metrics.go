package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "connections_active", Help: "Currently open gateway connections"})
	DriversOnline     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "drivers_online", Help: "Drivers currently marked online"})

	RidesBooked     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "rides_booked_total", Help: "Total rides booked"})
	RidesAccepted   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "rides_accepted_total", Help: "Total rides accepted by a driver"})
	RidesCompleted  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "rides_completed_total", Help: "Total rides completed"})
	AcceptConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "accept_conflicts_total", Help: "Acceptance attempts that lost the race"})

	EventsInbound = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "events_inbound_total", Help: "Inbound gateway events by name"},
		[]string{"event"},
	)
	FanoutDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "fanout_deliveries_total", Help: "Outbound event deliveries by target kind"},
		[]string{"target"},
	)
	StorageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "storage_failures_total", Help: "Durable storage failures by operation"},
		[]string{"op"},
	)

	BookLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Name:      "book_latency_seconds",
		Help:      "Booking handler latency distribution",
		Buckets:   prometheus.DefBuckets,
	})
)
