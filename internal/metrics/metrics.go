package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the pagesync broker.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ActiveConnections prometheus.Gauge
	ActiveRooms       prometheus.Gauge
	StoreReachable    prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec
	BroadcastsTotal   *prometheus.CounterVec
	DroppedTotal      *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	UploadsTotal      *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics with the default registerer.
func New() *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pagesync_connections_total",
			Help: "Total session connections accepted",
		}),
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pagesync_active_connections",
			Help: "Current open session connections",
		}),
		ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pagesync_active_rooms",
			Help: "Current rooms with at least one member",
		}),
		StoreReachable: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pagesync_store_reachable",
			Help: "Whether the document store answered the last health check (1=yes, 0=no)",
		}),
		MessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesync_messages_total",
			Help: "Inbound session messages by type",
		}, []string{"type"}),
		BroadcastsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesync_broadcasts_total",
			Help: "Room fan-outs by recipient scope",
		}, []string{"scope"}),
		DroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesync_dropped_messages_total",
			Help: "Outbound messages not delivered",
		}, []string{"reason"}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesync_errors_total",
			Help: "Total errors",
		}, []string{"type"}),
		UploadsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pagesync_uploads_total",
			Help: "Document uploads by result",
		}, []string{"result"}),
	}
}
