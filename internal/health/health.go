package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/cortexuvula/pagesync/internal/broker"
	"github.com/cortexuvula/pagesync/internal/metrics"
	"github.com/cortexuvula/pagesync/internal/transport"
)

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status            string   `json:"status"`
	Uptime            string   `json:"uptime"`
	ActiveConnections int      `json:"active_connections"`
	ActiveRooms       int      `json:"active_rooms"`
	StoreReachable    bool     `json:"store_reachable"`
	Version           string   `json:"version,omitempty"`
	Timestamp         string   `json:"timestamp"`
	Details           *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	Sessions         int     `json:"sessions"`
	TotalConnections int64   `json:"total_connections"`
	TotalMessages    int64   `json:"total_messages"`
	MemoryMB         float64 `json:"memory_mb"`
	Goroutines       int     `json:"goroutines"`
}

// Pinger is implemented by the document store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the health check endpoint.
type Handler struct {
	startTime time.Time
	broker    *broker.Broker
	tracker   *transport.Tracker
	store     Pinger
	metrics   *metrics.Metrics // optional, nil if metrics disabled
	version   string
	detailed  bool
}

// NewHandler creates a new health check handler.
func NewHandler(b *broker.Broker, t *transport.Tracker, store Pinger, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		broker:    b,
		tracker:   t,
		store:     store,
		version:   version,
		detailed:  detailed,
	}
}

// SetMetrics sets the optional Prometheus metrics.
func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// ServeHTTP handles health check requests. It runs on the loopback health
// listener, separate from the public one.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	storeOK := h.checkStore(r.Context())

	if h.metrics != nil {
		if storeOK {
			h.metrics.StoreReachable.Set(1)
		} else {
			h.metrics.StoreReachable.Set(0)
		}
	}

	status := "ok"
	httpCode := http.StatusOK
	if !storeOK {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	resp := Response{
		Status:            status,
		Uptime:            time.Since(h.startTime).Round(time.Second).String(),
		ActiveConnections: h.tracker.ConnectionCount(),
		ActiveRooms:       h.broker.RoomCount(),
		StoreReachable:    storeOK,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			Sessions:         h.broker.SessionCount(),
			TotalConnections: h.tracker.TotalConnections(),
			TotalMessages:    h.tracker.TotalMessages(),
			MemoryMB:         float64(memStats.Alloc) / 1024 / 1024,
			Goroutines:       runtime.NumGoroutine(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) checkStore(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		slog.Debug("document store unreachable", "error", err)
		return false
	}
	return true
}
