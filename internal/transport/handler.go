package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/cortexuvula/pagesync/internal/broker"
	"github.com/cortexuvula/pagesync/internal/config"
	"github.com/cortexuvula/pagesync/internal/metrics"
	"github.com/cortexuvula/pagesync/internal/security"
)

// Handler accepts session WebSocket connections and feeds their frames to the broker.
type Handler struct {
	Config      *config.Config
	Broker      *broker.Broker
	Tracker     *Tracker
	RateLimiter *security.RateLimiter
	Metrics     *metrics.Metrics // optional, nil if metrics disabled
	ShutdownCtx context.Context  // cancelled on server shutdown

	// drainCtx is cancelled when the server begins draining connections.
	drainCtx    context.Context
	drainCancel context.CancelFunc

	conns sync.WaitGroup

	// mu protects Config during hot-reload
	mu sync.RWMutex
}

// NewHandler creates a session handler.
func NewHandler(cfg *config.Config, b *broker.Broker, t *Tracker, rl *security.RateLimiter, shutdownCtx context.Context) *Handler {
	drainCtx, drainCancel := context.WithCancel(context.Background())
	return &Handler{
		Config:      cfg,
		Broker:      b,
		Tracker:     t,
		RateLimiter: rl,
		ShutdownCtx: shutdownCtx,
		drainCtx:    drainCtx,
		drainCancel: drainCancel,
	}
}

// StartDrain sends a going-away close frame on every open connection.
func (h *Handler) StartDrain() {
	h.drainCancel()
}

// Wait blocks until every accepted connection has been torn down or ctx ends.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetConfig returns the current config (thread-safe for hot-reload).
func (h *Handler) GetConfig() *config.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.Config
}

// UpdateConfig swaps the config (called on SIGHUP).
func (h *Handler) UpdateConfig(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Config = cfg
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.GetConfig()
	clientIP := security.ClientIP(r.RemoteAddr)

	if !IsWebSocketUpgrade(r) {
		w.Header().Set("Upgrade", "websocket")
		http.Error(w, "Upgrade Required", http.StatusUpgradeRequired)
		return
	}

	if cfg.Security.RateLimit.Enabled && h.RateLimiter != nil && !h.RateLimiter.Allow(clientIP) {
		slog.Warn("rate limit exceeded", "client_ip", clientIP)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	if reason := h.Tracker.TryAcquire(clientIP, cfg.Security.MaxConnections, cfg.Security.MaxConnectionsPerIP); reason != "" {
		if h.Metrics != nil {
			h.Metrics.ErrorsTotal.WithLabelValues(reason).Inc()
		}
		if reason == LimitGlobal {
			slog.Warn("max connections reached", "current", h.Tracker.ConnectionCount(), "max", cfg.Security.MaxConnections)
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		} else {
			slog.Warn("max connections per IP reached", "client_ip", clientIP, "current", h.Tracker.ConnectionCountForIP(clientIP))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		}
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(cfg.Server.AllowedOrigins),
	})
	if err != nil {
		h.Tracker.Release(clientIP)
		if h.Metrics != nil {
			h.Metrics.ErrorsTotal.WithLabelValues("accept_failure").Inc()
		}
		slog.Warn("failed to accept session WebSocket", "client_ip", clientIP, "error", err)
		return
	}
	conn.SetReadLimit(cfg.Server.MaxMessageSize)

	if h.Metrics != nil {
		h.Metrics.ConnectionsTotal.Inc()
		h.Metrics.ActiveConnections.Inc()
	}
	h.conns.Add(1)
	defer h.conns.Done()

	h.serve(conn, cfg, clientIP)
}

// serve runs one session until the connection ends. Teardown happens once,
// whatever ended the connection.
func (h *Handler) serve(conn *websocket.Conn, cfg *config.Config, clientIP string) {
	start := time.Now()
	connCtx, connCancel := context.WithCancel(h.ShutdownCtx)
	defer connCancel()

	p := newPeer(cfg.Server.SendQueueSize)
	sessionID := h.Broker.Connect(p)
	log := slog.With("session", sessionID, "client_ip", clientIP)
	log.Info("session connected")

	var closeOnce sync.Once
	closeConn := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() { conn.Close(code, reason) })
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.writeLoop(connCtx, conn, cfg.Server.WriteTimeout, func(err error) {
			log.Debug("write failed, closing session", "error", err)
			if h.Metrics != nil {
				h.Metrics.ErrorsTotal.WithLabelValues("write_failure").Inc()
			}
			connCancel()
			conn.CloseNow()
		})
	}()

	if cfg.Server.PingInterval > 0 {
		go h.keepAlive(connCtx, conn, cfg.Server.PingInterval, cfg.Server.PongTimeout, connCancel)
	}

	go func() {
		select {
		case <-h.drainCtx.Done():
			closeConn(websocket.StatusGoingAway, "server shutting down")
		case <-connCtx.Done():
		}
	}()

	h.readLoop(connCtx, conn, sessionID, cfg, log)

	connCancel()
	p.close()
	wg.Wait()
	closeConn(websocket.StatusNormalClosure, "")
	h.Broker.Disconnect(sessionID)
	h.Tracker.Release(clientIP)
	if h.Metrics != nil {
		h.Metrics.ActiveConnections.Dec()
	}
	log.Info("session closed", "duration", time.Since(start).String())
}

// readLoop reads text frames and dispatches them until the connection ends.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string, cfg *config.Config, log *slog.Logger) {
	perSecond := 0
	if cfg.Security.RateLimit.Enabled {
		perSecond = cfg.Security.RateLimit.MessagesPerSecond
	}
	msgLimiter := security.NewMessageLimiter(perSecond)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug("read stopped", "reason", err)
			return
		}
		if msgType != websocket.MessageText {
			log.Debug("ignoring binary frame")
			continue
		}

		if msgLimiter != nil {
			if err := msgLimiter.Wait(ctx); err != nil {
				log.Debug("message rate limit", "reason", err)
				return
			}
		}

		h.Tracker.IncrementMessages()
		res, err := h.Broker.HandleMessage(sessionID, data)
		if err != nil {
			if errors.Is(err, broker.ErrUnknownType) {
				log.Debug("ignoring message", "error", err)
			} else {
				log.Warn("malformed message", "error", err)
			}
			continue
		}
		log.Debug("message dispatched", "outcome", res.Outcome.String(), "reason", res.Reason, "delivered", res.Delivered)
	}
}

// keepAlive sends periodic WebSocket pings to detect dead connections.
// If a ping fails or times out, it closes the connection and cancels its context.
func (h *Handler) keepAlive(ctx context.Context, conn *websocket.Conn, interval, pongTimeout time.Duration, onFail context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("keepalive ping failed, closing connection", "error", err)
				conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				onFail()
				return
			}
		}
	}
}

// originPatterns turns configured origins into the host patterns Accept
// matches against. An empty list keeps the same-origin default.
func originPatterns(origins []string) []string {
	if len(origins) == 0 {
		return nil
	}
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return patterns
}

// IsWebSocketUpgrade returns true if the request is a WebSocket upgrade per RFC 6455 §4.1.
func IsWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		headerContains(r.Header, "Connection", "upgrade")
}

// headerContains checks whether the header key contains the given value
// as a comma-separated token (case-insensitive).
func headerContains(h http.Header, key, value string) bool {
	for _, v := range h[http.CanonicalHeaderKey(key)] {
		for _, s := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(s), value) {
				return true
			}
		}
	}
	return false
}
