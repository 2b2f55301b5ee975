// Package httpapi serves the public HTTP surface: the session WebSocket
// endpoint, the room listing, document upload and download, and static assets.
package httpapi

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cortexuvula/pagesync/internal/broker"
	"github.com/cortexuvula/pagesync/internal/config"
	"github.com/cortexuvula/pagesync/internal/docstore"
	"github.com/cortexuvula/pagesync/internal/metrics"
	"github.com/cortexuvula/pagesync/internal/transport"
)

// Deps holds the dependencies the router needs.
type Deps struct {
	Config   *config.Config
	Broker   *broker.Broker
	Store    docstore.Store
	Sessions http.Handler     // WebSocket session handler
	Metrics  *metrics.Metrics // optional

	// ConfigSource returns the live config after a hot reload. Optional;
	// Config is used when nil.
	ConfigSource func() *config.Config
}

type api struct {
	deps Deps
}

func (a *api) config() *config.Config {
	if a.deps.ConfigSource != nil {
		return a.deps.ConfigSource()
	}
	return a.deps.Config
}

// NewRouter builds the public router.
func NewRouter(d Deps) *chi.Mux {
	a := &api{deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if origins := d.Config.Server.AllowedOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length"},
			MaxAge:         300,
		}))
	}

	r.Get("/ws", d.Sessions.ServeHTTP)
	r.Get("/rooms", a.handleRooms)
	r.Post("/upload", a.handleUpload)
	r.Get("/uploads/{filename}", a.handleDocument)
	r.Get("/*", a.handleRoot())

	return r
}

// handleRoot hands WebSocket upgrades on "/" to the session handler and
// serves static assets for everything else.
func (a *api) handleRoot() http.HandlerFunc {
	var static http.Handler = http.NotFoundHandler()
	if dir := a.deps.Config.Server.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			static = http.FileServer(http.Dir(dir))
		} else {
			slog.Warn("static directory unavailable, serving no assets", "static_dir", dir)
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && transport.IsWebSocketUpgrade(r) {
			a.deps.Sessions.ServeHTTP(w, r)
			return
		}
		static.ServeHTTP(w, r)
	}
}

// requestLogger logs one line per request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
