// Package monitor exposes the bridge's observability endpoint on the
// designated rank: Prometheus metrics plus a JSON snapshot of the last
// deviation step. Non-designated ranks never start a server.
package monitor

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mdbridge/internal/bridge"
)

// zlog is an optional structured logger.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the monitor layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// Snapshotter is the view the monitor needs from the bridge.
type Snapshotter interface {
	Snapshot() bridge.Snapshot
}

// NewMux builds the monitor router.
func NewMux(b Snapshotter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(b.Snapshot()); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
			return
		}
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Serve starts the monitor on addr and blocks until the listener fails or
// the server is shut down. Callers run it on its own goroutine.
func Serve(addr string, b Snapshotter) error {
	srv := &http.Server{Addr: addr, Handler: NewMux(b)}
	if zlog != nil {
		zlog.Info().Str("addr", addr).Msg("monitor listening")
	}
	return srv.ListenAndServe()
}
