// Package server exposes the daemon's HTTP surface: the bridge websocket
// endpoint, a small client API and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tonbridge/tonbridge/internal/metrics"
	"github.com/tonbridge/tonbridge/internal/session"
)

// Options configures the HTTP handler.
type Options struct {
	AllowedOrigins []string
	// Metrics is the registry served on /metrics. When nil a private one is
	// created and the daemon metrics are registered on it. A non-nil
	// registry is served as-is; the caller owns registration.
	Metrics *prometheus.Registry
}

// New constructs the HTTP handler for the daemon.
func New(opts Options, reg *Registry, store session.Store) http.Handler {
	r := chi.NewRouter()
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}

	preg := opts.Metrics
	if preg == nil {
		preg = prometheus.NewRegistry()
		metrics.Register(preg)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/bridge", reg.WSHandler())
	r.Route("/api", func(ar chi.Router) {
		ar.Get("/clients", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(reg.Snapshot())
		})
		// Wallet-initiated disconnect: sever the session and tell the dapp.
		ar.Delete("/clients/{client_id}", func(w http.ResponseWriter, req *http.Request) {
			clientID := chi.URLParam(req, "client_id")
			ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
			defer cancel()
			_ = store.Delete(ctx, clientID)
			if !reg.NotifyDisconnect(ctx, clientID) {
				http.Error(w, "client not connected", http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))

	return r
}
