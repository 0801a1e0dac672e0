package main

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// clientLister is the part of the server the admin routes read.
type clientLister interface {
	IsRunning() bool
	Clients() []string
}

type clientsResponse struct {
	Count   int      `json:"count"`
	Clients []string `json:"clients"`
}

func newAdminRouter(gatherer prometheus.Gatherer, srv clientLister) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !srv.IsRunning() {
			http.Error(w, "stopped", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})

	r.Get("/clients", func(w http.ResponseWriter, _ *http.Request) {
		ids := srv.Clients()
		sort.Strings(ids)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(clientsResponse{Count: len(ids), Clients: ids})
	})

	return r
}
