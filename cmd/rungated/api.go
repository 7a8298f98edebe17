package main

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/guido-cesarano/rungate/pkg/gate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// endpoint guards h for a single method. Preflight requests are answered before auth; other
// methods get 405 with an Allow header. An empty apiKey disables the X-API-Key check (dev mode).
func endpoint(method, apiKey string, h http.HandlerFunc) http.HandlerFunc {
	allow := method + ", " + http.MethodOptions
	return func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Methods", allow)
		hdr.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
			return
		case method:
		default:
			hdr.Set("Allow", allow)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if apiKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-API-Key")), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// setupRouter configures the HTTP handlers and returns the mux.
// /metrics is left open for scrapers.
func setupRouter(d *daemon, apiKey string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", endpoint(http.MethodGet, apiKey, d.handleJobs))
	mux.HandleFunc("/run", endpoint(http.MethodPost, apiKey, d.handleRun))
	mux.HandleFunc("/reset", endpoint(http.MethodPost, apiKey, d.handleReset))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// handleJobs returns the gate status of every job.
func (d *daemon) handleJobs(w http.ResponseWriter, r *http.Request) {
	statuses, err := d.statuses(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, statuses)
}

// handleRun starts a job now, bypassing its constraints.
func (d *daemon) handleRun(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing job ID", http.StatusBadRequest)
		return
	}
	j, ok := d.jobs[id]
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	if _, err := d.tick(j, true); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintf(w, "Run started: %s\n", id)
}

// handleReset wipes the persisted state of every identity in the gate namespace.
func (d *daemon) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := gate.RemoveAllPersisted(r.Context(), d.store); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fmt.Fprintln(w, "Persisted state removed")
}
