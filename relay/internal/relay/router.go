package relay

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	coremetrics "spriteconsole/core/metrics"
	"spriteconsole/relay/internal/metrics"
)

// NewRouter exposes the WebSocket endpoint at / and /ws next to health,
// status and Prometheus metrics.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(coremetrics.HTTPMetricsMiddleware(metrics.HTTPRequestsTotal, metrics.HTTPRequestDuration))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "relay"}`))
	}).Methods("GET")

	r.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(h.Status()); err != nil {
			log.Error().Err(err).Msg("Failed to encode status response")
		}
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.Handle("/ws", h).Methods("GET")
	r.Handle("/", h).Methods("GET")
	return r
}
