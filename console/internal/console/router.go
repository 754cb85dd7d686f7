package console

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spriteconsole/console/internal/metrics"
	coremetrics "spriteconsole/core/metrics"
)

// NewRouter exposes the console API. Sign-in and sign-out are public;
// every other /api route requires a bearer token or identity cookie.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(coremetrics.HTTPMetricsMiddleware(metrics.HTTPRequestsTotal, metrics.HTTPRequestDuration))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/api/auth/token", h.SignIn).Methods("POST")
	r.HandleFunc("/api/auth/signout", h.SignOut).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.Authenticate)

	api.HandleFunc("/auth/user", h.CurrentUser).Methods("GET")

	api.HandleFunc("/sprites", h.withSprites(h.ListSprites)).Methods("GET")
	api.HandleFunc("/sprites", h.withSprites(h.CreateSprite)).Methods("POST")
	api.HandleFunc("/sprites/{name}", h.withSprites(h.GetSprite)).Methods("GET")
	api.HandleFunc("/sprites/{name}", h.withSprites(h.DeleteSprite)).Methods("DELETE")
	api.HandleFunc("/sprites/{name}/checkpoints", h.withSprites(h.ListCheckpoints)).Methods("GET")
	api.HandleFunc("/sprites/{name}/checkpoints", h.withSprites(h.CreateCheckpoint)).Methods("POST")
	api.HandleFunc("/sprites/{name}/checkpoints/{id}/restore", h.withSprites(h.RestoreCheckpoint)).Methods("POST")
	api.HandleFunc("/sprites/{name}/init", h.withSprites(h.InitSprite)).Methods("POST")

	api.HandleFunc("/projects", h.ListProjects).Methods("GET")
	api.HandleFunc("/projects", h.CreateProject).Methods("POST")
	api.HandleFunc("/projects/{id}", h.GetProject).Methods("GET")
	api.HandleFunc("/projects/{id}", h.UpdateProject).Methods("PATCH")
	api.HandleFunc("/projects/{id}", h.DeleteProject).Methods("DELETE")
	api.HandleFunc("/projects/{id}/sprites", h.ListProjectSprites).Methods("GET")
	api.HandleFunc("/projects/{id}/sprites", h.withSprites(h.CreateProjectSprite)).Methods("POST")

	api.HandleFunc("/console/ticket", h.MintTicket).Methods("POST")

	return r
}

// Health reports liveness and whether the store answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "service": "console"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "console"})
}

// AddCORS allows browser clients from the configured origins. With no
// origins configured every origin is allowed.
func AddCORS(allowed []string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && originAllowed(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		handler.ServeHTTP(w, r)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
