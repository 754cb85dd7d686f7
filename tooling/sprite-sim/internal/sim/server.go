// Package sim is an in-memory stand-in for the Sprites API. It serves the
// REST surface the console uses and a PTY-backed exec WebSocket for the
// relay, so the whole stack runs on one machine.
package sim

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"spriteconsole/console/pkg/sprites"
)

// Config tunes the simulator.
type Config struct {
	// Tokens accepted as bearer credentials. Empty accepts any non-empty
	// token.
	Tokens []string
	// Shell runs when an exec WebSocket names no command.
	Shell string
	// ExecTimeout bounds non-interactive exec requests.
	ExecTimeout time.Duration
	// Domain is appended to sprite names to form their URLs.
	Domain string
	// StepDelay spaces out NDJSON progress events.
	StepDelay time.Duration
}

func (c *Config) setDefaults() {
	if c.Shell == "" {
		c.Shell = "/bin/sh"
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 30 * time.Second
	}
	if c.Domain == "" {
		c.Domain = "sprites.local"
	}
}

// Server implements the simulated API.
type Server struct {
	cfg      Config
	store    *Store
	sessions *sessionTable
	upgrader websocket.Upgrader
}

func NewServer(cfg Config) *Server {
	cfg.setDefaults()
	return &Server{
		cfg:      cfg,
		store:    NewStore(cfg.Domain),
		sessions: newSessionTable(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay is the only expected caller and sends no Origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Store exposes the backing store, mostly for seeding.
func (s *Server) Store() *Store {
	return s.store
}

// Close kills every running exec session.
func (s *Server) Close() {
	s.sessions.closeAll()
}

// Router mounts the API under /v1 next to an unauthenticated /health.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "sprite-sim"})
	}).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.requireToken)

	api.HandleFunc("/sprites", s.listSprites).Methods("GET")
	api.HandleFunc("/sprites", s.createSprite).Methods("POST")
	api.HandleFunc("/sprites/{name}", s.getSprite).Methods("GET")
	api.HandleFunc("/sprites/{name}", s.deleteSprite).Methods("DELETE")
	api.HandleFunc("/sprites/{name}/checkpoint", s.createCheckpoint).Methods("POST")
	api.HandleFunc("/sprites/{name}/checkpoints", s.listCheckpoints).Methods("GET")
	api.HandleFunc("/sprites/{name}/checkpoints/{id}/restore", s.restoreCheckpoint).Methods("POST")
	api.HandleFunc("/sprites/{name}/exec", s.execCommand).Methods("POST")
	api.HandleFunc("/sprites/{name}/exec", s.execSocket).Methods("GET")
	api.HandleFunc("/sprites/{name}/exec/{session}", s.attachSocket).Methods("GET")
	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" || !s.tokenAllowed(token) {
			log.Debug().Str("path", r.URL.Path).Msg("Rejected request without a valid token")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) tokenAllowed(token string) bool {
	if len(s.cfg.Tokens) == 0 {
		return true
	}
	for _, t := range s.cfg.Tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

func (s *Server) listSprites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) createSprite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		URLSettings struct {
			Auth sprites.URLAuth `json:"auth"`
		} `json:"url_settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sprite, err := s.store.Create(req.Name, req.URLSettings.Auth)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	log.Info().Str("sprite", sprite.Name).Msg("Created sprite")
	writeJSON(w, http.StatusCreated, sprite)
}

func (s *Server) getSprite(w http.ResponseWriter, r *http.Request) {
	sprite, err := s.store.Get(mux.Vars(r)["name"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sprite)
}

func (s *Server) deleteSprite(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.store.Delete(name); err != nil {
		writeStoreError(w, err)
		return
	}
	s.sessions.closeSprite(name)
	log.Info().Str("sprite", name).Msg("Deleted sprite")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Checkpoints(mux.Vars(r)["name"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createCheckpoint(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req struct {
		Comment string `json:"comment"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if _, err := s.store.Get(name); err != nil {
		writeStoreError(w, err)
		return
	}

	stream := newEventStream(w, s.cfg.StepDelay)
	stream.send("info", "Creating checkpoint")
	stream.send("info", "Flushing filesystem")
	cp, err := s.store.Checkpoint(name, req.Comment)
	if err != nil {
		stream.send("error", err.Error())
		return
	}
	log.Info().Str("sprite", name).Str("checkpoint", cp.ID).Msg("Created checkpoint")
	stream.send("complete", fmt.Sprintf("Checkpoint %s created", cp.ID))
}

func (s *Server) restoreCheckpoint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, id := vars["name"], vars["id"]
	if _, err := s.store.FindCheckpoint(name, id); err != nil {
		writeStoreError(w, err)
		return
	}

	s.sessions.closeSprite(name)
	stream := newEventStream(w, s.cfg.StepDelay)
	stream.send("info", fmt.Sprintf("Restoring checkpoint %s", id))
	s.store.SetStatus(name, StatusWarm)
	log.Info().Str("sprite", name).Str("checkpoint", id).Msg("Restored checkpoint")
	stream.send("complete", fmt.Sprintf("Restored checkpoint %s", id))
}

// eventStream writes NDJSON progress events, flushing after each line.
type eventStream struct {
	w     http.ResponseWriter
	enc   *json.Encoder
	delay time.Duration
	sent  int
}

func newEventStream(w http.ResponseWriter, delay time.Duration) *eventStream {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	return &eventStream{w: w, enc: json.NewEncoder(w), delay: delay}
}

func (e *eventStream) send(kind, data string) {
	if e.sent > 0 && e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.sent++
	if err := e.enc.Encode(sprites.StreamEvent{Type: kind, Data: mustJSON(data)}); err != nil {
		log.Debug().Err(err).Msg("Failed to write stream event")
		return
	}
	if f, ok := e.w.(http.Flusher); ok {
		f.Flush()
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
