// Package console implements the HTTP control plane: token sign-in, the
// identity cookie, sprite and checkpoint management, projects and relay
// ticket minting.
package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"spriteconsole/console/internal/database"
	"spriteconsole/console/internal/metrics"
	"spriteconsole/console/internal/session"
	"spriteconsole/console/pkg/config"
	"spriteconsole/console/pkg/sprites"
	"spriteconsole/core/ticket"
)

const maxBodyBytes = 1 << 20

// Handler serves the console API.
type Handler struct {
	cfg      *config.Config
	db       *database.BunDB
	sprites  *sprites.Client
	sessions *session.Manager
	tickets  *ticket.Issuer
}

// Option customizes a Handler.
type Option func(*Handler)

// WithSpritesClient replaces the Sprites API client built from config.
func WithSpritesClient(c *sprites.Client) Option {
	return func(h *Handler) { h.sprites = c }
}

// WithTicketIssuer replaces the issuer built from the configured secret.
func WithTicketIssuer(i *ticket.Issuer) Option {
	return func(h *Handler) { h.tickets = i }
}

// NewHandler wires the console API to its store and the Sprites API.
func NewHandler(cfg *config.Config, db *database.BunDB, opts ...Option) (*Handler, error) {
	sessions, err := session.NewManager(cfg.Session.Secret,
		session.WithCookieName(cfg.Session.CookieName),
		session.WithTTL(cfg.Session.TTL),
		session.WithAlwaysSecure(cfg.IsProduction()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	client := sprites.NewClient(cfg.Sprites.APIBase,
		sprites.WithHTTPClient(&http.Client{Timeout: cfg.Sprites.Timeout}))

	h := &Handler{
		cfg:      cfg,
		db:       db,
		sprites:  client,
		sessions: sessions,
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.tickets == nil && cfg.TicketsEnabled() {
		issuer, err := ticket.NewIssuer(cfg.Ticket.Secret, ticket.WithTTL(cfg.Ticket.TTL))
		if err != nil {
			return nil, fmt.Errorf("failed to create ticket issuer: %w", err)
		}
		h.tickets = issuer
	}
	return h, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeUpstreamError maps a Sprites API failure onto the console response:
// a 404 stays a 404, an auth failure becomes 401 and anything else is a 500
// carrying the error text.
func writeUpstreamError(w http.ResponseWriter, op string, err error) {
	status := sprites.StatusCode(err)
	metrics.SpritesAPIErrorsTotal.WithLabelValues(op, strconv.Itoa(status)).Inc()

	switch {
	case sprites.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found")
	case sprites.IsUnauthorized(err):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	default:
		log.Warn().Err(err).Str("operation", op).Int("status_code", status).Msg("Sprites API call failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeStoreError(w http.ResponseWriter, notFound string, err error) {
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	log.Error().Err(err).Msg("Store operation failed")
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// decodeBody reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
