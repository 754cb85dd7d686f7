package console

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"spriteconsole/console/internal/metrics"
	"spriteconsole/core/auth"
	"spriteconsole/core/ticket"
)

const (
	defaultCols  = 80
	defaultRows  = 24
	maxDimension = 1000
)

type ticketRequest struct {
	Sprite    string `json:"sprite"`
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

type ticketResponse struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expires_at"`
	RelayURL  string    `json:"relay_url"`
}

// MintTicket issues a short-lived relay ticket for one sprite. It requires
// the caller's bearer credential and looks the sprite up with it first, so a
// ticket is never minted for a sprite the caller cannot see.
func (h *Handler) MintTicket(w http.ResponseWriter, r *http.Request) {
	if h.tickets == nil {
		writeError(w, http.StatusServiceUnavailable, "Console tickets are not enabled")
		return
	}

	var req ticketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Sprite == "" {
		writeError(w, http.StatusBadRequest, "Sprite name is required")
		return
	}

	client, ok := h.spritesFor(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if _, err := client.GetSprite(r.Context(), req.Sprite); err != nil {
		writeUpstreamError(w, "get sprite", err)
		return
	}

	token, expiresAt, err := h.tickets.Sign(ticket.Claims{
		SpriteName: req.Sprite,
		SessionID:  req.SessionID,
		Cols:       geometry(req.Cols, defaultCols),
		Rows:       geometry(req.Rows, defaultRows),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to sign console ticket")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	metrics.TicketsIssuedTotal.Inc()

	id, _ := auth.IdentityFrom(r.Context())
	log.Info().
		Str("user_id", id.UserID).
		Str("sprite", req.Sprite).
		Bool("resume", req.SessionID != "").
		Time("expires_at", expiresAt).
		Msg("Console ticket issued")

	writeJSON(w, http.StatusOK, ticketResponse{
		Ticket:    token,
		ExpiresAt: expiresAt.UTC(),
		RelayURL:  h.cfg.Relay.PublicURL,
	})
}

func geometry(n, def int) int {
	switch {
	case n < 1:
		return def
	case n > maxDimension:
		return maxDimension
	}
	return n
}
