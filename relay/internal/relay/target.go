package relay

import (
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"spriteconsole/core/auth"
	"spriteconsole/core/ticket"
	"spriteconsole/relay/pkg/config"
)

const (
	DefaultCols  = 80
	DefaultRows  = 24
	maxDimension = 1000
)

var spriteNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Target is a validated request for one exec session.
type Target struct {
	Sprite    string
	SessionID string
	Cols      int
	Rows      int

	// Credential authorizes the upstream dial. In ticket mode it is the
	// relay's service token, never anything the client sent.
	Credential string
}

// RejectError is a reason to close a client before any upstream dial.
type RejectError struct {
	Code   int
	Reason string
	// Label is the low-cardinality metric label for Reason.
	Label string
}

func (e *RejectError) Error() string {
	return e.Reason
}

func policyViolation(label, reason string) *RejectError {
	return &RejectError{Code: websocket.ClosePolicyViolation, Reason: reason, Label: label}
}

// authenticate turns connection parameters into a Target for the configured mode.
func (h *Handler) authenticate(r *http.Request) (Target, *RejectError) {
	q := r.URL.Query()
	if h.cfg.Relay.Mode == config.ModeTicket {
		return h.fromTicket(q)
	}
	return fromToken(r, q)
}

func fromToken(r *http.Request, q url.Values) (Target, *RejectError) {
	sprite := strings.TrimSpace(q.Get("sprite"))
	if sprite == "" {
		return Target{}, policyViolation("missing_sprite", "Missing sprite parameter")
	}
	if !spriteNamePattern.MatchString(sprite) {
		return Target{}, policyViolation("invalid_sprite", "Invalid sprite name")
	}

	cred, err := auth.FromRequest(r, auth.Options{QueryKeys: []string{"token"}})
	switch {
	case errors.Is(err, auth.ErrMalformedHeader):
		return Target{}, policyViolation("invalid_token", "Invalid authorization header")
	case err != nil:
		return Target{}, policyViolation("missing_token", "Missing token")
	}

	return Target{
		Sprite:     sprite,
		SessionID:  strings.TrimSpace(q.Get("session_id")),
		Cols:       dimension(q.Get("cols"), DefaultCols),
		Rows:       dimension(q.Get("rows"), DefaultRows),
		Credential: cred.Value,
	}, nil
}

func (h *Handler) fromTicket(q url.Values) (Target, *RejectError) {
	raw := auth.QueryValue(q, "ticket")
	if raw == "" {
		return Target{}, policyViolation("missing_ticket", "Missing ticket")
	}

	claims, err := h.tickets.Verify(raw)
	switch {
	case errors.Is(err, ticket.ErrExpired):
		return Target{}, policyViolation("ticket_expired", "Ticket expired")
	case err != nil:
		return Target{}, policyViolation("invalid_ticket", "Invalid ticket")
	}

	if !spriteNamePattern.MatchString(claims.SpriteName) {
		return Target{}, policyViolation("invalid_sprite", "Invalid sprite name")
	}
	if s := strings.TrimSpace(q.Get("sprite")); s != "" && s != claims.SpriteName {
		return Target{}, policyViolation("sprite_mismatch", "Ticket does not match sprite")
	}

	cols, rows := claims.Cols, claims.Rows
	if cols <= 0 {
		cols = dimension(q.Get("cols"), DefaultCols)
	}
	if rows <= 0 {
		rows = dimension(q.Get("rows"), DefaultRows)
	}

	return Target{
		Sprite:     claims.SpriteName,
		SessionID:  claims.SessionID,
		Cols:       clamp(cols),
		Rows:       clamp(rows),
		Credential: h.cfg.Upstream.Token,
	}, nil
}

// dimension parses a positive geometry value, returning def when the value
// is absent or unusable.
func dimension(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return def
	}
	return clamp(n)
}

func clamp(n int) int {
	if n > maxDimension {
		return maxDimension
	}
	if n < 1 {
		return 1
	}
	return n
}
