package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"spriteconsole/console/internal/metrics"
	"spriteconsole/console/pkg/sprites"
	"spriteconsole/core/auth"
)

// ErrInvalidToken is returned when the Sprites API rejects a token.
var ErrInvalidToken = errors.New("invalid token")

// validateToken checks token against the Sprites API and returns the org
// it belongs to. The org is taken from the first listed sprite and is
// empty for an account with no sprites.
func (h *Handler) validateToken(ctx context.Context, token string) (string, error) {
	list, err := h.sprites.WithToken(token).ListSprites(ctx)
	if err != nil {
		if sprites.IsUnauthorized(err) {
			metrics.TokenValidationsTotal.WithLabelValues("invalid").Inc()
			return "", ErrInvalidToken
		}
		metrics.TokenValidationsTotal.WithLabelValues("error").Inc()
		if code := sprites.StatusCode(err); code != 0 {
			return "", fmt.Errorf("API error: %d", code)
		}
		return "", err
	}

	metrics.TokenValidationsTotal.WithLabelValues("valid").Inc()
	if len(list) > 0 {
		return list[0].Org, nil
	}
	return "", nil
}

// Authenticate resolves the caller from a bearer token, validated against
// the Sprites API, or else from the identity cookie. Only the bearer path
// attaches a credential to the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cred, err := auth.FromRequest(r, auth.Options{})
		switch {
		case err == nil:
			org, err := h.validateToken(r.Context(), cred.Value)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Bearer token rejected")
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			ctx := auth.WithIdentity(r.Context(), auth.Identity{UserID: auth.UserIDForToken(cred.Value), Org: org})
			ctx = auth.WithCredential(ctx, cred.Value)
			next.ServeHTTP(w, r.WithContext(ctx))
			return

		case errors.Is(err, auth.ErrMalformedHeader):
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		id, err := h.sessions.FromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// spritesFor returns a Sprites client acting with the caller's own bearer
// token. Cookie-only callers get none: the identity cookie never grants
// upstream access.
func (h *Handler) spritesFor(r *http.Request) (*sprites.Client, bool) {
	token, ok := auth.CredentialFrom(r.Context())
	if !ok {
		return nil, false
	}
	return h.sprites.WithToken(token), true
}

// withSprites guards handlers that call the Sprites API.
func (h *Handler) withSprites(fn func(http.ResponseWriter, *http.Request, *sprites.Client)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, ok := h.spritesFor(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		fn(w, r, client)
	}
}

type tokenRequest struct {
	Token string `json:"token"`
}

// SignIn validates a Sprites token and sets the identity cookie. The token
// itself is not stored; clients keep it and send it as a bearer header.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "Token is required")
		return
	}

	org, err := h.validateToken(r.Context(), req.Token)
	if errors.Is(err, ErrInvalidToken) {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	id := auth.Identity{UserID: auth.UserIDForToken(req.Token), Org: org}
	cookie, err := h.sessions.Issue(id, r)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue session cookie")
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	http.SetCookie(w, cookie)

	log.Info().Str("user_id", id.UserID).Str("org", org).Msg("User signed in")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "org": org})
}

// SignOut deletes the identity cookie.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.sessions.Clear(r))
	writeSuccess(w)
}

// CurrentUser reports the authenticated identity.
func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	writeJSON(w, http.StatusOK, id)
}
