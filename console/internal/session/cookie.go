package session

import (
	"net/http"
	"strings"
	"time"

	"spriteconsole/core/auth"
)

const (
	// CookieName is the default name of the identity cookie
	CookieName = "sprites_session"

	// DefaultSessionDuration is the default session duration (30 days)
	DefaultSessionDuration = 30 * 24 * time.Hour
)

// Issue signs id and returns the cookie to set on the response. The
// Secure flag follows the request scheme unless the manager forces it.
func (m *Manager) Issue(id auth.Identity, r *http.Request) (*http.Cookie, error) {
	value, err := m.Sign(id)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure || isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Clear returns a cookie that deletes the identity cookie.
func (m *Manager) Clear(r *http.Request) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure || isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	}
}

// FromRequest reads and verifies the identity cookie.
func (m *Manager) FromRequest(r *http.Request) (auth.Identity, error) {
	value := auth.CookieValue(strings.Join(r.Header.Values("Cookie"), "; "), m.cookieName)
	if value == "" {
		return auth.Identity{}, ErrNoSession
	}
	return m.Verify(value)
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil ||
		r.Header.Get("X-Forwarded-Proto") == "https" ||
		strings.HasPrefix(r.URL.Scheme, "https")
}
