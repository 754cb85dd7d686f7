// Package session issues and reads the console identity cookie. The cookie
// identifies a user across requests but never carries their API token.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"spriteconsole/core/auth"
)

var (
	// ErrNoSession is returned when the request carries no identity cookie.
	ErrNoSession = errors.New("session not found")
	// ErrInvalidSession covers bad signatures, expiry and malformed claims.
	ErrInvalidSession = errors.New("invalid session")
)

type claims struct {
	UserID string `json:"user_id"`
	Org    string `json:"org"`
	jwt.RegisteredClaims
}

// Manager signs and verifies identity cookies.
type Manager struct {
	secret     []byte
	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithCookieName overrides the cookie name.
func WithCookieName(name string) Option {
	return func(m *Manager) { m.cookieName = name }
}

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithAlwaysSecure marks cookies Secure even on plain HTTP requests.
func WithAlwaysSecure(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(secret string, opts ...Option) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is empty")
	}
	m := &Manager{
		secret:     []byte(secret),
		cookieName: CookieName,
		ttl:        DefaultSessionDuration,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CookieName returns the name of the identity cookie.
func (m *Manager) CookieName() string {
	return m.cookieName
}

// Sign produces the cookie value for id.
func (m *Manager) Sign(id auth.Identity) (string, error) {
	now := m.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: id.UserID,
		Org:    id.Org,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, nil
}

// Verify parses a cookie value back into an identity.
func (m *Manager) Verify(value string) (auth.Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	var c claims
	if _, err := parser.ParseWithClaims(value, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if c.UserID == "" {
		return auth.Identity{}, fmt.Errorf("%w: missing user_id", ErrInvalidSession)
	}
	return auth.Identity{UserID: c.UserID, Org: c.Org}, nil
}
